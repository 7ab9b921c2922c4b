package merge

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestScalarOverwrite(t *testing.T) {
	got := Documents(
		Document{"a": "old", "keep": "me"},
		Document{"a": "new", "b": float64(2)},
	)
	want := Document{"a": "new", "b": float64(2), "keep": "me"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestNestedMerge(t *testing.T) {
	existing := Document{
		"question": "What is love?",
		"nested_1": Document{
			"attribute_1": "1",
			"nested_2": Document{
				"attribute_2":     "2",
				"attribute_array": []interface{}{float64(1), float64(2), float64(3)},
			},
		},
	}
	incoming := Document{
		"question": "Test",
		"nested_1": Document{
			"attribute_1": "1",
			"nested_2": Document{
				"attribute_2":     "5",
				"attribute_3":     "test",
				"attribute_array": []interface{}{float64(3), float64(4), float64(5)},
			},
		},
		"one": "Baby dont hurt me",
	}
	want := Document{
		"question": "Test",
		"nested_1": Document{
			"attribute_1": "1",
			"nested_2": Document{
				"attribute_2":     "5",
				"attribute_3":     "test",
				"attribute_array": []interface{}{float64(1), float64(2), float64(3), float64(4), float64(5)},
			},
		},
		"one": "Baby dont hurt me",
	}
	got := Documents(existing, incoming)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestArrayUnionKeepsFirstSeenOrder(t *testing.T) {
	got := Documents(
		Document{"a": Document{"b": []interface{}{float64(1), float64(2), float64(3)}}},
		Document{"a": Document{"b": []interface{}{float64(3), float64(4), float64(5)}}},
	)
	want := Document{"a": Document{"b": []interface{}{float64(1), float64(2), float64(3), float64(4), float64(5)}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestArrayUnionOfObjects(t *testing.T) {
	a := Document{"actions": []interface{}{Document{"score": float64(2)}}}
	b := Document{"actions": []interface{}{Document{"score": float64(2)}, Document{"score": float64(3)}}}
	got := Documents(a, b)
	want := Document{"actions": []interface{}{Document{"score": float64(2)}, Document{"score": float64(3)}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestIdempotent(t *testing.T) {
	doc := Document{
		"body":    "Here",
		"replies": float64(12),
		"tags":    []interface{}{"a", "b"},
		"deep":    Document{"x": []interface{}{float64(1)}},
	}
	got := Documents(doc, doc)
	if diff := cmp.Diff(doc, got); diff != "" {
		t.Fatalf("merge(x, x) != x (-want +got):\n%s", diff)
	}
}

func TestTypeMismatchOverwrites(t *testing.T) {
	got := Documents(
		Document{"v": Document{"a": "1"}},
		Document{"v": []interface{}{"x"}},
	)
	want := Document{"v": []interface{}{"x"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestInputsNotMutated(t *testing.T) {
	existing := Document{"arr": []interface{}{float64(1)}, "obj": Document{"a": "1"}}
	incoming := Document{"arr": []interface{}{float64(2)}, "obj": Document{"b": "2"}}
	_ = Documents(existing, incoming)

	if len(existing["arr"].([]interface{})) != 1 {
		t.Fatal("existing array was mutated")
	}
	if len(existing["obj"].(Document)) != 1 {
		t.Fatal("existing object was mutated")
	}
	if len(incoming["obj"].(Document)) != 1 {
		t.Fatal("incoming object was mutated")
	}
}

func TestNilHandling(t *testing.T) {
	got := Documents(nil, Document{"a": nil})
	want := Document{"a": nil}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("merge mismatch (-want +got):\n%s", diff)
	}
	if out := Documents(Document{"a": "x"}, nil); out["a"] != "x" {
		t.Fatalf("nil incoming should retain existing, got %v", out)
	}
}
