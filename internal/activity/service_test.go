package activity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline/internal/conversation"
	"github.com/threadline/internal/emitter"
	"github.com/threadline/internal/member"
	"github.com/threadline/internal/merge"
	"github.com/threadline/internal/storage"
	"github.com/threadline/internal/tenant"
)

type fixture struct {
	engine        *Engine
	activities    *InMemoryStore
	members       *member.InMemoryStore
	conversations *conversation.InMemoryStore
	settings      *tenant.InMemorySettingsStore
	emitted       *emitter.InMemoryEmitter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	activities := NewInMemoryStore()
	members := member.NewInMemoryStore()
	conversations := conversation.NewInMemoryStore()
	settings := tenant.NewInMemorySettingsStore()
	emitted := emitter.NewInMemoryEmitter()

	txm := storage.NewMemoryManager(activities, members, conversations, settings)
	engine := NewEngine(
		txm,
		activities,
		member.NewService(members),
		conversation.NewService(conversations),
		settings,
		emitter.NewSync(emitted),
	)
	return &fixture{
		engine:        engine,
		activities:    activities,
		members:       members,
		conversations: conversations,
		settings:      settings,
		emitted:       emitted,
	}
}

const testTenant = "tenant-1"

func githubIdentity(handle string) *member.UpsertInput {
	return &member.UpsertInput{
		Usernames: map[string]string{"github": handle},
	}
}

func input(sourceID, sourceParentID string, payload merge.Document) UpsertInput {
	return UpsertInput{
		Type:           "comment",
		Timestamp:      time.Date(2021, 9, 30, 14, 20, 27, 0, time.UTC),
		Platform:       "github",
		SourceID:       sourceID,
		SourceParentID: sourceParentID,
		Payload:        payload,
		Member:         githubIdentity("anil"),
	}
}

func (f *fixture) conversationList(t *testing.T) []*conversation.Conversation {
	t.Helper()
	list, _, err := f.conversations.FindAndCount(context.Background(), nil, testTenant, conversation.Filter{})
	require.NoError(t, err)
	return list
}

func TestUpsertCreatesActivityWithMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := input("sourceId#1", "", merge.Document{"title": "Some Parent Activity"})
	act, err := f.engine.CreateWithMember(ctx, testTenant, in)
	require.NoError(t, err)

	assert.NotEmpty(t, act.ID)
	assert.Equal(t, "github", act.Platform)
	assert.Equal(t, "sourceId#1", act.SourceID)
	assert.Empty(t, act.ParentID)
	assert.Empty(t, act.ConversationID)
	assert.NotEmpty(t, act.MemberID)

	m, err := f.members.FindByID(ctx, nil, testTenant, act.MemberID)
	require.NoError(t, err)
	assert.Equal(t, "anil", m.Usernames["github"])
	// A fresh member joins at the activity's timestamp.
	assert.True(t, m.JoinedAt.Equal(in.Timestamp))
}

func TestUpsertIsIdempotentAndMergesPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := input("sourceId#1", "", merge.Document{
		"replies": float64(5),
		"nested": merge.Document{
			"tags": []interface{}{"go", "db"},
		},
	})
	a1, err := f.engine.Upsert(ctx, testTenant, first)
	require.NoError(t, err)

	second := input("sourceId#1", "", merge.Document{
		"replies": float64(7),
		"nested": merge.Document{
			"tags":   []interface{}{"db", "queue"},
			"closed": true,
		},
	})
	second.Score = 4
	a2, err := f.engine.Upsert(ctx, testTenant, second)
	require.NoError(t, err)

	assert.Equal(t, a1.ID, a2.ID)
	n, err := f.activities.Count(ctx, nil, testTenant)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, float64(7), a2.Payload["replies"])
	nested := a2.Payload["nested"].(map[string]interface{})
	assert.Equal(t, true, nested["closed"])
	assert.ElementsMatch(t, []interface{}{"go", "db", "queue"}, nested["tags"].([]interface{}))
	assert.Equal(t, float64(4), a2.Score)
}

func TestParentBeforeChild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	parent, err := f.engine.Upsert(ctx, testTenant,
		input("parent#1", "", merge.Document{"title": "Some Parent Activity"}))
	require.NoError(t, err)

	child, err := f.engine.Upsert(ctx, testTenant,
		input("child#1", "parent#1", merge.Document{"body": "a reply"}))
	require.NoError(t, err)

	assert.Equal(t, parent.ID, child.ParentID)
	assert.NotEmpty(t, child.ConversationID)

	parent, err = f.engine.FindByID(ctx, testTenant, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, child.ConversationID, parent.ConversationID)

	convs := f.conversationList(t)
	require.Len(t, convs, 1)
	assert.Equal(t, "Some Parent Activity", convs[0].Title)
	assert.Equal(t, "some-parent-activity", convs[0].Slug)
	assert.False(t, convs[0].Published)
}

func TestChildBeforeParent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	child, err := f.engine.Upsert(ctx, testTenant,
		input("child#1", "parent#1", merge.Document{"body": "a reply"}))
	require.NoError(t, err)
	assert.Empty(t, child.ParentID)
	assert.Empty(t, child.ConversationID)
	assert.Equal(t, "parent#1", child.SourceParentID)

	parent, err := f.engine.Upsert(ctx, testTenant,
		input("parent#1", "", merge.Document{"title": "Some Parent Activity"}))
	require.NoError(t, err)

	child, err = f.engine.FindByID(ctx, testTenant, child.ID)
	require.NoError(t, err)
	assert.Equal(t, parent.ID, child.ParentID)
	assert.NotEmpty(t, child.ConversationID)
	assert.Equal(t, child.ConversationID, parent.ConversationID)

	convs := f.conversationList(t)
	require.Len(t, convs, 1)
	assert.Equal(t, "some-parent-activity", convs[0].Slug)
}

// Arrival order must not change the final thread: a three-level chain
// ingested forward and reversed ends in the same parent links and one
// conversation either way.
func TestChainOrderIndependence(t *testing.T) {
	chain := []UpsertInput{
		input("root#1", "", merge.Document{"title": "What is Love?"}),
		input("mid#1", "root#1", merge.Document{"body": "baby don't hurt me"}),
		input("leaf#1", "mid#1", merge.Document{"body": "no more"}),
	}

	run := func(t *testing.T, order []int) *fixture {
		f := newFixture(t)
		ctx := context.Background()
		for _, i := range order {
			_, err := f.engine.Upsert(ctx, testTenant, chain[i])
			require.NoError(t, err)
		}
		return f
	}

	verify := func(t *testing.T, f *fixture) {
		ctx := context.Background()
		bySource := make(map[string]*Activity, 3)
		for _, sid := range []string{"root#1", "mid#1", "leaf#1"} {
			a, err := f.activities.FindBySourceID(ctx, nil, testTenant, "github", sid)
			require.NoError(t, err)
			bySource[sid] = a
		}
		assert.Empty(t, bySource["root#1"].ParentID)
		assert.Equal(t, bySource["root#1"].ID, bySource["mid#1"].ParentID)
		assert.Equal(t, bySource["mid#1"].ID, bySource["leaf#1"].ParentID)

		convs := f.conversationList(t)
		require.Len(t, convs, 1)
		assert.Equal(t, "what-is-love", convs[0].Slug)
		for _, a := range bySource {
			assert.Equal(t, convs[0].ID, a.ConversationID)
		}
	}

	t.Run("forward", func(t *testing.T) { verify(t, run(t, []int{0, 1, 2})) })
	t.Run("reverse", func(t *testing.T) { verify(t, run(t, []int{2, 1, 0})) })
	t.Run("middleLast", func(t *testing.T) { verify(t, run(t, []int{2, 0, 1})) })
}

// When a child starts a conversation before its grandparent chain is
// known, the conversation is titled after the provisional root and
// retitled once the real root attaches.
func TestProvisionalRootRetitled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Upsert(ctx, testTenant,
		input("mid#1", "root#1", merge.Document{"body": "an intermediate comment"}))
	require.NoError(t, err)
	_, err = f.engine.Upsert(ctx, testTenant,
		input("leaf#1", "mid#1", merge.Document{"body": "deep reply"}))
	require.NoError(t, err)

	convs := f.conversationList(t)
	require.Len(t, convs, 1)
	assert.Equal(t, "an-intermediate-comment", convs[0].Slug)

	_, err = f.engine.Upsert(ctx, testTenant,
		input("root#1", "", merge.Document{"title": "The Real Root"}))
	require.NoError(t, err)

	convs = f.conversationList(t)
	require.Len(t, convs, 1)
	assert.Equal(t, "The Real Root", convs[0].Title)
	assert.Equal(t, "the-real-root", convs[0].Slug)
}

// Published conversations keep their derived fields even when a better
// thread root shows up later.
func TestPublishedConversationIsFrozen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Upsert(ctx, testTenant,
		input("mid#1", "root#1", merge.Document{"body": "an intermediate comment"}))
	require.NoError(t, err)
	_, err = f.engine.Upsert(ctx, testTenant,
		input("leaf#1", "mid#1", merge.Document{"body": "deep reply"}))
	require.NoError(t, err)

	convs := f.conversationList(t)
	require.Len(t, convs, 1)
	err = conversation.NewService(f.conversations).Publish(ctx, nil, convs[0])
	require.NoError(t, err)

	_, err = f.engine.Upsert(ctx, testTenant,
		input("root#1", "", merge.Document{"title": "The Real Root"}))
	require.NoError(t, err)

	convs = f.conversationList(t)
	require.Len(t, convs, 1)
	assert.Equal(t, "an-intermediate-comment", convs[0].Slug)
	assert.True(t, convs[0].Published)
}

// A late edge that bridges two existing conversations keeps the earlier
// one and folds the other in.
func TestBridgingEdgeMergesConversations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// First conversation: top of the eventual thread.
	_, err := f.engine.Upsert(ctx, testTenant,
		input("root#1", "", merge.Document{"title": "Some Parent Activity"}))
	require.NoError(t, err)
	_, err = f.engine.Upsert(ctx, testTenant,
		input("reply#1", "root#1", merge.Document{"body": "first reply"}))
	require.NoError(t, err)

	// Second conversation: bottom of the thread, its link to the top
	// (mid#1) not ingested yet.
	_, err = f.engine.Upsert(ctx, testTenant,
		input("deep#1", "mid#1", merge.Document{"body": "orphaned branch"}))
	require.NoError(t, err)
	_, err = f.engine.Upsert(ctx, testTenant,
		input("deeper#1", "deep#1", merge.Document{"body": "even deeper"}))
	require.NoError(t, err)

	require.Len(t, f.conversationList(t), 2)

	// The bridge arrives: child of root#1, parent of deep#1.
	_, err = f.engine.Upsert(ctx, testTenant,
		input("mid#1", "root#1", merge.Document{"body": "the missing middle"}))
	require.NoError(t, err)

	convs := f.conversationList(t)
	require.Len(t, convs, 1)
	assert.Equal(t, "some-parent-activity", convs[0].Slug)

	members, err := f.activities.ListByConversation(ctx, nil, testTenant, convs[0].ID)
	require.NoError(t, err)
	assert.Len(t, members, 5)
}

func TestAutoPublishAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.settings.Save(ctx, nil, testTenant, tenant.AutoPublishSettings{
		Status: tenant.AutoPublishAll,
	})
	require.NoError(t, err)

	_, err = f.engine.Upsert(ctx, testTenant,
		input("parent#1", "", merge.Document{"title": "Some Parent Activity"}))
	require.NoError(t, err)
	_, err = f.engine.Upsert(ctx, testTenant,
		input("child#1", "parent#1", merge.Document{"body": "reply"}))
	require.NoError(t, err)

	convs := f.conversationList(t)
	require.Len(t, convs, 1)
	assert.True(t, convs[0].Published)
}

func TestAutoPublishDisabledByDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Upsert(ctx, testTenant,
		input("parent#1", "", merge.Document{"title": "Some Parent Activity"}))
	require.NoError(t, err)
	_, err = f.engine.Upsert(ctx, testTenant,
		input("child#1", "parent#1", merge.Document{"body": "reply"}))
	require.NoError(t, err)

	convs := f.conversationList(t)
	require.Len(t, convs, 1)
	assert.False(t, convs[0].Published)
}

func TestAutoPublishCustomChannelMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.settings.Save(ctx, nil, testTenant, tenant.AutoPublishSettings{
		Status:             tenant.AutoPublishCustom,
		ChannelsByPlatform: map[string][]string{"github": {"crowd-web"}},
	})
	require.NoError(t, err)

	repo := merge.Document{"repo": "https://github.com/CrowdDevHQ/crowd-web"}
	_, err = f.engine.Upsert(ctx, testTenant,
		input("parent#1", "", merge.Document{"title": "Some Parent Activity", "repo": repo["repo"]}))
	require.NoError(t, err)
	_, err = f.engine.Upsert(ctx, testTenant,
		input("child#1", "parent#1", merge.Document{"body": "reply", "repo": repo["repo"]}))
	require.NoError(t, err)

	convs := f.conversationList(t)
	require.Len(t, convs, 1)
	assert.True(t, convs[0].Published)
}

func TestAutoPublishCustomChannelMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.settings.Save(ctx, nil, testTenant, tenant.AutoPublishSettings{
		Status:             tenant.AutoPublishCustom,
		ChannelsByPlatform: map[string][]string{"github": {"a-different-test-repo"}},
	})
	require.NoError(t, err)

	_, err = f.engine.Upsert(ctx, testTenant,
		input("parent#1", "", merge.Document{
			"title": "Some Parent Activity",
			"repo":  "https://github.com/CrowdDevHQ/crowd-web",
		}))
	require.NoError(t, err)
	_, err = f.engine.Upsert(ctx, testTenant,
		input("child#1", "parent#1", merge.Document{"body": "reply"}))
	require.NoError(t, err)

	convs := f.conversationList(t)
	require.Len(t, convs, 1)
	assert.False(t, convs[0].Published)
}

func TestRepeatedIngestKeepsOneMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a1, err := f.engine.CreateWithMember(ctx, testTenant,
		input("sourceId#1", "", merge.Document{"title": "first"}))
	require.NoError(t, err)
	a2, err := f.engine.CreateWithMember(ctx, testTenant,
		input("sourceId#2", "", merge.Document{"body": "second"}))
	require.NoError(t, err)

	assert.Equal(t, a1.MemberID, a2.MemberID)
	n, err := f.members.Count(ctx, nil, testTenant)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	noSource := input("", "", nil)
	_, err := f.engine.Upsert(ctx, testTenant, noSource)
	assert.ErrorIs(t, err, ErrInvalidActivity)

	noPlatform := input("sourceId#1", "", nil)
	noPlatform.Platform = ""
	_, err = f.engine.Upsert(ctx, testTenant, noPlatform)
	assert.ErrorIs(t, err, ErrInvalidActivity)

	noMember := input("sourceId#1", "", nil)
	noMember.Member = nil
	_, err = f.engine.Upsert(ctx, testTenant, noMember)
	assert.ErrorIs(t, err, ErrInvalidActivity)

	_, err = f.engine.Upsert(ctx, "", input("sourceId#1", "", nil))
	assert.ErrorIs(t, err, ErrInvalidActivity)

	n, err := f.activities.Count(ctx, nil, testTenant)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// An ambiguous identity aborts the whole ingest, including any writes
// made earlier in the same transaction.
func TestAmbiguousIdentityRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := input("sourceId#1", "", nil)
	first.Member = &member.UpsertInput{Usernames: map[string]string{"github": "anil"}}
	_, err := f.engine.Upsert(ctx, testTenant, first)
	require.NoError(t, err)

	second := input("sourceId#2", "", nil)
	second.Member = &member.UpsertInput{Usernames: map[string]string{"discord": "quoc"}}
	_, err = f.engine.Upsert(ctx, testTenant, second)
	require.NoError(t, err)

	conflicted := input("sourceId#3", "", nil)
	conflicted.Member = &member.UpsertInput{Usernames: map[string]string{
		"github":  "anil",
		"discord": "quoc",
	}}
	_, err = f.engine.Upsert(ctx, testTenant, conflicted)
	assert.ErrorIs(t, err, member.ErrAmbiguousIdentity)

	n, err := f.activities.Count(ctx, nil, testTenant)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	mn, err := f.members.Count(ctx, nil, testTenant)
	require.NoError(t, err)
	assert.Equal(t, 2, mn)
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Upsert(ctx, "tenant-1", input("sourceId#1", "", merge.Document{"a": true}))
	require.NoError(t, err)
	_, err = f.engine.Upsert(ctx, "tenant-2", input("sourceId#1", "", merge.Document{"b": true}))
	require.NoError(t, err)

	a1, err := f.activities.FindBySourceID(ctx, nil, "tenant-1", "github", "sourceId#1")
	require.NoError(t, err)
	a2, err := f.activities.FindBySourceID(ctx, nil, "tenant-2", "github", "sourceId#1")
	require.NoError(t, err)
	assert.NotEqual(t, a1.ID, a2.ID)
	assert.NotContains(t, a1.Payload, "b")
}

func TestOutboundSyncTriggers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	parent, err := f.engine.Upsert(ctx, testTenant,
		input("parent#1", "", merge.Document{"title": "Some Parent Activity"}))
	require.NoError(t, err)

	msgs := f.emitted.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "member-sync-"+testTenant, msgs[0].GroupKey)
	assert.Equal(t, "member-sync-"+parent.MemberID, msgs[0].DedupKey)

	child, err := f.engine.Upsert(ctx, testTenant,
		input("child#1", "parent#1", merge.Document{"body": "reply"}))
	require.NoError(t, err)

	// Same member again collapses on the dedup key; the conversation
	// trigger is new.
	msgs = f.emitted.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "conversation-sync-"+testTenant, msgs[1].GroupKey)
	assert.Equal(t, "conversation-sync-"+child.ConversationID, msgs[1].DedupKey)
}
