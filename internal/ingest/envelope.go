// Package ingest is the inbound edge: it validates raw activity
// envelopes against a JSON Schema, queues them as river jobs, and runs
// the worker that feeds the engine. Connectors talk to this package,
// never to the engine directly.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/threadline/internal/activity"
	"github.com/threadline/internal/member"
	"github.com/threadline/internal/merge"
)

// ErrInvalidEnvelope marks raw input rejected before queueing.
var ErrInvalidEnvelope = errors.New("invalid activity envelope")

// envelopeSchema is the contract connectors submit against. Validation
// happens before the job is queued so malformed input fails fast at the
// edge instead of burning worker retries.
const envelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["platform", "sourceId", "timestamp"],
  "properties": {
    "type": {"type": "string"},
    "platform": {"type": "string", "minLength": 1},
    "sourceId": {"type": "string", "minLength": 1},
    "sourceParentId": {"type": "string"},
    "timestamp": {"type": "string", "format": "date-time"},
    "payload": {"type": "object"},
    "isKeyAction": {"type": "boolean"},
    "score": {"type": "number"},
    "memberId": {"type": "string"},
    "member": {
      "type": "object",
      "required": ["username"],
      "properties": {
        "username": {
          "type": "object",
          "minProperties": 1,
          "additionalProperties": {"type": "string"}
        },
        "displayName": {"type": "string"},
        "email": {"type": "string"},
        "score": {"type": "integer"},
        "profile": {"type": "object"}
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(envelopeSchema))
		if err != nil {
			schemaErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("envelope.schema.json", doc); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile("envelope.schema.json")
	})
	return schema, schemaErr
}

// Envelope is one raw inbound activity as submitted by a connector.
type Envelope struct {
	Type           string          `json:"type,omitempty"`
	Platform       string          `json:"platform"`
	SourceID       string          `json:"sourceId"`
	SourceParentID string          `json:"sourceParentId,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Payload        merge.Document  `json:"payload,omitempty"`
	IsKeyAction    bool            `json:"isKeyAction,omitempty"`
	Score          float64         `json:"score,omitempty"`
	MemberID       string          `json:"memberId,omitempty"`
	Member         *EnvelopeMember `json:"member,omitempty"`
}

// EnvelopeMember is the raw identity bundled with an envelope.
type EnvelopeMember struct {
	Usernames   map[string]string `json:"username"`
	DisplayName string            `json:"displayName,omitempty"`
	Email       string            `json:"email,omitempty"`
	Score       int               `json:"score,omitempty"`
	Profile     merge.Document    `json:"profile,omitempty"`
}

// ParseEnvelope validates raw JSON against the envelope schema and
// decodes it.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	sch, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling envelope schema: %w", err)
	}
	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := sch.Validate(value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.MemberID == "" && env.Member == nil {
		return nil, fmt.Errorf("%w: memberId or member is required", ErrInvalidEnvelope)
	}
	return &env, nil
}

// Input converts the envelope to the engine's upsert input.
func (e *Envelope) Input() activity.UpsertInput {
	in := activity.UpsertInput{
		Type:           e.Type,
		Timestamp:      e.Timestamp,
		Platform:       e.Platform,
		SourceID:       e.SourceID,
		SourceParentID: e.SourceParentID,
		Payload:        e.Payload,
		IsKeyAction:    e.IsKeyAction,
		Score:          e.Score,
		MemberID:       e.MemberID,
	}
	if e.Member != nil {
		in.Member = &member.UpsertInput{
			Usernames:   e.Member.Usernames,
			DisplayName: e.Member.DisplayName,
			Email:       e.Member.Email,
			Score:       e.Member.Score,
			Profile:     e.Member.Profile,
		}
	}
	return in
}
