package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvelope(t *testing.T) {
	raw := []byte(`{
        "type": "comment",
        "platform": "github",
        "sourceId": "sourceId#1",
        "sourceParentId": "sourceId#0",
        "timestamp": "2021-09-30T14:20:27Z",
        "payload": {"body": "a reply", "replies": 2},
        "score": 1,
        "member": {
            "username": {"github": "anil"},
            "displayName": "Anil"
        }
    }`)

	env, err := ParseEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, "github", env.Platform)
	assert.Equal(t, "sourceId#1", env.SourceID)
	assert.Equal(t, "sourceId#0", env.SourceParentID)
	assert.True(t, env.Timestamp.Equal(time.Date(2021, 9, 30, 14, 20, 27, 0, time.UTC)))
	require.NotNil(t, env.Member)
	assert.Equal(t, "anil", env.Member.Usernames["github"])

	in := env.Input()
	assert.Equal(t, "comment", in.Type)
	assert.Equal(t, float64(2), in.Payload["replies"])
	require.NotNil(t, in.Member)
	assert.Equal(t, "Anil", in.Member.DisplayName)
}

func TestParseEnvelopeRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"not json":          `{"platform": "github",`,
		"missing sourceId":  `{"platform": "github", "timestamp": "2021-09-30T14:20:27Z", "memberId": "m1"}`,
		"empty platform":    `{"platform": "", "sourceId": "x", "timestamp": "2021-09-30T14:20:27Z", "memberId": "m1"}`,
		"missing timestamp": `{"platform": "github", "sourceId": "x", "memberId": "m1"}`,
		"no member at all":  `{"platform": "github", "sourceId": "x", "timestamp": "2021-09-30T14:20:27Z"}`,
		"member no handles": `{"platform": "github", "sourceId": "x", "timestamp": "2021-09-30T14:20:27Z", "member": {"username": {}}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEnvelope([]byte(raw))
			assert.ErrorIs(t, err, ErrInvalidEnvelope)
		})
	}
}
