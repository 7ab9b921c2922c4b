package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/threadline/internal/merge"
	"github.com/threadline/internal/tenant"
)

func TestShouldAutoPublishAll(t *testing.T) {
	settings := tenant.AutoPublishSettings{Status: tenant.AutoPublishAll}
	assert.True(t, ShouldAutoPublish(settings, "github", nil))
	assert.True(t, ShouldAutoPublish(settings, "discord", merge.Document{"body": "hi"}))
}

func TestShouldAutoPublishDisabled(t *testing.T) {
	settings := tenant.AutoPublishSettings{Status: tenant.AutoPublishDisabled}
	assert.False(t, ShouldAutoPublish(settings, "github", merge.Document{"repo": "https://github.com/org/crowd-web"}))
}

func TestShouldAutoPublishCustom(t *testing.T) {
	settings := tenant.AutoPublishSettings{
		Status: tenant.AutoPublishCustom,
		ChannelsByPlatform: map[string][]string{
			"github":  {"crowd-web"},
			"discord": {"general"},
		},
	}

	assert.True(t, ShouldAutoPublish(settings, "github",
		merge.Document{"repo": "https://github.com/CrowdDevHQ/crowd-web"}))
	assert.False(t, ShouldAutoPublish(settings, "github",
		merge.Document{"repo": "https://github.com/CrowdDevHQ/a-different-test-repo"}))

	// Explicit channel field wins over the repo URL.
	assert.True(t, ShouldAutoPublish(settings, "discord",
		merge.Document{"channel": "general"}))
	assert.False(t, ShouldAutoPublish(settings, "discord",
		merge.Document{"channel": "random"}))

	// Platform without an allow-list never publishes.
	assert.False(t, ShouldAutoPublish(settings, "slack",
		merge.Document{"channel": "general"}))

	// No channel derivable from the payload.
	assert.False(t, ShouldAutoPublish(settings, "github", merge.Document{"body": "x"}))
	assert.False(t, ShouldAutoPublish(settings, "github", nil))
}

func TestExtractChannel(t *testing.T) {
	assert.Equal(t, "crowd-web", ExtractChannel(merge.Document{"repo": "https://github.com/org/crowd-web"}))
	assert.Equal(t, "crowd-web", ExtractChannel(merge.Document{"repo": "https://github.com/org/crowd-web/"}))
	assert.Equal(t, "general", ExtractChannel(merge.Document{"channel": "general", "repo": "https://github.com/org/x"}))
	assert.Equal(t, "", ExtractChannel(nil))
	assert.Equal(t, "bare", ExtractChannel(merge.Document{"repo": "bare"}))
}
