package conversation

import (
	"strings"

	"github.com/threadline/internal/merge"
	"github.com/threadline/internal/tenant"
)

// ShouldAutoPublish evaluates the tenant's auto-publish policy against
// the activity that triggered materialization or extension. The settings
// value is passed in explicitly so the evaluator stays free of storage
// coupling and is trivially testable with literal fixtures.
//
// The policy only ever grants publication; a false result leaves the
// conversation's current published state untouched.
func ShouldAutoPublish(settings tenant.AutoPublishSettings, platform string, payload merge.Document) bool {
	switch settings.Status {
	case tenant.AutoPublishAll:
		return true
	case tenant.AutoPublishCustom:
		allowed, ok := settings.ChannelsByPlatform[platform]
		if !ok {
			return false
		}
		channel := ExtractChannel(payload)
		if channel == "" {
			return false
		}
		for _, c := range allowed {
			if c == channel {
				return true
			}
		}
		return false
	default:
		// disabled, or an unrecognized mode
		return false
	}
}

// ExtractChannel pulls the channel identifier out of an activity payload:
// an explicit "channel" field first, else the final path segment of a
// "repo" URL (so https://github.com/org/crowd-web yields crowd-web).
func ExtractChannel(payload merge.Document) string {
	if payload == nil {
		return ""
	}
	if ch, ok := payload["channel"].(string); ok && ch != "" {
		return ch
	}
	repo, ok := payload["repo"].(string)
	if !ok || repo == "" {
		return ""
	}
	repo = strings.TrimRight(repo, "/")
	if i := strings.LastIndex(repo, "/"); i >= 0 {
		return repo[i+1:]
	}
	return repo
}
