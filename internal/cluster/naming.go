package cluster

import (
	"fmt"
	"strings"
)

// shortIDLen bounds the id suffix so resource names stay inside the RFC 1035
// label limit that Service names must satisfy (name is at most 32 runes,
// "bot-" prefix plus separator leaves room for 12 id characters).
const shortIDLen = 12

// ResourceName derives the cluster resource name for a bot. It is a pure
// function of (name, id): the deployment, the service and the pod selector
// all share it, so teardown can recompute it without extra state.
func ResourceName(name, id string) string {
	return fmt.Sprintf("bot-%s-%s", strings.ToLower(strings.TrimSpace(name)), shortID(id))
}

// ImageTag derives the image reference for a bot. Rebuilding the same
// descriptor produces the same tag, so rebuilds overwrite instead of
// accumulating images.
func ImageTag(registry, name, id string) string {
	registry = strings.TrimSuffix(strings.TrimSpace(registry), "/")
	if registry == "" {
		registry = "local"
	}
	return fmt.Sprintf("%s/bot-%s:%s", registry, strings.ToLower(strings.TrimSpace(name)), shortID(id))
}

func shortID(id string) string {
	compact := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(id)), "-", "")
	if len(compact) > shortIDLen {
		compact = compact[:shortIDLen]
	}
	return compact
}
