// Package feature holds the fixed registry of capabilities a provisioned bot
// may enable. The provisioning pipeline only consults the identifier and the
// API-key metadata; the rest is presentation data served to the dashboard.
package feature

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidSelection indicates a feature selection that cannot be
// provisioned: empty, or naming an unregistered feature.
var ErrInvalidSelection = errors.New("invalid feature selection")

// Feature describes one selectable bot capability.
type Feature struct {
	Name           string   `json:"name"`
	DisplayName    string   `json:"display_name"`
	Description    string   `json:"description"`
	Icon           string   `json:"icon"`
	Commands       []string `json:"commands"`
	Schedulable    bool     `json:"schedulable"`
	RequiresAPIKey bool     `json:"requires_api_key"`
	APIKeyName     string   `json:"api_key_name,omitempty"`
	Conversational bool     `json:"conversational"`
}

var registry = map[string]Feature{
	"clima": {
		Name:           "clima",
		DisplayName:    "Clima",
		Description:    "Consulta del clima por ciudad",
		Icon:           "fas fa-sun",
		Commands:       []string{"/test_clima"},
		Schedulable:    true,
		RequiresAPIKey: true,
		APIKeyName:     "WEATHER_API_KEY",
	},
	"noticias": {
		Name:           "noticias",
		DisplayName:    "Noticias",
		Description:    "Últimas noticias del día",
		Icon:           "fas fa-newspaper",
		Commands:       []string{"/test_noticia"},
		Schedulable:    true,
		RequiresAPIKey: true,
		APIKeyName:     "NEWS_API_KEY",
	},
	"chistes": {
		Name:        "chistes",
		DisplayName: "Chistes",
		Description: "Chistes aleatorios para alegrar el día",
		Icon:        "fas fa-smile",
		Commands:    []string{"/chiste"},
	},
	"ia": {
		Name:           "ia",
		DisplayName:    "Chat IA",
		Description:    "Conversación inteligente con IA",
		Icon:           "fas fa-brain",
		RequiresAPIKey: true,
		APIKeyName:     "GEMINI_API_KEY",
		Conversational: true,
	},
}

// Lookup returns the feature registered under name.
func Lookup(name string) (Feature, bool) {
	f, ok := registry[name]
	return f, ok
}

// All returns every registered feature ordered by name.
func All() []Feature {
	features := make([]Feature, 0, len(registry))
	for _, f := range registry {
		features = append(features, f)
	}
	sort.Slice(features, func(i, j int) bool { return features[i].Name < features[j].Name })
	return features
}

// Register adds or replaces a feature entry. Intended for platform
// extensions wired at startup, not for request-time mutation.
func Register(f Feature) error {
	name := strings.TrimSpace(f.Name)
	if name == "" {
		return fmt.Errorf("feature name required")
	}
	if f.RequiresAPIKey && strings.TrimSpace(f.APIKeyName) == "" {
		return fmt.Errorf("feature %s requires an api key name", name)
	}
	f.Name = name
	registry[name] = f
	return nil
}

// Validate normalizes a requested feature selection: trims, lowercases and
// deduplicates identifiers, preserving first-seen order. It rejects empty
// selections and unknown identifiers.
func Validate(names []string) ([]string, error) {
	seen := make(map[string]struct{}, len(names))
	selected := make([]string, 0, len(names))
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if _, ok := registry[name]; !ok {
			return nil, fmt.Errorf("%w: unknown feature %q", ErrInvalidSelection, name)
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		selected = append(selected, name)
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: at least one feature is required", ErrInvalidSelection)
	}
	return selected, nil
}

// RequiredSecrets returns the platform secret env names needed by the
// selected features, ordered and deduplicated.
func RequiredSecrets(names []string) []string {
	seen := make(map[string]struct{})
	keys := make([]string, 0, len(names))
	for _, name := range names {
		f, ok := registry[name]
		if !ok || !f.RequiresAPIKey {
			continue
		}
		if _, dup := seen[f.APIKeyName]; dup {
			continue
		}
		seen[f.APIKeyName] = struct{}{}
		keys = append(keys, f.APIKeyName)
	}
	sort.Strings(keys)
	return keys
}
