package feature

import (
	"reflect"
	"strings"
	"testing"
)

func TestValidateNormalizesSelection(t *testing.T) {
	got, err := Validate([]string{" Clima", "ia", "clima", "", "noticias"})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	want := []string{"clima", "ia", "noticias"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestValidateRejectsUnknownFeature(t *testing.T) {
	_, err := Validate([]string{"clima", "bitcoin"})
	if err == nil {
		t.Fatal("expected error for unknown feature")
	}
	if !strings.Contains(err.Error(), "bitcoin") {
		t.Fatalf("expected error to name the unknown feature, got %v", err)
	}
}

func TestValidateRejectsEmptySelection(t *testing.T) {
	for _, input := range [][]string{nil, {}, {"", "  "}} {
		if _, err := Validate(input); err == nil {
			t.Fatalf("expected error for selection %v", input)
		}
	}
}

func TestRequiredSecrets(t *testing.T) {
	got := RequiredSecrets([]string{"clima", "chistes", "ia", "clima"})
	want := []string{"GEMINI_API_KEY", "WEATHER_API_KEY"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestAllIsSortedAndComplete(t *testing.T) {
	features := All()
	if len(features) != 4 {
		t.Fatalf("expected 4 registered features, got %d", len(features))
	}
	for i := 1; i < len(features); i++ {
		if features[i-1].Name >= features[i].Name {
			t.Fatalf("features not sorted: %s before %s", features[i-1].Name, features[i].Name)
		}
	}
	if f, ok := Lookup("ia"); !ok || !f.Conversational || f.APIKeyName != "GEMINI_API_KEY" {
		t.Fatalf("unexpected ia feature metadata: %+v", f)
	}
}
