package genai

import (
	"errors"
	"testing"
)

func TestParseClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		want    Classification
		wantErr bool
	}{
		{"number confidence", `{"label":"gaming","confidence":0.82}`, Classification{Label: "gaming", Confidence: 0.82}, false},
		{"string confidence", `{"label":"business","confidence":"0.6"}`, Classification{Label: "business", Confidence: 0.6}, false},
		{"clamped high", `{"label":"gaming","confidence":7}`, Classification{Label: "gaming", Confidence: 1}, false},
		{"clamped low", `{"label":"gaming","confidence":-1}`, Classification{Label: "gaming", Confidence: 0}, false},
		{"missing confidence", `{"label":"gaming"}`, Classification{Label: "gaming"}, false},
		{"unknown zeroes confidence", `{"label":"Unknown","confidence":0.9}`, Classification{Label: UnknownLabel}, false},
		{"trims label", `{"label":"  creator ","confidence":0.5}`, Classification{Label: "creator", Confidence: 0.5}, false},
		{"empty label", `{"label":"","confidence":0.5}`, Classification{}, true},
		{"bad confidence", `{"label":"gaming","confidence":"high"}`, Classification{}, true},
		{"not json", `gaming`, Classification{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseClassification([]byte(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedOutput) {
					t.Errorf("want ErrMalformedOutput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
