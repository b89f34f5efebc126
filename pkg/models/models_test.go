package models

import (
	"encoding/json"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestMonitorIntervalAndTimeout(t *testing.T) {
	m := &Monitor{IntervalSeconds: 60, TimeoutSeconds: 5}

	if got := m.Interval(); got != time.Minute {
		t.Fatalf("expected interval 1m, got %s", got)
	}
	if got := m.Timeout(); got != 5*time.Second {
		t.Fatalf("expected timeout 5s, got %s", got)
	}
}

func TestMonitorSnapshotCopiesConfiguration(t *testing.T) {
	m := &Monitor{
		ID:              42,
		Name:            "homepage",
		URL:             "https://example.com",
		Method:          "GET",
		IntervalSeconds: 60,
		TimeoutSeconds:  10,
	}

	snap := m.Snapshot()
	if snap.ID != 42 || snap.URL != "https://example.com" || snap.Method != "GET" {
		t.Fatalf("snapshot does not match monitor: %+v", snap)
	}

	// Mutating the monitor afterwards must not affect the snapshot.
	m.URL = "https://changed.example.com"
	if snap.URL != "https://example.com" {
		t.Fatalf("snapshot shares state with monitor")
	}
}

func TestDurationUnmarshalJSON(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"90s"`), &d); err != nil {
		t.Fatalf("unmarshal string duration: %v", err)
	}
	if d.ToDuration() != 90*time.Second {
		t.Fatalf("expected 90s, got %s", d)
	}

	if err := json.Unmarshal([]byte(`1000000000`), &d); err != nil {
		t.Fatalf("unmarshal numeric duration: %v", err)
	}
	if d.ToDuration() != time.Second {
		t.Fatalf("expected 1s, got %s", d)
	}

	if err := json.Unmarshal([]byte(`"not-a-duration"`), &d); err == nil {
		t.Fatalf("expected error for invalid duration string")
	}
}

func TestRetryStageUnmarshalYAML(t *testing.T) {
	var stages []RetryStage
	doc := `
- attempts: 2
  interval: 30s
- attempts: 5
  interval: 1m
- interval: 5m
`
	if err := yaml.Unmarshal([]byte(doc), &stages); err != nil {
		t.Fatalf("unmarshal stages: %v", err)
	}

	if len(stages) != 3 {
		t.Fatalf("expected 3 stages, got %d", len(stages))
	}
	if stages[1].Interval.ToDuration() != time.Minute {
		t.Fatalf("expected second stage interval 1m, got %s", stages[1].Interval)
	}
	if !stages[2].Unbounded() {
		t.Fatalf("expected final stage to be unbounded")
	}
}

func TestParseRetryStages(t *testing.T) {
	stages, err := ParseRetryStages("2:30s,5:60s,12:120s,*:5m")
	if err != nil {
		t.Fatalf("ParseRetryStages returned error: %v", err)
	}

	want := DefaultRetryStages()
	if len(stages) != len(want) {
		t.Fatalf("expected %d stages, got %d", len(want), len(stages))
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("stage %d: expected %+v, got %+v", i, want[i], stages[i])
		}
	}
}

func TestParseRetryStagesEmptyUsesDefaults(t *testing.T) {
	stages, err := ParseRetryStages("")
	if err != nil {
		t.Fatalf("ParseRetryStages returned error: %v", err)
	}
	if len(stages) != 4 || !stages[3].Unbounded() {
		t.Fatalf("expected default stages, got %+v", stages)
	}
}

func TestParseRetryStagesRejectsMalformed(t *testing.T) {
	cases := []string{
		"30s",          // missing attempts
		"2:xyz",        // bad interval
		"*:30s,5:60s",  // unbounded stage not last
		"0:30s",        // non-positive attempts
		"2:-5s",        // negative interval
	}

	for _, input := range cases {
		if _, err := ParseRetryStages(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestValidateRetryStages(t *testing.T) {
	if err := ValidateRetryStages(nil); err == nil {
		t.Fatalf("expected error for empty stage list")
	}

	bad := []RetryStage{
		{Attempts: 0, Interval: Duration(time.Minute)},
		{Attempts: 3, Interval: Duration(time.Minute)},
	}
	if err := ValidateRetryStages(bad); err == nil {
		t.Fatalf("expected error for bounded stage after unbounded")
	}

	if err := ValidateRetryStages(DefaultRetryStages()); err != nil {
		t.Fatalf("default stages should validate: %v", err)
	}
}
