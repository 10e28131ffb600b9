package backend

import (
	"context"
	"testing"
	"time"
)

func TestSelectPrimaryExplicit(t *testing.T) {
	backends := []*Backend{
		{ID: "a"},
		{ID: "b"},
	}

	chosen, err := selectPrimary(context.Background(), PrimarySelection{ExplicitName: "b"}, backends, time.Second, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chosen.ID != "b" {
		t.Errorf("expected explicit primary 'b', got %q", chosen.ID)
	}
}

func TestSelectPrimaryExplicitUnknown(t *testing.T) {
	backends := []*Backend{{ID: "a"}}

	_, err := selectPrimary(context.Background(), PrimarySelection{ExplicitName: "missing"}, backends, time.Second, nil)
	if err == nil {
		t.Error("expected error for unknown explicit primary name")
	}
}

func TestSelectPrimaryDefaultsToDeclarationOrder(t *testing.T) {
	backends := []*Backend{
		{ID: "first"},
		{ID: "second"},
	}

	chosen, err := selectPrimary(context.Background(), PrimarySelection{}, backends, time.Second, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chosen.ID != "first" {
		t.Errorf("expected default primary to be the first declared backend, got %q", chosen.ID)
	}
}

func TestPercentile50(t *testing.T) {
	durations := []time.Duration{
		5 * time.Millisecond,
		1 * time.Millisecond,
		9 * time.Millisecond,
	}
	if got := percentile50(durations); got != 5*time.Millisecond {
		t.Errorf("expected median 5ms, got %v", got)
	}
}
