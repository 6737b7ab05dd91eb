package quality_test

import (
	"testing"

	"vidconv/internal/quality"
)

func TestResolveFallsBackToBalanced(t *testing.T) {
	p := quality.Resolve("ultra")
	if p.QualityLevel != 7 || p.MaxBitrate != 20_000_000 {
		t.Fatalf("expected balanced parameters, got %+v", p)
	}
	if p.Name != "ultra" {
		t.Fatalf("expected requested name kept, got %q", p.Name)
	}
	high := quality.Resolve("high+")
	if high.QualityLevel != 9 || high.MaxBitrate != 50_000_000 || !high.Adaptive {
		t.Fatalf("unexpected high+ preset: %+v", high)
	}
}

func TestSuccessor(t *testing.T) {
	if next, ok := quality.Successor("balanced+"); !ok || next != "high" {
		t.Fatalf("expected high, got %q %v", next, ok)
	}
	if _, ok := quality.Successor("high+"); ok {
		t.Fatal("expected no successor for last chain entry")
	}
	if _, ok := quality.Successor("balanced"); ok {
		t.Fatal("expected no successor for non-adaptive preset")
	}
}

func TestNamesAndValid(t *testing.T) {
	names := quality.Names()
	if len(names) != 5 {
		t.Fatalf("expected 5 presets, got %v", names)
	}
	for _, name := range names {
		if !quality.Valid(name) {
			t.Fatalf("expected %q valid", name)
		}
	}
	if quality.Valid("balanced++") {
		t.Fatal("expected balanced++ invalid")
	}
}
