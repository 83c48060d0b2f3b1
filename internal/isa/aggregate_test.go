package isa

import (
	"strings"
	"testing"
)

func TestAggregatorNoRequirements(t *testing.T) {
	agg := NewAggregator(false)
	var w strings.Builder
	if err := agg.Report(&w, "/bin/true"); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if !strings.Contains(w.String(), "No special extensions are required to run /bin/true") {
		t.Errorf("unexpected report: %q", w.String())
	}
}

func TestAggregatorDedupesBySequence(t *testing.T) {
	agg := NewAggregator(false)
	agg.Add(&Definition{ID: 1, Mnemonic: "ADDPS", CPUID: CPUIDFlags{"SSE"}})
	agg.Add(&Definition{ID: 2, Mnemonic: "SUBPS", CPUID: CPUIDFlags{"SSE"}})
	agg.Add(&Definition{ID: 3, Mnemonic: "VADDPS", CPUID: CPUIDFlags{"AVX"}})
	agg.Add(&Definition{ID: 4, Mnemonic: "NOP", CPUID: nil})

	reqs := agg.Requirements()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 distinct requirement vectors, got %d: %v", len(reqs), reqs)
	}
	if reqs[0].Key() != "SSE" || reqs[1].Key() != "AVX" {
		t.Errorf("expected first-seen order [SSE, AVX], got %v", reqs)
	}

	var w strings.Builder
	if err := agg.Report(&w, "a.out"); err != nil {
		t.Fatalf("Report: %v", err)
	}
	out := w.String()
	if !strings.Contains(out, "Extension Requirements:") || !strings.Contains(out, "SSE") || !strings.Contains(out, "AVX") {
		t.Errorf("unexpected report: %q", out)
	}
}

func TestAggregatorUnsupportedWarning(t *testing.T) {
	agg := NewAggregator(false)
	agg.AddUnsupported("movbe")
	agg.AddUnsupported("movbe")
	agg.AddUnsupported("data16")

	var w strings.Builder
	if err := agg.Report(&w, "a.out"); err != nil {
		t.Fatalf("Report: %v", err)
	}
	out := w.String()
	if !strings.Contains(out, "movbe: 2") || !strings.Contains(out, "data16: 1") {
		t.Errorf("expected unsupported-mnemonic tallies in report, got %q", out)
	}
}

func TestAggregatorFullStatsGroupsByFlagSequence(t *testing.T) {
	agg := NewAggregator(true)
	def := &Definition{ID: 1, Mnemonic: "ADDPS", OperandSig: "xmm1, xmm2/m128", CPUID: CPUIDFlags{"SSE"}}
	agg.Add(def)
	agg.Add(def)
	agg.Add(def)

	var w strings.Builder
	if err := agg.Report(&w, "a.out"); err != nil {
		t.Fatalf("Report: %v", err)
	}
	out := w.String()
	if !strings.Contains(out, "Per-definition statistics:") || !strings.Contains(out, "ADDPS") || !strings.Contains(out, "x3") {
		t.Errorf("expected grouped per-definition count in report, got %q", out)
	}
}
