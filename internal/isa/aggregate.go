package isa

import (
	"fmt"
	"io"
	"sort"
)

// Aggregator accumulates the distinct CPUID requirement vectors seen
// across a run, in first-seen order, plus optional per-definition
// counts and a tally of unsupported mnemonics encountered during
// disassembly.
type Aggregator struct {
	fullStats bool

	order []CPUIDFlags   // distinct flag vectors, first-seen order.
	seen  map[string]bool // CPUIDFlags.Key() already recorded.

	defCounts map[uint64]int
	defByID   map[uint64]*Definition

	unsupported map[string]int
}

// NewAggregator constructs an Aggregator. When fullStats is true, Add
// also tracks per-definition counts for the end-of-run grouped report.
func NewAggregator(fullStats bool) *Aggregator {
	return &Aggregator{
		fullStats:   fullStats,
		seen:        map[string]bool{},
		defCounts:   map[uint64]int{},
		defByID:     map[uint64]*Definition{},
		unsupported: map[string]int{},
	}
}

// Add commits a resolved definition: its CPUID flags, if non-empty,
// join the distinct requirement set, and (in full-stats mode) its
// per-definition count is incremented.
func (a *Aggregator) Add(def *Definition) {
	if def == nil {
		return
	}
	if len(def.CPUID) > 0 {
		key := def.CPUID.Key()
		if !a.seen[key] {
			a.seen[key] = true
			a.order = append(a.order, def.CPUID)
		}
	}
	if a.fullStats {
		a.defCounts[def.ID]++
		a.defByID[def.ID] = def
	}
}

// AddUnsupported tallies one occurrence of an unsupported mnemonic
// encountered while matching.
func (a *Aggregator) AddUnsupported(mnemonic string) {
	a.unsupported[mnemonic]++
}

// Requirements returns the distinct CPUID flag sequences seen, in
// first-seen order.
func (a *Aggregator) Requirements() []CPUIDFlags {
	return a.order
}

// Report writes a free-form text summary: either a "no special
// extensions" line or the distinct requirement vectors, optionally
// preceded by grouped per-definition statistics, followed by an
// unsupported-mnemonic warning block if any were seen.
func (a *Aggregator) Report(w io.Writer, binaryPath string) error {
	if a.fullStats {
		if err := a.writeFullStats(w); err != nil {
			return err
		}
	}

	if len(a.order) == 0 {
		if _, err := fmt.Fprintf(w, "No special extensions are required to run %s\n", binaryPath); err != nil {
			return err
		}
	} else {
		if _, err := fmt.Fprintln(w, "Extension Requirements:"); err != nil {
			return err
		}
		for _, flags := range a.order {
			if _, err := fmt.Fprintln(w, flags.Key()); err != nil {
				return err
			}
		}
	}

	if len(a.unsupported) > 0 {
		if _, err := fmt.Fprintln(w, "Warning: unsupported mnemonics encountered:"); err != nil {
			return err
		}
		names := make([]string, 0, len(a.unsupported))
		for m := range a.unsupported {
			names = append(names, m)
		}
		sort.Strings(names)
		for _, m := range names {
			if _, err := fmt.Fprintf(w, "  %s: %d\n", m, a.unsupported[m]); err != nil {
				return err
			}
		}
	}

	return nil
}

func (a *Aggregator) writeFullStats(w io.Writer) error {
	groups := map[string][]uint64{}
	for id := range a.defCounts {
		def := a.defByID[id]
		groups[def.CPUID.Key()] = append(groups[def.CPUID.Key()], id)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if _, err := fmt.Fprintln(w, "Per-definition statistics:"); err != nil {
		return err
	}
	for _, key := range keys {
		label := key
		if label == "" {
			label = "(no CPUID requirement)"
		}
		if _, err := fmt.Fprintf(w, "  %s:\n", label); err != nil {
			return err
		}
		ids := groups[key]
		sort.Slice(ids, func(i, j int) bool { return a.defByID[ids[i]].Mnemonic < a.defByID[ids[j]].Mnemonic })
		for _, id := range ids {
			def := a.defByID[id]
			if _, err := fmt.Fprintf(w, "    %-12s %-24s x%d\n", def.Mnemonic, def.OperandSig, a.defCounts[id]); err != nil {
				return err
			}
		}
	}
	return nil
}
