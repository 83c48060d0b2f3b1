package isa

import (
	"fmt"
	"regexp"
	"strings"
)

// ObservedInstruction is one decoded instruction produced by the
// external disassembler adapter.
type ObservedInstruction struct {
	Mnemonic    string // As decoded, e.g. "cmpeqps" or "cs".
	Bytes       []byte
	DecodedText string // Full decoded line, e.g. "cmpeqps xmm0,xmm1".
}

// UnknownMnemonicError reports that no mnemonic, pseudo-op alias, or
// segment-override rescue resolved an observed instruction to any
// definition.
type UnknownMnemonicError struct {
	Mnemonic    string
	Bytes       []byte
	DecodedText string
}

func (e *UnknownMnemonicError) Error() string {
	return fmt.Sprintf("isa: unknown mnemonic %q (bytes % X, decoded %q)", e.Mnemonic, e.Bytes, e.DecodedText)
}

// ModeError reports that the supplied binary is not 64-bit long mode.
type ModeError struct {
	Detected string
}

func (e *ModeError) Error() string {
	return fmt.Sprintf("isa: unsupported binary mode %q, only elf64-x86-64 is supported", e.Detected)
}

// NoMatchError reports that no candidate definition's templates
// matched the observed bytes under any strategy.
type NoMatchError struct {
	Mnemonic string
	Bytes    []byte
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("isa: no definition matches mnemonic %q bytes % X", e.Mnemonic, e.Bytes)
}

// AmbiguousMatchError reports that more than one candidate survived
// matching with disagreeing CPUID requirements, and no tie-breaker
// applied.
type AmbiguousMatchError struct {
	Mnemonic   string
	Bytes      []byte
	Candidates []*Definition
}

func (e *AmbiguousMatchError) Error() string {
	sigs := make([]string, len(e.Candidates))
	for i, d := range e.Candidates {
		sigs[i] = fmt.Sprintf("%s(%s)->%v", d.Mnemonic, d.OperandSig, d.CPUID)
	}
	return fmt.Sprintf("isa: ambiguous match for mnemonic %q bytes % X, candidates: %s",
		e.Mnemonic, e.Bytes, strings.Join(sigs, "; "))
}

// The four canonical legacy-prefix groups: lock/repeat, segment
// override, operand-size override, and address-size override.
var (
	legacyGroupA = map[byte]bool{0xF0: true, 0xF2: true, 0xF3: true}
	legacyGroupB = map[byte]bool{0x2E: true, 0x36: true, 0x3E: true, 0x26: true, 0x64: true, 0x65: true}
	legacyGroupC = map[byte]bool{0x66: true}
	legacyGroupD = map[byte]bool{0x67: true}
)

func legacyPrefixAllowed(b byte, noVEXPrefix, noRepPrefix bool) bool {
	switch {
	case legacyGroupA[b]:
		if noVEXPrefix && (b == 0x66 || b == 0xF2 || b == 0xF3) {
			return false
		}
		if noRepPrefix && (b == 0xF2 || b == 0xF3) {
			return false
		}
		return true
	case legacyGroupB[b]:
		return true
	case legacyGroupC[b]:
		return !noVEXPrefix
	case legacyGroupD[b]:
		return true
	default:
		return false
	}
}

// matchTemplate tries every strategy in order against a single
// template and reports the first that succeeds along with its prefix
// cost.
func matchTemplate(t Template, obs []byte) (matched bool, cost int) {
	// Plain.
	if t.Matches(obs) {
		return true, 0
	}
	// Extra REX: observed byte 0 is a REX byte, template matches from offset 1.
	if len(obs) >= 1 && obs[0]&0xF0 == 0x40 && t.MatchesAt(obs, 1) {
		return true, 1
	}
	// Extra legacy prefix: consume a run of leading legacy-prefix bytes,
	// for as long as the observation keeps offering recognized ones.
	for n := 1; n <= len(obs); n++ {
		if !legacyPrefixAllowed(obs[n-1], t.NoVEXPrefix, t.NoRepPrefix) {
			break
		}
		if t.MatchesAt(obs, n) {
			return true, n
		}
	}
	// Inserted REX: template's own first byte is a legacy prefix byte,
	// observation has that byte followed by a REX byte, and the
	// template's remainder (from index 1) matches the observation from
	// index 2.
	if len(t.Bytes) >= 1 && t.Bytes[0].Mask == 0xFF && isLegacyPrefixByte(t.Bytes[0].Value) &&
		len(obs) >= 2 && obs[0] == t.Bytes[0].Value && obs[1]&0xF0 == 0x40 {
		rest := Template{Bytes: t.Bytes[1:]}
		if rest.MatchesAt(obs, 2) {
			return true, 1
		}
	}
	return false, 0
}

func isLegacyPrefixByte(b byte) bool {
	return legacyGroupA[b] || legacyGroupB[b] || legacyGroupC[b] || legacyGroupD[b]
}

// bestMatch reports whether any of def's templates match obs under
// some strategy, and the minimum prefix cost among those that do.
func bestMatch(def *Definition, obs []byte) (matched bool, cost int) {
	best := -1
	for _, t := range def.Templates {
		if ok, c := matchTemplate(t, obs); ok {
			if best == -1 || c < best {
				best = c
			}
		}
	}
	if best == -1 {
		return false, 0
	}
	return true, best
}

var memoryOperandRE = regexp.MustCompile(`\bm(32|64|128)\b`)

// Resolve applies the full match engine to one observed instruction:
// mnemonic resolution, candidate prefiltering, the optional triviality
// shortcut, strategy-ordered matching, prefix-cost pruning, and the
// agreement/tie-break check. It returns the single definition that
// explains the observation.
//
// A nil Definition with a nil error means the observation was dropped
// by the triviality shortcut and contributes nothing to the result.
func Resolve(store *Store, obs ObservedInstruction, careful bool) (*Definition, error) {
	lower := strings.ToLower(obs.Mnemonic)

	defs := store.Lookup(lower)
	if len(defs) == 0 {
		if target, ok := ResolvePseudoOp(lower); ok {
			defs = store.Lookup(strings.ToLower(target))
		}
	}
	if len(defs) == 0 && (lower == "cs" || lower == "ds") {
		fields := strings.Fields(obs.DecodedText)
		if len(fields) >= 2 {
			defs = store.Lookup(strings.ToLower(fields[1]))
		}
	}
	if len(defs) == 0 {
		return nil, &UnknownMnemonicError{Mnemonic: obs.Mnemonic, Bytes: obs.Bytes, DecodedText: obs.DecodedText}
	}

	var candidates []*Definition
	for _, d := range defs {
		if d.Valid64 == Valid {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return nil, &NoMatchError{Mnemonic: obs.Mnemonic, Bytes: obs.Bytes}
	}

	if !careful {
		anyFlagged := false
		for _, d := range candidates {
			if len(d.CPUID) > 0 {
				anyFlagged = true
				break
			}
		}
		if !anyFlagged {
			return nil, nil
		}
	}

	type survivor struct {
		def  *Definition
		cost int
	}
	var survivors []survivor
	for _, d := range candidates {
		if ok, cost := bestMatch(d, obs.Bytes); ok {
			survivors = append(survivors, survivor{d, cost})
		}
	}
	if len(survivors) == 0 {
		return nil, &NoMatchError{Mnemonic: obs.Mnemonic, Bytes: obs.Bytes}
	}

	minCost := survivors[0].cost
	for _, s := range survivors[1:] {
		if s.cost < minCost {
			minCost = s.cost
		}
	}
	var pruned []*Definition
	for _, s := range survivors {
		if s.cost == minCost {
			pruned = append(pruned, s.def)
		}
	}

	agree := true
	for _, d := range pruned[1:] {
		if !d.CPUID.Equal(pruned[0].CPUID) {
			agree = false
			break
		}
	}
	if agree {
		return pruned[0], nil
	}

	if len(pruned) == 2 {
		aMem := memoryOperandRE.MatchString(pruned[0].OperandSig)
		bMem := memoryOperandRE.MatchString(pruned[1].OperandSig)
		if aMem != bMem {
			hasPTR := strings.Contains(strings.ToUpper(obs.DecodedText), "PTR")
			if aMem == hasPTR {
				return pruned[0], nil
			}
			return pruned[1], nil
		}
	}

	return nil, &AmbiguousMatchError{Mnemonic: obs.Mnemonic, Bytes: obs.Bytes, Candidates: pruned}
}
