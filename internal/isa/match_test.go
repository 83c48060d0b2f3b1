package isa

import (
	"os"
	"testing"
)

func loadSampleStore(t *testing.T) *Store {
	t.Helper()
	f, err := os.Open("../../testdata/definitions_sample.csv")
	if err != nil {
		t.Fatalf("opening sample definitions: %v", err)
	}
	defer f.Close()
	store, err := LoadCSV(f)
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	return store
}

func TestResolvePlainStrategy(t *testing.T) {
	store := loadSampleStore(t)

	// ADDPS carries SSE, so it survives the triviality shortcut and
	// matches its template directly with no prefix adjustment.
	def, err := Resolve(store, ObservedInstruction{
		Mnemonic:    "addps",
		Bytes:       bytesOf("0F", "58", "C1"),
		DecodedText: "addps xmm0,xmm1",
	}, false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if def == nil || def.Mnemonic != "ADDPS" {
		t.Fatalf("expected ADDPS, got %+v", def)
	}
}

func TestResolveTrivialityShortcut(t *testing.T) {
	store := loadSampleStore(t)

	// ADD carries no CPUID flags; in non-careful mode it is discarded
	// before any byte matching occurs.
	def, err := Resolve(store, ObservedInstruction{
		Mnemonic:    "add",
		Bytes:       bytesOf("48", "03", "D8"),
		DecodedText: "add rbx,rax",
	}, false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if def != nil {
		t.Fatalf("expected a nil (discarded) result, got %+v", def)
	}
}

func TestResolveCarefulModeStillMatches(t *testing.T) {
	store := loadSampleStore(t)

	// With the triviality shortcut disabled, ADD still resolves despite
	// carrying no CPUID requirement.
	def, err := Resolve(store, ObservedInstruction{
		Mnemonic:    "add",
		Bytes:       bytesOf("48", "03", "D8"),
		DecodedText: "add rbx,rax",
	}, true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if def == nil || def.Mnemonic != "ADD" {
		t.Fatalf("expected ADD, got %+v", def)
	}
}

func TestResolveExtraLegacyPrefixStrategy(t *testing.T) {
	store := loadSampleStore(t)

	// A lock prefix ahead of ADDPD's "66 0F 58 /r" template must be
	// consumed by the extra-legacy-prefix strategy.
	def, err := Resolve(store, ObservedInstruction{
		Mnemonic:    "addpd",
		Bytes:       bytesOf("F0", "66", "0F", "58", "C1"),
		DecodedText: "addpd xmm0,xmm1",
	}, false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if def == nil || def.Mnemonic != "ADDPD" {
		t.Fatalf("expected ADDPD via extra-legacy-prefix strategy, got %+v", def)
	}
}

func TestResolvePseudoOpAlias(t *testing.T) {
	store := loadSampleStore(t)

	// cmpeqps has no dictionary entry of its own; it resolves via the
	// pseudo-op table to CMPPS.
	def, err := Resolve(store, ObservedInstruction{
		Mnemonic:    "cmpeqps",
		Bytes:       bytesOf("0F", "C2", "C1", "00"),
		DecodedText: "cmpeqps xmm0,xmm1",
	}, false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if def == nil || def.Mnemonic != "CMPPS" {
		t.Fatalf("expected CMPPS via pseudo-op alias, got %+v", def)
	}
}

func TestResolveUnknownMnemonic(t *testing.T) {
	store := loadSampleStore(t)

	_, err := Resolve(store, ObservedInstruction{
		Mnemonic:    "bogusinsn",
		Bytes:       bytesOf("90"),
		DecodedText: "bogusinsn",
	}, false)
	if err == nil {
		t.Fatal("expected an UnknownMnemonicError")
	}
	if _, ok := err.(*UnknownMnemonicError); !ok {
		t.Fatalf("expected *UnknownMnemonicError, got %T", err)
	}
}

func TestResolveSegmentOverrideRescue(t *testing.T) {
	store := loadSampleStore(t)

	// "cs" is not itself an instruction; it is rescued by looking at the
	// second token of the decoded text.
	_, err := Resolve(store, ObservedInstruction{
		Mnemonic:    "cs",
		Bytes:       bytesOf("2E", "0F", "58", "C1"),
		DecodedText: "cs addps xmm0,xmm1",
	}, false)
	if err != nil {
		t.Fatalf("expected the segment-override rescue to resolve via ADDPS, got error: %v", err)
	}
}

func TestResolveAmbiguousMemoryRegisterTieBreak(t *testing.T) {
	store := &Store{
		byID:       map[uint64]*Definition{},
		byMnemonic: map[string][]*Definition{},
	}

	regTemplates, err := ParseOpcodeSpec("0F 10 /r")
	if err != nil {
		t.Fatal(err)
	}
	memTemplates, err := ParseOpcodeSpec("0F 10 /r")
	if err != nil {
		t.Fatal(err)
	}

	regDef := &Definition{ID: 1, Mnemonic: "MOVUPS", OperandSig: "xmm1, xmm2", Valid64: Valid, CPUID: CPUIDFlags{"SSE"}, Templates: regTemplates}
	memDef := &Definition{ID: 2, Mnemonic: "MOVUPS", OperandSig: "xmm1, m128", Valid64: Valid, CPUID: CPUIDFlags{"SSE", "AVX"}, Templates: memTemplates}
	store.byID[1] = regDef
	store.byID[2] = memDef
	store.byMnemonic["movups"] = []*Definition{regDef, memDef}

	def, err := Resolve(store, ObservedInstruction{
		Mnemonic:    "movups",
		Bytes:       bytesOf("0F", "10", "00"),
		DecodedText: "movups xmm0,XMMWORD PTR [rax]",
	}, true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if def != memDef {
		t.Fatalf("expected the memory-operand variant to win via the PTR tie-break, got %+v", def)
	}

	def, err = Resolve(store, ObservedInstruction{
		Mnemonic:    "movups",
		Bytes:       bytesOf("0F", "10", "C1"),
		DecodedText: "movups xmm0,xmm1",
	}, true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if def != regDef {
		t.Fatalf("expected the register-operand variant to win in the absence of PTR, got %+v", def)
	}
}
