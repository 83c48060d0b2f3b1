// Package isa compiles Intel manual opcode notation into byte-level
// templates, loads the instruction dictionary those specs come from,
// and matches disassembled machine code against it to determine which
// CPUID feature flags a sequence of instructions requires.
package isa

import "strings"

// Validity represents one of the closed set of values the Intel manual
// uses to describe whether an instruction form is valid in a given CPU
// mode.
type Validity string

const (
	Valid             Validity = "V"
	ValidInvalid      Validity = "I"
	ValidNotEncodable Validity = "N.E."
	ValidNotPermitted Validity = "N.P."
	ValidNotInherited Validity = "N.I."
	ValidNotSupported Validity = "N.S."
	ValidNotApplic    Validity = "N.A."
)

// CPUIDFlags is an ordered sequence of CPUID feature-flag tokens, such
// as "AVX" or "AVX512F". Equality is sequence equality, not set
// equality: the manual's ordering is preserved and treated as
// significant, per spec.
type CPUIDFlags []string

// Equal reports whether f and other name the same flags in the same
// order.
func (f CPUIDFlags) Equal(other CPUIDFlags) bool {
	if len(f) != len(other) {
		return false
	}
	for i := range f {
		if f[i] != other[i] {
			return false
		}
	}
	return true
}

// Key returns a value suitable for use as a map key that groups
// CPUIDFlags by sequence equality.
func (f CPUIDFlags) Key() string {
	return strings.Join(f, "|")
}

// Definition represents one row of the instruction dictionary: a single
// documented form of an instruction, identified by the combination of
// its opcode specification and its operand signature.
type Definition struct {
	ID uint64 // Stable content hash of OpcodeSpec+OperandSig.

	Mnemonic   string // Upper-case Intel mnemonic, e.g. "VADDPS".
	OpcodeSpec string // Normalized Intel-notation opcode string, e.g. "VEX.256.66.0F38.W0 2C /r".
	OperandSig string // Textual operand pattern, e.g. "xmm1, xmm2, xmm3/m128".
	Valid64    Validity
	Valid32    Validity
	CPUID      CPUIDFlags

	Templates []Template // Compiled encoding alternatives; never empty.
}

// DuplicateTolerated lists the mnemonics permitted to produce colliding
// definition IDs: these are documented aliases of one another in the
// manual, not genuine duplicate rows.
var DuplicateTolerated = map[string]bool{
	"JZ":    true,
	"LEAVE": true,
	"POP":   true,
	"REP":   true,
}

// UnsupportedMnemonics is the closed blacklist of mnemonics excluded
// from the mnemonic index at load time. They are tallied, not matched,
// if encountered during disassembly: CET/endbr landing pads and a
// handful of decoder-only pseudo-mnemonics carry no CPUID requirement
// of their own and have no instruction-dictionary entry to match against.
var UnsupportedMnemonics = map[string]bool{
	"repz":    true,
	"data16":  true,
	"data32":  true,
	"movabs":  true,
	"endbr64": true,
	"endbr66": true,
	"movbe":   true,
}

// pseudoOps maps a compound, predicate-embedded mnemonic (such as
// "cmpeqps") to the canonical mnemonic whose definition it should be
// resolved against ("cmpps"). All keys and values are lower case, to
// match the mnemonic index.
var pseudoOps = buildPseudoOps()

func buildPseudoOps() map[string]string {
	m := map[string]string{}
	add := func(target string, names ...string) {
		for _, n := range names {
			m[n] = target
		}
	}

	add("cmpps",
		"cmpeqps", "cmpltps", "cmpleps", "cmpunordps",
		"cmpneqps", "cmpnltps", "cmpnleps", "cmpordps")
	add("vcmpps",
		"vcmpeqps", "vcmpltps", "vcmpleps", "vcmpunordps",
		"vcmpneqps", "vcmpnltps", "vcmpnleps", "vcmpordps",
		"vcmpeq_uqps", "vcmpngeps", "vcmpngtps", "vcmpfalseps",
		"vcmpneq_oqps", "vcmpgeps", "vcmpgtps", "vcmptrueps",
		"vcmpeq_osps", "vcmplt_oqps", "vcmple_oqps", "vcmpunord_sps",
		"vcmpneq_usps", "vcmpnlt_uqps", "vcmpnle_uqps",
		"vcmpord_sps", "vcmpeq_usps",
		"vcmpnge_uqps", "vcmpngt_uqps", "vcmpfalse_osps",
		"vcmpneq_osps", "vcmpge_oqps", "vcmpgt_oqps", "vcmptrue_usps")
	add("cmpss",
		"cmpeqss", "cmpltss", "cmpless", "cmpunordss",
		"cmpneqss", "cmpnltss", "cmpnless", "cmpordss")
	add("vcmpss",
		"vcmpeqss", "vcmpltss", "vcmpless", "vcmpunordss",
		"vcmpneqss", "vcmpnltss", "vcmpnless", "vcmpordss",
		"vcmpeq_uqss", "vcmpngess", "vcmpngtss", "vcmpfalsess",
		"vcmpneq_oqss", "vcmpgess", "vcmpgtss", "vcmptruess",
		"vcmpeq_osss", "vcmplt_oqss", "vcmple_oqss", "vcmpunord_sss",
		"vcmpneq_usss", "vcmpnlt_uqss", "vcmpnle_uqss", "vcmpord_sss",
		"vcmpeq_usss", "vcmpnge_uqss", "vcmpngt_uqss", "vcmpfalse_osss",
		"vcmpneq_osss", "vcmpge_oqss", "vcmpgt_oqss", "vcmptrue_usss")
	add("cmppd",
		"cmpeqpd", "cmpltpd", "cmplepd", "cmpunordpd",
		"cmpneqpd", "cmpnltpd", "cmpnlepd", "cmpordpd")
	add("vcmppd",
		"vcmpeqpd", "vcmpltpd", "vcmplepd", "vcmpunordpd",
		"vcmpneqpd", "vcmpnltpd", "vcmpnlepd", "vcmpordpd",
		"vcmpeq_uqpd", "vcmpngepd", "vcmpngtpd", "vcmpfalsepd",
		"vcmpneq_oqpd", "vcmpgepd", "vcmpgtpd", "vcmptruepd",
		"vcmpeq_ospd", "vcmplt_oqpd", "vcmple_oqpd", "vcmpunord_spd",
		"vcmpneq_uspd", "vcmpnlt_uqpd", "vcmpnle_uqpd", "vcmpord_spd",
		"vcmpeq_uspd", "vcmpnge_uqpd", "vcmpngt_uqpd", "vcmpfalse_ospd",
		"vcmpneq_ospd", "vcmpge_oqpd", "vcmpgt_oqpd", "vcmptrue_uspd")
	add("cmpsd",
		"cmpeqsd", "cmpltsd", "cmplesd", "cmpunordsd",
		"cmpneqsd", "cmpnltsd", "cmpnlesd", "cmpordsd")
	add("vcmpsd",
		"vcmpeqsd", "vcmpltsd", "vcmplesd", "vcmpunordsd",
		"vcmpneqsd", "vcmpnltsd", "vcmpnlesd", "vcmpordsd",
		"vcmpeq_uqsd", "vcmpngesd", "vcmpngtsd", "vcmpfalsesd",
		"vcmpneq_oqsd", "vcmpgesd", "vcmpgtsd", "vcmptruesd",
		"vcmpeq_ossd", "vcmplt_oqsd", "vcmple_oqsd", "vcmpunord_ssd",
		"vcmpneq_ussd", "vcmpnlt_uqsd", "vcmpnle_uqsd", "vcmpord_ssd",
		"vcmpeq_ussd", "vcmpnge_uqsd", "vcmpngt_uqsd", "vcmpfalse_ossd",
		"vcmpneq_ossd", "vcmpge_oqsd", "vcmpgt_oqsd", "vcmptrue_ussd")
	add("vpcmp",
		"vpcmpeq", "vpcmplt", "vpcmple", "vpcmpneq",
		"vpcmpnlt", "vpcmpnle")
	add("pclmulqdq",
		"pclmullqlqdq", "pclmulhqlqdq", "pclmullqhqdq", "pclmulhqhqdq")
	add("vpclmulqdq",
		"vpclmullqlqdq", "vpclmulhqlqdq", "vpclmullqhqdq", "vpclmulhqhqdq")

	// Generated predicate family: vpcmp<predicate><type> -> vpcmp<type>,
	// for every (predicate, type) combination. Mirrors the Python source's
	// list comprehension in get_extension_requirements.py.
	predicates := []string{"eq", "lt", "le", "false", "neq", "nlt", "nle", "true"}
	types := []string{"b", "d", "q", "w", "ub", "ud", "uq", "uw"}
	for _, typ := range types {
		target := "vpcmp" + typ
		for _, pred := range predicates {
			m["vpcmp"+pred+typ] = target
		}
	}

	return m
}

// ResolvePseudoOp returns the canonical mnemonic a pseudo-op maps to,
// and whether it was found in the table. mnemonic must already be
// lower case.
func ResolvePseudoOp(mnemonic string) (string, bool) {
	target, ok := pseudoOps[mnemonic]
	return target, ok
}
