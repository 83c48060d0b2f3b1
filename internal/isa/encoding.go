package isa

import (
	"fmt"
	"regexp"
	"strings"
)

// ByteTemplate is one position of a compiled template: an observed byte
// b at this position matches iff b&Mask == Value.
type ByteTemplate struct {
	Value byte
	Mask  byte
}

// Template is one compiled encoding alternative for a definition. A
// byte string matches a Template iff every position within the shorter
// of the two satisfies its ByteTemplate; matching is prefix-oriented,
// so a Template shorter than the observed bytes still matches on the
// common prefix.
//
// NoVEXPrefix and NoRepPrefix mirror the opcode spec's NP/NFx tokens:
// they emit no bytes of their own, but the match engine's
// extra-legacy-prefix strategy consults them before consuming a 66,
// F2, or F3 byte ahead of this template.
type Template struct {
	Bytes       []ByteTemplate
	NoVEXPrefix bool
	NoRepPrefix bool
}

// Matches reports whether observed bytes b match t under prefix
// semantics starting at offset 0.
func (t Template) Matches(b []byte) bool {
	n := len(t.Bytes)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if b[i]&t.Bytes[i].Mask != t.Bytes[i].Value {
			return false
		}
	}
	return true
}

// MatchesAt is Matches against b[offset:], guarding against an offset
// past the end of b.
func (t Template) MatchesAt(b []byte, offset int) bool {
	if offset > len(b) {
		return false
	}
	return t.Matches(b[offset:])
}

// CompileError reports a failure to compile an opcode spec into
// templates: an unrecognized token or an unparseable VEX/EVEX
// fragment.
type CompileError struct {
	Spec   string
	Token  string
	Reason string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("isa: cannot compile opcode spec %q: token %q: %s", e.Spec, e.Token, e.Reason)
}

var hexByteRE = regexp.MustCompile(`^[0-9A-F]{2}$`)
var modrmDigitRE = regexp.MustCompile(`^/[0-7]$`)

// opcodeByteModifierMask is the mask applied, together with the same
// value, to the preceding emitted byte when a +rb/+rw/+rd/+ro/+i token
// embeds a 3-bit register in it: the register occupies the bottom
// three bits of the byte, so the mask must clear exactly those bits.
const opcodeByteModifierMask = 0xF8

// compileState accumulates one or more alternative byte sequences while
// walking an opcode spec's tokens. Alternatives diverge only at a VEX
// clause (2-byte vs. 3-byte forms); every other token is appended
// identically to every live alternative.
type compileState struct {
	alts         []*Template
	modrmEmitted bool
}

// ParseOpcodeSpec compiles a normalized opcode spec string into its
// template alternatives, following the token grammar and VEX/EVEX
// compilation rules of the instruction manual. spec must already have
// been passed through Normalize.
func ParseOpcodeSpec(spec string) ([]Template, error) {
	tokens := strings.Fields(spec)
	st := &compileState{alts: []*Template{{}}}

	for _, tok := range tokens {
		if err := st.apply(spec, tok); err != nil {
			return nil, err
		}
	}

	out := make([]Template, len(st.alts))
	for i, alt := range st.alts {
		out[i] = *alt
	}
	return out, nil
}

func (st *compileState) apply(spec, tok string) error {
	switch {
	case hexByteRE.MatchString(tok):
		st.appendLiteral(parseHexByte(tok), 0xFF)
		return nil

	case tok == "REX":
		st.appendLiteral(0x40, 0xF0)
		return nil
	case tok == "REX.W" || tok == "REX.w":
		st.appendLiteral(0x48, 0xF8)
		return nil
	case tok == "REX.R":
		st.appendLiteral(0x42, 0xF2)
		return nil

	case tok == "NP":
		for _, a := range st.alts {
			a.NoVEXPrefix = true
		}
		return nil
	case tok == "NFx":
		for _, a := range st.alts {
			a.NoRepPrefix = true
		}
		return nil

	case strings.HasPrefix(tok, "VEX."):
		return st.applyVEX(spec, tok)
	case strings.HasPrefix(tok, "EVEX."):
		return st.applyEVEX(spec, tok)

	case modrmDigitRE.MatchString(tok):
		d := tok[1] - '0'
		st.appendLiteral(d<<3, 0x38)
		st.modrmEmitted = true
		return nil
	case tok == "/r":
		if !st.modrmEmitted {
			st.appendLiteral(0x00, 0x00)
			st.modrmEmitted = true
		}
		return nil
	case tok == "/is4" || tok == "imm8":
		st.appendFree(1)
		return nil

	case tok == "ib" || tok == "/ib":
		st.appendFree(1)
		return nil
	case tok == "iw":
		st.appendFree(2)
		return nil
	case tok == "id":
		st.appendFree(4)
		return nil
	case tok == "io":
		st.appendFree(8)
		return nil

	case tok == "cb":
		st.appendFree(1)
		return nil
	case tok == "cw":
		st.appendFree(2)
		return nil
	case tok == "cd":
		st.appendFree(4)
		return nil
	case tok == "cp":
		st.appendFree(6)
		return nil
	case tok == "co":
		st.appendFree(8)
		return nil
	case tok == "ct":
		st.appendFree(10)
		return nil

	case tok == "+rb" || tok == "+rw" || tok == "+rd" || tok == "+ro" || tok == "+i":
		return st.applyRegisterModifier(spec, tok)

	default:
		return &CompileError{Spec: spec, Token: tok, Reason: "unrecognized token"}
	}
}

func parseHexByte(tok string) byte {
	var v byte
	for _, c := range []byte(tok) {
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v |= c - '0'
		default:
			v |= c - 'A' + 10
		}
	}
	return v
}

// appendLiteral appends the same (value, mask) pair to every live
// alternative.
func (st *compileState) appendLiteral(value, mask byte) {
	for _, a := range st.alts {
		a.Bytes = append(a.Bytes, ByteTemplate{Value: value, Mask: mask})
	}
}

// appendFree appends n wholly-free bytes ((0,0), matching anything) to
// every live alternative.
func (st *compileState) appendFree(n int) {
	for i := 0; i < n; i++ {
		st.appendLiteral(0, 0)
	}
}

// applyRegisterModifier mutates the last emitted byte of every live
// alternative, embedding a 3-bit register (or immediate count, for
// +i) in its bottom three bits.
func (st *compileState) applyRegisterModifier(spec, tok string) error {
	for _, a := range st.alts {
		if len(a.Bytes) == 0 {
			return &CompileError{Spec: spec, Token: tok, Reason: "no preceding byte to modify"}
		}
		last := &a.Bytes[len(a.Bytes)-1]
		last.Mask &= opcodeByteModifierMask
		last.Value &= opcodeByteModifierMask
	}
	return nil
}

// vexFields holds the compiled (value, mask) pair for each VEX/EVEX
// prefix fragment.
type vexFields struct {
	l, lMask   byte
	pp, ppMask byte
	mm, mmMask byte
	w, wMask   byte
	sawW       bool
	forced3    bool
}

func (st *compileState) applyVEX(spec, tok string) error {
	fragments := strings.Split(strings.TrimPrefix(tok, "VEX."), ".")
	f := vexFields{}

	for _, frag := range fragments {
		switch frag {
		case "128":
			f.l, f.lMask = 0, 1
		case "256":
			f.l, f.lMask = 1, 1
		case "L0", "LZ":
			f.l, f.lMask = 0, 1
		case "L1":
			f.l, f.lMask = 1, 1
		case "LIG":
			f.l, f.lMask = 0, 0
		case "66":
			f.pp, f.ppMask = 0x1, 0x3
		case "F3":
			f.pp, f.ppMask = 0x2, 0x3
		case "F2":
			f.pp, f.ppMask = 0x3, 0x3
		case "0F":
			f.mm, f.mmMask = 1, 0x1F
		case "0F38":
			f.mm, f.mmMask = 2, 0x1F
			f.forced3 = true
		case "0F3A":
			f.mm, f.mmMask = 3, 0x1F
			f.forced3 = true
		case "W0":
			f.w, f.wMask, f.sawW = 0, 1, true
		case "W1":
			f.w, f.wMask, f.sawW = 1, 1, true
			f.forced3 = true
		case "WIG":
			f.w, f.wMask, f.sawW = 0, 0, true
		case "":
			// Empty fragment from a doubled dot; ignore.
		default:
			return &CompileError{Spec: spec, Token: tok, Reason: fmt.Sprintf("unrecognized VEX fragment %q", frag)}
		}
	}
	if !f.sawW {
		// An absent W fragment means W0, not "don't care" like WIG.
		f.w, f.wMask = 0, 1
	}

	twoByte := Template{Bytes: []ByteTemplate{
		{Value: 0xC5, Mask: 0xFF},
		{Value: (f.l << 2) | f.pp, Mask: (f.lMask << 2) | f.ppMask},
	}}
	threeByte := Template{Bytes: []ByteTemplate{
		{Value: 0xC4, Mask: 0xFF},
		{Value: f.mm, Mask: f.mmMask},
		{Value: (f.w << 7) | (f.l << 2) | f.pp, Mask: (f.wMask << 7) | (f.lMask << 2) | f.ppMask},
	}}

	var next []*Template
	for _, a := range st.alts {
		if !f.forced3 {
			two := cloneTemplate(a)
			two.Bytes = append(two.Bytes, twoByte.Bytes...)
			next = append(next, two)
		}
		three := cloneTemplate(a)
		three.Bytes = append(three.Bytes, threeByte.Bytes...)
		next = append(next, three)
	}
	st.alts = next
	return nil
}

func (st *compileState) applyEVEX(spec, tok string) error {
	fragments := strings.Split(strings.TrimPrefix(tok, "EVEX."), ".")
	var pp, ppMask, mm, mmMask, w, wMask, ll, llMask byte

	for _, frag := range fragments {
		switch frag {
		case "128":
			ll, llMask = 0, 3
		case "256":
			ll, llMask = 1, 3
		case "512":
			ll, llMask = 2, 3
		case "LIG":
			ll, llMask = 0, 0
		case "66":
			pp, ppMask = 0x1, 0x3
		case "F3":
			pp, ppMask = 0x2, 0x3
		case "F2":
			pp, ppMask = 0x3, 0x3
		case "0F":
			mm, mmMask = 1, 0x3
		case "0F38":
			mm, mmMask = 2, 0x3
		case "0F3A":
			mm, mmMask = 3, 0x3
		case "W0":
			w, wMask = 0, 1
		case "W1":
			w, wMask = 1, 1
		case "WIG":
			w, wMask = 0, 0
		case "":
		default:
			return &CompileError{Spec: spec, Token: tok, Reason: fmt.Sprintf("unrecognized EVEX fragment %q", frag)}
		}
	}

	evex := []ByteTemplate{
		{Value: 0x62, Mask: 0xFF},
		{Value: mm, Mask: mmMask},
		{Value: (w << 7) | pp, Mask: (wMask << 7) | ppMask},
		{Value: ll << 5, Mask: llMask << 5},
	}

	for _, a := range st.alts {
		a.Bytes = append(a.Bytes, evex...)
	}
	return nil
}

func cloneTemplate(a *Template) *Template {
	c := &Template{
		NoVEXPrefix: a.NoVEXPrefix,
		NoRepPrefix: a.NoRepPrefix,
	}
	c.Bytes = append(c.Bytes, a.Bytes...)
	return c
}
