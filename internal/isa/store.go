package isa

import (
	"encoding/csv"
	"fmt"
	"hash/fnv"
	"io"
	"strings"
)

// LoadError reports a failure to load the instruction dictionary:
// a missing or malformed CSV, or an illegitimate duplicate definition
// id.
type LoadError struct {
	Row    int // 1-based data row, 0 if not row-specific.
	Reason string
}

func (e *LoadError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("isa: load error at row %d: %s", e.Row, e.Reason)
	}
	return fmt.Sprintf("isa: load error: %s", e.Reason)
}

// Store is the immutable, loaded instruction dictionary: every
// definition indexed by id, plus a secondary index from lowercased
// mnemonic to the definitions sharing it.
type Store struct {
	byID       map[uint64]*Definition
	byMnemonic map[string][]*Definition

	// UnsupportedSeen tallies occurrences of unsupported-mnemonic CSV
	// rows skipped at load time (distinct from mnemonics encountered
	// during matching, which the Aggregator tallies).
	UnsupportedSeen map[string]int
}

// definitionID computes a stable content hash, 64-bit FNV-1a over the
// UTF-8 bytes of opcodeSpec||operandSig, so the same definition always
// gets the same id across runs and processes.
func definitionID(opcodeSpec, operandSig string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(opcodeSpec))
	h.Write([]byte(operandSig))
	return h.Sum64()
}

// LoadCSV reads the instruction dictionary from r: a header row
// (skipped) followed by rows of exactly six columns, name, opcode,
// instruction, 64-val, 32-val, cpuid. Rows whose mnemonic is in
// UnsupportedMnemonics are tallied and excluded from both indices.
func LoadCSV(r io.Reader) (*Store, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 6

	s := &Store{
		byID:            map[uint64]*Definition{},
		byMnemonic:      map[string][]*Definition{},
		UnsupportedSeen: map[string]int{},
	}

	row := 0
	if _, err := cr.Read(); err != nil {
		if err == io.EOF {
			return nil, &LoadError{Reason: "empty definitions file"}
		}
		return nil, &LoadError{Reason: "reading header row: " + err.Error()}
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &LoadError{Row: row + 1, Reason: err.Error()}
		}
		row++

		mnemonic := rec[0]
		if UnsupportedMnemonics[strings.ToLower(mnemonic)] {
			s.UnsupportedSeen[strings.ToLower(mnemonic)]++
			continue
		}

		rawOpcode := rec[1]
		opcodeSpec := Normalize(rawOpcode)
		operandSig := strings.TrimSpace(rec[2])

		templates, err := ParseOpcodeSpec(opcodeSpec)
		if err != nil {
			return nil, &LoadError{Row: row, Reason: err.Error()}
		}

		cpuid := CPUIDFlags(nil)
		if raw := strings.TrimSpace(rec[5]); raw != "" {
			cpuid = strings.Split(raw, "|")
		}

		def := &Definition{
			ID:         definitionID(opcodeSpec, operandSig),
			Mnemonic:   strings.ToUpper(mnemonic),
			OpcodeSpec: opcodeSpec,
			OperandSig: operandSig,
			Valid64:    Validity(strings.TrimSpace(rec[3])),
			Valid32:    Validity(strings.TrimSpace(rec[4])),
			CPUID:      cpuid,
			Templates:  templates,
		}

		if existing, ok := s.byID[def.ID]; ok {
			if !DuplicateTolerated[def.Mnemonic] {
				return nil, &LoadError{Row: row, Reason: fmt.Sprintf(
					"duplicate definition id for mnemonic %q collides with already-loaded %q",
					def.Mnemonic, existing.Mnemonic)}
			}
		}
		s.byID[def.ID] = def

		key := strings.ToLower(mnemonic)
		s.byMnemonic[key] = append(s.byMnemonic[key], def)
	}

	return s, nil
}

// Lookup returns every definition registered under the given
// lowercased mnemonic.
func (s *Store) Lookup(lowerMnemonic string) []*Definition {
	return s.byMnemonic[lowerMnemonic]
}

// ByID returns the definition with the given id, if loaded.
func (s *Store) ByID(id uint64) (*Definition, bool) {
	d, ok := s.byID[id]
	return d, ok
}
