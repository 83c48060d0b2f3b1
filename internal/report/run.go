// Package report orchestrates one end-to-end run: load the
// instruction dictionary, disassemble the target binary, resolve and
// aggregate its CPUID requirements, and write the summary.
package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/krafczyk/BinX86Ext/internal/disasm"
	"github.com/krafczyk/BinX86Ext/internal/isa"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

// Options mirrors the CLI's flag set.
type Options struct {
	InputPath       string
	DefinitionsPath string
	Verbose         bool
	Progress        bool
	Careful         bool
	ObjdumpPath     string
	FullStats       bool
}

// Run executes one full pipeline pass and writes the report to w.
func Run(ctx context.Context, w io.Writer, opts Options) error {
	logger := logrus.New()
	if opts.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}

	f, err := os.Open(opts.DefinitionsPath)
	if err != nil {
		return fmt.Errorf("opening definitions file: %w", err)
	}
	defer f.Close()

	store, err := isa.LoadCSV(f)
	if err != nil {
		return err
	}
	logger.WithField("definitions", opts.DefinitionsPath).Debug("loaded instruction dictionary")

	dis := &disasm.Objdump{Path: opts.ObjdumpPath}
	insts, err := dis.Disassemble(ctx, opts.InputPath)
	if err != nil {
		return err
	}
	logger.WithField("instructions", len(insts)).Debug("disassembled binary")

	agg := isa.NewAggregator(opts.FullStats)

	var bar *progressbar.ProgressBar
	if opts.Progress {
		bar = progressbar.Default(int64(len(insts)), "matching instructions")
	}

	for _, inst := range insts {
		if bar != nil {
			_ = bar.Add(1)
		}

		lower := strings.ToLower(inst.Mnemonic)
		if isa.UnsupportedMnemonics[lower] {
			agg.AddUnsupported(inst.Mnemonic)
			continue
		}

		obs := isa.ObservedInstruction{
			Mnemonic:    inst.Mnemonic,
			Bytes:       inst.Bytes,
			DecodedText: inst.DecodedText,
		}
		def, err := isa.Resolve(store, obs, opts.Careful)
		if err != nil {
			return err
		}
		if def == nil {
			continue
		}

		logger.WithFields(logrus.Fields{
			"mnemonic": def.Mnemonic,
			"cpuid":    def.CPUID,
		}).Debug("resolved instruction")

		agg.Add(def)
	}

	return agg.Report(w, opts.InputPath)
}
