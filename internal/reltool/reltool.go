// Package reltool orchestrates the one-pass pipeline that turns an ELF
// view and a merged symbol map into a finished REL image: pack sections,
// collect and order relocations, emit the relocation command stream, and
// patch in the finalized module header. This is the glue the original
// elf2rel tool's main() function provides inline; here it's pulled out
// so cmd/elf2rel stays a thin CLI shell.
package reltool

import (
	"fmt"

	"github.com/dolphin-tools/elf2rel/elfview"
	"github.com/dolphin-tools/elf2rel/internal/relbuf"
	"github.com/dolphin-tools/elf2rel/internal/relpack"
	"github.com/dolphin-tools/elf2rel/internal/rellog"
	"github.com/dolphin-tools/elf2rel/relhdr"
	"github.com/dolphin-tools/elf2rel/relreloc"
	"github.com/dolphin-tools/elf2rel/symmap"
)

// Options configures a single Build.
type Options struct {
	ModuleID uint32
	Version  int
	Symbols  symmap.Map
}

// Build runs the full pipeline against f and returns the finished REL
// image bytes.
func Build(f *elfview.File, opts Options, log *rellog.Logger) ([]byte, error) {
	headerSize, err := relhdr.Size(opts.Version)
	if err != nil {
		return nil, err
	}

	var buf relbuf.Buffer
	buf.Zero(headerSize) // placeholder, overwritten at the end

	sectionInfoOffset := uint32(buf.Len())
	buf.Zero(8 * f.NumSections()) // placeholder, overwritten once packing is done

	packResult, sectionInfoBytes, err := relpack.Pack(&buf, f)
	if err != nil {
		return nil, fmt.Errorf("packing sections: %w", err)
	}
	buf.OverwriteAt(int(sectionInfoOffset), sectionInfoBytes)

	relocs, err := relreloc.Collect(f, packResult.Sections, opts.ModuleID, opts.Symbols, log)
	if err != nil {
		return nil, fmt.Errorf("collecting relocations: %w", err)
	}
	relreloc.Order(relocs, opts.ModuleID)

	emitResult := relreloc.Emit(&buf, relocs, packResult.Sections, opts.ModuleID, log)

	prologSection, prologOffset := lookupSymbol(f, "_prolog")
	epilogSection, epilogOffset := lookupSymbol(f, "_epilog")
	unresolvedSection, unresolvedOffset := lookupSymbol(f, "_unresolved")

	header := relhdr.Header{
		ID:                opts.ModuleID,
		SectionCount:      uint32(f.NumSections()),
		SectionInfoOffset: sectionInfoOffset,
		Version:           opts.Version,

		TotalBssSize:     packResult.TotalBssSize,
		RelocationOffset: emitResult.RelocationOffset,
		ImportInfoOffset: relocationImportOffset(emitResult),
		ImportInfoSize:   uint32(len(emitResult.ImportInfo)),

		PrologSection:     prologSection,
		EpilogSection:     epilogSection,
		UnresolvedSection: unresolvedSection,
		PrologOffset:      prologOffset,
		EpilogOffset:      epilogOffset,
		UnresolvedOffset:  unresolvedOffset,

		MaxAlign:    packResult.MaxAlign,
		MaxBssAlign: packResult.MaxBssAlign,

		FixedDataSize: emitResult.RelocationOffset + emitResult.FixedRelocationsSize,
	}

	headerBytes, err := header.Bytes()
	if err != nil {
		return nil, err
	}
	buf.OverwriteAt(0, headerBytes)

	return buf.Bytes(), nil
}

// relocationImportOffset recovers the import-info table's file offset:
// it always sits immediately before the relocation stream, 8-byte
// aligned, so it's the relocation offset minus the table's own size.
func relocationImportOffset(r relreloc.EmitResult) uint32 {
	return r.RelocationOffset - uint32(len(r.ImportInfo))
}

func lookupSymbol(f *elfview.File, name string) (section uint8, offset uint32) {
	sym, ok := f.SymbolByName(name)
	if !ok {
		return 0, 0
	}
	return uint8(sym.Section), uint32(sym.Value)
}
