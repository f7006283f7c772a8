// Package relreloc collects, classifies, orders, and emits the
// relocations that make up a REL file's relocation command stream. It
// covers the relocation collector, the ordering/early-resolve pass, and
// the command-stream emitter described by the original elf2rel tool's
// relocation-handling loop, restructured into three composable stages
// rather than one long function.
package relreloc

import (
	"debug/elf"
	"fmt"
	"sort"

	"github.com/dolphin-tools/elf2rel/elfview"
	"github.com/dolphin-tools/elf2rel/internal/relbuf"
	"github.com/dolphin-tools/elf2rel/internal/relpack"
	"github.com/dolphin-tools/elf2rel/internal/rellog"
	"github.com/dolphin-tools/elf2rel/symmap"
)

// Synthetic relocation types understood by OSLink as stream control
// commands, never present in an ELF object.
const (
	DolphinNop     = 0xCB
	DolphinSection = 0xCC
	DolphinEnd     = 0xCD
)

// knownTypes is the set of relocation type values the command-stream
// emitter recognizes. A type outside this set is still emitted, but
// logged as a warning: the runtime loader may support types this tool
// doesn't know about.
var knownTypes = map[uint32]bool{
	uint32(elf.R_PPC_NONE):            true,
	uint32(elf.R_PPC_ADDR32):          true,
	uint32(elf.R_PPC_ADDR24):          true,
	uint32(elf.R_PPC_ADDR16):          true,
	uint32(elf.R_PPC_ADDR16_LO):       true,
	uint32(elf.R_PPC_ADDR16_HI):       true,
	uint32(elf.R_PPC_ADDR16_HA):       true,
	uint32(elf.R_PPC_ADDR14):          true,
	uint32(elf.R_PPC_ADDR14_BRTAKEN):  true,
	uint32(elf.R_PPC_ADDR14_BRNTAKEN): true,
	uint32(elf.R_PPC_REL24):           true,
	DolphinNop:                        true,
	DolphinSection:                    true,
	DolphinEnd:                        true,
}

// Relocation is one lowered relocation: a source location in a kept
// section of the module being built, and a target location that may be
// in this module, the dol, or another REL module.
type Relocation struct {
	SourceSection  int
	SourceOffset   uint32
	Type           uint32
	TargetModuleID uint32
	TargetSection  uint8
	Addend         uint32
}

// ModuleDelay orders relocations so that intra-module and dol relocations
// sort last, letting OSLinkFixed trim them: it is 1 for the dol (module
// id 0) and for thisModuleID, 0 for every other module.
func ModuleDelay(thisModuleID, id uint32) int {
	if id == 0 || id == thisModuleID {
		return 1
	}
	return 0
}

// Collect walks the RELA entries targeting every kept progbits section
// and classifies each one as self (defined in this module), external
// (resolved through syms), or unresolved (dropped, and reported through
// log). It returns an error only for a RELA entry whose symbol index
// can't be resolved in the ELF symbol table at all, which is fatal.
func Collect(f *elfview.File, packed []relpack.Section, thisModuleID uint32, syms symmap.Map, log *rellog.Logger) ([]Relocation, error) {
	keptOrNobits := make(map[int]bool, len(packed))
	for _, s := range packed {
		if s.Kind == relpack.Progbits || s.Kind == relpack.Nobits {
			keptOrNobits[s.Index] = true
		}
	}
	for _, sec := range f.Sections() {
		if sec.Type == elf.SHT_NOBITS {
			keptOrNobits[sec.Index] = true
		}
	}

	var out []Relocation
	for _, s := range packed {
		if s.Kind != relpack.Progbits {
			continue
		}
		relocs, err := f.Relocations(s.Index)
		if err != nil {
			return nil, fmt.Errorf("collecting relocations for section %s: %w", s.Name, err)
		}
		for _, r := range relocs {
			if r.Type == elf.R_PPC_NONE {
				continue
			}

			sym, ok := f.Symbol(r.Symbol)
			if !ok {
				return nil, fmt.Errorf("section %s: relocation at offset %#x references unresolvable symbol index %d", s.Name, r.Offset, r.Symbol)
			}

			if sym.Defined() {
				if !keptOrNobits[sym.Section] {
					log.CrossSectionDrop(s.Name, sym.Section)
				}
				out = append(out, Relocation{
					SourceSection:  s.Index,
					SourceOffset:   uint32(r.Offset),
					Type:           uint32(r.Type),
					TargetModuleID: thisModuleID,
					TargetSection:  uint8(sym.Section),
					Addend:         uint32(r.Addend) + uint32(sym.Value),
				})
				continue
			}

			loc, found := syms[sym.Name]
			if !found {
				log.UnresolvedExternal(s.Name, sym.Name)
				continue
			}
			out = append(out, Relocation{
				SourceSection:  s.Index,
				SourceOffset:   uint32(r.Offset),
				Type:           uint32(r.Type),
				TargetModuleID: loc.ModuleID,
				TargetSection:  uint8(loc.TargetSection),
				Addend:         uint32(r.Addend) + loc.Addr,
			})
		}
	}
	return out, nil
}

// Order sorts relocs in place by (moduleDelay, targetModuleID,
// sourceSection, sourceOffset), the order the command stream requires.
func Order(relocs []Relocation, thisModuleID uint32) {
	sort.SliceStable(relocs, func(i, j int) bool {
		a, b := relocs[i], relocs[j]
		da, db := ModuleDelay(thisModuleID, a.TargetModuleID), ModuleDelay(thisModuleID, b.TargetModuleID)
		if da != db {
			return da < db
		}
		if a.TargetModuleID != b.TargetModuleID {
			return a.TargetModuleID < b.TargetModuleID
		}
		if a.SourceSection != b.SourceSection {
			return a.SourceSection < b.SourceSection
		}
		return a.SourceOffset < b.SourceOffset
	})
}

func isEarlyResolved(r Relocation, thisModuleID uint32) bool {
	return r.TargetModuleID == thisModuleID &&
		(r.Type == uint32(elf.R_PPC_REL24) || r.Type == uint32(elf.R_PPC_REL32))
}

// EmitResult carries the outputs of Emit needed to fill in the module
// header.
type EmitResult struct {
	ImportInfo            []byte // (moduleId u32, relocationsOffset u32) records
	RelocationOffset      uint32
	FixedRelocationsSize  uint32
}

// sectionOffset looks up the packed byte offset of the section at raw
// ELF index idx.
func sectionOffset(packed []relpack.Section, idx int) (uint32, bool) {
	for _, s := range packed {
		if s.Index == idx {
			return s.RawOffset, s.Kind == relpack.Progbits
		}
	}
	return 0, false
}

// Emit lays out relocs (already ordered by Order) into buf as the REL
// relocation command stream, patching intra-module REL24/REL32 sites
// directly into already-written section bytes instead of emitting a
// command for them.
func Emit(buf *relbuf.Buffer, relocs []Relocation, packed []relpack.Section, thisModuleID uint32, log *rellog.Logger) EmitResult {
	// Reserve the import-info table. Its size is the number of distinct
	// target modules among relocations that will actually reach the
	// command stream (i.e. excluding early-resolved ones), in order of
	// first appearance.
	seenModules := make(map[uint32]bool)
	var importCount int
	for _, r := range relocs {
		if isEarlyResolved(r, thisModuleID) {
			continue
		}
		if !seenModules[r.TargetModuleID] {
			seenModules[r.TargetModuleID] = true
			importCount++
		}
	}

	buf.PadTo(8)
	importBase := buf.Len()
	buf.Zero(importCount * 8)

	relocationOffset := uint32(buf.Len())

	var importInfo relbuf.Buffer
	haveModule := false
	var currentModuleID uint32
	const noSection = -1
	currentSection := noSection
	var currentOffset uint32

	delayOf := func(hasModule bool, id uint32) int {
		if !hasModule {
			return 0
		}
		return ModuleDelay(thisModuleID, id)
	}

	var fixedRelocationsSize uint32

	for _, r := range relocs {
		if isEarlyResolved(r, thisModuleID) {
			srcOff, srcOK := sectionOffset(packed, r.SourceSection)
			dstOff, _ := sectionOffset(packed, int(r.TargetSection))
			if !srcOK {
				continue
			}
			sourceByteOffset := srcOff + r.SourceOffset
			targetByteOffset := dstOff + r.Addend
			delta := targetByteOffset - sourceByteOffset

			word := buf.Uint32At(int(sourceByteOffset))
			switch elf.R_PPC(r.Type) {
			case elf.R_PPC_REL24:
				word = (word &^ 0x03FFFFFC) | (delta & 0x03FFFFFC)
			case elf.R_PPC_REL32:
				word = delta
			}
			buf.PutUint32At(int(sourceByteOffset), word)
			continue
		}

		if !haveModule || r.TargetModuleID != currentModuleID {
			if haveModule {
				emitCommand(buf, 0, DolphinEnd, 0, 0)
			}
			if delayOf(true, r.TargetModuleID) > delayOf(haveModule, currentModuleID) {
				fixedRelocationsSize = uint32(buf.Len()) - relocationOffset
			}
			haveModule = true
			currentModuleID = r.TargetModuleID
			currentSection = noSection
			currentOffset = 0

			importInfo.PutUint32(currentModuleID)
			importInfo.PutUint32(uint32(buf.Len()))
		}

		if r.SourceSection != currentSection {
			emitCommand(buf, 0, DolphinSection, byte(r.SourceSection), 0)
			currentSection = r.SourceSection
			currentOffset = 0
		}

		delta := r.SourceOffset - currentOffset
		for delta > 0xFFFF {
			emitCommand(buf, 0xFFFF, DolphinNop, 0, 0)
			delta -= 0xFFFF
		}

		if !knownTypes[r.Type] {
			log.UnsupportedRelocType(sectionName(packed, r.SourceSection), r.SourceOffset, r.Type)
		}
		emitCommand(buf, uint16(delta), byte(r.Type), r.TargetSection, r.Addend)
		currentOffset = r.SourceOffset
	}

	emitCommand(buf, 0, DolphinEnd, 0, 0)
	if delayOf(haveModule, currentModuleID) == 0 {
		fixedRelocationsSize = uint32(buf.Len()) - relocationOffset
	}

	buf.OverwriteAt(importBase, importInfo.Bytes())

	return EmitResult{
		ImportInfo:           importInfo.Bytes(),
		RelocationOffset:     relocationOffset,
		FixedRelocationsSize: fixedRelocationsSize,
	}
}

func emitCommand(buf *relbuf.Buffer, offset uint16, typ byte, section byte, addend uint32) {
	buf.PutUint16(offset)
	buf.PutUint8(typ)
	buf.PutUint8(section)
	buf.PutUint32(addend)
}

func sectionName(packed []relpack.Section, idx int) string {
	for _, s := range packed {
		if s.Index == idx {
			return s.Name
		}
	}
	return fmt.Sprintf("section %d", idx)
}
