package relreloc

import (
	"debug/elf"
	"io"
	"testing"

	"github.com/dolphin-tools/elf2rel/internal/relbuf"
	"github.com/dolphin-tools/elf2rel/internal/relpack"
	"github.com/dolphin-tools/elf2rel/internal/rellog"
)

func u16(b []byte, off int) uint16 { return uint16(b[off])<<8 | uint16(b[off+1]) }
func u32(b []byte, off int) uint32 {
	return uint32(b[off])<<24 | uint32(b[off+1])<<16 | uint32(b[off+2])<<8 | uint32(b[off+3])
}

// TestEmitBridgingNOP covers spec.md's "Bridging NOP" scenario: a single
// relocation at .text+0x20000 must be preceded by two R_DOLPHIN_NOP(0xFFFF)
// commands, landing on a relocation offset of 0x20000 - 2*0xFFFF = 2.
func TestEmitBridgingNOP(t *testing.T) {
	packed := []relpack.Section{{Index: 1, Name: ".text", Kind: relpack.Progbits}}
	relocs := []Relocation{
		{SourceSection: 1, SourceOffset: 0x20000, Type: uint32(elf.R_PPC_ADDR32), TargetModuleID: 0, TargetSection: 0, Addend: 0x80000000},
	}

	var buf relbuf.Buffer
	log := rellog.NewTo(io.Discard, io.Discard)
	result := Emit(&buf, relocs, packed, 0x1000, log)

	cmds := buf.Bytes()[result.RelocationOffset:]
	if len(cmds) != 40 {
		t.Fatalf("relocation stream length = %d, want 40 (section + 2 nops + reloc + end)", len(cmds))
	}

	section := cmds[0:8]
	if section[2] != DolphinSection || section[3] != 1 {
		t.Fatalf("first command = % x, want R_DOLPHIN_SECTION targeting section 1", section)
	}

	for i, nop := range [][]byte{cmds[8:16], cmds[16:24]} {
		if nop[2] != DolphinNop || u16(nop, 0) != 0xFFFF {
			t.Fatalf("nop command %d = % x, want R_DOLPHIN_NOP(0xFFFF)", i, nop)
		}
	}

	reloc := cmds[24:32]
	if u16(reloc, 0) != 2 {
		t.Fatalf("relocation offset = %d, want 2 (0x20000 - 2*0xFFFF)", u16(reloc, 0))
	}
	if reloc[2] != uint8(elf.R_PPC_ADDR32) {
		t.Fatalf("relocation type = %#x, want R_PPC_ADDR32", reloc[2])
	}
	if got := u32(reloc, 4); got != 0x80000000 {
		t.Fatalf("relocation addend = %#x, want 0x80000000", got)
	}

	end := cmds[32:40]
	if end[2] != DolphinEnd {
		t.Fatalf("final command = % x, want R_DOLPHIN_END", end)
	}
}

// TestOrderMixedDelay covers spec.md's "Mixed delay" scenario: relocations
// against an external module (0x1234), the dol (0), and the module being
// built itself (0x1000, thisModuleID) must sort with the external module
// first, then dol and self in ascending numerical order.
func TestOrderMixedDelay(t *testing.T) {
	const thisModuleID = 0x1000
	relocs := []Relocation{
		{SourceSection: 1, SourceOffset: 0x10, TargetModuleID: thisModuleID, Type: uint32(elf.R_PPC_ADDR32)},
		{SourceSection: 1, SourceOffset: 0x20, TargetModuleID: 0, Type: uint32(elf.R_PPC_ADDR32)},
		{SourceSection: 1, SourceOffset: 0x30, TargetModuleID: 0x1234, Type: uint32(elf.R_PPC_ADDR32)},
	}

	Order(relocs, thisModuleID)

	want := []uint32{0x1234, 0, thisModuleID}
	for i, w := range want {
		if relocs[i].TargetModuleID != w {
			t.Fatalf("relocs[%d].TargetModuleID = %#x, want %#x (order %v)", i, relocs[i].TargetModuleID, w, relocs)
		}
	}
}

// TestEmitMixedDelayMarksFixedRelocationsSize covers the rest of the
// "Mixed delay" scenario: fixedRelocationsSize marks the end of the
// 0x1234 segment, the only delay==0 module in the stream.
func TestEmitMixedDelayMarksFixedRelocationsSize(t *testing.T) {
	const thisModuleID = 0x1000
	packed := []relpack.Section{{Index: 1, Name: ".text", Kind: relpack.Progbits}}
	relocs := []Relocation{
		{SourceSection: 1, SourceOffset: 0x30, TargetModuleID: 0x1234, Type: uint32(elf.R_PPC_ADDR32)},
		{SourceSection: 1, SourceOffset: 0x20, TargetModuleID: 0, Type: uint32(elf.R_PPC_ADDR32)},
		{SourceSection: 1, SourceOffset: 0x10, TargetModuleID: thisModuleID, Type: uint32(elf.R_PPC_ADDR32)},
	}
	Order(relocs, thisModuleID)

	var buf relbuf.Buffer
	log := rellog.NewTo(io.Discard, io.Discard)
	result := Emit(&buf, relocs, packed, thisModuleID, log)

	// The 0x1234 segment is: R_DOLPHIN_SECTION, one relocation, R_DOLPHIN_END.
	wantFixedSize := uint32(3 * 8)
	if result.FixedRelocationsSize != wantFixedSize {
		t.Fatalf("FixedRelocationsSize = %#x, want %#x (end of the 0x1234 segment)", result.FixedRelocationsSize, wantFixedSize)
	}

	// Bytes beyond fixedRelocationsSize belong to dol/self, both delay==1.
	end := buf.Bytes()[result.RelocationOffset+result.FixedRelocationsSize-8 : result.RelocationOffset+result.FixedRelocationsSize]
	if end[2] != DolphinEnd {
		t.Fatalf("byte range just before fixedRelocationsSize = % x, want it to end with R_DOLPHIN_END", end)
	}
}

// TestEmitUnsupportedRelocationTypeWarning covers spec.md §9's "Unsupported
// relocation type policy": a relocation type outside the enumerated set is
// still emitted, after a warning is logged.
func TestEmitUnsupportedRelocationTypeWarning(t *testing.T) {
	packed := []relpack.Section{{Index: 1, Name: ".text", Kind: relpack.Progbits}}
	const weirdType = 0x77
	relocs := []Relocation{
		{SourceSection: 1, SourceOffset: 0x8, TargetModuleID: 0, Type: weirdType, TargetSection: 0, Addend: 0x1234},
	}

	var buf relbuf.Buffer
	log := rellog.NewTo(io.Discard, io.Discard)
	result := Emit(&buf, relocs, packed, 0x1000, log)

	if log.Warnings() != 1 {
		t.Fatalf("Warnings() = %d, want 1 for the unsupported relocation type", log.Warnings())
	}

	cmds := buf.Bytes()[result.RelocationOffset:]
	reloc := cmds[8:16] // after the R_DOLPHIN_SECTION command
	if reloc[2] != weirdType {
		t.Fatalf("relocation command type = %#x, want %#x: an unsupported type must still be emitted", reloc[2], weirdType)
	}
	if got := u32(reloc, 4); got != 0x1234 {
		t.Fatalf("relocation addend = %#x, want 0x1234", got)
	}
}
