package elfview

import (
	"bytes"
	"debug/elf"
	"testing"

	"github.com/dolphin-tools/elf2rel/internal/elftest"
)

func TestOpenRejectsWrongMachine(t *testing.T) {
	b := elftest.New()
	b.AddProgbits(".text", elf.SHF_ALLOC|elf.SHF_EXECINSTR, 4, []byte{0, 0, 0, 0})
	raw := b.Bytes()
	// Flip e_machine away from EM_PPC.
	raw[18], raw[19] = 0, 3 // EM_386
	if _, err := Open(bytes.NewReader(raw)); err == nil {
		t.Fatal("expected Open to reject a non-PowerPC object")
	}
}

func TestOpenSectionsAndSymbols(t *testing.T) {
	b := elftest.New()
	text := b.AddProgbits(".text", elf.SHF_ALLOC|elf.SHF_EXECINSTR, 4, []byte{
		0x48, 0x00, 0x00, 0x01, // bl <somewhere>
		0x4e, 0x80, 0x00, 0x20, // blr
	})
	rodata := b.AddProgbits(".rodata", elf.SHF_ALLOC, 4, []byte{1, 2, 3, 4})
	bss := b.AddNobits(".bss", elf.SHF_ALLOC|elf.SHF_WRITE, 8, 0x20)

	target := b.AddSymbol(elftest.Sym{Name: "target_func", Value: 0x10, Section: text, Type: elf.STT_FUNC, Bind: elf.STB_GLOBAL})
	b.AddSymbol(elftest.Sym{Name: "some_data", Value: 0, Section: rodata, Type: elf.STT_OBJECT, Bind: elf.STB_GLOBAL})

	b.AddRelas(text, []elftest.Rela{
		{Offset: 0, Symbol: target, Type: elf.R_PPC_REL24, Addend: 0},
	})

	f, err := Open(bytes.NewReader(b.Bytes()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	secs := f.Sections()
	if len(secs) != f.NumSections() {
		t.Fatalf("Sections() returned %d entries, NumSections() says %d", len(secs), f.NumSections())
	}
	if secs[0].Type != elf.SHT_NULL {
		t.Fatalf("section 0 should be SHT_NULL, got %v", secs[0].Type)
	}

	textSec := f.Section(text)
	if textSec.Name != ".text" {
		t.Fatalf("section %d name = %q, want .text", text, textSec.Name)
	}
	if !textSec.Executable() {
		t.Fatal(".text section should report Executable()")
	}
	data, err := textSec.Data()
	if err != nil {
		t.Fatalf(".text Data(): %v", err)
	}
	if len(data) != 8 {
		t.Fatalf(".text data length = %d, want 8", len(data))
	}

	bssSec := f.Section(bss)
	if _, err := bssSec.Data(); err == nil {
		t.Fatal("Data() on an SHT_NOBITS section should fail")
	}

	sym, ok := f.Symbol(uint32(target))
	if !ok {
		t.Fatalf("Symbol(%d) not found", target)
	}
	if sym.Name != "target_func" || sym.Value != 0x10 || sym.Section != text {
		t.Fatalf("Symbol(%d) = %+v, want target_func at 0x10 in section %d", target, sym, text)
	}

	if _, ok := f.Symbol(0); ok {
		t.Fatal("Symbol(0) (STN_UNDEF) should never be found")
	}

	byName, ok := f.SymbolByName("some_data")
	if !ok || byName.Section != rodata {
		t.Fatalf("SymbolByName(some_data) = %+v, ok=%v, want section %d", byName, ok, rodata)
	}
	if _, ok := f.SymbolByName("no_such_symbol"); ok {
		t.Fatal("SymbolByName should report ok=false for a missing name")
	}
}

func TestRelocations(t *testing.T) {
	b := elftest.New()
	text := b.AddProgbits(".text", elf.SHF_ALLOC|elf.SHF_EXECINSTR, 4, make([]byte, 16))
	other := b.AddProgbits(".rodata", elf.SHF_ALLOC, 4, make([]byte, 4))

	extSym := b.AddSymbol(elftest.Sym{Name: "external_fn", Section: 0, Type: elf.STT_FUNC, Bind: elf.STB_GLOBAL})

	b.AddRelas(text, []elftest.Rela{
		{Offset: 0x0, Symbol: extSym, Type: elf.R_PPC_REL24, Addend: 0},
		{Offset: 0x8, Symbol: extSym, Type: elf.R_PPC_ADDR32, Addend: 4},
	})

	f, err := Open(bytes.NewReader(b.Bytes()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	relocs, err := f.Relocations(text)
	if err != nil {
		t.Fatalf("Relocations(text): %v", err)
	}
	if len(relocs) != 2 {
		t.Fatalf("got %d relocations, want 2", len(relocs))
	}
	if relocs[0].Type != elf.R_PPC_REL24 || relocs[0].Offset != 0 {
		t.Fatalf("relocs[0] = %+v", relocs[0])
	}
	if relocs[1].Type != elf.R_PPC_ADDR32 || relocs[1].Addend != 4 {
		t.Fatalf("relocs[1] = %+v", relocs[1])
	}
	for _, r := range relocs {
		sym, ok := f.Symbol(r.Symbol)
		if !ok || sym.Name != "external_fn" {
			t.Fatalf("reloc symbol %d = %+v, ok=%v, want external_fn", r.Symbol, sym, ok)
		}
		if sym.Defined() {
			t.Fatal("external_fn should be undefined (Section 0)")
		}
	}

	none, err := f.Relocations(other)
	if err != nil {
		t.Fatalf("Relocations(other): %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no relocations against .rodata, got %d", len(none))
	}
}
