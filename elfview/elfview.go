// Package elfview is a read-only abstraction over a 32-bit big-endian
// PowerPC ELF relocatable object: section list, symbol table lookup
// by index and by name, and RELA entries per relocation section.
//
// It plays the role github.com/dolphin-tools/elf2rel/arch and
// debug/elf play in the wider object-file corpus's obj package
// (github.com/aclements/go-obj/obj): a capability interface that hides
// the underlying format so the REL-building pipeline reads the object
// only through this package (it still uses debug/elf's section-type and
// relocation-type constants). Unlike that package's
// File, which renumbers sections to a compact, format-independent
// SectionID, elfview preserves the ELF file's own section numbering
// unchanged: REL's section-info table and relocation target-section
// fields are defined in terms of the *input ELF's* own section
// indices, so renumbering would just require undoing it downstream.
package elfview

import (
	"debug/elf"
	"fmt"
	"io"

	"github.com/dolphin-tools/elf2rel/arch"
	"github.com/dolphin-tools/elf2rel/internal/bindata"
)

// File is a read-only view of an ELF relocatable object file.
type File struct {
	ef     *elf.File
	layout arch.Layout

	// syms holds every STT_* symbol table entry, indexed by raw ELF
	// symbol index minus 1 (index 0, STN_UNDEF, is never stored).
	syms []Symbol

	// byName maps symbol name to index into syms, built once and
	// reused for every prolog/epilog/unresolved/external lookup.
	byName map[string]int
}

// Section describes one ELF section, preserving its raw section index.
type Section struct {
	Index     int // Raw ELF section header index (0 is SHN_UNDEF/SHT_NULL).
	Name      string
	Type      elf.SectionType
	Flags     elf.SectionFlag
	Size      uint64
	Addralign uint64

	sec *elf.Section
}

// Executable reports whether s carries the SHF_EXECINSTR flag.
func (s *Section) Executable() bool {
	return s.Flags&elf.SHF_EXECINSTR != 0
}

// Data returns s's raw contents. It is an error to call this on an
// SHT_NOBITS section.
func (s *Section) Data() ([]byte, error) {
	return s.sec.Data()
}

// Symbol is one entry from the ELF symbol table.
type Symbol struct {
	Name    string
	Value   uint64
	Size    uint64
	Section int // Raw ELF section index the symbol is defined in, or 0 if undefined.
	Info    elf.SymType
}

// Defined reports whether the symbol has a home section.
func (s Symbol) Defined() bool {
	return s.Section != 0
}

// Reloc is one decoded SHT_RELA entry.
type Reloc struct {
	Offset uint64
	Type   elf.R_PPC
	Symbol uint32 // Raw ELF symbol table index, 0 if none.
	Addend int64
}

// Open parses r as a 32-bit big-endian PowerPC ELF relocatable object.
func Open(r io.ReaderAt) (*File, error) {
	ef, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("reading ELF file: %w", err)
	}
	if ef.Class != elf.ELFCLASS32 {
		return nil, fmt.Errorf("unsupported ELF class %s: only ELFCLASS32 PowerPC objects are supported", ef.Class)
	}
	if ef.Data != elf.ELFDATA2MSB {
		return nil, fmt.Errorf("unsupported ELF data encoding %s: only big-endian objects are supported", ef.Data)
	}
	if ef.Machine != elf.EM_PPC {
		return nil, fmt.Errorf("unsupported ELF machine %s: only EM_PPC objects are supported", ef.Machine)
	}

	f := &File{
		ef:     ef,
		layout: arch.PPC32BE.Layout,
		byName: make(map[string]int),
	}

	elfSyms, err := ef.Symbols()
	if err != nil && err != elf.ErrNoSymbols {
		return nil, fmt.Errorf("reading symbol table: %w", err)
	}
	f.syms = make([]Symbol, len(elfSyms))
	for i, s := range elfSyms {
		f.syms[i] = Symbol{
			Name:    s.Name,
			Value:   s.Value,
			Size:    s.Size,
			Section: int(s.Section),
			Info:    elf.ST_TYPE(s.Info),
		}
		if s.Name != "" {
			if _, ok := f.byName[s.Name]; !ok {
				f.byName[s.Name] = i
			}
		}
	}

	return f, nil
}

// Sections returns every section in the file, in raw ELF order
// (including the reserved index-0 SHT_NULL section).
func (f *File) Sections() []Section {
	out := make([]Section, len(f.ef.Sections))
	for i, s := range f.ef.Sections {
		out[i] = Section{
			Index:     i,
			Name:      s.Name,
			Type:      s.Type,
			Flags:     s.Flags,
			Size:      s.Size,
			Addralign: s.Addralign,
			sec:       s,
		}
	}
	return out
}

// Section returns the section at raw ELF index i.
func (f *File) Section(i int) Section {
	s := f.ef.Sections[i]
	return Section{
		Index:     i,
		Name:      s.Name,
		Type:      s.Type,
		Flags:     s.Flags,
		Size:      s.Size,
		Addralign: s.Addralign,
		sec:       s,
	}
}

// NumSections returns the number of sections, including the reserved
// index-0 section.
func (f *File) NumSections() int {
	return len(f.ef.Sections)
}

// Symbol returns the symbol table entry for raw ELF symbol index idx.
// idx 0 (STN_UNDEF) always reports ok=false.
func (f *File) Symbol(idx uint32) (sym Symbol, ok bool) {
	if idx == 0 || int(idx-1) >= len(f.syms) {
		return Symbol{}, false
	}
	return f.syms[idx-1], true
}

// SymbolByName looks up a symbol by name. If multiple symbols share a
// name, the first one encountered in the symbol table wins.
func (f *File) SymbolByName(name string) (Symbol, bool) {
	i, ok := f.byName[name]
	if !ok {
		return Symbol{}, false
	}
	return f.syms[i], true
}

// Relocations decodes and returns every RELA relocation that targets
// the section at raw ELF index target (i.e. every SHT_RELA section
// whose sh_info names target).
func (f *File) Relocations(target int) ([]Reloc, error) {
	var out []Reloc
	for _, s := range f.ef.Sections {
		if s.Type != elf.SHT_RELA || int(s.Info) != target {
			continue
		}
		relocs, err := f.readRela(s)
		if err != nil {
			return nil, fmt.Errorf("reading relocations in %s: %w", s.Name, err)
		}
		out = append(out, relocs...)
	}
	return out, nil
}

func (f *File) readRela(s *elf.Section) ([]Reloc, error) {
	data, err := s.Data()
	if err != nil {
		return nil, err
	}
	const relaSize = 12 // Rela32: Off, Info, Addend, all 4 bytes.
	if len(data)%relaSize != 0 {
		return nil, fmt.Errorf("length %d is not a multiple of %d", len(data), relaSize)
	}
	r := bindata.NewReader(data, f.layout)
	out := make([]Reloc, 0, len(data)/relaSize)
	for r.Avail() >= relaSize {
		off := r.Uint32()
		info := r.Uint32()
		addend := r.Int32()
		out = append(out, Reloc{
			Offset: uint64(off),
			Type:   elf.R_PPC(elf.R_TYPE32(info)),
			Symbol: elf.R_SYM32(info),
			Addend: int64(addend),
		})
	}
	return out, nil
}
