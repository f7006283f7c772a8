// Package elftest builds minimal, valid 32-bit big-endian PowerPC ELF
// relocatable objects in memory, for use by other packages' tests. There
// are no on-disk fixture files in this tree, so every test that needs an
// ELF object builds one with this package instead.
package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// Sym describes one symbol table entry to add to a Builder.
type Sym struct {
	Name    string
	Value   uint32
	Size    uint32
	Section int // Raw section index, 0 for undefined.
	Type    elf.SymType
	Bind    elf.SymBind
}

// Rela describes one relocation entry to add to a Builder.
type Rela struct {
	Offset uint32
	Symbol int // Index returned by Builder.AddSymbol.
	Type   elf.R_PPC
	Addend int32
}

type section struct {
	name      string
	typ       elf.SectionType
	flags     elf.SectionFlag
	addralign uint32
	data      []byte // nil for SHT_NOBITS
	size      uint32 // used only when data is nil
	link      uint32
	info      uint32
}

// Builder assembles the section, symbol, and relocation contents of a
// synthetic ELF32 big-endian PowerPC relocatable object.
type Builder struct {
	sections []section
	syms     []Sym
	relas    map[int][]Rela // keyed by target section index
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{relas: make(map[int][]Rela)}
}

// AddProgbits adds an SHT_PROGBITS section and returns its section index.
func (b *Builder) AddProgbits(name string, flags elf.SectionFlag, align uint32, data []byte) int {
	b.sections = append(b.sections, section{
		name: name, typ: elf.SHT_PROGBITS, flags: flags, addralign: align, data: data,
	})
	return len(b.sections) // index 0 is the reserved null section
}

// AddNobits adds an SHT_NOBITS section (e.g. .bss) and returns its index.
func (b *Builder) AddNobits(name string, flags elf.SectionFlag, align uint32, size uint32) int {
	b.sections = append(b.sections, section{
		name: name, typ: elf.SHT_NOBITS, flags: flags, addralign: align, size: size,
	})
	return len(b.sections)
}

// AddSymbol adds a symbol table entry and returns its ELF symbol index
// (always >= 1; index 0 is the reserved STN_UNDEF entry).
func (b *Builder) AddSymbol(s Sym) int {
	b.syms = append(b.syms, s)
	return len(b.syms)
}

// AddRelas attaches relocations targeting the section at index target.
func (b *Builder) AddRelas(target int, relas []Rela) {
	b.relas[target] = append(b.relas[target], relas...)
}

// Bytes serializes the builder into a complete ELF32 big-endian PowerPC
// relocatable object file.
func (b *Builder) Bytes() []byte {
	order := binary.BigEndian

	// Build .strtab (symbol names) and .shstrtab (section names) up front
	// so later section headers can reference fixed name offsets.
	strtab := newStrtab()
	symNameOff := make([]uint32, len(b.syms))
	for i, s := range b.syms {
		symNameOff[i] = strtab.add(s.Name)
	}

	shstrtab := newStrtab()

	// Section layout: index 0 is the reserved null section, then every
	// user section in the order added, then .symtab, .strtab, .rela<name>
	// for every section with relocations, then .shstrtab last.
	type hdr struct {
		nameOff   uint32
		typ       elf.SectionType
		flags     elf.SectionFlag
		addr      uint32
		offset    uint32
		size      uint32
		link      uint32
		info      uint32
		addralign uint32
		entsize   uint32
	}

	var headers []hdr
	headers = append(headers, hdr{}) // null section

	var fileData bytes.Buffer
	// ELF header is 52 bytes; section data starts immediately after.
	const ehsize = 52
	fileData.Write(make([]byte, ehsize))

	placeData := func(data []byte) uint32 {
		for fileData.Len()%4 != 0 {
			fileData.WriteByte(0)
		}
		off := uint32(fileData.Len())
		fileData.Write(data)
		return off
	}

	for _, s := range b.sections {
		nameOff := shstrtab.add(s.name)
		if s.typ == elf.SHT_NOBITS {
			headers = append(headers, hdr{
				nameOff: nameOff, typ: s.typ, flags: s.flags,
				offset: uint32(fileData.Len()), size: s.size, addralign: s.addralign,
			})
			continue
		}
		off := placeData(s.data)
		headers = append(headers, hdr{
			nameOff: nameOff, typ: s.typ, flags: s.flags,
			offset: off, size: uint32(len(s.data)), addralign: s.addralign,
		})
	}

	symtabIdx := len(headers)
	{
		var buf bytes.Buffer
		// STN_UNDEF entry.
		writeSym32(&buf, order, 0, 0, 0, 0, 0)
		for i, s := range b.syms {
			info := byte(s.Bind)<<4 | byte(s.Type)&0xf
			writeSym32(&buf, order, symNameOff[i], s.Value, s.Size, info, uint16(s.Section))
		}
		off := placeData(buf.Bytes())
		headers = append(headers, hdr{
			nameOff: shstrtab.add(".symtab"), typ: elf.SHT_SYMTAB, flags: 0,
			offset: off, size: uint32(buf.Len()), link: uint32(symtabIdx + 1), // .strtab follows
			info: 1, addralign: 4, entsize: 16,
		})
	}

	strtabIdx := len(headers)
	{
		off := placeData(strtab.bytes())
		headers = append(headers, hdr{
			nameOff: shstrtab.add(".strtab"), typ: elf.SHT_STRTAB,
			offset: off, size: uint32(len(strtab.bytes())), addralign: 1,
		})
	}
	_ = strtabIdx // already wired into the .symtab header's link field above

	for target := 1; target <= len(b.sections); target++ {
		relas, ok := b.relas[target]
		if !ok {
			continue
		}
		var buf bytes.Buffer
		for _, r := range relas {
			info := uint32(r.Symbol)<<8 | uint32(r.Type)
			writeRela32(&buf, order, r.Offset, info, r.Addend)
		}
		off := placeData(buf.Bytes())
		relaName := ".rela" + b.sections[target-1].name
		headers = append(headers, hdr{
			nameOff: shstrtab.add(relaName), typ: elf.SHT_RELA, flags: 0,
			offset: off, size: uint32(buf.Len()), link: uint32(symtabIdx), info: uint32(target),
			addralign: 4, entsize: 12,
		})
	}

	shstrtabIdx := len(headers)
	{
		selfName := shstrtab.add(".shstrtab")
		off := placeData(shstrtab.bytes())
		headers = append(headers, hdr{
			nameOff: selfName, typ: elf.SHT_STRTAB,
			offset: off, size: uint32(len(shstrtab.bytes())), addralign: 1,
		})
	}

	for fileData.Len()%4 != 0 {
		fileData.WriteByte(0)
	}
	shoff := uint32(fileData.Len())
	for _, h := range headers {
		var b40 [40]byte
		order.PutUint32(b40[0:], h.nameOff)
		order.PutUint32(b40[4:], uint32(h.typ))
		order.PutUint32(b40[8:], uint32(h.flags))
		order.PutUint32(b40[12:], h.addr)
		order.PutUint32(b40[16:], h.offset)
		order.PutUint32(b40[20:], h.size)
		order.PutUint32(b40[24:], h.link)
		order.PutUint32(b40[28:], h.info)
		order.PutUint32(b40[32:], h.addralign)
		order.PutUint32(b40[36:], h.entsize)
		fileData.Write(b40[:])
	}

	out := fileData.Bytes()

	var eh [ehsize]byte
	copy(eh[0:4], []byte{0x7f, 'E', 'L', 'F'})
	eh[4] = 1 // ELFCLASS32
	eh[5] = 2 // ELFDATA2MSB
	eh[6] = 1 // EV_CURRENT
	order.PutUint16(eh[16:], uint16(elf.ET_REL))
	order.PutUint16(eh[18:], uint16(elf.EM_PPC))
	order.PutUint32(eh[20:], 1) // e_version
	order.PutUint32(eh[32:], shoff)
	order.PutUint16(eh[40:], ehsize)
	order.PutUint16(eh[46:], 40) // e_shentsize
	order.PutUint16(eh[48:], uint16(len(headers)))
	order.PutUint16(eh[50:], uint16(shstrtabIdx))
	copy(out[0:ehsize], eh[:])

	return out
}

func writeSym32(buf *bytes.Buffer, order binary.ByteOrder, name, value, size uint32, info byte, shndx uint16) {
	var b [16]byte
	order.PutUint32(b[0:], name)
	order.PutUint32(b[4:], value)
	order.PutUint32(b[8:], size)
	b[12] = info
	b[13] = 0 // other
	order.PutUint16(b[14:], shndx)
	buf.Write(b[:])
}

func writeRela32(buf *bytes.Buffer, order binary.ByteOrder, offset, info uint32, addend int32) {
	var b [12]byte
	order.PutUint32(b[0:], offset)
	order.PutUint32(b[4:], info)
	order.PutUint32(b[8:], uint32(addend))
	buf.Write(b[:])
}

// strtab accumulates a NUL-terminated string table, starting with a
// single leading NUL (offset 0 is always the empty string).
type strtab struct {
	buf bytes.Buffer
}

func newStrtab() *strtab {
	s := &strtab{}
	s.buf.WriteByte(0)
	return s
}

func (s *strtab) add(name string) uint32 {
	if name == "" {
		return 0
	}
	off := uint32(s.buf.Len())
	s.buf.WriteString(name)
	s.buf.WriteByte(0)
	return off
}

func (s *strtab) bytes() []byte {
	return s.buf.Bytes()
}
