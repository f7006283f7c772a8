// Package relpack decides which ELF sections make it into a REL image,
// assigns them aligned offsets, and produces the section-info table. It
// is the direct Go counterpart of the original elf2rel tool's section
// packing loop: walk every ELF section in order, keep the ones matching
// a name whitelist, and lay kept progbits sections end to end with
// alignment padding while NOBITS sections only contribute to a running
// BSS total.
package relpack

import (
	"debug/elf"
	"fmt"

	"github.com/dolphin-tools/elf2rel/elfview"
	"github.com/dolphin-tools/elf2rel/internal/relbuf"
)

// Kind classifies how a section was treated by the packer.
type Kind int

const (
	Dropped Kind = iota
	Progbits
	Nobits
)

// whitelist is the set of REL-eligible section name prefixes. A section
// is kept if its name matches one exactly, or begins with "<entry>.".
var whitelist = []string{".init", ".text", ".ctors", ".dtors", ".rodata", ".data", ".bss"}

// Kept reports whether a section named name is eligible for inclusion in
// the REL image.
func Kept(name string) bool {
	for _, entry := range whitelist {
		if name == entry || (len(name) > len(entry) && name[:len(entry)+1] == entry+".") {
			return true
		}
	}
	return false
}

// Section records how one ELF section (kept or not) was packed.
type Section struct {
	Index      int // Raw ELF section index.
	Name       string
	Kind       Kind
	RawOffset  uint32 // Byte offset of the payload in the REL image; 0 if Dropped or Nobits.
	Size       uint32
	Alignment  uint32
	Executable bool
}

// EncodedOffset returns the value stored in the section-info table's
// offset field: RawOffset with bit 0 set when the section is executable.
func (s Section) EncodedOffset() uint32 {
	off := s.RawOffset
	if s.Executable {
		off |= 1
	}
	return off
}

// Result is the outcome of packing every section of an ELF file.
type Result struct {
	Sections     []Section
	TotalBssSize uint32
	MaxAlign     uint32
	MaxBssAlign  uint32
}

// Pack appends kept progbits section payloads to buf (which must already
// contain the reserved module header and section-info table region) and
// returns the packing result along with the serialized section-info
// table, ready to be written back over the reserved region with
// buf.OverwriteAt.
func Pack(buf *relbuf.Buffer, f *elfview.File) (Result, []byte, error) {
	res := Result{MaxAlign: 2, MaxBssAlign: 2}

	var infoTable relbuf.Buffer
	sections := f.Sections()
	res.Sections = make([]Section, len(sections))

	for i, sec := range sections {
		s := Section{Index: sec.Index, Name: sec.Name}

		if !Kept(sec.Name) {
			infoTable.PutUint32(0)
			infoTable.PutUint32(0)
			res.Sections[i] = s
			continue
		}

		if sec.Type == elf.SHT_NOBITS {
			align := uint32(sec.Addralign)
			if align > res.MaxBssAlign {
				res.MaxBssAlign = align
			}
			s.Kind = Nobits
			s.Size = uint32(sec.Size)
			s.Alignment = align
			res.TotalBssSize += s.Size

			infoTable.PutUint32(0)
			infoTable.PutUint32(s.Size)
			res.Sections[i] = s
			continue
		}

		align := uint32(sec.Addralign)
		if align < 2 {
			align = 2
		}
		if align > res.MaxAlign {
			res.MaxAlign = align
		}

		buf.PadTo(int(align))
		offset := uint32(buf.Len())

		data, err := sec.Data()
		if err != nil {
			return Result{}, nil, fmt.Errorf("reading data for section %s: %w", sec.Name, err)
		}
		buf.PutBytes(data)

		s.Kind = Progbits
		s.RawOffset = offset
		s.Size = uint32(sec.Size)
		s.Alignment = align
		s.Executable = sec.Executable()

		infoTable.PutUint32(s.EncodedOffset())
		infoTable.PutUint32(s.Size)
		res.Sections[i] = s
	}

	return res, infoTable.Bytes(), nil
}
