// Package relhdr encodes the REL module header: a single tagged record
// whose trailing fields depend on the target REL version, following the
// original elf2rel tool's writeModuleHeader function. The header is
// written twice by the caller — once as a zero-valued placeholder to
// reserve space, once finalized — so this package only ever serializes a
// complete, already-computed Header.
package relhdr

import "fmt"

// Header holds every field the REL module header can carry. Which
// fields are actually serialized is controlled by Version.
type Header struct {
	ID                 uint32
	SectionCount       uint32
	SectionInfoOffset  uint32
	Version            int

	TotalBssSize      uint32
	RelocationOffset  uint32
	ImportInfoOffset  uint32
	ImportInfoSize    uint32

	PrologSection     uint8
	EpilogSection     uint8
	UnresolvedSection uint8

	PrologOffset     uint32
	EpilogOffset     uint32
	UnresolvedOffset uint32

	// Version 2+ only.
	MaxAlign    uint32
	MaxBssAlign uint32

	// Version 3 only.
	FixedDataSize uint32
}

// Size returns the exact serialized size, in bytes, of a header of the
// given version.
func Size(version int) (int, error) {
	switch version {
	case 1:
		return 64, nil
	case 2:
		return 72, nil
	case 3:
		return 76, nil
	default:
		return 0, fmt.Errorf("unsupported REL version %d: only 1, 2, and 3 are supported", version)
	}
}

// Bytes serializes h according to h.Version. Its length always equals
// Size(h.Version).
func (h Header) Bytes() ([]byte, error) {
	size, err := Size(h.Version)
	if err != nil {
		return nil, err
	}

	b := make([]byte, 0, size)
	putU32 := func(v uint32) { b = append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v)) }
	putU8 := func(v uint8) { b = append(b, v) }

	putU32(h.ID)
	putU32(0) // prevLink
	putU32(0) // nextLink
	putU32(h.SectionCount)
	putU32(h.SectionInfoOffset)
	putU32(0) // nameOffset
	putU32(0) // nameSize
	putU32(uint32(h.Version))

	putU32(h.TotalBssSize)
	putU32(h.RelocationOffset)
	putU32(h.ImportInfoOffset)
	putU32(h.ImportInfoSize)

	putU8(h.PrologSection)
	putU8(h.EpilogSection)
	putU8(h.UnresolvedSection)
	putU8(0) // pad

	putU32(h.PrologOffset)
	putU32(h.EpilogOffset)
	putU32(h.UnresolvedOffset)

	if h.Version >= 2 {
		putU32(h.MaxAlign)
		putU32(h.MaxBssAlign)
	}
	if h.Version >= 3 {
		putU32(h.FixedDataSize)
	}

	return b, nil
}
