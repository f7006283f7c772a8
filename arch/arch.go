// Package arch provides basic descriptions of CPU architectures.
package arch

// An Arch describes a CPU architecture.
type Arch struct {
	// Layout is the byte order and word size of this architecture.
	Layout Layout

	// GoArch is the closest GOARCH value for this architecture, for
	// diagnostic messages. REL files only ever target one real
	// architecture, but keeping this field (rather than hardcoding the
	// string in every caller) mirrors how the wider object-file corpus
	// names its architectures.
	GoArch string
}

// PPC32BE describes 32-bit big-endian PowerPC, the only architecture
// the GameCube/Wii OSLink loader accepts.
var PPC32BE = &Arch{Layout{1, 4}, "ppc"}

// String returns the GOARCH value of a.
func (a *Arch) String() string {
	if a == nil {
		return "<nil>"
	}
	return a.GoArch
}
