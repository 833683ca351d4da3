// Package platform captures the CPU tuning/feature tag embedded in every
// on-disk prefilter file, so a database compiled on one machine's feature
// set is rejected when loaded on a machine lacking those features (the
// on-disk file format's platform-tag field).
package platform

import "golang.org/x/sys/cpu"

// Tag is the platform-tag byte string written into a compiled prefilter
// file's header and compared byte-for-byte on load.
type Tag []byte

const (
	flagAVX2   byte = 1 << 0
	flagSSSE3  byte = 1 << 1
	flagSSE42  byte = 1 << 2
	flagPOPCNT byte = 1 << 3
)

// tagVersion is bumped whenever the encoding below changes shape, so an
// old-format tag never silently compares equal to a new one.
const tagVersion byte = 1

// Current returns the platform tag for the machine this process is
// running on, derived from the same golang.org/x/sys/cpu feature flags the
// SIMD primitives already gate on (cpu.X86.HasAVX2, cpu.X86.HasSSSE3, ...).
func Current() Tag {
	var flags byte
	if cpu.X86.HasAVX2 {
		flags |= flagAVX2
	}
	if cpu.X86.HasSSSE3 {
		flags |= flagSSSE3
	}
	if cpu.X86.HasSSE42 {
		flags |= flagSSE42
	}
	if cpu.X86.HasPOPCNT {
		flags |= flagPOPCNT
	}
	return Tag{tagVersion, flags}
}

// Equal reports whether two tags match byte-for-byte.
func (t Tag) Equal(other Tag) bool {
	if len(t) != len(other) {
		return false
	}
	for i := range t {
		if t[i] != other[i] {
			return false
		}
	}
	return true
}

// Bytes returns the tag's raw byte encoding, for writing into a prefilter
// file header.
func (t Tag) Bytes() []byte { return []byte(t) }

// ParseTag reconstructs a Tag from raw bytes read from a prefilter file
// header.
func ParseTag(b []byte) Tag {
	return Tag(append([]byte(nil), b...))
}
