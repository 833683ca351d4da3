// Package classid computes the two identifiers attached to every class and
// expression in the cache: a fast, process-stable 64-bit class id used for
// in-memory lookups, and a cryptographic class hash used to name the
// on-disk prefilter file.
package classid

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"
)

// classIDSeed mirrors the fixed seed rspamd_re_cache_class_id mixes into its
// hash of (region kind, region parameter). Only stability within a single
// process matters, so any fixed constant works.
const classIDSeed uint64 = 0xdeadbabe

// ID is the 64-bit, process-stable identifier of a class: a hash over the
// region kind byte and the region's parameter bytes. Two classes with the
// same (kind, parameter) always collide to the same ID.
type ID uint64

// Class computes the class id for a region kind byte plus optional
// parameter bytes (e.g. a header name). Callers are expected to supply the
// parameter already in canonical form; this package does no normalization.
func Class(kind byte, parameter []byte) ID {
	h := xxhash.New()
	_, _ = h.Write([]byte{kind})
	_, _ = h.Write(parameter)
	return ID(h.Sum64() ^ classIDSeed)
}

// ContentID computes the stable content identifier of an expression: a hash
// of its pattern text and semantic flag byte. Two registrations of the same
// pattern and flags against the same class always produce the same
// ContentID, which is what makes Registry.Add idempotent.
func ContentID(pattern string, flagByte byte) uint64 {
	h := xxhash.New()
	_, _ = h.Write([]byte(pattern))
	_, _ = h.Write([]byte{flagByte})
	return h.Sum64() ^ classIDSeed
}

// Hash is the cryptographic digest that names a class's on-disk file. It is
// recomputed whenever the class's membership or any member's flags change,
// and whenever the total expression count of the owning cache changes,
// which is what invalidates every class's file on any registration anywhere.
type Hash [32]byte

// String renders the hash as lowercase hex, suitable for use as a filename
// stem.
func (h Hash) String() string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, len(h)*2)
	for i, b := range h {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0x0f]
	}
	return string(buf)
}

// Member is the minimal view of one class member needed to compute the
// class hash: its content id, its flag byte (accurate flags, including the
// accurate-only prefilter-eligibility bit), and its max-hits limit.
type Member struct {
	ContentID uint64
	FlagByte  byte
	MaxHits   uint32
}

// ComputeClassHash computes the class hash from the class id, the class's
// members (order-independent; this function stable-sorts by ContentID
// before hashing), and the total expression count of the owning cache at
// finalize time. Including totalExpressions means that adding or removing
// any expression anywhere in the cache changes every class's hash, even
// classes whose own membership did not change.
func ComputeClassHash(id ID, members []Member, totalExpressions int) Hash {
	sorted := make([]Member, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ContentID < sorted[j].ContentID })

	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only fails for an oversized key, and we pass none.
		panic("classid: blake2b.New256: " + err.Error())
	}

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(id))
	_, _ = h.Write(buf[:])

	binary.LittleEndian.PutUint32(buf[:4], uint32(totalExpressions))
	_, _ = h.Write(buf[:4])

	for _, m := range sorted {
		binary.LittleEndian.PutUint64(buf[:], m.ContentID)
		_, _ = h.Write(buf[:])
		_, _ = h.Write([]byte{m.FlagByte})
		binary.LittleEndian.PutUint32(buf[:4], m.MaxHits)
		_, _ = h.Write(buf[:4])
	}

	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// CombineHashes folds a set of class hashes (already sorted by the caller
// into a deterministic order) into one cache-wide hash, used for the
// global hash exposed by Cache.GlobalHash.
func CombineHashes(hashes []Hash) Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic("classid: blake2b.New256: " + err.Error())
	}
	for _, hh := range hashes {
		_, _ = h.Write(hh[:])
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}
