// Package canshm implements a shared-memory key/value store for CAN
// frames, keyed by CAN identifier and accessible concurrently by
// multiple processes. Producers publish the latest frame payload for
// each CAN ID; consumers read the current value or block until the
// next update.
package canshm

import "time"

// CanIDMax is the largest representable 29-bit CAN identifier.
const CanIDMax = 0x1FFFFFFF

// MaxPayloadLen is the largest DLC value accepted by any operation
// (CAN-FD payload length).
const MaxPayloadLen = 64

// DefaultBucketCount is the reference table size used when Options
// does not specify one.
const DefaultBucketCount = 4096

// CanId is a 29-bit CAN frame identifier.
type CanId uint32

// Valid reports whether id fits in the 29-bit CAN identifier range.
func (id CanId) Valid() bool {
	return id <= CanIDMax
}

// Variant selects which hash index strategy backs a Store.
type Variant int

const (
	// VariantLinearProbing is the default: open addressing with linear
	// probing over the full bucket table, supporting any CanId.
	VariantLinearProbing Variant = iota
	// VariantPerfectHash restricts keys to a fixed, precomputed
	// admissible set in exchange for guaranteed single-probe lookup.
	VariantPerfectHash
)

// Record is the unit stored per bucket.
type Record struct {
	// Version is the seqlock counter observed for this snapshot: even
	// means the snapshot is self-consistent.
	Version uint64
	CanID   CanId
	DLC     uint16
	// Payload holds exactly 64 bytes; bytes [DLC:64] are always zero.
	Payload   [MaxPayloadLen]byte
	Timestamp int64 // UnixNano, set at each write
}

// Data returns the live portion of the payload, Payload[:DLC].
func (r Record) Data() []byte {
	return r.Payload[:r.DLC]
}

// Time returns Timestamp as a time.Time.
func (r Record) Time() time.Time {
	return time.Unix(0, r.Timestamp)
}

// Options configures Open.
type Options struct {
	// Path is the backing region file. It is created if it does not
	// exist and CreateIfMissing is true.
	Path string

	// BucketCount is the fixed table size for the chosen index
	// variant. Zero means DefaultBucketCount for VariantLinearProbing
	// and the perfect-hash table's TableSize for VariantPerfectHash.
	// Must match across every
	// process attaching to the same region.
	BucketCount uint32

	// Variant selects the hash index strategy. Every process attaching
	// to the same region must agree on this.
	Variant Variant

	// PerfectHashTable overrides the default demo admissible set used
	// by VariantPerfectHash. Nil means DefaultPerfectHashTable.
	PerfectHashTable *PerfectHashTable

	// CreateIfMissing creates the region file (and performs one-time
	// initialization) when Path does not exist. When false, Open fails
	// with ErrNotFound if Path is absent.
	CreateIfMissing bool

	// DisableLocking skips the fcntl-based process-shared locking and
	// relies only on in-process mutexes. Useful for single-process
	// tests; never set this when multiple OS processes share the
	// region.
	DisableLocking bool
}

// Stats reports monotonic counters for a Store.
type Stats struct {
	Sets       uint64
	Gets       uint64
	Subscribes uint64

	TotalProbes      uint64
	Collisions       uint64
	MaxProbeDistance uint64
	CurrentEntries   uint64
}
