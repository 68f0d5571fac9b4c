package canshm

import (
	"encoding/binary"
	"hash/crc32"
)

// Region file format constants, the Go rendition of
// original_source/can_shm_types.h's SharedMemoryLayout.
const (
	// regionMagic is the header sentinel written on first attach.
	// Derived from the original implementation's 0xCADDA7A, widened to
	// a full 32-bit word.
	regionMagic = 0x0CADDA7A

	// regionVersion is the on-disk layout version.
	regionVersion = 1

	// headerSize is the fixed header size in bytes, cache-line aligned.
	headerSize = 128

	// bucketSize is the fixed per-bucket record size in bytes:
	// version(8) + can_id(4) + dlc(2) + valid(1) + pad(1) + payload(64)
	// + timestamp(8) = 88, rounded up to 96 to avoid false sharing
	// between adjacent buckets under concurrent fcntl locking.
	bucketSize = 96
)

// Header field offsets (bytes from region file start).
const (
	offMagic       = 0x00 // uint32
	offVersion     = 0x04 // uint32
	offHeaderSize  = 0x08 // uint32
	offBucketCount = 0x0C // uint32
	offBucketSize  = 0x10 // uint32
	offVariant     = 0x14 // uint32
	offFlags       = 0x18 // uint32
	offReservedU32 = 0x1C // uint32

	offGlobalSequence  = 0x20 // uint64, bumped (and never decreased) on every successful Set
	offTotalSets       = 0x28 // uint64
	offTotalGets       = 0x30 // uint64
	offTotalSubscribes = 0x38 // uint64
	offTotalProbes     = 0x40 // uint64
	offCollisions      = 0x48 // uint64
	offMaxProbeDist    = 0x50 // uint64
	offCurrentEntries  = 0x58 // uint64

	offHeaderCRC32C  = 0x60 // uint32
	offReservedU32b  = 0x64 // uint32
	offBucketsOffset = 0x68 // uint64

	// regionLockByte is the single reserved byte whose fcntl lock
	// stands in for the region-wide pthread mutex: first-attach
	// initialization, Set's sequence/statistics update and Subscribe's
	// statistics update take this lock, never any bucket's own lock
	// range. Get's statistics update does not take it.
	regionLockByte = 0x78

	offReservedStart = 0x79 // reserved through headerSize-1
)

// Bucket field offsets, relative to a bucket's own byte range within
// the region file (bucketsOffset + index*bucketSize).
const (
	bOffVersion   = 0x00 // uint64, seqlock counter: even=stable, odd=write-in-progress
	bOffCanID     = 0x08 // uint32
	bOffDLC       = 0x0C // uint16
	bOffValid     = 0x0E // uint8: 0=empty, 1=valid, 2=tombstone
	bOffPad       = 0x0F // uint8
	bOffPayload   = 0x10 // [64]byte
	bOffTimestamp = 0x50 // int64
)

const (
	slotEmpty     = 0
	slotValid     = 1
	slotTombstone = 2
)

// regionHeader is the decoded, in-memory view of the fixed header fields
// that do not change after first attach (everything else is read
// live from the mmap via the offsets above).
type regionHeader struct {
	Magic       uint32
	Version     uint32
	HeaderSize  uint32
	BucketCount uint32
	BucketSize  uint32
	Variant     Variant
}

func encodeNewHeader(buf []byte, bucketCount uint32, variant Variant) {
	binary.LittleEndian.PutUint32(buf[offMagic:], regionMagic)
	binary.LittleEndian.PutUint32(buf[offVersion:], regionVersion)
	binary.LittleEndian.PutUint32(buf[offHeaderSize:], headerSize)
	binary.LittleEndian.PutUint32(buf[offBucketCount:], bucketCount)
	binary.LittleEndian.PutUint32(buf[offBucketSize:], bucketSize)
	binary.LittleEndian.PutUint32(buf[offVariant:], uint32(variant))
	binary.LittleEndian.PutUint64(buf[offBucketsOffset:], uint64(headerSize))
	binary.LittleEndian.PutUint32(buf[offHeaderCRC32C:], computeHeaderCRC(buf))
}

func decodeHeader(buf []byte) regionHeader {
	return regionHeader{
		Magic:       binary.LittleEndian.Uint32(buf[offMagic:]),
		Version:     binary.LittleEndian.Uint32(buf[offVersion:]),
		HeaderSize:  binary.LittleEndian.Uint32(buf[offHeaderSize:]),
		BucketCount: binary.LittleEndian.Uint32(buf[offBucketCount:]),
		BucketSize:  binary.LittleEndian.Uint32(buf[offBucketSize:]),
		Variant:     Variant(binary.LittleEndian.Uint32(buf[offVariant:])),
	}
}

// computeHeaderCRC checksums the static (non-mutating) header fields
// with the CRC field itself zeroed, matching the field-exclusion
// convention of slotcache's computeHeaderCRC. The statistics and
// global sequence fields are intentionally excluded: they mutate on
// every Set/Get and are not covered by the structural-integrity check.
func computeHeaderCRC(buf []byte) uint32 {
	span := offBucketsOffset + 8 // magic .. bucketsOffset; the statistics range is zeroed below
	tmp := make([]byte, span)
	copy(tmp, buf[:span])
	for i := offGlobalSequence; i < offHeaderCRC32C; i++ {
		tmp[i] = 0 // global sequence and statistics counters
	}
	binary.LittleEndian.PutUint32(tmp[offHeaderCRC32C:], 0)
	return crc32.Checksum(tmp, crc32.MakeTable(crc32.Castagnoli))
}

func validateHeaderCRC(buf []byte) bool {
	stored := binary.LittleEndian.Uint32(buf[offHeaderCRC32C:])
	return stored == computeHeaderCRC(buf)
}

func regionSize(bucketCount uint32) int64 {
	return int64(headerSize) + int64(bucketCount)*int64(bucketSize)
}

func bucketOffset(index uint32) int64 {
	return int64(headerSize) + int64(index)*int64(bucketSize)
}
