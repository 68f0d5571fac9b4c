package canshm

import "encoding/binary"

// Fixed-width field helpers over the mmap'd region buffer. These are
// plain (non-atomic) reads/writes for fields that are only ever
// touched while the surrounding seqlock version is odd (writer) or
// after the version pair has been verified even (reader) — the
// version loads/stores in seqlock.go are what provide the
// synchronization, exactly as in the original C implementation's
// plain struct-field writes bracketed by __atomic version stores.

func binPutUint16(data []byte, off int64, v uint16) {
	binary.LittleEndian.PutUint16(data[off:], v)
}

func binUint16(data []byte, off int64) uint16 {
	return binary.LittleEndian.Uint16(data[off:])
}

func binPutInt64(data []byte, off int64, v int64) {
	binary.LittleEndian.PutUint64(data[off:], uint64(v))
}

func binInt64(data []byte, off int64) int64 {
	return int64(binary.LittleEndian.Uint64(data[off:]))
}
