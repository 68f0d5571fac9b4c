package canshm

import (
	"sync/atomic"
	"time"
	"unsafe"
)

// Seqlock retry tuning, grounded on pkg/slotcache's readGeneration /
// readBackoff retry loop: a reader facing an odd (write-in-progress)
// version backs off with bounded exponential delay instead of
// spinning, and gives up with ErrBusy after readMaxRetries attempts.
const (
	readMaxRetries     = 10
	readInitialBackoff = 50 * time.Microsecond
	readMaxBackoff     = 1 * time.Millisecond
)

func readBackoff(attempt int) {
	if attempt == 0 {
		return
	}
	backoff := readInitialBackoff << (attempt - 1)
	if backoff > readMaxBackoff {
		backoff = readMaxBackoff
	}
	time.Sleep(backoff)
}

// atomicLoadUint64 reads an 8-byte-aligned uint64 out of a mmap'd
// byte slice using the same unsafe.Pointer-over-mmap technique the
// teacher's cache_binary.go uses for fixed-offset fields, but backed
// by sync/atomic for acquire/release semantics instead of a plain
// read.
func atomicLoadUint64(data []byte, off int64) uint64 {
	p := (*uint64)(unsafe.Pointer(&data[off]))
	return atomic.LoadUint64(p)
}

func atomicStoreUint64(data []byte, off int64, v uint64) {
	p := (*uint64)(unsafe.Pointer(&data[off]))
	atomic.StoreUint64(p, v)
}

func atomicLoadUint32(data []byte, off int64) uint32 {
	p := (*uint32)(unsafe.Pointer(&data[off]))
	return atomic.LoadUint32(p)
}

func atomicStoreUint32(data []byte, off int64, v uint32) {
	p := (*uint32)(unsafe.Pointer(&data[off]))
	atomic.StoreUint32(p, v)
}

// readBucketVersion loads a bucket's seqlock counter with acquire
// semantics (sync/atomic provides sequential consistency on every
// architecture Go supports, a strict superset of acquire/release).
func readBucketVersion(data []byte, bucketOff int64) uint64 {
	return atomicLoadUint64(data, bucketOff+bOffVersion)
}

// writeBucketSeqlock performs the spec's four-step writer protocol
// for a bucket already held under its lock:
//  1. load version (must be even), compute odd v'
//  2. release-store v'
//  3. write can_id, dlc, payload (zero-padded beyond dlc), timestamp
//  4. release-store v'+1 (even)
//
// id, dlc and data are assumed pre-validated by the caller; data may
// be shorter than dlc only if the remainder is already implicitly
// zero (never the case for a live write, but matches the zero-payload
// dlc=0 boundary case).
func writeBucketSeqlock(data []byte, bucketOff int64, id CanId, dlc uint16, payload []byte, ts int64) {
	v := readBucketVersion(data, bucketOff)
	atomicStoreUint64(data, bucketOff+bOffVersion, v+1)

	atomicStoreUint32(data, bucketOff+bOffCanID, uint32(id))
	binPutUint16(data, bucketOff+bOffDLC, dlc)

	dst := data[bucketOff+bOffPayload : bucketOff+bOffPayload+MaxPayloadLen]
	n := copy(dst, payload)
	for i := n; i < MaxPayloadLen; i++ {
		dst[i] = 0
	}

	binPutInt64(data, bucketOff+bOffTimestamp, ts)

	atomicStoreUint64(data, bucketOff+bOffVersion, v+2)
}

// readBucketSeqlock takes a wait-free, bounded-retry snapshot of a
// bucket's record. It returns ErrBusy if the writer never settles
// within readMaxRetries attempts.
func readBucketSeqlock(data []byte, bucketOff int64) (Record, error) {
	for attempt := 0; attempt < readMaxRetries; attempt++ {
		readBackoff(attempt)

		v1 := readBucketVersion(data, bucketOff)
		if v1%2 != 0 {
			continue
		}

		rec := snapshotBucketFields(data, bucketOff)
		rec.Version = v1

		v2 := atomicLoadUint64(data, bucketOff+bOffVersion)
		if v1 == v2 {
			return rec, nil
		}
	}
	return Record{}, ErrBusy
}

// snapshotBucketFields copies every field except Version without
// regard to seqlock validity; callers must check the surrounding
// version pair themselves.
func snapshotBucketFields(data []byte, bucketOff int64) Record {
	var rec Record
	rec.CanID = CanId(atomicLoadUint32(data, bucketOff+bOffCanID))
	rec.DLC = binUint16(data, bucketOff+bOffDLC)
	copy(rec.Payload[:], data[bucketOff+bOffPayload:bucketOff+bOffPayload+MaxPayloadLen])
	rec.Timestamp = binInt64(data, bucketOff+bOffTimestamp)
	return rec
}

func readBucketValid(data []byte, bucketOff int64) uint8 {
	return data[bucketOff+bOffValid]
}

func writeBucketValid(data []byte, bucketOff int64, state uint8) {
	data[bucketOff+bOffValid] = state
}
