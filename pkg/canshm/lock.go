package canshm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Process-shared locking.
//
// Go has no cgo-free pthread_mutex_t with the PROCESS_SHARED
// attribute, so this package stands in with POSIX fcntl byte-range
// record locks over the region file itself — one lock range per
// bucket, plus a single reserved byte (regionLockByte) standing in for
// the region-wide mutex. This generalizes the teacher's whole-file
// flock idiom (root lock.go, pkg/slotcache/writer_lock.go) from one
// lock per file to one lock per record, exactly what byte-range locks
// are for.
//
// Within one process, an in-process sync.Mutex per bucket (and one
// for the region) is acquired first, so that goroutines in the same
// process never pay for a redundant fcntl round-trip contending with
// themselves.

// fcntlLock takes or releases a blocking, process-shared byte-range
// lock on fd covering [start, start+length).
func fcntlLock(fd int, start, length int64, exclusive bool, lock bool) error {
	lt := int16(unix.F_RDLCK)
	if exclusive {
		lt = unix.F_WRLCK
	}
	if !lock {
		lt = unix.F_UNLCK
	}

	flock := unix.Flock_t{
		Type:   lt,
		Whence: 0, // SEEK_SET
		Start:  start,
		Len:    length,
	}

	if err := unix.FcntlFlock(uintptr(fd), unix.F_SETLKW, &flock); err != nil {
		return fmt.Errorf("%w: %w", ErrMutexFailed, err)
	}
	return nil
}

// lockBucketRange takes an exclusive fcntl lock over bucket index's
// byte range and returns a function that releases it.
func lockBucketRange(fd int, index uint32) (func(), error) {
	off := bucketOffset(index)
	if err := fcntlLock(fd, off, bucketSize, true, true); err != nil {
		return nil, err
	}
	return func() { _ = fcntlLock(fd, off, bucketSize, true, false) }, nil
}

// lockRegionRange takes an exclusive fcntl lock over the single
// reserved region-lock byte and returns a function that releases it.
func lockRegionRange(fd int) (func(), error) {
	if err := fcntlLock(fd, regionLockByte, 1, true, true); err != nil {
		return nil, err
	}
	return func() { _ = fcntlLock(fd, regionLockByte, 1, true, false) }, nil
}
