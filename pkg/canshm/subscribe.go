package canshm

import (
	"context"
	"fmt"
	"time"
)

// subscribePollInterval bounds how often a cross-process subscriber
// re-checks the target bucket's version between wakeups, generalizing
// seqlock.go's readBackoff cadence to the subscribe wait loop (see
// DESIGN.md's Open Question decision on the condvar substitute).
const subscribePollInterval = 1 * time.Millisecond

// Subscribe blocks the calling goroutine until count updates for id
// have been observed (count == 0 means unlimited, running until ctx
// is done), invoking cb with a snapshot of each new value. Matches
// spec.md §4.7: edge-triggered on version transitions, coalescing
// multiple rapid writes between two wake checks into a single
// callback.
func (s *Store) Subscribe(ctx context.Context, id CanId, count uint32, cb func(Record)) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !id.Valid() {
		return fmt.Errorf("%w: %#x", ErrInvalidID, uint32(id))
	}

	s.incrSubscribeStat()

	idx, found, err := s.indexer().find(s, id)
	if err != nil {
		return err
	}
	baseline := uint64(0)
	if found {
		baseline = readBucketVersion(s.data, bucketOffset(idx))
	}

	var received uint32
	ticker := time.NewTicker(subscribePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ErrTimeout
		case <-ticker.C:
		}

		idx, found, err := s.indexer().find(s, id)
		if err != nil {
			return err
		}
		if !found {
			continue
		}

		off := bucketOffset(idx)
		v := readBucketVersion(s.data, off)
		if v == baseline || v%2 != 0 {
			continue
		}

		rec, err := readBucketSeqlock(s.data, off)
		if err != nil {
			continue // transient writer contention: re-poll
		}
		if rec.CanID != id {
			continue
		}

		baseline = v
		cb(rec)
		received++
		if count != 0 && received >= count {
			return nil
		}
	}
}

// SubscribeOnce blocks until exactly one update for id arrives, or ctx
// is done, matching the original can_shm_subscribe_once convenience
// wrapper.
func (s *Store) SubscribeOnce(ctx context.Context, id CanId) (Record, error) {
	var out Record
	err := s.Subscribe(ctx, id, 1, func(r Record) { out = r })
	return out, err
}

func (s *Store) incrSubscribeStat() {
	release, err := s.acquireRegionLock()
	if err != nil {
		return
	}
	defer release()
	n := atomicLoadUint64(s.data, offTotalSubscribes)
	atomicStoreUint64(s.data, offTotalSubscribes, n+1)
}
