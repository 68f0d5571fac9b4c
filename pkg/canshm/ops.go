package canshm

import (
	"fmt"
	"time"
)

func (s *Store) indexer() indexer {
	if s.variant == VariantPerfectHash {
		return perfectHashIndex{table: s.perfectHash}
	}
	return linearIndex{}
}

// Set publishes dlc bytes of data as the current value for id,
// matching spec.md §4.5. data may be nil iff dlc == 0.
func (s *Store) Set(id CanId, dlc uint16, data []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !id.Valid() {
		return fmt.Errorf("%w: %#x", ErrInvalidID, uint32(id))
	}
	if dlc > MaxPayloadLen {
		return fmt.Errorf("%w: dlc %d > %d", ErrInvalidParam, dlc, MaxPayloadLen)
	}
	if len(data) < int(dlc) {
		return fmt.Errorf("%w: data shorter than dlc", ErrInvalidParam)
	}

	// Claiming under lock may need a few passes: another writer can
	// claim the probed slot for a different key between the lock-free
	// claim probe and the bucket lock being taken, so loop rather than
	// recurse — recursing here would mean holding this bucket's lock
	// for the full depth of the retry chain.
	for {
		idx, err := s.indexer().claim(s, id)
		if err != nil {
			return err
		}

		release, err := s.acquireBucketLock(idx)
		if err != nil {
			return err
		}

		off := bucketOffset(idx)
		if readBucketValid(s.data, off) == slotValid &&
			CanId(atomicLoadUint32(s.data, off+bOffCanID)) != id {
			release()
			continue
		}

		writeBucketSeqlock(s.data, off, id, dlc, data[:dlc], time.Now().UnixNano())
		writeBucketValid(s.data, off, slotValid)
		release()
		break
	}

	regionRelease, err := s.acquireRegionLock()
	if err != nil {
		return err
	}
	defer regionRelease()
	s.bumpGlobalSequenceAndStats(offTotalSets)

	return nil
}

// Get returns the current record for id, matching spec.md §4.6.
// total_gets is incremented whether or not the key is found.
func (s *Store) Get(id CanId) (Record, error) {
	if err := s.checkOpen(); err != nil {
		return Record{}, err
	}
	if !id.Valid() {
		return Record{}, fmt.Errorf("%w: %#x", ErrInvalidID, uint32(id))
	}

	idx, found, err := s.indexer().find(s, id)
	defer s.incrGetStat()

	if err != nil {
		return Record{}, err
	}
	if !found {
		return Record{}, fmt.Errorf("%w: %#x", ErrNotFound, uint32(id))
	}

	rec, err := readBucketSeqlock(s.data, bucketOffset(idx))
	if err != nil {
		return Record{}, err
	}
	if rec.CanID != id {
		// Defensive per spec.md §4.6: the slot was reclaimed between
		// find() and the seqlock snapshot.
		return Record{}, fmt.Errorf("%w: %#x", ErrNotFound, uint32(id))
	}
	return rec, nil
}

func (s *Store) incrGetStat() {
	n := atomicLoadUint64(s.data, offTotalGets)
	atomicStoreUint64(s.data, offTotalGets, n+1)
}

// Delete removes the record for id. Under VariantLinearProbing, per
// spec.md §4.3/§9 and the tombstone decision recorded in DESIGN.md,
// the slot is marked tombstoned (not empty) so later lookups of other
// keys whose probe chains cross this slot are unaffected. Under
// VariantPerfectHash, which never probes, the slot is marked empty.
func (s *Store) Delete(id CanId) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !id.Valid() {
		return fmt.Errorf("%w: %#x", ErrInvalidID, uint32(id))
	}

	idx, found, err := s.indexer().find(s, id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %#x", ErrNotFound, uint32(id))
	}

	release, err := s.acquireBucketLock(idx)
	if err != nil {
		return err
	}
	defer release()

	off := bucketOffset(idx)
	if readBucketValid(s.data, off) != slotValid || CanId(atomicLoadUint32(s.data, off+bOffCanID)) != id {
		return fmt.Errorf("%w: %#x", ErrNotFound, uint32(id))
	}

	writeBucketSeqlock(s.data, off, 0, 0, nil, time.Now().UnixNano())
	if s.variant == VariantPerfectHash {
		writeBucketValid(s.data, off, slotEmpty)
	} else {
		writeBucketValid(s.data, off, slotTombstone)
	}

	return nil
}
