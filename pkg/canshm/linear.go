package canshm

// mix29 folds a 29-bit CAN ID into a bucket home index, literally the
// original implementation's can_id_hash: XOR the key with its high
// 16-bit and 8-bit shifts, then reduce modulo the table size.
func mix29(id CanId, bucketCount uint32) uint32 {
	k := uint32(id) & CanIDMax
	folded := k ^ (k >> 16) ^ (k >> 8)
	return folded % bucketCount
}

// indexer is satisfied by both hash index strategies so that Set,
// Get and Delete share one implementation over either variant —
// spec.md's "two interchangeable strategies with identical public
// contract."
type indexer interface {
	// find locates the bucket already holding id, without claiming
	// anything. Returns found=false (no error) on a clean miss.
	find(s *Store, id CanId) (idx uint32, found bool, err error)
	// claim locates the bucket holding id, or — if absent — an empty
	// or tombstoned bucket to write id into. Does not take any lock;
	// callers must lock the returned index before writing.
	claim(s *Store, id CanId) (idx uint32, err error)
}

type linearIndex struct{}

func (linearIndex) find(s *Store, id CanId) (uint32, bool, error) {
	home := mix29(id, s.bucketCount)
	for probe := uint32(0); probe < s.bucketCount; probe++ {
		idx := (home + probe) % s.bucketCount
		off := bucketOffset(idx)

		switch readBucketValid(s.data, off) {
		case slotEmpty:
			return 0, false, nil
		case slotTombstone:
			continue
		case slotValid:
			if CanId(atomicLoadUint32(s.data, off+bOffCanID)) == id {
				return idx, true, nil
			}
		}
	}
	return 0, false, nil
}

func (linearIndex) claim(s *Store, id CanId) (uint32, error) {
	home := mix29(id, s.bucketCount)
	firstFree := int64(-1)

	for probe := uint32(0); probe < s.bucketCount; probe++ {
		idx := (home + probe) % s.bucketCount
		off := bucketOffset(idx)

		switch readBucketValid(s.data, off) {
		case slotEmpty:
			if firstFree < 0 {
				firstFree = int64(idx)
			}
			s.bumpProbeStats(probe)
			return uint32(firstFree), nil
		case slotTombstone:
			if firstFree < 0 {
				firstFree = int64(idx)
			}
		case slotValid:
			if CanId(atomicLoadUint32(s.data, off+bOffCanID)) == id {
				s.bumpProbeStats(probe)
				return idx, nil
			}
		}
	}

	if firstFree >= 0 {
		return uint32(firstFree), nil
	}
	return 0, ErrFull
}

// bumpProbeStats records probe-distance statistics for a claim that
// stopped at a matching or empty slot (find records none), grounded on original_source/can_shm_linear_probing.c's
// HashStats (total_probes, collision_count, max_probe_distance).
func (s *Store) bumpProbeStats(probeDistance uint32) {
	total := atomicLoadUint64(s.data, offTotalProbes)
	atomicStoreUint64(s.data, offTotalProbes, total+uint64(probeDistance)+1)

	if probeDistance > 0 {
		c := atomicLoadUint64(s.data, offCollisions)
		atomicStoreUint64(s.data, offCollisions, c+1)
	}

	maxDist := atomicLoadUint64(s.data, offMaxProbeDist)
	if uint64(probeDistance) > maxDist {
		atomicStoreUint64(s.data, offMaxProbeDist, uint64(probeDistance))
	}
}
