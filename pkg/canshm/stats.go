package canshm

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/natefinch/atomic"
)

// Stats returns a snapshot of the region's monotonic counters,
// grounded on original_source/can_shm_linear_probing.c's HashStats and
// can_shm_api.c's can_shm_get_stats.
func (s *Store) Stats() Stats {
	return Stats{
		Sets:             atomicLoadUint64(s.data, offTotalSets),
		Gets:             atomicLoadUint64(s.data, offTotalGets),
		Subscribes:       atomicLoadUint64(s.data, offTotalSubscribes),
		TotalProbes:      atomicLoadUint64(s.data, offTotalProbes),
		Collisions:       atomicLoadUint64(s.data, offCollisions),
		MaxProbeDistance: atomicLoadUint64(s.data, offMaxProbeDist),
		CurrentEntries:   s.countValidBuckets(),
	}
}

func (s *Store) countValidBuckets() uint64 {
	var n uint64
	for i := uint32(0); i < s.bucketCount; i++ {
		if readBucketValid(s.data, bucketOffset(i)) == slotValid {
			n++
		}
	}
	return n
}

// DebugDump renders a human-readable diagnostic summary of the
// region, grounded on can_shm_api.c's can_shm_debug_print.
func (s *Store) DebugDump() string {
	st := s.Stats()
	var b strings.Builder
	fmt.Fprintf(&b, "canshm region %s (variant=%d, buckets=%d)\n", s.path, s.variant, s.bucketCount)
	fmt.Fprintf(&b, "  sets=%d gets=%d subscribes=%d\n", st.Sets, st.Gets, st.Subscribes)
	fmt.Fprintf(&b, "  total_probes=%d collisions=%d max_probe_distance=%d current_entries=%d\n",
		st.TotalProbes, st.Collisions, st.MaxProbeDistance, st.CurrentEntries)

	for i := uint32(0); i < s.bucketCount; i++ {
		off := bucketOffset(i)
		if readBucketValid(s.data, off) != slotValid {
			continue
		}
		id := CanId(atomicLoadUint32(s.data, off+bOffCanID))
		dlc := binUint16(s.data, off+bOffDLC)
		fmt.Fprintf(&b, "  [%d] can_id=%#x dlc=%d\n", i, uint32(id), dlc)
	}
	return b.String()
}

// SnapshotToFile atomically writes the current DebugDump to path,
// grounded on cache_binary.go's SaveBinaryCache / root lock.go's
// WithTicketLock atomic-write pattern.
func (s *Store) SnapshotToFile(path string) error {
	return atomic.WriteFile(path, bytes.NewBufferString(s.DebugDump()))
}
