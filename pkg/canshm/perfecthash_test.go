package canshm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/beerboy/can-shm/pkg/canshm"
)

// Perfect-hash round-trip (spec.md §8): for every admissible K,
// rev[index(K)] == K. IsAdmissible holding for 16 distinct ids means
// index is injective over the admissible set, since one slot's reverse
// entry can name only one id.
func Test_DefaultPerfectHashTable_Admits_Exactly_The_Demo_Set(t *testing.T) {
	table := canshm.DefaultPerfectHashTable()

	admissible := []canshm.CanId{
		0x100, 0x101, 0x102, 0x103,
		0x200, 0x201, 0x202, 0x203,
		0x300, 0x301, 0x302, 0x303,
		0x400, 0x401, 0x402, 0x403,
	}

	seenIDs := map[canshm.CanId]bool{}
	for _, id := range admissible {
		require.True(t, table.IsAdmissible(id), "expected %#x to be admissible", uint32(id))
		require.False(t, seenIDs[id], "admissible ids must be distinct")
		seenIDs[id] = true
	}

	rejected := []canshm.CanId{0x500, 0x104, 0x0FF, 0x600}
	for _, id := range rejected {
		require.False(t, table.IsAdmissible(id), "expected %#x to be rejected", uint32(id))
	}
}
