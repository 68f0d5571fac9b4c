package canshm_test

import (
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/beerboy/can-shm/pkg/canshm"
)

// Probe-chain invariant (spec.md §8): after any sequence of
// inserts/updates with no deletes, every present key is reachable by
// probing from its home slot without crossing an empty slot.
func Test_LinearProbing_Preserves_ProbeChain_Invariant_Under_Random_Inserts(t *testing.T) {
	t.Parallel()

	const bucketCount = 64
	s, err := canshm.Open(canshm.Options{
		Path:            filepath.Join(t.TempDir(), "can.shm"),
		BucketCount:     bucketCount,
		CreateIfMissing: true,
		DisableLocking:  true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	rng := rand.New(rand.NewPCG(1, 2))
	present := map[canshm.CanId][]byte{}

	for i := 0; i < bucketCount/2; i++ {
		id := canshm.CanId(rng.Uint32() % 4096)
		dlc := uint16(rng.IntN(9))
		data := make([]byte, dlc)
		for j := range data {
			data[j] = byte(rng.Uint32())
		}

		if err := s.Set(id, dlc, data); err != nil {
			require.ErrorIs(t, err, canshm.ErrFull)
			continue
		}
		present[id] = data
	}

	for id, data := range present {
		rec, err := s.Get(id)
		require.NoError(t, err, "every inserted key must remain reachable by probing")
		require.Equal(t, data, rec.Data())
	}
}
