package canshm_test

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/beerboy/can-shm/pkg/canshm"
)

func openTestStore(t *testing.T, opts canshm.Options) *canshm.Store {
	t.Helper()
	if opts.Path == "" {
		opts.Path = filepath.Join(t.TempDir(), "can.shm")
	}
	opts.CreateIfMissing = true
	opts.DisableLocking = true // single-process tests: skip cross-process fcntl

	s, err := canshm.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Scenario 1: round-trip.
func Test_Set_Then_Get_Returns_Same_Record_When_Round_Tripped(t *testing.T) {
	s := openTestStore(t, canshm.Options{BucketCount: 64})

	payload := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	require.NoError(t, s.Set(0x123, 8, payload))

	rec, err := s.Get(0x123)
	require.NoError(t, err)
	require.Equal(t, canshm.CanId(0x123), rec.CanID)
	require.EqualValues(t, 8, rec.DLC)
	require.Equal(t, payload, rec.Data())
	for i := 8; i < canshm.MaxPayloadLen; i++ {
		require.Zero(t, rec.Payload[i])
	}
}

// Scenario 2: overwrite.
func Test_Set_Overwrites_Previous_Value_When_Called_Twice_For_Same_Id(t *testing.T) {
	s := openTestStore(t, canshm.Options{BucketCount: 64})

	require.NoError(t, s.Set(0x100, 4, []byte{0xAA, 0xBB, 0xCC, 0xDD}))
	require.NoError(t, s.Set(0x100, 8, []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}))

	rec, err := s.Get(0x100)
	require.NoError(t, err)
	require.EqualValues(t, 8, rec.DLC)
	require.Equal(t, []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}, rec.Data())
}

// Scenario 3: miss.
func Test_Get_Returns_NotFound_When_Id_Was_Never_Set(t *testing.T) {
	s := openTestStore(t, canshm.Options{BucketCount: 64})

	_, err := s.Get(0x999)
	require.ErrorIs(t, err, canshm.ErrNotFound)
}

// Scenario 4: subscribe-once timeout.
func Test_SubscribeOnce_Returns_Timeout_When_No_Producer_Writes(t *testing.T) {
	s := openTestStore(t, canshm.Options{BucketCount: 64})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := s.SubscribeOnce(ctx, 0x800)
	require.ErrorIs(t, err, canshm.ErrTimeout)
}

// Scenario 5: subscribe-one-shot wake.
func Test_Subscribe_Fires_Once_When_One_Set_Occurs_Before_Deadline(t *testing.T) {
	s := openTestStore(t, canshm.Options{BucketCount: 64})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var calls int
	var gotRecord canshm.Record
	done := make(chan error, 1)
	go func() {
		done <- s.Subscribe(ctx, 0x400, 1, func(r canshm.Record) {
			calls++
			gotRecord = r
		})
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, s.Set(0x400, 4, []byte{0x11, 0x22, 0x33, 0x44}))

	require.NoError(t, <-done)
	require.Equal(t, 1, calls)
	require.Equal(t, canshm.CanId(0x400), gotRecord.CanID)
	require.Equal(t, []byte{0x11, 0x22, 0x33, 0x44}, gotRecord.Data())
}

// Scenario 6: collision handling under linear probing.
func Test_Get_Returns_Correct_Payload_For_Each_Id_When_Two_Ids_Collide(t *testing.T) {
	s := openTestStore(t, canshm.Options{BucketCount: 16})

	// Find two distinct admissible ids that collide on the home slot
	// for this table's mix29.
	var a, b canshm.CanId
	found := false
	for x := canshm.CanId(0); x < 4096 && !found; x++ {
		for y := x + 1; y < 4096; y++ {
			if homeEqual(x, y, 16) {
				a, b = x, y
				found = true
				break
			}
		}
	}
	require.True(t, found, "expected to find two colliding ids for a 16-bucket table")

	require.NoError(t, s.Set(a, 2, []byte{0xAA, 0xAA}))
	require.NoError(t, s.Set(b, 2, []byte{0xBB, 0xBB}))

	recA, err := s.Get(a)
	require.NoError(t, err)
	require.Equal(t, []byte{0xAA, 0xAA}, recA.Data())

	recB, err := s.Get(b)
	require.NoError(t, err)
	require.Equal(t, []byte{0xBB, 0xBB}, recB.Data())
}

func homeEqual(a, b canshm.CanId, bucketCount uint32) bool {
	mix := func(id canshm.CanId) uint32 {
		k := uint32(id) & canshm.CanIDMax
		return (k ^ (k >> 16) ^ (k >> 8)) % bucketCount
	}
	return mix(a) == mix(b)
}

// Scenario 7: perfect-hash rejection.
func Test_Set_Returns_InvalidId_When_Perfect_Hash_Id_Not_Admissible(t *testing.T) {
	s := openTestStore(t, canshm.Options{
		BucketCount: 32,
		Variant:     canshm.VariantPerfectHash,
	})

	err := s.Set(0x500, 1, []byte{0x00})
	require.ErrorIs(t, err, canshm.ErrInvalidID)
}

func Test_Set_And_Get_Roundtrip_When_Perfect_Hash_Id_Is_Admissible(t *testing.T) {
	s := openTestStore(t, canshm.Options{
		BucketCount: 32,
		Variant:     canshm.VariantPerfectHash,
	})

	require.NoError(t, s.Set(0x200, 3, []byte{1, 2, 3}))
	rec, err := s.Get(0x200)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, rec.Data())
}

// Boundary behaviors (spec.md §8).
func Test_Set_Boundary_Dlc_Values(t *testing.T) {
	s := openTestStore(t, canshm.Options{BucketCount: 64})

	require.NoError(t, s.Set(0x001, 0, nil))
	rec, err := s.Get(0x001)
	require.NoError(t, err)
	require.EqualValues(t, 0, rec.DLC)
	for _, b := range rec.Payload {
		require.Zero(t, b)
	}

	full := make([]byte, 64)
	for i := range full {
		full[i] = byte(i)
	}
	require.NoError(t, s.Set(0x002, 64, full))
	rec, err = s.Get(0x002)
	require.NoError(t, err)
	require.EqualValues(t, 64, rec.DLC)
	require.Equal(t, full, rec.Data())

	err = s.Set(0x003, 65, make([]byte, 65))
	require.ErrorIs(t, err, canshm.ErrInvalidParam)

	err = s.Set(canshm.CanIDMax+1, 1, []byte{0})
	require.ErrorIs(t, err, canshm.ErrInvalidID)
}

func Test_Delete_Then_Get_Returns_NotFound_And_Preserves_Other_Keys(t *testing.T) {
	s := openTestStore(t, canshm.Options{BucketCount: 16})

	var a, b canshm.CanId
	found := false
	for x := canshm.CanId(0); x < 4096 && !found; x++ {
		for y := x + 1; y < 4096; y++ {
			if homeEqual(x, y, 16) {
				a, b = x, y
				found = true
				break
			}
		}
	}
	require.True(t, found)

	require.NoError(t, s.Set(a, 1, []byte{1}))
	require.NoError(t, s.Set(b, 1, []byte{2}))

	require.NoError(t, s.Delete(a))

	_, err := s.Get(a)
	require.ErrorIs(t, err, canshm.ErrNotFound)

	rec, err := s.Get(b)
	require.NoError(t, err, "deleting a requires a tombstone, not an empty slot, so b's probe chain must survive")
	require.Equal(t, []byte{2}, rec.Data())
}

// Two Store handles opened in the same process against the same path
// must share their in-process locks via the registry, not race each
// other: concurrent Sets through both handles for colliding ids must
// never produce a torn or dropped record.
func Test_Two_Handles_On_Same_Path_Share_Locks_And_Do_Not_Race(t *testing.T) {
	path := filepath.Join(t.TempDir(), "can.shm")
	opts := canshm.Options{Path: path, BucketCount: 64, CreateIfMissing: true, DisableLocking: true}

	s1, err := canshm.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s1.Close() })

	s2, err := canshm.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s2.Close() })

	const iterations = 500
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			require.NoError(t, s1.Set(0x10, 8, bytes.Repeat([]byte{0xAA}, 8)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			require.NoError(t, s2.Set(0x10, 8, bytes.Repeat([]byte{0xBB}, 8)))
		}
	}()
	wg.Wait()

	rec, err := s1.Get(0x10)
	require.NoError(t, err)
	require.EqualValues(t, 8, rec.DLC)
	data := rec.Data()
	require.True(t,
		bytesAllEqual(data, 0xAA) || bytesAllEqual(data, 0xBB),
		"expected a fully-written record from one of the two handles, got %x (torn write)", data)
}

func bytesAllEqual(data []byte, want byte) bool {
	for _, b := range data {
		if b != want {
			return false
		}
	}
	return true
}

func Test_Get_Returns_Identical_Record_Across_Repeated_Reads_When_Unchanged(t *testing.T) {
	s := openTestStore(t, canshm.Options{BucketCount: 64})
	require.NoError(t, s.Set(0x321, 3, []byte{0x7, 0x8, 0x9}))

	first, err := s.Get(0x321)
	require.NoError(t, err)
	second, err := s.Get(0x321)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("repeated Get of an unchanged record differs (-first +second):\n%s", diff)
	}
}

func Test_Stats_Reflects_Sets_And_Gets(t *testing.T) {
	s := openTestStore(t, canshm.Options{BucketCount: 64})

	require.NoError(t, s.Set(0x10, 1, []byte{1}))
	_, _ = s.Get(0x10)
	_, _ = s.Get(0x999)

	st := s.Stats()
	require.EqualValues(t, 1, st.Sets)
	require.EqualValues(t, 2, st.Gets)
	require.EqualValues(t, 1, st.CurrentEntries)
}
