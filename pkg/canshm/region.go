package canshm

import (
	"errors"
	"fmt"
	"sync"
	"syscall"
)

// fileIdentity identifies a region file across multiple in-process
// handles, grounded on pkg/slotcache's {dev,ino} fileIdentity /
// globalRegistry pattern.
type fileIdentity struct {
	dev uint64
	ino uint64
}

// registryEntry holds the in-process locks shared by every Store
// handle attached to the same region file in this process: regionMu
// backs acquireRegionLock, bucketMus backs acquireBucketLock. Because
// fcntl byte-range locks are scoped to (process, inode) rather than
// (goroutine, fd), two Store handles opened against the same file by
// one process must share these mutexes — each handle allocating its
// own would make both the in-process and the fcntl half of locking a
// no-op between them.
type registryEntry struct {
	regionMu  sync.Mutex
	bucketMus []sync.Mutex
}

var globalRegistry sync.Map // fileIdentity -> *registryEntry

func getOrCreateRegistryEntry(id fileIdentity, bucketCount uint32) *registryEntry {
	v, _ := globalRegistry.LoadOrStore(id, &registryEntry{bucketMus: make([]sync.Mutex, bucketCount)})
	return v.(*registryEntry)
}

// Store is an attached handle to a CAN shared-memory region.
type Store struct {
	fd          int
	data        []byte
	size        int64
	bucketCount uint32
	variant     Variant
	perfectHash *PerfectHashTable

	disableLocking bool
	path           string
	identity       fileIdentity

	// registry holds the in-process regionMu/bucketMus shared by every
	// Store handle in this process attached to the same region file
	// (see registryEntry's doc comment).
	registry *registryEntry

	closeMu sync.Mutex
	closed  bool
}

func getFileIdentity(fd int) (fileIdentity, error) {
	var stat syscall.Stat_t
	if err := syscall.Fstat(fd, &stat); err != nil {
		return fileIdentity{}, err
	}
	return fileIdentity{dev: uint64(stat.Dev), ino: uint64(stat.Ino)}, nil
}

// Open attaches to the region file named by opts.Path, creating and
// initializing it on first attach if opts.CreateIfMissing is set.
func Open(opts Options) (*Store, error) {
	phTable := opts.PerfectHashTable
	if opts.Variant == VariantPerfectHash && phTable == nil {
		phTable = DefaultPerfectHashTable()
	}

	bucketCount := opts.BucketCount
	if bucketCount == 0 {
		if opts.Variant == VariantPerfectHash {
			// The perfect-hash indexer only ever addresses slots
			// [0, TableSize): sizing the region to DefaultBucketCount
			// here would just allocate unreachable buckets.
			bucketCount = phTable.TableSize
		} else {
			bucketCount = DefaultBucketCount
		}
	}

	fd, err := syscall.Open(opts.Path, syscall.O_RDWR, 0)
	if err != nil {
		if !errors.Is(err, syscall.ENOENT) {
			return nil, fmt.Errorf("%w: %w", ErrInitFailed, err)
		}
		if !opts.CreateIfMissing {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, opts.Path)
		}
		fd, err = createRegionFile(opts.Path, bucketCount)
		if err != nil {
			return nil, err
		}
	}

	want := regionSize(bucketCount)

	var stat syscall.Stat_t
	if err := syscall.Fstat(fd, &stat); err != nil {
		_ = syscall.Close(fd)
		return nil, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}
	if stat.Size == 0 {
		if err := syscall.Ftruncate(fd, want); err != nil {
			_ = syscall.Close(fd)
			return nil, fmt.Errorf("%w: %w", ErrInitFailed, err)
		}
	} else if stat.Size != want {
		_ = syscall.Close(fd)
		return nil, fmt.Errorf("%w: region file size %d does not match expected %d for bucket_count=%d",
			ErrIncompatible, stat.Size, want, bucketCount)
	}

	data, err := syscall.Mmap(fd, 0, int(want), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		_ = syscall.Close(fd)
		return nil, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	identity, err := getFileIdentity(fd)
	if err != nil {
		_ = syscall.Munmap(data)
		_ = syscall.Close(fd)
		return nil, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	s := &Store{
		fd:             fd,
		data:           data,
		size:           want,
		bucketCount:    bucketCount,
		variant:        opts.Variant,
		perfectHash:    phTable,
		disableLocking: opts.DisableLocking,
		path:           opts.Path,
		identity:       identity,
		registry:       getOrCreateRegistryEntry(identity, bucketCount),
	}

	if err := s.ensureInitialized(bucketCount, opts.Variant); err != nil {
		_ = syscall.Munmap(data)
		_ = syscall.Close(fd)
		return nil, err
	}

	return s, nil
}

// createRegionFile creates a new, correctly-sized region file,
// tolerating the benign race of two concurrent first-creators
// (spec.md §4.1/§9): if another process wins the O_EXCL create, this
// process simply reopens the file the winner produced.
func createRegionFile(path string, bucketCount uint32) (int, error) {
	fd, err := syscall.Open(path, syscall.O_RDWR|syscall.O_CREATE|syscall.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, syscall.EEXIST) {
			fd, err = syscall.Open(path, syscall.O_RDWR, 0)
			if err != nil {
				return -1, fmt.Errorf("%w: %w", ErrInitFailed, err)
			}
			return fd, nil
		}
		return -1, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	if err := syscall.Ftruncate(fd, regionSize(bucketCount)); err != nil {
		_ = syscall.Close(fd)
		return -1, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}
	return fd, nil
}

// ensureInitialized performs the magic-number-gated one-time region
// initialization described in spec.md §4.1: a zero magic means this
// process is (or may race to be) the first attacher and must zero the
// header/bucket table and write magic+version; any other value is
// either the canonical magic (no-op) or corruption.
func (s *Store) ensureInitialized(bucketCount uint32, variant Variant) error {
	release, err := s.acquireRegionLock()
	if err != nil {
		return err
	}
	defer release()

	magic := atomicLoadUint32(s.data, offMagic)
	switch magic {
	case 0:
		for i := range s.data {
			s.data[i] = 0
		}
		encodeNewHeader(s.data, bucketCount, variant)
		return nil
	case regionMagic:
		return s.validateHeader(bucketCount, variant)
	default:
		return fmt.Errorf("%w: bad magic %#x", ErrCorrupt, magic)
	}
}

func (s *Store) validateHeader(bucketCount uint32, variant Variant) error {
	h := decodeHeader(s.data)
	if h.Version != regionVersion {
		return fmt.Errorf("%w: version %d", ErrIncompatible, h.Version)
	}
	if h.HeaderSize != headerSize || h.BucketSize != bucketSize {
		return fmt.Errorf("%w: layout mismatch", ErrIncompatible)
	}
	if h.BucketCount != bucketCount {
		return fmt.Errorf("%w: bucket_count %d != %d", ErrIncompatible, h.BucketCount, bucketCount)
	}
	if h.Variant != variant {
		return fmt.Errorf("%w: variant %d != %d", ErrIncompatible, h.Variant, variant)
	}
	if !validateHeaderCRC(s.data) {
		return fmt.Errorf("%w: header checksum mismatch", ErrCorrupt)
	}
	return nil
}

// Close detaches from the region. The backing file is never removed;
// it persists for other attached processes until removed out-of-band,
// matching the original can_shm_cleanup.
func (s *Store) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true

	if err := syscall.Munmap(s.data); err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}
	return syscall.Close(s.fd)
}

func (s *Store) checkOpen() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// acquireRegionLock takes the region-wide lock: the in-process
// registry mutex first (so same-process handles never pay for a
// redundant fcntl round-trip, and so they actually serialize against
// each other at all — see registryEntry), then — unless DisableLocking
// is set — the cross-process fcntl byte-range lock over regionLockByte.
func (s *Store) acquireRegionLock() (func(), error) {
	s.registry.regionMu.Lock()
	if s.disableLocking {
		return s.registry.regionMu.Unlock, nil
	}
	release, err := lockRegionRange(s.fd)
	if err != nil {
		s.registry.regionMu.Unlock()
		return nil, err
	}
	return func() {
		release()
		s.registry.regionMu.Unlock()
	}, nil
}

// acquireBucketLock takes the per-bucket lock backing the spec's
// per-bucket process-shared mutex: the in-process registry bucketMus
// entry first, then — unless DisableLocking is set — the cross-process
// fcntl byte-range lock over the bucket's own byte range. The
// in-process mutex is required because POSIX record locks are scoped
// to (process, inode): a second F_SETLKW from the same process over a
// range it already holds succeeds immediately rather than blocking, so
// fcntl alone would not serialize two Store handles in this process —
// routing through the shared registryEntry instead of a per-handle
// mutex is what actually closes that gap.
func (s *Store) acquireBucketLock(index uint32) (func(), error) {
	s.registry.bucketMus[index].Lock()
	if s.disableLocking {
		return s.registry.bucketMus[index].Unlock, nil
	}
	release, err := lockBucketRange(s.fd, index)
	if err != nil {
		s.registry.bucketMus[index].Unlock()
		return nil, err
	}
	return func() {
		release()
		s.registry.bucketMus[index].Unlock()
	}, nil
}

// bumpGlobalSequenceAndStats increments the region-wide sequence
// counter and the given statistic. Must be called with the region
// lock held.
func (s *Store) bumpGlobalSequenceAndStats(statOffset int64) {
	seq := atomicLoadUint64(s.data, offGlobalSequence)
	atomicStoreUint64(s.data, offGlobalSequence, seq+1)
	n := atomicLoadUint64(s.data, statOffset)
	atomicStoreUint64(s.data, statOffset, n+1)
}
