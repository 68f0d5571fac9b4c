package canshm

// PerfectHashTable implements the VariantPerfectHash index: an
// injective mapping from a fixed, enumerated CanId set to a dense
// slot index, precomputed at construction time and consumed at
// runtime as a pure function (the *construction* of salt/table for an
// arbitrary ID set is out of scope, per spec.md §1 — only evaluation
// of an already-built mapping is in scope here).
//
// Grounded on original_source/can_perfect_hash_demo.h: four "ECU
// groups" selected by the high nibble of the CAN ID, each given a
// contiguous 8-slot region of a 32-slot table; the low 3 bits of the
// ID select the slot within the group.
type PerfectHashTable struct {
	Salt      uint32
	TableSize uint32

	// groupBase maps the CAN ID's (id>>8)&0xF nibble to the base slot
	// index for that group. A group not present here is inadmissible.
	groupBase map[uint32]uint32

	// reverse maps slot index back to the CanId that owns it, for
	// admissibility verification (rev[index(k)] == k). A slot with no
	// owner holds reverseEmpty.
	reverse []CanId
}

const reverseEmpty = CanId(0xFFFFFFFF)

// perfectHashSalt is the demo construction's salt constant, carried
// unchanged from original_source/can_perfect_hash_demo.h.
const perfectHashSalt = 0x12345678

// DefaultPerfectHashTable returns the reference admissible set from
// the original implementation's demo: four ECU groups of four
// sequential CAN IDs each (Engine, Transmission, Body, ABS), on a
// 32-slot table.
func DefaultPerfectHashTable() *PerfectHashTable {
	t := NewPerfectHashTable(perfectHashSalt, 32, map[uint32]uint32{
		0x1: 0, 0x2: 8, 0x3: 16, 0x4: 24,
	})

	demoIDs := []CanId{
		0x100, 0x101, 0x102, 0x103, // Engine ECU
		0x200, 0x201, 0x202, 0x203, // Transmission ECU
		0x300, 0x301, 0x302, 0x303, // Body ECU
		0x400, 0x401, 0x402, 0x403, // ABS ECU
	}
	for _, id := range demoIDs {
		idx, ok := t.index(id)
		if !ok {
			panic("canshm: default perfect-hash table misconfigured")
		}
		t.reverse[idx] = id
	}
	return t
}

// NewPerfectHashTable builds an (initially empty-mapped) table from a
// salt, total slot count, and per-group base-index assignment; callers
// typically only need DefaultPerfectHashTable, but a caller building a
// different admissible ID set can populate one directly.
func NewPerfectHashTable(salt, tableSize uint32, groupBase map[uint32]uint32) *PerfectHashTable {
	rev := make([]CanId, tableSize)
	for i := range rev {
		rev[i] = reverseEmpty
	}
	return &PerfectHashTable{
		Salt:      salt,
		TableSize: tableSize,
		groupBase: groupBase,
		reverse:   rev,
	}
}

// index computes the forward mapping without checking admissibility.
func (t *PerfectHashTable) index(id CanId) (uint32, bool) {
	group := (uint32(id) >> 8) & 0xF
	base, ok := t.groupBase[group]
	if !ok {
		return 0, false
	}
	idx := base + (uint32(id) & 0x7)
	if idx >= t.TableSize {
		return 0, false
	}
	return idx, true
}

// IsAdmissible reports whether id is a member of this table's
// admissible set: index(id) must be in range and the reverse table at
// that index must map back to id.
func (t *PerfectHashTable) IsAdmissible(id CanId) bool {
	idx, ok := t.index(id)
	if !ok {
		return false
	}
	return t.reverse[idx] == id
}

type perfectHashIndex struct {
	table *PerfectHashTable
}

func (p perfectHashIndex) find(s *Store, id CanId) (uint32, bool, error) {
	if !p.table.IsAdmissible(id) {
		return 0, false, ErrInvalidID
	}
	idx, _ := p.table.index(id)
	off := bucketOffset(idx)
	if readBucketValid(s.data, off) != slotValid {
		return 0, false, nil
	}
	if CanId(atomicLoadUint32(s.data, off+bOffCanID)) != id {
		return 0, false, nil
	}
	return idx, true, nil
}

func (p perfectHashIndex) claim(s *Store, id CanId) (uint32, error) {
	if !p.table.IsAdmissible(id) {
		return 0, ErrInvalidID
	}
	idx, _ := p.table.index(id)
	return idx, nil
}
