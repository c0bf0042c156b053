package chiport

import (
	"log"
	"sort"

	"github.com/Sam-Yang6/chiport/chi"
)

// A readInfoTable records the request context of outstanding reads,
// indexed by a tag drawn from a free set.
type readInfoTable struct {
	freeTags []uint16
	entries  map[uint16]*chi.Flit
	capacity int
}

func newReadInfoTable(capacity int) *readInfoTable {
	t := &readInfoTable{
		entries:  make(map[uint16]*chi.Flit),
		capacity: capacity,
	}
	for i := 0; i < capacity; i++ {
		t.freeTags = append(t.freeTags, uint16(i))
	}
	return t
}

// allocateTag pops the smallest free tag.
func (t *readInfoTable) allocateTag() uint16 {
	if len(t.freeTags) == 0 {
		log.Panic("chiport: read info tag pool exhausted")
	}
	tag := t.freeTags[0]
	t.freeTags = t.freeTags[1:]
	return tag
}

// record stores the request flit under the tag.
func (t *readInfoTable) record(tag uint16, flit *chi.Flit) {
	t.entries[tag] = flit
}

// lookup returns the request flit stored under the tag.
func (t *readInfoTable) lookup(tag uint16) *chi.Flit {
	flit, found := t.entries[tag]
	if !found {
		log.Panicf("chiport: read data returned for unknown tag %d", tag)
	}
	return flit
}

// release destroys the entry and returns its tag to the free set.
func (t *readInfoTable) release(tag uint16) {
	if _, found := t.entries[tag]; !found {
		log.Panicf("chiport: release of unallocated tag %d", tag)
	}
	delete(t.entries, tag)
	i := sort.Search(len(t.freeTags), func(i int) bool {
		return t.freeTags[i] >= tag
	})
	t.freeTags = append(t.freeTags, 0)
	copy(t.freeTags[i+1:], t.freeTags[i:])
	t.freeTags[i] = tag
}

func (t *readInfoTable) size() int {
	return len(t.entries)
}
