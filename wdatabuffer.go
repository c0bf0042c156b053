package chiport

import (
	"log"
	"sort"

	"github.com/Sam-Yang6/chiport/chi"
)

// A writeDataBufferEntry accumulates the data beats of one write request.
type writeDataBufferEntry struct {
	data       [chi.CacheLineSizeBytes]byte
	byteEnable uint64
	beatCount  uint
}

// isReady reports whether every expected beat has arrived.
func (e *writeDataBufferEntry) isReady() bool {
	return e.beatCount == 0
}

// A writeDataBuffer is the pool of write-data slots, allocated by DBID.
type writeDataBuffer struct {
	freeDBIDs      []uint16
	entries        map[uint16]*writeDataBufferEntry
	partialDBIDs   map[uint16]bool
	capacity       int
	dataWidthBytes uint
}

func newWriteDataBuffer(capacity int, dataWidthBytes uint) *writeDataBuffer {
	b := &writeDataBuffer{
		entries:        make(map[uint16]*writeDataBufferEntry),
		partialDBIDs:   make(map[uint16]bool),
		capacity:       capacity,
		dataWidthBytes: dataWidthBytes,
	}
	for i := 0; i < capacity; i++ {
		b.freeDBIDs = append(b.freeDBIDs, uint16(i))
	}
	return b
}

// allocateDBID pops the smallest free DBID.
func (b *writeDataBuffer) allocateDBID() uint16 {
	if len(b.freeDBIDs) == 0 {
		log.Panic("chiport: write data buffer DBID pool exhausted")
	}
	dbid := b.freeDBIDs[0]
	b.freeDBIDs = b.freeDBIDs[1:]
	return dbid
}

// allocateEntry creates the slot for an admitted write. The expected beat
// count follows the request size and the data path width.
func (b *writeDataBuffer) allocateEntry(flit *chi.Flit, dbid uint16) {
	entry := &writeDataBufferEntry{
		beatCount: chi.BeatCount(flit.Payload, b.dataWidthBytes),
	}
	for i := range entry.data {
		entry.data[i] = 0xff
	}
	b.entries[dbid] = entry
}

// insertPartialID marks a DBID as belonging to a WriteNoSnpPtl so the
// delay command queue can identify it.
func (b *writeDataBuffer) insertPartialID(dbid uint16) {
	b.partialDBIDs[dbid] = true
}

func (b *writeDataBuffer) removePartialID(dbid uint16) {
	delete(b.partialDBIDs, dbid)
}

// receiveWDatFlit applies one inbound data beat. The flit's TxnID carries
// the DBID handed out in the DBIDResp/CompDBIDResp; the last beat copies
// the full line.
func (b *writeDataBuffer) receiveWDatFlit(flit *chi.Flit) {
	dbid := flit.Phase.TxnID
	entry, found := b.entries[dbid]
	if !found {
		log.Panicf("chiport: write data for unallocated DBID %d", dbid)
	}
	if entry.beatCount == 0 {
		log.Panicf("chiport: extra write data beat for DBID %d", dbid)
	}

	entry.byteEnable |= flit.Payload.ByteEnable
	entry.beatCount--
	if entry.beatCount == 0 {
		entry.data = flit.Payload.Data
	}
}

// isEntryReady reports whether the entry holds all its beats.
func (b *writeDataBuffer) isEntryReady(dbid uint16) bool {
	entry, found := b.entries[dbid]
	if !found {
		log.Panicf("chiport: readiness check for unallocated DBID %d",
			dbid)
	}
	return entry.isReady()
}

// entryData returns the assembled cache line of a ready entry.
func (b *writeDataBuffer) entryData(dbid uint16) [chi.CacheLineSizeBytes]byte {
	return b.entries[dbid].data
}

// entryByteEnable returns the accumulated byte enables of the entry's
// beats.
func (b *writeDataBuffer) entryByteEnable(dbid uint16) uint64 {
	return b.entries[dbid].byteEnable
}

// release destroys the entry and returns its DBID to the free set.
func (b *writeDataBuffer) release(dbid uint16) {
	if _, found := b.entries[dbid]; !found {
		log.Panicf("chiport: release of unallocated DBID %d", dbid)
	}
	delete(b.entries, dbid)
	i := sort.Search(len(b.freeDBIDs), func(i int) bool {
		return b.freeDBIDs[i] >= dbid
	})
	b.freeDBIDs = append(b.freeDBIDs, 0)
	copy(b.freeDBIDs[i+1:], b.freeDBIDs[i:])
	b.freeDBIDs[i] = dbid
}

func (b *writeDataBuffer) size() int {
	return len(b.entries)
}
