package chiport

import (
	"sort"

	"github.com/Sam-Yang6/chiport/chi"
)

// A dcqHead is the single distinguished entry of the delay command queue
// that is ready for downstream issue.
type dcqHead struct {
	dbid uint16
	flit *chi.Flit
}

// A delayCommandQueue holds WriteNoSnpPtl requests whose data beats have
// not all arrived. Issue is deferred until the matching write data buffer
// entry is ready; a stalled queue raises a timeout that backpressures the
// admission pipeline.
type delayCommandQueue struct {
	entries  map[uint16]*chi.Flit
	head     *dcqHead
	hasReady bool
	timedOut bool

	timeoutCounter   uint
	timeoutThreshold uint
	capacity         int

	wdb *writeDataBuffer
}

func newDelayCommandQueue(
	capacity int,
	timeoutThreshold uint,
	wdb *writeDataBuffer,
) *delayCommandQueue {
	return &delayCommandQueue{
		entries:          make(map[uint16]*chi.Flit),
		timeoutThreshold: timeoutThreshold,
		capacity:         capacity,
		wdb:              wdb,
	}
}

// allocateEntry stages an admitted partial write under its DBID.
func (q *delayCommandQueue) allocateEntry(flit *chi.Flit, dbid uint16) {
	q.entries[dbid] = flit
}

// checkReady runs once per rising edge. It refreshes the timeout state,
// then promotes the first waiting entry (in DBID order) whose data has
// fully arrived.
func (q *delayCommandQueue) checkReady() {
	q.timedOut = q.timeoutCounter > q.timeoutThreshold

	if q.hasReady || q.head != nil {
		if !q.timedOut {
			q.timeoutCounter++
		}
		return
	}

	dbids := make([]int, 0, len(q.entries))
	for dbid := range q.entries {
		dbids = append(dbids, int(dbid))
	}
	sort.Ints(dbids)

	for _, dbid := range dbids {
		if q.wdb.isEntryReady(uint16(dbid)) {
			q.hasReady = true
			q.moveToHead(uint16(dbid))
			return
		}
	}

	// Entries waiting for data also age the queue.
	if len(q.entries) > 0 && !q.timedOut {
		q.timeoutCounter++
	}
}

func (q *delayCommandQueue) moveToHead(dbid uint16) {
	q.head = &dcqHead{dbid: dbid, flit: q.entries[dbid]}
	delete(q.entries, dbid)
	q.wdb.removePartialID(dbid)
}

// getHead returns the head entry, or nil if none is ready.
func (q *delayCommandQueue) getHead() *dcqHead {
	return q.head
}

// pop clears the head and resets the timeout state.
func (q *delayCommandQueue) pop() {
	q.head = nil
	q.timedOut = false
	q.timeoutCounter = 0
	q.hasReady = false
}

func (q *delayCommandQueue) size() int {
	return len(q.entries)
}

func (q *delayCommandQueue) isTimeout() bool {
	return q.timedOut
}

func (q *delayCommandQueue) isReady() bool {
	return q.hasReady
}
