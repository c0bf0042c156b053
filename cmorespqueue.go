package chiport

import (
	"log"

	"github.com/Sam-Yang6/chiport/chi"
)

// A cmoRespQueue stages admitted cache-maintenance operations until their
// completion response is generated, keyed by transaction ID.
type cmoRespQueue struct {
	entries  map[uint16]*chi.Flit
	capacity int
}

func newCMORespQueue(capacity int) *cmoRespQueue {
	return &cmoRespQueue{
		entries:  make(map[uint16]*chi.Flit),
		capacity: capacity,
	}
}

func (q *cmoRespQueue) allocate(txnID uint16, flit *chi.Flit) {
	if len(q.entries) >= q.capacity {
		log.Panic("chiport: CMO response queue exhausted")
	}
	q.entries[txnID] = flit
}

func (q *cmoRespQueue) release(txnID uint16) {
	if _, found := q.entries[txnID]; !found {
		log.Panicf("chiport: release of unknown CMO txn %d", txnID)
	}
	delete(q.entries, txnID)
}

func (q *cmoRespQueue) size() int {
	return len(q.entries)
}
