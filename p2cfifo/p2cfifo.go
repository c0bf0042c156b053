// Package p2cfifo provides the Port-to-Controller FIFO: the staging queue
// of admitted requests awaiting dispatch to the memory controller.
package p2cfifo

import (
	"errors"
	"fmt"

	"github.com/Sam-Yang6/chiport/chi"
)

// A Kind discriminates what a record carries an index into.
type Kind int

// Record kinds. A read record carries a read-info tag, a write record
// carries a DBID, a CMO record carries neither.
const (
	KindRead Kind = iota
	KindWrite
	KindCMO
)

// A Record is one admitted request staged for the memory controller.
type Record struct {
	Kind Kind
	Flit *chi.Flit

	DBID uint16 // valid for KindWrite
	Tag  uint16 // valid for KindRead

	Address     uint64
	Offset      uint64
	NumBytes    uint64
	QoS         uint8
	SrcID       uint16
	IsZeroWrite bool
	IsDateless  bool
}

// NewReadRecord builds a record for an admitted read holding the given
// read-info tag.
func NewReadRecord(flit *chi.Flit, tag uint16) *Record {
	r := newRecord(flit)
	r.Kind = KindRead
	r.Tag = tag
	return r
}

// NewWriteRecord builds a record for an admitted write holding the given
// DBID.
func NewWriteRecord(flit *chi.Flit, dbid uint16) *Record {
	r := newRecord(flit)
	r.Kind = KindWrite
	r.DBID = dbid
	r.IsZeroWrite = flit.Phase.ReqOpcode == chi.ReqOpcodeWriteNoSnpZero
	return r
}

// NewCMORecord builds a record for an admitted cache-maintenance
// operation.
func NewCMORecord(flit *chi.Flit) *Record {
	r := newRecord(flit)
	r.Kind = KindCMO
	r.IsDateless = true
	return r
}

func newRecord(flit *chi.Flit) *Record {
	return &Record{
		Flit:     flit,
		Address:  flit.Payload.Address,
		Offset:   flit.Payload.Address &^ chi.CacheLineAddressMask,
		NumBytes: flit.Payload.SizeBytes(),
		QoS:      flit.Phase.QoS,
		SrcID:    flit.Phase.SrcID,
	}
}

// FIFO is a bounded first-in-first-out queue of admission records.
type FIFO struct {
	elements []*Record
	capacity int
}

// NewFIFO creates a FIFO with the given capacity.
func NewFIFO(capacity int) *FIFO {
	f := new(FIFO)
	f.capacity = capacity
	return f
}

// Enqueue adds a record at the tail of the FIFO.
func (f *FIFO) Enqueue(rec *Record) error {
	if f.IsFull() {
		return errors.New("fifo is full")
	}
	f.elements = append(f.elements, rec)
	return nil
}

// DequeueAt removes and returns the i-th record.
func (f *FIFO) DequeueAt(i int) (*Record, error) {
	if f.IsEmpty() {
		return nil, errors.New("fifo is empty")
	}
	if i < 0 || i >= len(f.elements) {
		return nil, fmt.Errorf(
			"index %d out of bounds for fifo of length %d",
			i, len(f.elements))
	}
	rec := f.elements[i]
	f.elements = append(f.elements[:i], f.elements[i+1:]...)
	return rec, nil
}

// Index returns the i-th record without removing it.
func (f *FIFO) Index(i int) (*Record, error) {
	if i < 0 || i >= len(f.elements) {
		return nil, errors.New("index out of range")
	}
	return f.elements[i], nil
}

// IsEmpty checks if the FIFO holds no records.
func (f *FIFO) IsEmpty() bool {
	return len(f.elements) == 0
}

// IsFull checks if the FIFO is at capacity.
func (f *FIFO) IsFull() bool {
	return len(f.elements) == f.capacity
}

// Size returns the number of staged records.
func (f *FIFO) Size() int {
	return len(f.elements)
}

// Capacity returns the capacity of the FIFO.
func (f *FIFO) Capacity() int {
	return f.capacity
}

// FreeEntries returns the number of unoccupied slots.
func (f *FIFO) FreeEntries() int {
	return f.capacity - len(f.elements)
}
