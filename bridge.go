package chiport

import (
	"log"
	"reflect"

	"github.com/Sam-Yang6/chiport/chi"
	"github.com/Sam-Yang6/chiport/p2cfifo"
	"github.com/sarchlab/akita/v3/mem/mem"
	"github.com/sarchlab/akita/v3/sim"
	"github.com/sarchlab/akita/v3/tracing"
)

// A dbExtension is the side-channel context attached to a downstream
// transaction, consulted when the memory controller responds.
type dbExtension struct {
	kind        p2cfifo.Kind
	dbid        uint16
	tag         uint16
	qos         uint8
	srcID       uint16
	isZeroWrite bool

	timeOfGeneration sim.VTimeInSec
	memReq           sim.Msg
	flit             *chi.Flit
}

// p2cPop drains at most one staged record toward the memory controller.
// Reads dispatch immediately; a write is skipped until its data buffer
// entry is ready; CMOs complete locally.
func (c *Comp) p2cPop(now sim.VTimeInSec) bool {
	if c.p2cFIFO.Size() == 0 {
		return false
	}

	for i := 0; i < c.p2cFIFO.Size(); i++ {
		rec, _ := c.p2cFIFO.Index(i)

		switch rec.Kind {
		case p2cfifo.KindRead:
			if !c.dispatchRead(now, rec) {
				return false
			}
			c.p2cFIFO.DequeueAt(i)
			return true
		case p2cfifo.KindWrite:
			if rec.IsZeroWrite || c.wdb.isEntryReady(rec.DBID) {
				if !c.dispatchWrite(now, rec) {
					return false
				}
				c.p2cFIFO.DequeueAt(i)
				return true
			}
		case p2cfifo.KindCMO:
			c.completeCMO(rec)
			c.p2cFIFO.DequeueAt(i)
			return true
		}
	}

	return false
}

func (c *Comp) dispatchRead(now sim.VTimeInSec, rec *p2cfifo.Record) bool {
	req := mem.ReadReqBuilder{}.
		WithSendTime(now).
		WithSrc(c.bottomPort).
		WithDst(c.MemCtrlPort).
		WithAddress(rec.Address).
		WithByteSize(chi.CacheLineSizeBytes).
		Build()

	if err := c.bottomPort.Send(req); err != nil {
		return false
	}

	c.inflight[req.ID] = &dbExtension{
		kind:             p2cfifo.KindRead,
		tag:              rec.Tag,
		qos:              rec.QoS,
		srcID:            rec.SrcID,
		timeOfGeneration: now,
		memReq:           req,
		flit:             rec.Flit,
	}

	tracing.TraceReqInitiate(req, c, tracing.MsgIDAtReceiver(rec.Flit, c))

	return true
}

func (c *Comp) dispatchWrite(now sim.VTimeInSec, rec *p2cfifo.Record) bool {
	var line [chi.CacheLineSizeBytes]byte
	var byteEnable uint64

	if rec.IsZeroWrite {
		byteEnable = chi.ValidBytesMask(rec.Flit.Payload)
	} else {
		line = c.wdb.entryData(rec.DBID)
		byteEnable = c.wdb.entryByteEnable(rec.DBID) &
			chi.ValidBytesMask(rec.Flit.Payload)
	}

	data := make([]byte, chi.CacheLineSizeBytes)
	copy(data, line[:])
	dirtyMask := make([]bool, chi.CacheLineSizeBytes)
	for i := range dirtyMask {
		dirtyMask[i] = byteEnable>>i&1 != 0
	}

	req := mem.WriteReqBuilder{}.
		WithSendTime(now).
		WithSrc(c.bottomPort).
		WithDst(c.MemCtrlPort).
		WithAddress(rec.Address).
		WithData(data).
		WithDirtyMask(dirtyMask).
		Build()

	if err := c.bottomPort.Send(req); err != nil {
		return false
	}

	c.inflight[req.ID] = &dbExtension{
		kind:             p2cfifo.KindWrite,
		dbid:             rec.DBID,
		qos:              rec.QoS,
		srcID:            rec.SrcID,
		isZeroWrite:      rec.IsZeroWrite,
		timeOfGeneration: now,
		memReq:           req,
		flit:             rec.Flit,
	}

	tracing.TraceReqInitiate(req, c, tracing.MsgIDAtReceiver(rec.Flit, c))

	return true
}

// completeCMO finishes a dateless operation: the Comp is staged on the CRP
// queue and the staging slot is released. Downstream propagation of the
// cleaning semantics belongs to the memory controller.
func (c *Comp) completeCMO(rec *p2cfifo.Record) {
	c.respQueues.push(respQueueCRP, flitEntry{
		payload: rec.Flit.Payload,
		phase: chi.MakeResponsePhase(
			rec.Flit.Phase, chi.RspOpcodeComp, 0),
	})
	c.crq.release(rec.Flit.Phase.TxnID)
	tracing.TraceReqComplete(rec.Flit, c)
}

// handleDownstreamRsp consumes one memory-controller response: read data
// is spliced into the stored request context and returned as CompData
// flits; a write completion releases the DBID.
func (c *Comp) handleDownstreamRsp(msg sim.Msg) {
	switch rsp := msg.(type) {
	case *mem.DataReadyRsp:
		ext, found := c.inflight[rsp.RespondTo]
		if !found {
			log.Panicf("chiport: data for unknown transaction %s",
				rsp.RespondTo)
		}

		flit := c.rdinfo.lookup(ext.tag)
		copy(flit.Payload.Data[:], rsp.Data)

		datPhase := chi.MakeReadDataPhase(
			flit.Phase, chi.DatOpcodeCompData)
		for _, dataID := range chi.DataIDs(
			flit.Payload, c.dataWidthBytes) {
			datPhase.DataID = dataID
			c.channels[chi.ChannelDAT].pushTX(flitEntry{
				payload: flit.Payload,
				phase:   datPhase,
			})
		}

		c.rdinfo.release(ext.tag)
		delete(c.inflight, rsp.RespondTo)

		tracing.TraceReqFinalize(ext.memReq, c)
		tracing.TraceReqComplete(ext.flit, c)

	case *mem.WriteDoneRsp:
		ext, found := c.inflight[rsp.RespondTo]
		if !found {
			log.Panicf("chiport: done for unknown transaction %s",
				rsp.RespondTo)
		}

		if !ext.isZeroWrite {
			c.wdb.release(ext.dbid)
		}
		delete(c.inflight, rsp.RespondTo)

		tracing.TraceReqFinalize(ext.memReq, c)
		tracing.TraceReqComplete(ext.flit, c)

	default:
		log.Panicf("chiport: cannot handle response of type %s",
			reflect.TypeOf(msg))
	}
}
