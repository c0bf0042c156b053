package chiport

import (
	"log"
	"reflect"

	"github.com/Sam-Yang6/chiport/chi"
	"github.com/Sam-Yang6/chiport/p2cfifo"
	"github.com/sarchlab/akita/v3/sim"
)

// A Comp is a CHI target port. It accepts request, data, and credit-return
// flits from a requester node, admits or retries each request, generates
// the matching CHI responses, schedules backing reads and writes to a
// memory controller, and returns read data on the DAT channel.
type Comp struct {
	*sim.TickingComponent

	topPort    sim.Port
	bottomPort sim.Port

	// MemCtrlPort is the memory controller port the bridge dispatches
	// downstream transactions to.
	MemCtrlPort sim.Port

	channels [chi.NumChannels]*channelState
	peerPort sim.Port
	srcID    int

	rxQueueS1 []*chi.Flit
	rxQueueS2 []*chi.Flit
	grantS1   bool
	grantS2   bool

	grantDCQS1 bool
	grantDCQS2 bool

	rspFlitPending *flitEntry

	p2cFIFO    *p2cfifo.FIFO
	respQueues *responseQueues
	resources  *resourceManager
	retryMgr   *retryResourceManager
	wdb        *writeDataBuffer
	rdinfo     *readInfoTable
	dcq        *delayCommandQueue
	crq        *cmoRespQueue

	inflight map[string]*dbExtension

	dataWidthBytes uint
	maxLinkCredits int
	numSources     int

	rdQoSThreshold       uint8
	wrQoSThreshold       uint8
	qosMedThreshold      uint8
	qosHighThreshold     uint8
	qosVeryHighThreshold uint8
}

// Tick runs one full clock cycle: inbound message collection, the rising
// edge sequence, then the falling edge credit and flit emission.
func (c *Comp) Tick(now sim.VTimeInSec) bool {
	madeProgress := c.collectIncoming(now)
	madeProgress = c.risingEdge(now) || madeProgress
	madeProgress = c.fallingEdge(now) || madeProgress

	return madeProgress || c.hasPendingWork()
}

// collectIncoming drains the akita ports: CHI flits route into their
// channel's RX queue, memory-controller responses go to the bridge.
func (c *Comp) collectIncoming(now sim.VTimeInSec) bool {
	madeProgress := false

	for {
		msg := c.topPort.Peek()
		if msg == nil {
			break
		}

		flit, ok := msg.(*chi.Flit)
		if !ok {
			log.Panicf("chiport: cannot handle message of type %s",
				reflect.TypeOf(msg))
		}
		if c.peerPort == nil {
			c.peerPort = flit.Src
		}

		channel := flit.Phase.Channel
		if channel >= chi.NumChannels ||
			!c.channels[channel].receiveFlit(flit) {
			log.Panicf("chiport: flit on inactive channel %s",
				channel)
		}

		c.topPort.Retrieve(now)
		madeProgress = true
	}

	for {
		msg := c.bottomPort.Peek()
		if msg == nil {
			break
		}
		c.handleDownstreamRsp(msg)
		c.bottomPort.Retrieve(now)
		madeProgress = true
	}

	return madeProgress
}

// risingEdge runs the posedge sequence: credit refresh, RSP promotion and
// arbitration, DCQ readiness, retry condition refresh and PCrdGrant
// minting, DAT drain, then the request pipeline.
func (c *Comp) risingEdge(now sim.VTimeInSec) bool {
	madeProgress := false

	// A PCrdGrant parked last cycle joins the Retry queue now, unless
	// last cycle's RetryAck raised the hazard bit.
	c.respQueues.mergeHoldingSlot()

	c.channels[chi.ChannelREQ].rxCreditsUpdate()
	c.channels[chi.ChannelDAT].rxCreditsUpdate()

	if c.rspFlitPending != nil {
		c.channels[chi.ChannelRSP].pushTX(*c.rspFlitPending)
		c.rspFlitPending = nil
		madeProgress = true
	}
	if c.respQueues.hasRspPending() {
		entry := c.respQueues.pop(c.respQueues.arbiter())
		c.rspFlitPending = &entry
		madeProgress = true
	}

	c.dcq.checkReady()

	c.retryMgr.updateConditions()
	if !c.respQueues.isPCrdHoldingOccupied() &&
		!c.retryMgr.isEmpty() && c.retryMgr.pcrdAvailable() {
		c.mintPCrdGrant()
		madeProgress = true
	}

	madeProgress = c.drainDatRX() || madeProgress

	madeProgress = c.p2cPop(now) || madeProgress
	madeProgress = c.decisionReqStage() || madeProgress
	madeProgress = c.decodeReqStage() || madeProgress
	madeProgress = c.intfReqStage() || madeProgress

	return madeProgress
}

// mintPCrdGrant asks the retry manager for a winner and parks the grant in
// the holding slot, recording the promise in the class's P-credit counter.
func (c *Comp) mintPCrdGrant() {
	class, bucket, srcID := c.retryMgr.genPCrd()

	phase := chi.Phase{
		Channel:   chi.ChannelRSP,
		RspOpcode: chi.RspOpcodePCrdGrant,
		QoS:       uint8(bucket),
		TgtID:     srcID,
		SrcID:     uint16(c.srcID),
		PCrdType:  uint8(class),
	}
	c.respQueues.pcrdHolding = &flitEntry{phase: phase}
	c.resources.pcreditInc(class)
}

// drainDatRX consumes one inbound write-data beat.
func (c *Comp) drainDatRX() bool {
	datCh := c.channels[chi.ChannelDAT]
	if len(datCh.rxQueue) == 0 {
		return false
	}

	flit := datCh.popRX()
	switch flit.Phase.DatOpcode {
	case chi.DatOpcodeNonCopyBackWrData,
		chi.DatOpcodeNCBWrDataCompAck,
		chi.DatOpcodeWriteDataCancel:
		c.wdb.receiveWDatFlit(flit)
	default:
		log.Panicf("chiport: unexpected write data opcode %s",
			flit.Phase.DatOpcode)
	}

	return true
}

// fallingEdge issues link credits and sends staged TX flits back to the
// peer.
func (c *Comp) fallingEdge(now sim.VTimeInSec) bool {
	if c.peerPort == nil {
		return false
	}

	madeProgress := false
	for _, channel := range []chi.Channel{
		chi.ChannelREQ, chi.ChannelRSP, chi.ChannelDAT,
	} {
		madeProgress = c.channels[channel].sendFlits(
			func(entry flitEntry) bool {
				flit := chi.FlitBuilder{}.
					WithSendTime(now).
					WithSrc(c.topPort).
					WithDst(c.peerPort).
					WithPayload(entry.payload).
					WithPhase(entry.phase).
					Build()
				return c.topPort.Send(flit) == nil
			}) || madeProgress
	}

	return madeProgress
}

// hasPendingWork reports whether any state can still advance without new
// input, so the component keeps ticking while work is in flight.
func (c *Comp) hasPendingWork() bool {
	for _, channel := range c.channels {
		if channel.active && channel.hasPendingWork() {
			return true
		}
	}

	if len(c.rxQueueS1) > 0 || len(c.rxQueueS2) > 0 ||
		c.grantS1 || c.grantS2 || c.grantDCQS1 || c.grantDCQS2 {
		return true
	}
	if c.rspFlitPending != nil || c.respQueues.hasRspPending() ||
		c.respQueues.isPCrdHoldingOccupied() || c.respQueues.blocked {
		return true
	}
	if c.dcq.getHead() != nil || c.dcq.isReady() ||
		(c.dcq.size() > 0 && !c.dcq.isTimeout()) {
		return true
	}
	if c.hasDispatchableP2C() {
		return true
	}
	if !c.respQueues.isPCrdHoldingOccupied() &&
		!c.retryMgr.isEmpty() && c.retryMgr.pcrdAvailable() {
		return true
	}

	return false
}

func (c *Comp) hasDispatchableP2C() bool {
	for i := 0; i < c.p2cFIFO.Size(); i++ {
		rec, _ := c.p2cFIFO.Index(i)
		if rec.Kind != p2cfifo.KindWrite || rec.IsZeroWrite ||
			c.wdb.isEntryReady(rec.DBID) {
			return true
		}
	}
	return false
}
