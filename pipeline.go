package chiport

import (
	"log"

	"github.com/Sam-Yang6/chiport/chi"
	"github.com/Sam-Yang6/chiport/p2cfifo"
	"github.com/sarchlab/akita/v3/tracing"
)

// qosBucket collapses the 0..15 QoS value to a four-level severity index
// using the three configured thresholds.
func (c *Comp) qosBucket(qos uint8) int {
	switch {
	case qos < c.qosMedThreshold:
		return 0
	case qos < c.qosHighThreshold:
		return 1
	case qos < c.qosVeryHighThreshold:
		return 2
	default:
		return 3
	}
}

// intfReqStage moves one flit from the REQ channel into the decode stage.
// The port learns its own node ID from the first request it sees.
func (c *Comp) intfReqStage() bool {
	reqCh := c.channels[chi.ChannelREQ]
	if len(reqCh.rxQueue) == 0 {
		return false
	}

	flit := reqCh.popRX()
	if c.srcID < 0 {
		c.srcID = int(flit.Phase.TgtID)
	}
	c.rxQueueS1 = append(c.rxQueueS1, flit)

	return true
}

// decodeReqStage evaluates the admission predicate of the request at the
// head of stage 1. When no request is granted, a ready delay-command-queue
// head may claim the cycle's P2C enqueue slot instead.
func (c *Comp) decodeReqStage() bool {
	madeProgress := false

	if len(c.rxQueueS1) > 0 {
		flit := c.rxQueueS1[0]
		grant := false
		toS2 := true

		switch flit.Phase.ReqOpcode {
		case chi.ReqOpcodeReadNoSnp, chi.ReqOpcodeReadNoSnpSep:
			grant = c.admitRead(flit)
		case chi.ReqOpcodeWriteNoSnpPtl:
			grant = c.admitWritePtl(flit)
		case chi.ReqOpcodeWriteNoSnpFull:
			grant = c.admitWriteFull(flit)
		case chi.ReqOpcodeWriteNoSnpZero:
			grant = c.admitWriteZero(flit)
		case chi.ReqOpcodeCleanShared, chi.ReqOpcodeCleanSharedPersist:
			grant = c.admitCMO(flit)
		case chi.ReqOpcodePCrdReturn:
			c.handlePCrdReturn(flit)
			toS2 = false
		case chi.ReqOpcodePrefetchTgt:
			// Accepted without response or resources.
			toS2 = false
		default:
			log.Panicf("chiport: unexpected request opcode %s",
				flit.Phase.ReqOpcode)
		}

		if toS2 && !grant && !c.respQueues.isRspRetryAvail() {
			// No safe room for a RetryAck plus its PCrdGrant;
			// hold the request in stage 1.
			return false
		}

		c.rxQueueS1 = c.rxQueueS1[1:]
		if toS2 {
			c.rxQueueS2 = append(c.rxQueueS2, flit)
			c.grantS1 = grant
		}
		madeProgress = true
	}

	if !c.grantS1 {
		c.grantDCQS1 = c.mayGrantDCQ()
	}

	return madeProgress
}

// mayGrantDCQ checks whether the delay command queue's head may take the
// P2C enqueue slot: the FIFO must keep room for every request the peer's
// outstanding REQ credits could still deliver.
func (c *Comp) mayGrantDCQ() bool {
	if !c.dcq.isReady() {
		return false
	}

	reqCh := c.channels[chi.ChannelREQ]
	creditsInFlight := c.maxLinkCredits - reqCh.rxCreditsAvailable
	return c.p2cFIFO.FreeEntries() >= creditsInFlight
}

// decisionReqStage consumes the grants carried over from the previous
// cycle's decode: it allocates resources and stages responses for granted
// requests, retries denied ones, and drains a granted DCQ head.
func (c *Comp) decisionReqStage() bool {
	c.grantS2, c.grantDCQS2 = c.grantS1, c.grantDCQS1
	c.grantS1, c.grantDCQS1 = false, false

	madeProgress := false

	if len(c.rxQueueS2) > 0 {
		flit := c.rxQueueS2[0]
		c.rxQueueS2 = c.rxQueueS2[1:]

		if c.grantS2 {
			c.admit(flit)
		} else {
			c.genRetryRsp(flit)
		}
		madeProgress = true
	}

	if c.grantDCQS2 {
		head := c.dcq.getHead()
		if head == nil {
			log.Panic(
				"chiport: dcq granted with no entry to promote")
		}

		c.genDCQRsp(head.flit)
		c.mustEnqueueP2C(p2cfifo.NewWriteRecord(head.flit, head.dbid))
		c.dcq.pop()
		madeProgress = true
	}

	return madeProgress
}

func (c *Comp) admit(flit *chi.Flit) {
	phase := flit.Phase

	switch phase.ReqOpcode {
	case chi.ReqOpcodeWriteNoSnpPtl:
		dbid := c.wdb.allocateDBID()
		c.wdb.allocateEntry(flit, dbid)
		c.wdb.insertPartialID(dbid)
		c.dcq.allocateEntry(flit, dbid)
		if !phase.AllowRetry {
			c.resources.pcreditDec(classWrite)
		}
		c.respQueues.push(respQueueDBID, flitEntry{
			payload: flit.Payload,
			phase: chi.MakeResponsePhase(
				phase, chi.RspOpcodeDBIDResp, dbid),
		})

	case chi.ReqOpcodeWriteNoSnpFull:
		dbid := c.wdb.allocateDBID()
		c.wdb.allocateEntry(flit, dbid)
		if !phase.AllowRetry {
			c.resources.pcreditDec(classWrite)
		}
		c.mustEnqueueP2C(p2cfifo.NewWriteRecord(flit, dbid))
		c.respQueues.push(respQueueDBID, flitEntry{
			payload: flit.Payload,
			phase: chi.MakeResponsePhase(
				phase, chi.RspOpcodeCompDBIDResp, dbid),
		})

	case chi.ReqOpcodeWriteNoSnpZero:
		if !phase.AllowRetry {
			c.resources.pcreditDec(classWrite)
		}
		c.mustEnqueueP2C(p2cfifo.NewWriteRecord(flit, 0))
		c.respQueues.push(respQueueCRP, flitEntry{
			payload: flit.Payload,
			phase: chi.MakeResponsePhase(
				phase, chi.RspOpcodeComp, 0),
		})

	case chi.ReqOpcodeReadNoSnp, chi.ReqOpcodeReadNoSnpSep:
		tag := c.rdinfo.allocateTag()
		c.rdinfo.record(tag, flit)
		if !phase.AllowRetry {
			c.resources.pcreditDec(classRead)
		}
		c.mustEnqueueP2C(p2cfifo.NewReadRecord(flit, tag))
		if phase.ReqOpcode == chi.ReqOpcodeReadNoSnpSep ||
			phase.Order == chi.OrderRequestAccepted {
			c.respQueues.push(respQueueREQ, flitEntry{
				payload: flit.Payload,
				phase: chi.MakeResponsePhase(
					phase, chi.RspOpcodeReadReceipt, 0),
			})
		}

	case chi.ReqOpcodeCleanShared, chi.ReqOpcodeCleanSharedPersist:
		c.crq.allocate(phase.TxnID, flit)
		if !phase.AllowRetry {
			c.resources.pcreditDec(classCMO)
		}
		c.mustEnqueueP2C(p2cfifo.NewCMORecord(flit))

	default:
		log.Panicf("chiport: unexpected opcode %s in decision stage",
			phase.ReqOpcode)
	}

	tracing.TraceReqReceive(flit, c)
}

func (c *Comp) mustEnqueueP2C(rec *p2cfifo.Record) {
	if err := c.p2cFIFO.Enqueue(rec); err != nil {
		log.Panic("chiport: p2c fifo overflow")
	}
}

// genRetryRsp stages a RetryAck, raises the PCrdGrant hazard bit, and
// accounts the denial in the retry matrix.
func (c *Comp) genRetryRsp(flit *chi.Flit) {
	class := classOfReq(flit.Phase.ReqOpcode)
	if class == classInvalid {
		log.Panicf("chiport: retry for unexpected opcode %s",
			flit.Phase.ReqOpcode)
	}
	if int(flit.Phase.SrcID) >= c.numSources {
		log.Panicf("chiport: source id %d out of range",
			flit.Phase.SrcID)
	}

	c.respQueues.push(respQueueRetry, flitEntry{
		payload: flit.Payload,
		phase: chi.MakeResponsePhase(
			flit.Phase, chi.RspOpcodeRetryAck, 0),
	})
	c.respQueues.blocked = true
	c.retryMgr.cntInc(class, c.qosBucket(flit.Phase.QoS),
		flit.Phase.SrcID)
}

// genDCQRsp stages the Comp of a drained delay-command-queue entry.
func (c *Comp) genDCQRsp(flit *chi.Flit) {
	c.respQueues.push(respQueueComp, flitEntry{
		payload: flit.Payload,
		phase: chi.MakeResponsePhase(
			flit.Phase, chi.RspOpcodeComp, 0),
	})
}

func (c *Comp) admitRead(flit *chi.Flit) bool {
	if !flit.Phase.AllowRetry {
		return true
	}

	qos := flit.Phase.QoS
	if qos < c.rdQoSThreshold {
		return false
	}
	if c.qosBucket(qos) <= c.retryMgr.maxQoSBucket(classRead) &&
		c.p2cFIFO.Size() >= c.p2cFIFO.Capacity()-1 &&
		c.rdinfo.size() >= c.rdinfo.capacity-1 &&
		c.respQueues.retrySize() != 0 {
		return false
	}
	if c.rdinfo.size() >= c.rdinfo.capacity {
		return false
	}
	if c.rdinfo.size() == c.rdinfo.capacity-1 &&
		!c.retryMgr.isClassEmpty(classRead) {
		return false
	}
	if c.dcq.isTimeout() {
		return false
	}
	return true
}

func (c *Comp) admitWritePtl(flit *chi.Flit) bool {
	if !flit.Phase.AllowRetry {
		return true
	}

	wrRetryOutstanding := !c.retryMgr.isClassEmpty(classWrite)
	if c.dcq.size() >= c.dcq.capacity {
		return false
	}
	if c.dcq.size() == c.dcq.capacity-1 && wrRetryOutstanding {
		return false
	}
	if flit.Phase.QoS < c.wrQoSThreshold {
		return false
	}
	if c.qosBucket(flit.Phase.QoS) <= c.retryMgr.maxQoSBucket(classWrite) {
		return false
	}
	if c.wdb.size() >= c.wdb.capacity {
		return false
	}
	if c.wdb.size() == c.wdb.capacity-1 && wrRetryOutstanding {
		return false
	}
	return true
}

func (c *Comp) admitWriteFull(flit *chi.Flit) bool {
	if !flit.Phase.AllowRetry {
		return true
	}

	wrRetryOutstanding := !c.retryMgr.isClassEmpty(classWrite)
	if flit.Phase.QoS < c.wrQoSThreshold {
		return false
	}
	if c.qosBucket(flit.Phase.QoS) <= c.retryMgr.maxQoSBucket(classWrite) {
		return false
	}
	if c.wdb.size() >= c.wdb.capacity {
		return false
	}
	if c.wdb.size() == c.wdb.capacity-1 && wrRetryOutstanding {
		return false
	}
	if c.dcq.isTimeout() {
		return false
	}
	return true
}

func (c *Comp) admitWriteZero(flit *chi.Flit) bool {
	if !flit.Phase.AllowRetry {
		return true
	}

	if flit.Phase.QoS < c.wrQoSThreshold {
		return false
	}
	if c.qosBucket(flit.Phase.QoS) <= c.retryMgr.maxQoSBucket(classWrite) {
		return false
	}
	if c.dcq.isTimeout() {
		return false
	}
	return true
}

func (c *Comp) admitCMO(flit *chi.Flit) bool {
	if !flit.Phase.AllowRetry {
		return true
	}

	if c.qosBucket(flit.Phase.QoS) <= c.retryMgr.maxQoSBucket(classCMO) {
		return false
	}
	cmoRetryOutstanding := !c.retryMgr.isClassEmpty(classCMO)
	if c.crq.size() >= c.crq.capacity {
		return false
	}
	if c.crq.size() == c.crq.capacity-1 && cmoRetryOutstanding {
		return false
	}
	return true
}

// handlePCrdReturn refunds an unused P-credit of the class encoded in the
// flit's PCrdType. No response is generated.
func (c *Comp) handlePCrdReturn(flit *chi.Flit) {
	class := reqClass(flit.Phase.PCrdType)
	if class >= numReqClasses {
		log.Panicf("chiport: PCrdReturn with invalid credit type %d",
			flit.Phase.PCrdType)
	}
	c.resources.pcreditDec(class)
}
