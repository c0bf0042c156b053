package chiport

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Sam-Yang6/chiport/chi"
)

func rspEntry(opcode chi.RspOpcode, txnID uint16) flitEntry {
	return flitEntry{
		phase: chi.Phase{
			Channel:   chi.ChannelRSP,
			RspOpcode: opcode,
			TxnID:     txnID,
		},
	}
}

var _ = Describe("ResponseQueues", func() {
	var q *responseQueues

	BeforeEach(func() {
		q = newResponseQueues(32)
	})

	It("should report pending responses", func() {
		Expect(q.hasRspPending()).To(BeFalse())

		q.push(respQueueComp, rspEntry(chi.RspOpcodeComp, 1))

		Expect(q.hasRspPending()).To(BeTrue())
	})

	It("should pick one winner per cycle, round robin", func() {
		q.push(respQueueDBID, rspEntry(chi.RspOpcodeDBIDResp, 1))
		q.push(respQueueComp, rspEntry(chi.RspOpcodeComp, 2))
		q.push(respQueueRetry, rspEntry(chi.RspOpcodeRetryAck, 3))

		Expect(q.arbiter()).To(Equal(int(respQueueDBID)))
		q.pop(int(respQueueDBID))

		Expect(q.arbiter()).To(Equal(int(respQueueComp)))
		q.pop(int(respQueueComp))

		Expect(q.arbiter()).To(Equal(int(respQueueRetry)))
	})

	It("should resume the scan after the previous winner", func() {
		q.push(respQueueDBID, rspEntry(chi.RspOpcodeDBIDResp, 1))
		q.push(respQueueDBID, rspEntry(chi.RspOpcodeDBIDResp, 2))
		q.push(respQueueRetry, rspEntry(chi.RspOpcodeRetryAck, 3))

		Expect(q.arbiter()).To(Equal(int(respQueueDBID)))
		Expect(q.arbiter()).To(Equal(int(respQueueRetry)))
		Expect(q.arbiter()).To(Equal(int(respQueueDBID)))
	})

	It("should guard two retry entries for the ack-grant pair", func() {
		Expect(q.isRspRetryAvail()).To(BeTrue())

		for i := 0; i < 30; i++ {
			q.push(respQueueRetry,
				rspEntry(chi.RspOpcodeRetryAck, uint16(i)))
		}
		Expect(q.isRspRetryAvail()).To(BeTrue())

		q.push(respQueueRetry, rspEntry(chi.RspOpcodeRetryAck, 30))
		Expect(q.isRspRetryAvail()).To(BeFalse())
	})

	Context("holding slot hazard", func() {
		grant := rspEntry(chi.RspOpcodePCrdGrant, 7)

		It("should merge a parked grant when not blocked", func() {
			q.pcrdHolding = &grant

			q.mergeHoldingSlot()

			Expect(q.isPCrdHoldingOccupied()).To(BeFalse())
			Expect(q.retrySize()).To(Equal(1))
		})

		It("should retain the slot for one cycle after a RetryAck",
			func() {
				q.pcrdHolding = &grant
				q.blocked = true

				q.mergeHoldingSlot()

				Expect(q.isPCrdHoldingOccupied()).To(BeTrue())
				Expect(q.blocked).To(BeFalse())
				Expect(q.retrySize()).To(Equal(0))

				q.mergeHoldingSlot()

				Expect(q.isPCrdHoldingOccupied()).To(BeFalse())
				Expect(q.retrySize()).To(Equal(1))
			})
	})
})
