package chiport

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Sam-Yang6/chiport/chi"
)

var _ = Describe("DelayCommandQueue", func() {
	var (
		wdb *writeDataBuffer
		dcq *delayCommandQueue
	)

	ptlFlit := func() *chi.Flit {
		return chi.FlitBuilder{}.
			WithPayload(&chi.Payload{
				Address:    0x80,
				Size:       6,
				ByteEnable: ^uint64(0),
			}).
			WithPhase(chi.Phase{
				Channel:   chi.ChannelREQ,
				ReqOpcode: chi.ReqOpcodeWriteNoSnpPtl,
			}).
			Build()
	}

	admitPtl := func() uint16 {
		flit := ptlFlit()
		dbid := wdb.allocateDBID()
		wdb.allocateEntry(flit, dbid)
		wdb.insertPartialID(dbid)
		dcq.allocateEntry(flit, dbid)
		return dbid
	}

	feedAllBeats := func(dbid uint16) {
		var line [64]byte
		for wdb.entries[dbid].beatCount > 0 {
			wdb.receiveWDatFlit(beatFlit(dbid, line, ^uint64(0)))
		}
	}

	BeforeEach(func() {
		wdb = newWriteDataBuffer(8, 16)
		dcq = newDelayCommandQueue(8, 5, wdb)
	})

	It("should not promote an entry whose data is incomplete", func() {
		admitPtl()

		dcq.checkReady()

		Expect(dcq.isReady()).To(BeFalse())
		Expect(dcq.getHead()).To(BeNil())
	})

	It("should promote the lowest ready DBID to the head", func() {
		d0 := admitPtl()
		d1 := admitPtl()
		feedAllBeats(d1)
		feedAllBeats(d0)

		dcq.checkReady()

		Expect(dcq.isReady()).To(BeTrue())
		Expect(dcq.getHead().dbid).To(Equal(d0))
		Expect(dcq.size()).To(Equal(1))
		Expect(wdb.partialDBIDs).NotTo(HaveKey(d0))
	})

	It("should age while an entry waits for data and raise the timeout",
		func() {
			admitPtl()

			for i := 0; i < 6; i++ {
				dcq.checkReady()
				Expect(dcq.isTimeout()).To(BeFalse())
			}
			dcq.checkReady()

			Expect(dcq.isTimeout()).To(BeTrue())
		})

	It("should reset the timeout state on pop", func() {
		dbid := admitPtl()
		feedAllBeats(dbid)
		for i := 0; i < 8; i++ {
			dcq.checkReady()
		}

		dcq.pop()

		Expect(dcq.getHead()).To(BeNil())
		Expect(dcq.isReady()).To(BeFalse())
		Expect(dcq.isTimeout()).To(BeFalse())
		Expect(dcq.timeoutCounter).To(Equal(uint(0)))
	})
})
