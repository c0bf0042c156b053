package chiport

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Sam-Yang6/chiport/chi"
)

func writeReqFlit(sizeLog2 uint8, byteEnable uint64) *chi.Flit {
	payload := &chi.Payload{
		Address:    0x1000,
		Size:       sizeLog2,
		ByteEnable: byteEnable,
	}
	return chi.FlitBuilder{}.
		WithPayload(payload).
		WithPhase(chi.Phase{
			Channel:   chi.ChannelREQ,
			ReqOpcode: chi.ReqOpcodeWriteNoSnpPtl,
		}).
		Build()
}

func beatFlit(dbid uint16, data [64]byte, byteEnable uint64) *chi.Flit {
	payload := &chi.Payload{
		Address:    0x1000,
		Size:       6,
		Data:       data,
		ByteEnable: byteEnable,
	}
	return chi.FlitBuilder{}.
		WithPayload(payload).
		WithPhase(chi.Phase{
			Channel:   chi.ChannelDAT,
			DatOpcode: chi.DatOpcodeNonCopyBackWrData,
			TxnID:     dbid,
		}).
		Build()
}

var _ = Describe("WriteDataBuffer", func() {
	var wdb *writeDataBuffer

	BeforeEach(func() {
		wdb = newWriteDataBuffer(4, 16)
	})

	It("should allocate the smallest free DBID", func() {
		Expect(wdb.allocateDBID()).To(Equal(uint16(0)))
		Expect(wdb.allocateDBID()).To(Equal(uint16(1)))
		Expect(wdb.allocateDBID()).To(Equal(uint16(2)))
	})

	It("should keep a DBID either free or in use, never both", func() {
		dbid := wdb.allocateDBID()
		wdb.allocateEntry(writeReqFlit(6, ^uint64(0)), dbid)

		Expect(wdb.freeDBIDs).NotTo(ContainElement(dbid))
		Expect(wdb.entries).To(HaveKey(dbid))
	})

	It("should return a released DBID to the front of the free set",
		func() {
			d0 := wdb.allocateDBID()
			d1 := wdb.allocateDBID()
			wdb.allocateEntry(writeReqFlit(6, ^uint64(0)), d0)
			wdb.allocateEntry(writeReqFlit(6, ^uint64(0)), d1)

			wdb.release(d0)

			Expect(wdb.allocateDBID()).To(Equal(d0))
		})

	It("should expect one beat per data-width chunk of the request size",
		func() {
			dbid := wdb.allocateDBID()
			wdb.allocateEntry(writeReqFlit(6, ^uint64(0)), dbid)

			Expect(wdb.entries[dbid].beatCount).To(Equal(uint(4)))
		})

	It("should expect a single beat for sub-width requests", func() {
		dbid := wdb.allocateDBID()
		wdb.allocateEntry(writeReqFlit(3, 0xff), dbid)

		Expect(wdb.entries[dbid].beatCount).To(Equal(uint(1)))
	})

	It("should become ready when the last beat arrives", func() {
		dbid := wdb.allocateDBID()
		wdb.allocateEntry(writeReqFlit(6, ^uint64(0)), dbid)

		var line [64]byte
		for i := range line {
			line[i] = byte(i)
		}
		for beat := 0; beat < 3; beat++ {
			wdb.receiveWDatFlit(beatFlit(dbid, line, ^uint64(0)))
			Expect(wdb.isEntryReady(dbid)).To(BeFalse())
		}
		wdb.receiveWDatFlit(beatFlit(dbid, line, ^uint64(0)))

		Expect(wdb.isEntryReady(dbid)).To(BeTrue())
		Expect(wdb.entryData(dbid)).To(Equal(line))
	})

	It("should accumulate byte enables across beats", func() {
		dbid := wdb.allocateDBID()
		wdb.allocateEntry(writeReqFlit(5, 0), dbid)

		var line [64]byte
		wdb.receiveWDatFlit(beatFlit(dbid, line, 0x0000ffff))
		wdb.receiveWDatFlit(beatFlit(dbid, line, 0xffff0000))

		Expect(wdb.entryByteEnable(dbid)).To(Equal(uint64(0xffffffff)))
	})
})
