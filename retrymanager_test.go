package chiport

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Sam-Yang6/chiport/p2cfifo"
)

func newTestRetryManager() *retryResourceManager {
	wdb := newWriteDataBuffer(64, 16)
	rdinfo := newReadInfoTable(128)
	crq := newCMORespQueue(32)
	dcq := newDelayCommandQueue(32, 5, wdb)
	resources := newResourceManager(dcq, wdb, crq, rdinfo)
	respQueues := newResponseQueues(32)
	p2c := p2cfifo.NewFIFO(32)

	view := &occupancyView{
		resources:      resources,
		respQueues:     respQueues,
		p2cSize:        p2c.Size,
		p2cCapacity:    32,
		dcqCapacity:    32,
		wdbCapacity:    64,
		crqCapacity:    32,
		rdinfoCapacity: 128,
	}
	return newRetryResourceManager(11, 2, 3, view)
}

var _ = Describe("RetryResourceManager", func() {
	var m *retryResourceManager

	BeforeEach(func() {
		m = newTestRetryManager()
	})

	It("should account retries per (class, bucket, source)", func() {
		Expect(m.isEmpty()).To(BeTrue())

		m.cntInc(classRead, 1, 3)
		m.cntInc(classRead, 1, 3)
		m.cntInc(classWrite, 2, 0)

		Expect(m.isEmpty()).To(BeFalse())
		Expect(m.isClassEmpty(classRead)).To(BeFalse())
		Expect(m.isClassEmpty(classCMO)).To(BeTrue())
		Expect(m.classRetryCount(classRead)).To(Equal(uint(2)))
		Expect(m.classRetryCount(classWrite)).To(Equal(uint(1)))

		m.cntDec(classRead, 1, 3)
		Expect(m.classRetryCount(classRead)).To(Equal(uint(1)))
	})

	It("should report an empty class through the row emptiness check",
		func() {
			m.cntInc(classCMO, 0, 5)
			Expect(m.isClassEmpty(classCMO)).To(BeFalse())

			m.cntDec(classCMO, 0, 5)
			Expect(m.isClassEmpty(classCMO)).To(BeTrue())
		})

	It("should derive the highest retried bucket from the matrix", func() {
		Expect(m.maxQoSBucket(classWrite)).To(Equal(-1))

		m.cntInc(classWrite, 0, 1)
		m.cntInc(classWrite, 2, 4)

		Expect(m.maxQoSBucket(classWrite)).To(Equal(2))
		Expect(m.lowestQoSBucket(classWrite)).To(Equal(0))
	})

	It("should hold a class condition false while its row is empty",
		func() {
			m.updateConditions()

			Expect(m.wrCondition).To(BeFalse())
			Expect(m.rdCondition).To(BeFalse())
			Expect(m.cmoCondition).To(BeFalse())
			Expect(m.pcrdAvailable()).To(BeFalse())
		})

	It("should raise only the conditions of retried classes", func() {
		m.cntInc(classWrite, 1, 0)
		m.updateConditions()

		Expect(m.wrCondition).To(BeTrue())
		Expect(m.rdCondition).To(BeFalse())
		Expect(m.cmoCondition).To(BeFalse())
		Expect(m.pcrdAvailable()).To(BeTrue())
	})

	It("should rotate to a lower-QoS class on the fairness timeout",
		func() {
			for i := 0; i < 20; i++ {
				m.cntInc(classWrite, 2, 0)
				m.cntInc(classRead, 1, 1)
			}

			var classes []reqClass
			for i := 0; i < 20; i++ {
				m.updateConditions()
				class, bucket, srcID := m.genPCrd()
				classes = append(classes, class)

				if class == classWrite {
					Expect(bucket).To(Equal(2))
					Expect(srcID).To(Equal(uint16(0)))
				} else {
					Expect(bucket).To(Equal(1))
					Expect(srcID).To(Equal(uint16(1)))
				}
			}

			// The write class is preferred on QoS, but every
			// fourth grant must yield to the waiting read class.
			writes := 0
			for i, class := range classes {
				if class == classWrite {
					writes++
				}
				if i%4 == 3 {
					Expect(class).To(Equal(classRead))
				}
			}
			Expect(writes).To(Equal(15))
		})

	It("should pick the lowest bucket on the low-QoS timeout and reset",
		func() {
			for i := 0; i < 5; i++ {
				m.cntInc(classRead, 3, 0)
				m.cntInc(classRead, 0, 1)
			}

			Expect(m.qosSelection(classRead)).To(Equal(3))
			Expect(m.qosSelection(classRead)).To(Equal(3))
			Expect(m.qosSelection(classRead)).To(Equal(0))
			Expect(m.qosSelection(classRead)).To(Equal(3))
		})

	It("should rotate sources round robin within a bucket", func() {
		m.cntInc(classCMO, 0, 2)
		m.cntInc(classCMO, 0, 5)
		m.cntInc(classCMO, 0, 7)
		m.cntInc(classCMO, 0, 2)

		Expect(m.srcIDArbiter(classCMO, 0)).To(Equal(2))
		Expect(m.srcIDArbiter(classCMO, 0)).To(Equal(5))
		Expect(m.srcIDArbiter(classCMO, 0)).To(Equal(7))
		Expect(m.srcIDArbiter(classCMO, 0)).To(Equal(2))
	})
})
