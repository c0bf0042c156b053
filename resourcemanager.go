package chiport

// A reqClass groups request opcodes into the three traffic classes the
// retry machinery arbitrates between.
type reqClass int

// The traffic classes, in grant-rotation order.
const (
	classWrite reqClass = iota
	classRead
	classCMO
	numReqClasses
	classInvalid
)

func (c reqClass) String() string {
	switch c {
	case classWrite:
		return "Write"
	case classRead:
		return "Read"
	case classCMO:
		return "CMO"
	}
	return "invalid"
}

// A resourceManager tracks outstanding P-credits per class and publishes
// the aggregate occupancy views used by admission and by the retry
// availability conditions.
type resourceManager struct {
	pcredits [numReqClasses]uint

	dcq    *delayCommandQueue
	wdb    *writeDataBuffer
	crq    *cmoRespQueue
	rdinfo *readInfoTable
}

func newResourceManager(
	dcq *delayCommandQueue,
	wdb *writeDataBuffer,
	crq *cmoRespQueue,
	rdinfo *readInfoTable,
) *resourceManager {
	return &resourceManager{
		dcq:    dcq,
		wdb:    wdb,
		crq:    crq,
		rdinfo: rdinfo,
	}
}

// pcreditInc records a freshly minted P-credit for the class.
func (m *resourceManager) pcreditInc(class reqClass) {
	m.pcredits[class]++
}

// pcreditDec consumes one outstanding P-credit of the class. The counter
// saturates at zero: a non-retryable request must be honored even when the
// port never minted a grant for it.
func (m *resourceManager) pcreditDec(class reqClass) {
	if m.pcredits[class] > 0 {
		m.pcredits[class]--
	}
}

func (m *resourceManager) pcreditCount(class reqClass) uint {
	return m.pcredits[class]
}

// dcqLevel is the delay-command-queue occupancy plus promised writes.
func (m *resourceManager) dcqLevel() int {
	return m.dcq.size() + int(m.pcredits[classWrite])
}

// wdqLevel is the write-data-buffer occupancy plus promised writes.
func (m *resourceManager) wdqLevel() int {
	return m.wdb.size() + int(m.pcredits[classWrite])
}

// crqLevel is the CMO staging occupancy plus promised CMOs.
func (m *resourceManager) crqLevel() int {
	return m.crq.size() + int(m.pcredits[classCMO])
}

// rdataInfoTotal is the read-info occupancy plus promised reads.
func (m *resourceManager) rdataInfoTotal() int {
	return m.rdinfo.size() + int(m.pcredits[classRead])
}
