package chiport

import (
	"log"

	"github.com/Sam-Yang6/chiport/chi"
)

// numQoSBuckets is the number of severity levels the 0..15 QoS value is
// collapsed to.
const numQoSBuckets = 4

func classOfReq(opcode chi.ReqOpcode) reqClass {
	switch opcode {
	case chi.ReqOpcodeReadNoSnp, chi.ReqOpcodeReadNoSnpSep:
		return classRead
	case chi.ReqOpcodeWriteNoSnpFull, chi.ReqOpcodeWriteNoSnpPtl,
		chi.ReqOpcodeWriteNoSnpZero:
		return classWrite
	case chi.ReqOpcodeCleanShared, chi.ReqOpcodeCleanSharedPersist:
		return classCMO
	}
	return classInvalid
}

// A grantState is the class the grant rotator is currently serving.
type grantState int

// Rotator states, in rotation order.
const (
	stateWriteGrant grantState = iota
	stateReadGrant
	stateCMOGrant
)

func (s grantState) class() reqClass {
	switch s {
	case stateWriteGrant:
		return classWrite
	case stateReadGrant:
		return classRead
	case stateCMOGrant:
		return classCMO
	}
	return classInvalid
}

// An occupancyView bundles read-only access to the structures the retry
// manager's availability conditions consult. It replaces a back-pointer to
// the enclosing port.
type occupancyView struct {
	resources  *resourceManager
	respQueues *responseQueues
	p2cSize    func() int

	p2cCapacity    int
	dcqCapacity    int
	wdbCapacity    int
	crqCapacity    int
	rdinfoCapacity int
}

// A retryResourceManager holds the per-(class, QoS-bucket, source) retry
// accounts and decides, each cycle, whether to mint a PCrdGrant and for
// whom.
type retryResourceManager struct {
	matrix [numReqClasses][numQoSBuckets][]uint

	lastWinSrcID [numReqClasses]int

	typeTimeoutCounters    [numReqClasses]uint
	typeQoSTimeoutCounters [numReqClasses]uint

	qosTimeoutThreshold     uint
	reqTypeTimeoutThreshold uint

	wrCondition  bool
	rdCondition  bool
	cmoCondition bool

	state, nextState grantState

	view *occupancyView
}

func newRetryResourceManager(
	numSources int,
	qosTimeoutThreshold uint,
	reqTypeTimeoutThreshold uint,
	view *occupancyView,
) *retryResourceManager {
	m := &retryResourceManager{
		qosTimeoutThreshold:     qosTimeoutThreshold,
		reqTypeTimeoutThreshold: reqTypeTimeoutThreshold,
		view:                    view,
	}
	for class := range m.matrix {
		for bucket := range m.matrix[class] {
			m.matrix[class][bucket] = make([]uint, numSources)
		}
		m.lastWinSrcID[class] = -1
	}
	return m
}

// cntInc accounts one freshly retried request.
func (m *retryResourceManager) cntInc(class reqClass, bucket int, srcID uint16) {
	m.matrix[class][bucket][srcID]++
}

// cntDec accounts one granted P-credit.
func (m *retryResourceManager) cntDec(class reqClass, bucket int, srcID uint16) {
	if m.matrix[class][bucket][srcID] == 0 {
		log.Panicf("chiport: retry account underflow at (%s, %d, %d)",
			class, bucket, srcID)
	}
	m.matrix[class][bucket][srcID]--
}

func (m *retryResourceManager) isEmpty() bool {
	for class := reqClass(0); class < numReqClasses; class++ {
		if !m.isClassEmpty(class) {
			return false
		}
	}
	return true
}

func (m *retryResourceManager) isClassEmpty(class reqClass) bool {
	for bucket := range m.matrix[class] {
		for _, cnt := range m.matrix[class][bucket] {
			if cnt > 0 {
				return false
			}
		}
	}
	return true
}

// classRetryCount sums the class's row of the matrix.
func (m *retryResourceManager) classRetryCount(class reqClass) uint {
	var sum uint
	for bucket := range m.matrix[class] {
		for _, cnt := range m.matrix[class][bucket] {
			sum += cnt
		}
	}
	return sum
}

// maxQoSBucket returns the highest non-empty bucket of the class, or -1
// when the class has no retried requests.
func (m *retryResourceManager) maxQoSBucket(class reqClass) int {
	for bucket := numQoSBuckets - 1; bucket >= 0; bucket-- {
		for _, cnt := range m.matrix[class][bucket] {
			if cnt > 0 {
				return bucket
			}
		}
	}
	return -1
}

func (m *retryResourceManager) lowestQoSBucket(class reqClass) int {
	for bucket := 0; bucket < numQoSBuckets; bucket++ {
		for _, cnt := range m.matrix[class][bucket] {
			if cnt > 0 {
				return bucket
			}
		}
	}
	return -1
}

// updateConditions refreshes the per-class availability conditions.
func (m *retryResourceManager) updateConditions() {
	m.wrCondition = m.evalWrCondition()
	m.rdCondition = m.evalRdCondition()
	m.cmoCondition = m.evalCMOCondition()
}

func (m *retryResourceManager) evalWrCondition() bool {
	v := m.view
	if m.isClassEmpty(classWrite) || !v.respQueues.isRspRetryAvail() {
		return false
	}
	if v.resources.crqLevel() >= v.crqCapacity {
		return false
	}
	if v.p2cSize() >= v.p2cCapacity {
		return false
	}
	if v.resources.dcqLevel() >= v.dcqCapacity {
		return false
	}
	if v.resources.wdqLevel() >= v.wdbCapacity {
		return false
	}
	return true
}

func (m *retryResourceManager) evalRdCondition() bool {
	v := m.view
	if m.isClassEmpty(classRead) || !v.respQueues.isRspRetryAvail() {
		return false
	}
	if v.resources.rdataInfoTotal() >= v.rdinfoCapacity {
		return false
	}
	return true
}

func (m *retryResourceManager) evalCMOCondition() bool {
	v := m.view
	if m.isClassEmpty(classCMO) || !v.respQueues.isRspRetryAvail() {
		return false
	}
	if v.resources.crqLevel() >= v.crqCapacity {
		return false
	}
	return true
}

func (m *retryResourceManager) condition(class reqClass) bool {
	switch class {
	case classWrite:
		return m.wrCondition
	case classRead:
		return m.rdCondition
	case classCMO:
		return m.cmoCondition
	}
	return false
}

// pcrdAvailable reports whether any class can be granted this cycle.
func (m *retryResourceManager) pcrdAvailable() bool {
	return m.wrCondition || m.rdCondition || m.cmoCondition
}

// stateUpdate advances the three-state grant rotator. Priority rotates
// toward the class with the strictly highest retried QoS, vetoed by the
// per-class timeout fairness counters; a class whose condition fails
// cannot be entered.
func (m *retryResourceManager) stateUpdate() {
	m.state = m.nextState
	maxW := m.maxQoSBucket(classWrite)
	maxR := m.maxQoSBucket(classRead)
	maxC := m.maxQoSBucket(classCMO)
	t := m.reqTypeTimeoutThreshold
	to := &m.typeTimeoutCounters

	switch m.state {
	case stateWriteGrant:
		switch {
		case m.rdCondition &&
			((maxR > maxW && maxR > maxC && to[classCMO] < t) ||
				(!m.wrCondition && !m.cmoCondition) ||
				to[classRead] >= t):
			m.nextState = stateReadGrant
		case m.cmoCondition &&
			(maxC > maxW || !m.wrCondition || to[classCMO] >= t):
			m.nextState = stateCMOGrant
		default:
			m.nextState = stateWriteGrant
		}
	case stateReadGrant:
		switch {
		case m.cmoCondition &&
			((maxC > maxR && maxC > maxW && to[classWrite] < t) ||
				(!m.rdCondition && !m.wrCondition) ||
				to[classCMO] >= t):
			m.nextState = stateCMOGrant
		case m.wrCondition &&
			(maxW > maxR || !m.rdCondition || to[classWrite] >= t):
			m.nextState = stateWriteGrant
		default:
			m.nextState = stateReadGrant
		}
	case stateCMOGrant:
		switch {
		case m.wrCondition &&
			((maxW > maxC && maxW > maxR && to[classRead] < t) ||
				(!m.cmoCondition && !m.rdCondition) ||
				to[classWrite] >= t):
			m.nextState = stateWriteGrant
		case m.rdCondition &&
			(maxR > maxC || !m.cmoCondition || to[classRead] >= t):
			m.nextState = stateReadGrant
		default:
			m.nextState = stateCMOGrant
		}
	}
}

// qosSelection picks the winning bucket inside the class: normally the
// highest non-empty one, but once the class's low-QoS timeout counter
// reaches its threshold the lowest non-empty bucket wins and the counter
// resets.
func (m *retryResourceManager) qosSelection(class reqClass) int {
	if m.typeQoSTimeoutCounters[class] >= m.qosTimeoutThreshold {
		m.typeQoSTimeoutCounters[class] = 0
		return m.lowestQoSBucket(class)
	}

	highest := m.maxQoSBucket(class)
	if m.lowestQoSBucket(class) < highest {
		m.typeQoSTimeoutCounters[class]++
	}
	return highest
}

// srcIDArbiter picks a source within the bucket via a per-class
// round-robin pointer carried across cycles.
func (m *retryResourceManager) srcIDArbiter(class reqClass, bucket int) int {
	cnts := m.matrix[class][bucket]
	for i := 0; i < len(cnts); i++ {
		index := (i + m.lastWinSrcID[class] + 1) % len(cnts)
		if cnts[index] != 0 {
			m.lastWinSrcID[class] = index
			return index
		}
	}
	return -1
}

// genPCrd runs the rotator and forms one grant: it selects the class,
// bucket, and source, decrements the matrix cell, and advances the
// fairness counters of the classes that lost this cycle.
func (m *retryResourceManager) genPCrd() (reqClass, int, uint16) {
	m.stateUpdate()
	class := m.nextState.class()

	bucket := m.qosSelection(class)
	if bucket < 0 {
		log.Panicf("chiport: grant rotator chose empty class %s", class)
	}
	srcID := m.srcIDArbiter(class, bucket)
	if srcID < 0 {
		log.Panicf("chiport: no source in (%s, %d)", class, bucket)
	}

	m.cntDec(class, bucket, uint16(srcID))

	m.typeTimeoutCounters[class] = 0
	for other := reqClass(0); other < numReqClasses; other++ {
		if other != class && m.condition(other) {
			m.typeTimeoutCounters[other]++
		}
	}

	return class, bucket, uint16(srcID)
}
