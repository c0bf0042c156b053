package chiport

import (
	"github.com/Sam-Yang6/chiport/chi"
	"github.com/Sam-Yang6/chiport/p2cfifo"
	"github.com/sarchlab/akita/v3/sim"
)

// A Builder can build CHI target ports.
type Builder struct {
	engine sim.Engine
	freq   sim.Freq

	memCtrlPort sim.Port

	dataWidthBits        uint
	p2cFIFOCapacity      int
	dcqCapacity          int
	rdataInfoCapacity    int
	wdataBufferCapacity  int
	retryQueueCapacity   int
	cmoRespQueueCapacity int

	rdQoSThreshold       uint8
	wrQoSThreshold       uint8
	qosMedThreshold      uint8
	qosHighThreshold     uint8
	qosVeryHighThreshold uint8

	qosTimeoutThreshold     uint
	reqTypeTimeoutThreshold uint
	dcqTimeoutCycles        uint

	numSources     int
	maxLinkCredits int
}

// MakeBuilder returns a Builder with the default configuration.
func MakeBuilder() Builder {
	return Builder{
		freq:                    1 * sim.GHz,
		dataWidthBits:           128,
		p2cFIFOCapacity:         32,
		dcqCapacity:             32,
		rdataInfoCapacity:       128,
		wdataBufferCapacity:     64,
		retryQueueCapacity:      32,
		cmoRespQueueCapacity:    32,
		qosMedThreshold:         7,
		qosHighThreshold:        11,
		qosVeryHighThreshold:    14,
		qosTimeoutThreshold:     2,
		reqTypeTimeoutThreshold: 3,
		dcqTimeoutCycles:        5,
		numSources:              11,
		maxLinkCredits:          15,
	}
}

// WithEngine sets the engine the port uses.
func (b Builder) WithEngine(engine sim.Engine) Builder {
	b.engine = engine
	return b
}

// WithFreq sets the clock frequency of the port.
func (b Builder) WithFreq(freq sim.Freq) Builder {
	b.freq = freq
	return b
}

// WithMemCtrlPort sets the memory controller port backing reads and
// writes are dispatched to.
func (b Builder) WithMemCtrlPort(port sim.Port) Builder {
	b.memCtrlPort = port
	return b
}

// WithDataWidthBits sets the DAT channel width, which controls the number
// of data-id sub-beats per cache line.
func (b Builder) WithDataWidthBits(n uint) Builder {
	b.dataWidthBits = n
	return b
}

// WithP2CFIFOCapacity sets the capacity of the downstream admission FIFO.
func (b Builder) WithP2CFIFOCapacity(n int) Builder {
	b.p2cFIFOCapacity = n
	return b
}

// WithDCQCapacity sets the WriteNoSnpPtl deferred-queue capacity.
func (b Builder) WithDCQCapacity(n int) Builder {
	b.dcqCapacity = n
	return b
}

// WithRDataInfoCapacity sets the number of outstanding read slots.
func (b Builder) WithRDataInfoCapacity(n int) Builder {
	b.rdataInfoCapacity = n
	return b
}

// WithWDataBufferCapacity sets the number of outstanding write slots.
func (b Builder) WithWDataBufferCapacity(n int) Builder {
	b.wdataBufferCapacity = n
	return b
}

// WithRetryQueueCapacity sets the depth of the Retry/PCrdGrant response
// queue.
func (b Builder) WithRetryQueueCapacity(n int) Builder {
	b.retryQueueCapacity = n
	return b
}

// WithCMORespQueueCapacity sets the CMO response staging capacity.
func (b Builder) WithCMORespQueueCapacity(n int) Builder {
	b.cmoRespQueueCapacity = n
	return b
}

// WithQoSThresholds sets the three bucket boundaries that collapse the
// 0..15 QoS value to the four severity levels.
func (b Builder) WithQoSThresholds(med, high, veryHigh uint8) Builder {
	b.qosMedThreshold = med
	b.qosHighThreshold = high
	b.qosVeryHighThreshold = veryHigh
	return b
}

// WithRdQoSThreshold sets the admission QoS floor for reads.
func (b Builder) WithRdQoSThreshold(n uint8) Builder {
	b.rdQoSThreshold = n
	return b
}

// WithWrQoSThreshold sets the admission QoS floor for writes.
func (b Builder) WithWrQoSThreshold(n uint8) Builder {
	b.wrQoSThreshold = n
	return b
}

// WithQoSTimeoutThreshold sets the anti-starvation threshold for low-QoS
// retries.
func (b Builder) WithQoSTimeoutThreshold(n uint) Builder {
	b.qosTimeoutThreshold = n
	return b
}

// WithReqTypeTimeoutThreshold sets the anti-starvation threshold for the
// per-class grant rotation.
func (b Builder) WithReqTypeTimeoutThreshold(n uint) Builder {
	b.reqTypeTimeoutThreshold = n
	return b
}

// WithDCQTimeoutCycles sets the head-stall backpressure threshold of the
// delay command queue.
func (b Builder) WithDCQTimeoutCycles(n uint) Builder {
	b.dcqTimeoutCycles = n
	return b
}

// WithNumSources sets the width of the retry-matrix source axis.
func (b Builder) WithNumSources(n int) Builder {
	b.numSources = n
	return b
}

// WithMaxLinkCredits sets the per-channel link credit window.
func (b Builder) WithMaxLinkCredits(n int) Builder {
	b.maxLinkCredits = n
	return b
}

// Build creates a new CHI target port.
func (b Builder) Build(name string) *Comp {
	c := &Comp{}
	c.TickingComponent =
		sim.NewTickingComponent(name, b.engine, b.freq, c)

	c.MemCtrlPort = b.memCtrlPort
	c.dataWidthBytes = b.dataWidthBits / 8
	c.maxLinkCredits = b.maxLinkCredits
	c.numSources = b.numSources
	c.srcID = -1

	c.rdQoSThreshold = b.rdQoSThreshold
	c.wrQoSThreshold = b.wrQoSThreshold
	c.qosMedThreshold = b.qosMedThreshold
	c.qosHighThreshold = b.qosHighThreshold
	c.qosVeryHighThreshold = b.qosVeryHighThreshold

	c.channels[chi.ChannelREQ] =
		newChannelState(chi.ChannelREQ, true, b.maxLinkCredits)
	c.channels[chi.ChannelRSP] =
		newChannelState(chi.ChannelRSP, true, b.maxLinkCredits)
	c.channels[chi.ChannelSNP] =
		newChannelState(chi.ChannelSNP, false, b.maxLinkCredits)
	c.channels[chi.ChannelDAT] =
		newChannelState(chi.ChannelDAT, true, b.maxLinkCredits)

	c.p2cFIFO = p2cfifo.NewFIFO(b.p2cFIFOCapacity)
	c.respQueues = newResponseQueues(b.retryQueueCapacity)
	c.crq = newCMORespQueue(b.cmoRespQueueCapacity)
	c.rdinfo = newReadInfoTable(b.rdataInfoCapacity)
	c.wdb = newWriteDataBuffer(b.wdataBufferCapacity, c.dataWidthBytes)
	c.dcq = newDelayCommandQueue(b.dcqCapacity, b.dcqTimeoutCycles, c.wdb)
	c.resources = newResourceManager(c.dcq, c.wdb, c.crq, c.rdinfo)
	c.retryMgr = newRetryResourceManager(
		b.numSources,
		b.qosTimeoutThreshold,
		b.reqTypeTimeoutThreshold,
		&occupancyView{
			resources:      c.resources,
			respQueues:     c.respQueues,
			p2cSize:        c.p2cFIFO.Size,
			p2cCapacity:    b.p2cFIFOCapacity,
			dcqCapacity:    b.dcqCapacity,
			wdbCapacity:    b.wdataBufferCapacity,
			crqCapacity:    b.cmoRespQueueCapacity,
			rdinfoCapacity: b.rdataInfoCapacity,
		})

	c.inflight = make(map[string]*dbExtension)

	b.createPorts(name, c)

	return c
}

func (b Builder) createPorts(name string, c *Comp) {
	c.topPort = sim.NewLimitNumMsgPort(c, 16, name+".TopPort")
	c.AddPort("Top", c.topPort)

	c.bottomPort = sim.NewLimitNumMsgPort(c, 16, name+".BottomPort")
	c.AddPort("Bottom", c.bottomPort)
}
