// chiportsim wires a CHI target port between a small traffic agent and a
// fixed-latency memory model and reports the traffic it carried.
package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/Sam-Yang6/chiport"
	"github.com/Sam-Yang6/chiport/chi"
	"github.com/sarchlab/akita/v3/mem/mem"
	"github.com/sarchlab/akita/v3/sim"
)

var (
	numReads   int
	numWrites  int
	memLatency int
	dataWidth  uint
)

var rootCmd = &cobra.Command{
	Use:   "chiportsim",
	Short: "Run a CHI target port demo simulation",
	Run:   run,
}

func main() {
	rootCmd.Flags().IntVar(&numReads, "num-reads", 16,
		"number of ReadNoSnp requests to issue")
	rootCmd.Flags().IntVar(&numWrites, "num-writes", 16,
		"number of WriteNoSnpFull requests to issue")
	rootCmd.Flags().IntVar(&memLatency, "mem-latency", 20,
		"memory model latency in cycles")
	rootCmd.Flags().UintVar(&dataWidth, "data-width", 128,
		"DAT channel width in bits")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
	atexit.Exit(0)
}

func run(_ *cobra.Command, _ []string) {
	engine := sim.NewSerialEngine()

	memCtrl := newMemoryModel("MemCtrl", engine, memLatency)
	port := chiport.MakeBuilder().
		WithEngine(engine).
		WithDataWidthBits(dataWidth).
		WithMemCtrlPort(memCtrl.port).
		Build("CHIPort")

	agent := newTrafficAgent("RN", engine, numReads, numWrites)
	agent.target = port.GetPortByName("Top")

	conn := sim.NewDirectConnection("Conn", engine, 1*sim.GHz)
	conn.PlugIn(agent.port, 16)
	conn.PlugIn(port.GetPortByName("Top"), 16)
	conn.PlugIn(port.GetPortByName("Bottom"), 16)
	conn.PlugIn(memCtrl.port, 16)

	agent.TickLater(0)
	if err := engine.Run(); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("read data flits received:  %d\n", agent.numDatRecv)
	fmt.Printf("write completions:         %d\n", agent.numCompRecv)
	fmt.Printf("retries observed:          %d\n", agent.numRetryRecv)
	fmt.Printf("simulated time:            %.2f ns\n",
		float64(engine.CurrentTime())*1e9)
}

// A trafficAgent issues reads and full writes against the port and counts
// what comes back.
type trafficAgent struct {
	*sim.TickingComponent

	port   sim.Port
	target sim.Port

	reqCredits int
	datCredits int

	rspCreditsToGrant int
	datCreditsToGrant int

	toSend []*chi.Flit

	numDatRecv   int
	numCompRecv  int
	numRetryRecv int
}

func newTrafficAgent(
	name string,
	engine sim.Engine,
	reads, writes int,
) *trafficAgent {
	a := &trafficAgent{
		reqCredits:        15,
		datCredits:        15,
		rspCreditsToGrant: 15,
		datCreditsToGrant: 15,
	}
	a.TickingComponent = sim.NewTickingComponent(name, engine, 1*sim.GHz, a)
	a.port = sim.NewLimitNumMsgPort(a, 64, name+".Port")
	a.AddPort("Port", a.port)

	txn := uint16(1)
	for i := 0; i < reads; i++ {
		a.toSend = append(a.toSend,
			a.makeReq(chi.ReqOpcodeReadNoSnp,
				uint64(i)*64, 8, txn))
		txn++
	}
	for i := 0; i < writes; i++ {
		a.toSend = append(a.toSend,
			a.makeReq(chi.ReqOpcodeWriteNoSnpFull,
				uint64(i)*64, 9, txn))
		txn++
	}

	return a
}

func (a *trafficAgent) makeReq(
	opcode chi.ReqOpcode,
	addr uint64,
	qos uint8,
	txnID uint16,
) *chi.Flit {
	payload := &chi.Payload{
		Address:    addr,
		Size:       6,
		ByteEnable: ^uint64(0),
	}
	return chi.FlitBuilder{}.
		WithPayload(payload).
		WithPhase(chi.Phase{
			Channel:     chi.ChannelREQ,
			ReqOpcode:   opcode,
			QoS:         qos,
			TgtID:       1,
			TxnID:       txnID,
			ReturnTxnID: txnID,
			AllowRetry:  true,
		}).
		Build()
}

func (a *trafficAgent) Tick(now sim.VTimeInSec) bool {
	madeProgress := false

	for {
		msg := a.port.Peek()
		if msg == nil {
			break
		}
		flit := msg.(*chi.Flit)
		a.port.Retrieve(now)
		madeProgress = true

		if flit.Phase.LCrdReturn {
			switch flit.Phase.Channel {
			case chi.ChannelREQ:
				a.reqCredits++
			case chi.ChannelDAT:
				a.datCredits++
			}
			continue
		}

		switch flit.Phase.Channel {
		case chi.ChannelRSP:
			a.rspCreditsToGrant++
			a.handleRsp(flit)
		case chi.ChannelDAT:
			a.datCreditsToGrant++
			a.numDatRecv++
		}
	}

	madeProgress = a.grantCredits(now,
		chi.ChannelRSP, &a.rspCreditsToGrant) || madeProgress
	madeProgress = a.grantCredits(now,
		chi.ChannelDAT, &a.datCreditsToGrant) || madeProgress
	madeProgress = a.sendNext(now) || madeProgress

	return madeProgress
}

func (a *trafficAgent) handleRsp(flit *chi.Flit) {
	switch flit.Phase.RspOpcode {
	case chi.RspOpcodeCompDBIDResp:
		a.numCompRecv++
		a.queueWriteData(flit.Phase.DBID)
	case chi.RspOpcodeComp:
		a.numCompRecv++
	case chi.RspOpcodeRetryAck:
		a.numRetryRecv++
	}
}

func (a *trafficAgent) queueWriteData(dbid uint16) {
	payload := &chi.Payload{
		Size:       6,
		ByteEnable: ^uint64(0),
	}
	for i := range payload.Data {
		payload.Data[i] = byte(dbid) + byte(i)
	}
	for beat := 0; beat < 4; beat++ {
		a.toSend = append(a.toSend, chi.FlitBuilder{}.
			WithPayload(payload).
			WithPhase(chi.Phase{
				Channel:   chi.ChannelDAT,
				DatOpcode: chi.DatOpcodeNonCopyBackWrData,
				TxnID:     dbid,
				DataID:    uint8(beat),
			}).
			Build())
	}
}

func (a *trafficAgent) grantCredits(
	now sim.VTimeInSec,
	channel chi.Channel,
	count *int,
) bool {
	granted := false
	for *count > 0 {
		flit := chi.FlitBuilder{}.
			WithSendTime(now).
			WithSrc(a.port).
			WithDst(a.target).
			WithPhase(chi.MakeLinkCreditPhase(channel)).
			Build()
		if a.port.Send(flit) != nil {
			break
		}
		*count--
		granted = true
	}
	return granted
}

func (a *trafficAgent) sendNext(now sim.VTimeInSec) bool {
	sent := false
	for len(a.toSend) > 0 {
		flit := a.toSend[0]

		var credits *int
		switch flit.Phase.Channel {
		case chi.ChannelREQ:
			credits = &a.reqCredits
		case chi.ChannelDAT:
			credits = &a.datCredits
		}
		if credits != nil && *credits == 0 {
			break
		}

		flit.SendTime = now
		flit.Src = a.port
		flit.Dst = a.target
		if a.port.Send(flit) != nil {
			break
		}

		if credits != nil {
			*credits--
		}
		a.toSend = a.toSend[1:]
		sent = true
	}
	return sent
}

type pendingRsp struct {
	msg        sim.Msg
	cyclesLeft int
}

// A memoryModel is a fixed-latency memory controller backed by a storage.
type memoryModel struct {
	*sim.TickingComponent

	port    sim.Port
	storage *mem.Storage
	latency int

	pending []*pendingRsp
}

func newMemoryModel(
	name string,
	engine sim.Engine,
	latency int,
) *memoryModel {
	m := &memoryModel{
		storage: mem.NewStorage(4 * mem.MB),
		latency: latency,
	}
	m.TickingComponent = sim.NewTickingComponent(name, engine, 1*sim.GHz, m)
	m.port = sim.NewLimitNumMsgPort(m, 16, name+".Port")
	m.AddPort("Top", m.port)
	return m
}

func (m *memoryModel) Tick(now sim.VTimeInSec) bool {
	madeProgress := false

	for {
		msg := m.port.Peek()
		if msg == nil {
			break
		}
		m.port.Retrieve(now)
		m.pending = append(m.pending,
			&pendingRsp{msg: msg, cyclesLeft: m.latency})
		madeProgress = true
	}

	for i := 0; i < len(m.pending); i++ {
		p := m.pending[i]
		if p.cyclesLeft > 0 {
			p.cyclesLeft--
			madeProgress = true
			continue
		}
		if !m.respond(now, p.msg) {
			break
		}
		m.pending = append(m.pending[:i], m.pending[i+1:]...)
		i--
		madeProgress = true
	}

	return madeProgress
}

func (m *memoryModel) respond(now sim.VTimeInSec, msg sim.Msg) bool {
	switch req := msg.(type) {
	case *mem.ReadReq:
		data, err := m.storage.Read(req.Address, req.AccessByteSize)
		if err != nil {
			panic(err)
		}
		rsp := mem.DataReadyRspBuilder{}.
			WithSendTime(now).
			WithSrc(m.port).
			WithDst(req.Src).
			WithRspTo(req.ID).
			WithData(data).
			Build()
		return m.port.Send(rsp) == nil
	case *mem.WriteReq:
		line, err := m.storage.Read(req.Address, uint64(len(req.Data)))
		if err != nil {
			panic(err)
		}
		for i := range req.Data {
			if req.DirtyMask == nil || req.DirtyMask[i] {
				line[i] = req.Data[i]
			}
		}
		if err := m.storage.Write(req.Address, line); err != nil {
			panic(err)
		}
		rsp := mem.WriteDoneRspBuilder{}.
			WithSendTime(now).
			WithSrc(m.port).
			WithDst(req.Src).
			WithRspTo(req.ID).
			Build()
		return m.port.Send(rsp) == nil
	}
	panic("memoryModel: unexpected request")
}
