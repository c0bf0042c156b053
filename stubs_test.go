package chiport

import (
	"github.com/Sam-Yang6/chiport/chi"
	"github.com/sarchlab/akita/v3/mem/mem"
	"github.com/sarchlab/akita/v3/sim"
)

// A requesterStub plays the requester node: it sends scripted flits,
// grants link credits for the port's RSP and DAT transmit sides, and
// collects everything the port sends back.
type requesterStub struct {
	*sim.TickingComponent

	port   sim.Port
	target sim.Port

	reqCredits int
	datCredits int

	rspCreditsToGrant int
	datCreditsToGrant int

	toSend   []*chi.Flit
	received []*chi.Flit

	onReceive func(r *requesterStub, flit *chi.Flit)
}

func newRequesterStub(
	name string,
	engine sim.Engine,
	maxCredits int,
) *requesterStub {
	r := &requesterStub{
		reqCredits:        maxCredits,
		datCredits:        maxCredits,
		rspCreditsToGrant: maxCredits,
		datCreditsToGrant: maxCredits,
	}
	r.TickingComponent = sim.NewTickingComponent(name, engine, 1*sim.GHz, r)
	r.port = sim.NewLimitNumMsgPort(r, 64, name+".Port")
	r.AddPort("Port", r.port)
	return r
}

func (r *requesterStub) enqueue(flit *chi.Flit) {
	r.toSend = append(r.toSend, flit)
}

func (r *requesterStub) Tick(now sim.VTimeInSec) bool {
	madeProgress := false

	for {
		msg := r.port.Peek()
		if msg == nil {
			break
		}
		flit := msg.(*chi.Flit)
		r.port.Retrieve(now)
		madeProgress = true

		if flit.Phase.LCrdReturn {
			switch flit.Phase.Channel {
			case chi.ChannelREQ:
				r.reqCredits++
			case chi.ChannelDAT:
				r.datCredits++
			}
			continue
		}

		switch flit.Phase.Channel {
		case chi.ChannelRSP:
			r.rspCreditsToGrant++
		case chi.ChannelDAT:
			r.datCreditsToGrant++
		}
		r.received = append(r.received, flit)
		if r.onReceive != nil {
			r.onReceive(r, flit)
		}
	}

	madeProgress = r.grantCredits(now,
		chi.ChannelRSP, &r.rspCreditsToGrant) || madeProgress
	madeProgress = r.grantCredits(now,
		chi.ChannelDAT, &r.datCreditsToGrant) || madeProgress
	madeProgress = r.sendNext(now) || madeProgress

	return madeProgress
}

func (r *requesterStub) grantCredits(
	now sim.VTimeInSec,
	channel chi.Channel,
	count *int,
) bool {
	granted := false
	for *count > 0 {
		flit := chi.FlitBuilder{}.
			WithSendTime(now).
			WithSrc(r.port).
			WithDst(r.target).
			WithPhase(chi.MakeLinkCreditPhase(channel)).
			Build()
		if r.port.Send(flit) != nil {
			break
		}
		*count--
		granted = true
	}
	return granted
}

func (r *requesterStub) sendNext(now sim.VTimeInSec) bool {
	sent := false
	for len(r.toSend) > 0 {
		flit := r.toSend[0]

		var credits *int
		switch flit.Phase.Channel {
		case chi.ChannelREQ:
			credits = &r.reqCredits
		case chi.ChannelDAT:
			credits = &r.datCredits
		}
		if credits != nil && *credits == 0 {
			break
		}

		flit.SendTime = now
		flit.Src = r.port
		flit.Dst = r.target
		if r.port.Send(flit) != nil {
			break
		}

		if credits != nil {
			*credits--
		}
		r.toSend = r.toSend[1:]
		sent = true
	}
	return sent
}

// rspFlits filters the received flits down to one RSP opcode.
func (r *requesterStub) rspFlits(opcode chi.RspOpcode) []*chi.Flit {
	var out []*chi.Flit
	for _, flit := range r.received {
		if flit.Phase.Channel == chi.ChannelRSP &&
			flit.Phase.RspOpcode == opcode {
			out = append(out, flit)
		}
	}
	return out
}

// datFlits filters the received flits down to one DAT opcode.
func (r *requesterStub) datFlits(opcode chi.DatOpcode) []*chi.Flit {
	var out []*chi.Flit
	for _, flit := range r.received {
		if flit.Phase.Channel == chi.ChannelDAT &&
			flit.Phase.DatOpcode == opcode {
			out = append(out, flit)
		}
	}
	return out
}

type pendingRsp struct {
	msg        sim.Msg
	cyclesLeft int
}

// A memCtrlStub models the downstream memory controller: a fixed-latency
// responder backed by a storage.
type memCtrlStub struct {
	*sim.TickingComponent

	port    sim.Port
	storage *mem.Storage
	latency int

	pending []*pendingRsp
}

func newMemCtrlStub(
	name string,
	engine sim.Engine,
	latency int,
) *memCtrlStub {
	s := &memCtrlStub{
		storage: mem.NewStorage(1 * mem.MB),
		latency: latency,
	}
	s.TickingComponent = sim.NewTickingComponent(name, engine, 1*sim.GHz, s)
	s.port = sim.NewLimitNumMsgPort(s, 16, name+".Port")
	s.AddPort("Top", s.port)
	return s
}

func (s *memCtrlStub) Tick(now sim.VTimeInSec) bool {
	madeProgress := false

	for {
		msg := s.port.Peek()
		if msg == nil {
			break
		}
		s.port.Retrieve(now)
		s.pending = append(s.pending,
			&pendingRsp{msg: msg, cyclesLeft: s.latency})
		madeProgress = true
	}

	for i := 0; i < len(s.pending); i++ {
		p := s.pending[i]
		if p.cyclesLeft > 0 {
			p.cyclesLeft--
			madeProgress = true
			continue
		}
		if !s.respond(now, p.msg) {
			break
		}
		s.pending = append(s.pending[:i], s.pending[i+1:]...)
		i--
		madeProgress = true
	}

	return madeProgress
}

func (s *memCtrlStub) respond(now sim.VTimeInSec, msg sim.Msg) bool {
	switch req := msg.(type) {
	case *mem.ReadReq:
		data, err := s.storage.Read(req.Address, req.AccessByteSize)
		if err != nil {
			panic(err)
		}
		rsp := mem.DataReadyRspBuilder{}.
			WithSendTime(now).
			WithSrc(s.port).
			WithDst(req.Src).
			WithRspTo(req.ID).
			WithData(data).
			Build()
		return s.port.Send(rsp) == nil
	case *mem.WriteReq:
		line, err := s.storage.Read(req.Address, uint64(len(req.Data)))
		if err != nil {
			panic(err)
		}
		for i := range req.Data {
			if req.DirtyMask == nil || req.DirtyMask[i] {
				line[i] = req.Data[i]
			}
		}
		err = s.storage.Write(req.Address, line)
		if err != nil {
			panic(err)
		}
		rsp := mem.WriteDoneRspBuilder{}.
			WithSendTime(now).
			WithSrc(s.port).
			WithDst(req.Src).
			WithRspTo(req.ID).
			Build()
		return s.port.Send(rsp) == nil
	}
	panic("memCtrlStub: unexpected request")
}
