package chi

import (
	"github.com/sarchlab/akita/v3/sim"
)

// A Payload is the data portion of a flit. One payload may be shared by the
// request flit and every response or data flit derived from it.
type Payload struct {
	Address    uint64
	Size       uint8 // log2 of the access size in bytes
	Data       [CacheLineSizeBytes]byte
	ByteEnable uint64
}

// SizeBytes returns the access size in bytes.
func (p *Payload) SizeBytes() uint64 {
	return uint64(1) << p.Size
}

// A Phase is the header portion of a flit.
type Phase struct {
	Channel Channel

	ReqOpcode ReqOpcode
	RspOpcode RspOpcode
	DatOpcode DatOpcode

	QoS         uint8
	SrcID       uint16
	TgtID       uint16
	TxnID       uint16
	ReturnNID   uint16
	ReturnTxnID uint16
	HomeNID     uint16
	DataID      uint8
	DBID        uint16
	PCrdType    uint8
	Resp        Resp
	Order       Order
	AllowRetry  bool
	LCrdReturn  bool
}

// A Flit is one protocol unit on one CHI channel.
type Flit struct {
	sim.MsgMeta

	Payload *Payload
	Phase   Phase
}

// Meta returns the meta data of the flit.
func (f *Flit) Meta() *sim.MsgMeta {
	return &f.MsgMeta
}

// A FlitBuilder can build flits.
type FlitBuilder struct {
	sendTime sim.VTimeInSec
	src, dst sim.Port
	payload  *Payload
	phase    Phase
}

// WithSendTime sets the send time of the flit to build.
func (b FlitBuilder) WithSendTime(t sim.VTimeInSec) FlitBuilder {
	b.sendTime = t
	return b
}

// WithSrc sets the source of the flit to build.
func (b FlitBuilder) WithSrc(src sim.Port) FlitBuilder {
	b.src = src
	return b
}

// WithDst sets the destination of the flit to build.
func (b FlitBuilder) WithDst(dst sim.Port) FlitBuilder {
	b.dst = dst
	return b
}

// WithPayload sets the payload of the flit to build.
func (b FlitBuilder) WithPayload(p *Payload) FlitBuilder {
	b.payload = p
	return b
}

// WithPhase sets the phase of the flit to build.
func (b FlitBuilder) WithPhase(phase Phase) FlitBuilder {
	b.phase = phase
	return b
}

// Build creates a new flit.
func (b FlitBuilder) Build() *Flit {
	f := &Flit{}
	f.ID = sim.GetIDGenerator().Generate()
	f.SendTime = b.sendTime
	f.Src = b.src
	f.Dst = b.dst
	f.TrafficBytes = CacheLineSizeBytes
	f.Payload = b.payload
	f.Phase = b.phase
	return f
}

// MakeResponsePhase composes an RSP phase from the originating request
// phase. The response inherits the request QoS and transaction ID and
// swaps the node IDs.
func MakeResponsePhase(req Phase, opcode RspOpcode, dbid uint16) Phase {
	return Phase{
		Channel:   ChannelRSP,
		RspOpcode: opcode,
		QoS:       req.QoS,
		TgtID:     req.SrcID,
		SrcID:     req.TgtID,
		TxnID:     req.TxnID,
		HomeNID:   req.TgtID,
		DBID:      dbid,
	}
}

// MakeReadDataPhase composes the DAT phase of a read data return from the
// originating request phase. The caller enumerates DataID over the beats.
func MakeReadDataPhase(req Phase, opcode DatOpcode) Phase {
	return Phase{
		Channel:   ChannelDAT,
		DatOpcode: opcode,
		QoS:       req.QoS,
		TgtID:     req.ReturnNID,
		SrcID:     req.TgtID,
		TxnID:     req.ReturnTxnID,
		HomeNID:   req.SrcID,
		Resp:      RespUC,
		DBID:      req.TxnID,
	}
}

// MakeLinkCreditPhase composes the phase of a link-credit return flit on
// the given channel.
func MakeLinkCreditPhase(channel Channel) Phase {
	return Phase{
		Channel:    channel,
		LCrdReturn: true,
	}
}
