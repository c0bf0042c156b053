package chiport

import (
	"log"

	"github.com/Sam-Yang6/chiport/chi"
)

// A flitEntry is a staged outbound flit: the payload and phase of a flit
// that has not been stamped into a message yet.
type flitEntry struct {
	payload *chi.Payload
	phase   chi.Phase
}

// A channelState tracks one CHI channel's receive and transmit sides,
// including link-credit accounting in both directions.
type channelState struct {
	channel chi.Channel
	active  bool

	rxQueue []*chi.Flit
	txQueue []flitEntry

	// txCredits counts credits the peer has granted us for this
	// channel's TX direction.
	txCredits int

	// rxCreditsAvailable counts credits the peer currently holds for
	// this channel's RX direction.
	rxCreditsAvailable int

	creditsOwed    int
	creditsToIssue int
	maxCredits     int
}

func newChannelState(channel chi.Channel, active bool, maxCredits int) *channelState {
	s := &channelState{
		channel:    channel,
		active:     active,
		maxCredits: maxCredits,
	}
	if active && (channel == chi.ChannelREQ || channel == chi.ChannelDAT) {
		s.rxCreditsAvailable = maxCredits
	}
	return s
}

// receiveFlit deposits an inbound flit. A link-credit return grants one TX
// credit instead of occupying the RX queue. Returns false if the channel
// cannot accept flits.
func (s *channelState) receiveFlit(flit *chi.Flit) bool {
	if !s.active {
		return false
	}

	if flit.Phase.LCrdReturn {
		s.txCredits++
		return true
	}

	if s.rxCreditsAvailable == 0 {
		log.Panicf("chiport: %s flit received without link credit",
			s.channel)
	}
	s.rxCreditsAvailable--
	s.rxQueue = append(s.rxQueue, flit)

	return true
}

// popRX removes the head of the RX queue and marks one credit to be
// returned to the peer.
func (s *channelState) popRX() *chi.Flit {
	flit := s.rxQueue[0]
	s.rxQueue = s.rxQueue[1:]
	s.creditsOwed++
	return flit
}

// rxCreditsUpdate runs at the rising edge and stages freed RX credits for
// return on the next falling edge.
func (s *channelState) rxCreditsUpdate() {
	s.creditsToIssue += s.creditsOwed
	s.creditsOwed = 0

	if s.rxCreditsAvailable+s.creditsToIssue > s.maxCredits {
		log.Panicf("chiport: %s link credit overflow", s.channel)
	}
}

// pushTX stages an outbound flit.
func (s *channelState) pushTX(entry flitEntry) {
	s.txQueue = append(s.txQueue, entry)
}

// sendFlits runs at the falling edge. It first returns staged RX credits,
// then drains TX entries subject to peer credit; every sent entry consumes
// one credit while credit returns ride free. send reports whether the link
// accepted the flit.
func (s *channelState) sendFlits(send func(flitEntry) bool) bool {
	madeProgress := false

	for s.creditsToIssue > 0 {
		entry := flitEntry{phase: chi.MakeLinkCreditPhase(s.channel)}
		if !send(entry) {
			return madeProgress
		}
		s.creditsToIssue--
		s.rxCreditsAvailable++
		madeProgress = true
	}

	for len(s.txQueue) > 0 && s.txCredits > 0 {
		if !send(s.txQueue[0]) {
			return madeProgress
		}
		s.txQueue = s.txQueue[1:]
		s.txCredits--
		madeProgress = true
	}

	return madeProgress
}

func (s *channelState) hasPendingWork() bool {
	return len(s.rxQueue) > 0 || len(s.txQueue) > 0 ||
		s.creditsOwed > 0 || s.creditsToIssue > 0
}
