// Package peersession implements the per-connection BitTorrent peer-wire
// state machine: TcpConnecting -> HandshakePending -> ControlExchange ->
// Interested -> Downloading -> Closed. A Session is owned by exactly one
// pipeline worker at a time; ownership moves stage-to-stage through the
// pipeline's queues, so nothing in this package needs its own mutex.
package peersession

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/halvarsen/torrentcore/internal/codec"
	"github.com/halvarsen/torrentcore/internal/config"
	"github.com/halvarsen/torrentcore/internal/ledger"
	"github.com/halvarsen/torrentcore/internal/model"
)

// State is one of the six session states named in spec.md §4.4.
type State int

const (
	TcpConnecting State = iota
	HandshakePending
	ControlExchange
	Interested
	Downloading
	Closed
)

func (s State) String() string {
	switch s {
	case TcpConnecting:
		return "TcpConnecting"
	case HandshakePending:
		return "HandshakePending"
	case ControlExchange:
		return "ControlExchange"
	case Interested:
		return "Interested"
	case Downloading:
		return "Downloading"
	default:
		return "Closed"
	}
}

// Session owns a duplex byte stream plus the transient flow-control state
// described in spec.md §3.
type Session struct {
	Addr model.PeerAddress
	conn net.Conn

	info   *model.TorrentInfo
	ledger *ledger.Ledger
	cfg    config.Config
	log    *zap.Logger

	localPeerID [20]byte

	state State

	amChoking       bool
	amInterested    bool
	peerChoking     bool
	peerInterested  bool
	peerHas         codec.Bitfield

	// claimed tracks the indices this session currently holds from the
	// ledger, so any exit path (normal, error, choke, cancellation) can
	// release exactly what it owns.
	claimed []int
}

// New wraps an already-dialed connection in a Session, in the
// HandshakePending state (TCP connect has already succeeded).
func New(addr model.PeerAddress, conn net.Conn, info *model.TorrentInfo, l *ledger.Ledger, cfg config.Config, log *zap.Logger, localPeerID [20]byte) *Session {
	return &Session{
		Addr:        addr,
		conn:        conn,
		info:        info,
		ledger:      l,
		cfg:         cfg,
		log:         log,
		localPeerID: localPeerID,
		state:       HandshakePending,

		amChoking:      true,
		amInterested:   false,
		peerChoking:    true,
		peerInterested: false,
		peerHas:        codec.NewBitfield(info.NumPieces),
	}
}

// State returns the session's current state.
func (s *Session) State() State { return s.state }

// Close releases every piece index this session currently holds and closes
// the underlying stream. It is safe to call multiple times.
func (s *Session) Close() {
	s.releaseClaimed()
	s.state = Closed
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *Session) releaseClaimed() {
	if len(s.claimed) > 0 {
		s.ledger.Release(s.claimed)
		s.claimed = nil
	}
}

func (s *Session) setDeadline(d time.Duration) {
	s.conn.SetDeadline(time.Now().Add(d))
}
