package peersession

import (
	"fmt"

	"github.com/halvarsen/torrentcore/internal/codec"
)

// Handshake sends our handshake and validates the peer's, per spec.md
// §4.1/§4.4 (HandshakePending -> ControlExchange).
func (s *Session) Handshake() error {
	s.setDeadline(s.cfg.HandshakeTimeout)

	hs := codec.Handshake{InfoHash: s.info.InfoHash, PeerID: s.localPeerID}
	if err := codec.WriteHandshake(s.conn, hs); err != nil {
		s.Close()
		return fmt.Errorf("peersession: sending handshake to %s: %w", s.Addr, err)
	}

	s.setDeadline(s.cfg.HandshakeTimeout)
	if _, err := codec.ReadHandshake(s.conn, s.info.InfoHash); err != nil {
		s.Close()
		return fmt.Errorf("peersession: handshake with %s: %w", s.Addr, err)
	}

	s.state = ControlExchange
	return nil
}
