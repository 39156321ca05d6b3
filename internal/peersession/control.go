package peersession

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/halvarsen/torrentcore/internal/codec"
)

// EstablishControl implements ControlExchange -> Interested (spec.md
// §4.4). It waits for the first bitfield/have message to learn peer_has;
// any other message received first is logged and the session keeps
// waiting for one, rather than assuming no pieces are available. If the
// resulting needed set is empty the session moves straight to Closed.
func (s *Session) EstablishControl() (needed bool, err error) {
	for {
		msg, err := s.readMessage(s.cfg.UnchokeTimeout)
		if err != nil {
			s.Close()
			return false, fmt.Errorf("peersession: control exchange with %s: %w", s.Addr, err)
		}
		if msg.KeepAlive {
			continue
		}

		switch msg.ID {
		case codec.Bitfield:
			s.peerHas = append(codec.Bitfield(nil), msg.Payload...)
		case codec.Have:
			idx, err := codec.DecodeHave(msg.Payload)
			if err != nil {
				s.Close()
				return false, fmt.Errorf("peersession: decoding have from %s: %w", s.Addr, err)
			}
			s.peerHas.Set(int(idx))
		default:
			s.log.Debug("peersession: ignoring message before peer_has is known",
				zap.Stringer("peer", s.Addr), zap.Int("message_id", int(msg.ID)))
			continue
		}

		break
	}

	if len(s.neededIndices()) == 0 {
		s.state = Closed
		s.conn.Close()
		return false, nil
	}

	if err := s.sendMessage(codecInterestedMessage()); err != nil {
		s.Close()
		return false, fmt.Errorf("peersession: sending interested to %s: %w", s.Addr, err)
	}

	s.amInterested = true
	s.state = Interested
	return true, nil
}

func codecInterestedMessage() codec.Message {
	return codec.Message{ID: codec.Interested}
}
