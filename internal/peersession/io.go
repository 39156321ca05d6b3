package peersession

import (
	"time"

	"github.com/halvarsen/torrentcore/internal/codec"
)

func (s *Session) readMessage(timeout time.Duration) (codec.Message, error) {
	s.setDeadline(timeout)
	return codec.ReadMessage(s.conn)
}

func (s *Session) sendMessage(m codec.Message) error {
	s.setDeadline(s.cfg.BlockReadTimeout)
	return codec.WriteMessage(s.conn, m)
}

// neededIndices returns every piece index the peer has advertised that is
// not yet verified locally.
func (s *Session) neededIndices() []int {
	var out []int
	for i := 0; i < s.info.NumPieces; i++ {
		if s.peerHas.Has(i) && !s.ledger.IsVerified(i) {
			out = append(out, i)
		}
	}
	return out
}
