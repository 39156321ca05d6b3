package peersession

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/halvarsen/torrentcore/internal/codec"
)

// DownloadLoop drives the session through Interested -> Downloading ->
// {Interested (re-choked) | Closed}, per spec.md §4.4. It returns nil on a
// clean exit (nothing left to fetch from this peer, or the peer no longer
// interests us) and a non-nil error on any protocol/I/O failure — both
// paths have already released every claim this session held and closed
// the connection.
func (s *Session) DownloadLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			s.Close()
			return ctx.Err()
		}

		if s.peerChoking {
			if err := s.awaitUnchoke(ctx); err != nil {
				return err
			}
		}

		s.state = Downloading

		needed := s.neededIndices()
		if len(needed) == 0 {
			s.state = Closed
			s.conn.Close()
			return nil
		}

		batch := s.ledger.ClaimBatch(needed, s.cfg.MaxClaimPerPeer)
		if len(batch) == 0 {
			// Every needed piece is already claimed by other sessions; this
			// peer has nothing left it can usefully fetch right now.
			s.state = Closed
			s.conn.Close()
			return nil
		}
		s.claimed = batch

		chokedMidway, err := s.downloadBatch(ctx, batch)
		if err != nil {
			s.Close()
			return fmt.Errorf("peersession: downloading from %s: %w", s.Addr, err)
		}
		if chokedMidway {
			s.peerChoking = true
			s.state = Interested
			continue
		}
	}
}

// downloadBatch fetches every piece in batch in turn. If the peer chokes
// mid-batch, the not-yet-committed remainder (including the piece in
// flight) is released and (true, nil) is returned so the caller can return
// to the wait-for-unchoke state.
func (s *Session) downloadBatch(ctx context.Context, batch []int) (chokedMidway bool, err error) {
	for i, idx := range batch {
		choked, err := s.downloadPiece(ctx, idx)
		if err != nil {
			s.ledger.Release(batch[i:])
			s.claimed = nil
			return false, err
		}
		if choked {
			s.ledger.Release(batch[i:])
			s.claimed = nil
			return true, nil
		}
		s.dropClaimed(idx)
	}

	s.claimed = nil
	return false, nil
}

func (s *Session) dropClaimed(idx int) {
	for i, v := range s.claimed {
		if v == idx {
			s.claimed = append(s.claimed[:i], s.claimed[i+1:]...)
			return
		}
	}
}

// downloadPiece splits piece idx into BLOCK_SIZE requests, issues them one
// at a time (request pipelining is permitted but not required per spec.md
// §4.4), and assembles the responses into a buffer sized to the piece's
// true effective length before handing it to the ledger for verification.
func (s *Session) downloadPiece(ctx context.Context, idx int) (chokedMidway bool, err error) {
	size := s.info.PieceSize(idx)
	data := make([]byte, 0, size)

	var offset int64
	for offset < size {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		length := s.cfg.BlockSize
		if remaining := size - offset; remaining < length {
			length = remaining
		}

		req := codec.EncodeRequest(codec.Request, uint32(idx), uint32(offset), uint32(length))
		if err := s.sendMessage(req); err != nil {
			return false, fmt.Errorf("requesting piece %d offset %d: %w", idx, offset, err)
		}

		block, choked, err := s.awaitBlock(idx, offset)
		if err != nil {
			return false, err
		}
		if choked {
			return true, nil
		}

		data = append(data, block...)
		offset += int64(len(block))
	}

	res := s.ledger.Commit(idx, data)
	if !res.Ok && res.WriteErr != nil {
		return false, fmt.Errorf("committing piece %d: %w", idx, res.WriteErr)
	}
	if !res.Ok {
		s.log.Warn("peersession: piece failed hash verification", zap.Int("piece", idx), zap.Stringer("peer", s.Addr))
	}

	return false, nil
}

// awaitBlock reads messages until the piece response matching (index,
// begin) arrives. Concurrent have/choke/keep-alive messages are processed
// as they arrive rather than discarded, per spec.md §4.4.
func (s *Session) awaitBlock(wantIndex int, wantBegin int64) (block []byte, chokedMidway bool, err error) {
	for {
		msg, err := s.readMessage(s.cfg.BlockReadTimeout)
		if err != nil {
			return nil, false, fmt.Errorf("reading block for piece %d offset %d: %w", wantIndex, wantBegin, err)
		}
		if msg.KeepAlive {
			continue
		}

		switch msg.ID {
		case codec.Piece:
			pIdx, begin, b, err := codec.DecodePiece(msg.Payload)
			if err != nil {
				return nil, false, err
			}
			if int(pIdx) != wantIndex || int64(begin) != wantBegin {
				// Stale or mismatched response (e.g. a duplicate); keep
				// waiting for the one we asked for.
				continue
			}
			return b, false, nil

		case codec.Choke:
			s.peerChoking = true
			return nil, true, nil

		case codec.Have:
			idx, err := codec.DecodeHave(msg.Payload)
			if err == nil {
				s.peerHas.Set(int(idx))
			}
			continue

		default:
			continue
		}
	}
}

// awaitUnchoke waits for an unchoke while processing have/choke/keep-alive
// in the meantime, per spec.md §4.4 (Interested -> Downloading).
func (s *Session) awaitUnchoke(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			s.Close()
			return ctx.Err()
		}

		msg, err := s.readMessage(s.cfg.UnchokeTimeout)
		if err != nil {
			s.Close()
			return fmt.Errorf("peersession: waiting for unchoke from %s: %w", s.Addr, err)
		}
		if msg.KeepAlive {
			continue
		}

		switch msg.ID {
		case codec.Unchoke:
			s.peerChoking = false
			return nil
		case codec.Choke:
			s.peerChoking = true
		case codec.Have:
			idx, err := codec.DecodeHave(msg.Payload)
			if err == nil {
				s.peerHas.Set(int(idx))
			}
		default:
			s.log.Debug("peersession: ignoring message while waiting for unchoke",
				zap.Stringer("peer", s.Addr), zap.Int("message_id", int(msg.ID)))
		}
	}
}
