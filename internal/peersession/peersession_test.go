package peersession

import (
	"context"
	"crypto/sha1"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/halvarsen/torrentcore/internal/codec"
	"github.com/halvarsen/torrentcore/internal/config"
	"github.com/halvarsen/torrentcore/internal/ledger"
	"github.com/halvarsen/torrentcore/internal/model"
)

func testInfo(t *testing.T, destDir string, content []byte, pieceLength int64) *model.TorrentInfo {
	t.Helper()

	numPieces := int((int64(len(content)) + pieceLength - 1) / pieceLength)
	hashes := make([][20]byte, numPieces)
	for i := 0; i < numPieces; i++ {
		start := int64(i) * pieceLength
		end := start + pieceLength
		if end > int64(len(content)) {
			end = int64(len(content))
		}
		hashes[i] = sha1.Sum(content[start:end])
	}

	return &model.TorrentInfo{
		InfoHash:    [20]byte{1, 2, 3, 4, 5},
		PieceLength: pieceLength,
		TotalLength: int64(len(content)),
		NumPieces:   numPieces,
		PieceHashes: hashes,
		Files: []model.FileSpan{
			{Path: filepath.Join(destDir, "sample.bin"), Length: int64(len(content)), Offset: 0},
		},
	}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.HandshakeTimeout = time.Second
	cfg.UnchokeTimeout = time.Second
	cfg.BlockReadTimeout = time.Second
	cfg.BlockSize = 8
	return cfg
}

func newTestSession(t *testing.T, info *model.TorrentInfo, l *ledger.Ledger, cfg config.Config) (*Session, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	s := New(model.PeerAddress{IP: "127.0.0.1", Port: 6881}, local, info, l, cfg, zap.NewNop(), [20]byte{9})
	return s, remote
}

func TestHandshakeSendsAndValidates(t *testing.T) {
	destDir := t.TempDir()
	content := make([]byte, 16)
	info := testInfo(t, destDir, content, 16)
	l := ledger.New(info)
	cfg := testConfig()

	s, remote := newTestSession(t, info, l, cfg)
	defer remote.Close()

	done := make(chan error, 1)
	go func() { done <- s.Handshake() }()

	buf := make([]byte, codec.HandshakeSize)
	_, err := readFull(remote, buf)
	require.NoError(t, err)
	hs, ok := codec.DecodeHandshake(buf)
	require.True(t, ok)
	require.Equal(t, info.InfoHash, hs.InfoHash)

	reply := codec.Handshake{InfoHash: info.InfoHash, PeerID: [20]byte{7}}
	require.NoError(t, codec.WriteHandshake(remote, reply))

	require.NoError(t, <-done)
	require.Equal(t, ControlExchange, s.State())
}

func TestHandshakeRejectsMismatchedInfoHash(t *testing.T) {
	destDir := t.TempDir()
	content := make([]byte, 16)
	info := testInfo(t, destDir, content, 16)
	l := ledger.New(info)
	cfg := testConfig()

	s, remote := newTestSession(t, info, l, cfg)
	defer remote.Close()

	done := make(chan error, 1)
	go func() { done <- s.Handshake() }()

	buf := make([]byte, codec.HandshakeSize)
	_, err := readFull(remote, buf)
	require.NoError(t, err)

	reply := codec.Handshake{InfoHash: [20]byte{99, 99}, PeerID: [20]byte{7}}
	require.NoError(t, codec.WriteHandshake(remote, reply))

	require.Error(t, <-done)
	require.Equal(t, Closed, s.State())
}

func TestEstablishControlIgnoresUnrelatedMessagesThenWaitsForBitfield(t *testing.T) {
	destDir := t.TempDir()
	content := make([]byte, 32)
	info := testInfo(t, destDir, content, 16)
	l := ledger.New(info)
	cfg := testConfig()

	s, remote := newTestSession(t, info, l, cfg)
	s.state = ControlExchange
	defer remote.Close()

	result := make(chan bool, 1)
	errc := make(chan error, 1)
	go func() {
		needed, err := s.EstablishControl()
		result <- needed
		errc <- err
	}()

	// A message we don't care about yet, before we know peer_has.
	require.NoError(t, codec.WriteMessage(remote, codec.Message{ID: codec.Port, Payload: make([]byte, 2)}))

	bf := codec.NewBitfield(info.NumPieces)
	bf.Set(0)
	bf.Set(1)
	require.NoError(t, codec.WriteMessage(remote, codec.EncodeBitfield(bf)))

	msg, err := codec.ReadMessage(remote)
	require.NoError(t, err)
	require.Equal(t, codec.Interested, msg.ID)

	require.NoError(t, <-errc)
	require.True(t, <-result)
	require.Equal(t, Interested, s.State())
}

func TestEstablishControlClosesWhenPeerHasNothingWeNeed(t *testing.T) {
	destDir := t.TempDir()
	content := make([]byte, 16)
	info := testInfo(t, destDir, content, 16)
	l := ledger.New(info)
	l.LoadVerified([]bool{true})
	cfg := testConfig()

	s, remote := newTestSession(t, info, l, cfg)
	s.state = ControlExchange
	defer remote.Close()

	result := make(chan bool, 1)
	errc := make(chan error, 1)
	go func() {
		needed, err := s.EstablishControl()
		result <- needed
		errc <- err
	}()

	bf := codec.NewBitfield(info.NumPieces)
	bf.Set(0)
	require.NoError(t, codec.WriteMessage(remote, codec.EncodeBitfield(bf)))

	require.NoError(t, <-errc)
	require.False(t, <-result)
	require.Equal(t, Closed, s.State())
}

// TestDownloadLoopChokeMidBatchReleasesRemainingClaims mirrors spec.md S4: a
// peer unchokes, we claim a two-piece batch, the peer fully serves the first
// piece but chokes before serving the second, and the session must release
// the unserved piece and return to waiting for an unchoke rather than erroring.
func TestDownloadLoopChokeMidBatchReleasesRemainingClaims(t *testing.T) {
	destDir := t.TempDir()
	pieceLength := int64(8)
	content := make([]byte, pieceLength*2)
	for i := range content {
		content[i] = byte(i)
	}
	info := testInfo(t, destDir, content, pieceLength)
	l := ledger.New(info)
	cfg := testConfig()

	s, remote := newTestSession(t, info, l, cfg)
	s.state = Interested
	s.peerChoking = false
	s.peerHas = codec.NewBitfield(info.NumPieces)
	s.peerHas.Set(0)
	s.peerHas.Set(1)
	defer remote.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.DownloadLoop(ctx) }()

	// Serve piece 0 in full.
	req, err := codec.ReadMessage(remote)
	require.NoError(t, err)
	require.Equal(t, codec.Request, req.ID)
	idx, begin, length, err := codec.DecodeRequest(req.Payload)
	require.NoError(t, err)
	require.EqualValues(t, 0, idx)
	require.NoError(t, codec.WriteMessage(remote, codec.EncodePiece(idx, begin, content[begin:begin+length])))

	// Peer receives the request for piece 1, but chokes instead of serving it.
	req2, err := codec.ReadMessage(remote)
	require.NoError(t, err)
	require.Equal(t, codec.Request, req2.ID)
	idx2, _, _, err := codec.DecodeRequest(req2.Payload)
	require.NoError(t, err)
	require.EqualValues(t, 1, idx2)
	require.NoError(t, codec.WriteMessage(remote, codec.Message{ID: codec.Choke}))

	// No unchoke ever arrives, so the session times out waiting for one
	// (UnchokeTimeout is 1s in testConfig) rather than hanging forever.
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("DownloadLoop did not return after choke; expected it to return to wait-for-unchoke and time out")
	}

	require.True(t, l.IsVerified(0))
	require.False(t, l.IsVerified(1))
	// Piece 1 must have been released back, not left stuck as claimed.
	reclaimed := l.ClaimBatch([]int{1}, 1)
	require.Equal(t, []int{1}, reclaimed)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
