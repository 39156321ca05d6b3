package trackerclient

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/halvarsen/torrentcore/internal/config"
	"github.com/halvarsen/torrentcore/internal/model"
)

func mockUDPTracker(t *testing.T, seeders, leechers, interval int, numPeers int) *net.UDPConn {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)

	go func() {
		buf := make([]byte, 2048)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}

			action := binary.BigEndian.Uint32(buf[8:12])
			txnID := binary.BigEndian.Uint32(buf[12:16])

			if action == actionConnect {
				resp := make([]byte, 16)
				binary.BigEndian.PutUint32(resp[0:4], actionConnect)
				binary.BigEndian.PutUint32(resp[4:8], txnID)
				binary.BigEndian.PutUint64(resp[8:16], 0xabcdef)
				conn.WriteToUDP(resp, addr)
				continue
			}

			if action == actionAnnounce && n >= announceReqSize {
				resp := make([]byte, 20+numPeers*6)
				binary.BigEndian.PutUint32(resp[0:4], actionAnnounce)
				binary.BigEndian.PutUint32(resp[4:8], txnID)
				binary.BigEndian.PutUint32(resp[8:12], uint32(interval))
				binary.BigEndian.PutUint32(resp[12:16], uint32(leechers))
				binary.BigEndian.PutUint32(resp[16:20], uint32(seeders))

				for i := 0; i < numPeers; i++ {
					off := 20 + i*6
					resp[off] = 10
					resp[off+1] = 0
					resp[off+2] = 0
					resp[off+3] = byte(i + 1)
					binary.BigEndian.PutUint16(resp[off+4:off+6], uint16(6881+i))
				}

				conn.WriteToUDP(resp, addr)
			}
		}
	}()

	return conn
}

func TestAnnounceUDPReturnsPeersAndStats(t *testing.T) {
	srv := mockUDPTracker(t, 5, 2, 1800, 3)
	defer srv.Close()

	info := &model.TorrentInfo{
		Announce: "udp://" + srv.LocalAddr().String() + "/announce",
	}

	cfg := config.Default()
	cfg.TrackerTimeout = 2 * time.Second
	client := New(info, cfg, zap.NewNop(), func() int64 { return 0 }, func() int64 { return 1000 })

	peers, err := client.Announce(context.Background(), EventStarted)
	require.NoError(t, err)
	require.Len(t, peers, 3)

	stats := client.Stats()
	require.Equal(t, 5, stats.Seeders)
	require.Equal(t, 2, stats.Leechers)
	require.Equal(t, 1800, stats.IntervalSeconds)
}

func TestAnnounceFallsThroughToSecondTracker(t *testing.T) {
	deadAddr, err := net.ResolveUDPAddr("udp", "127.0.0.1:1")
	require.NoError(t, err)
	_ = deadAddr

	srv := mockUDPTracker(t, 1, 0, 60, 3)
	defer srv.Close()

	info := &model.TorrentInfo{
		AnnounceList: [][]string{
			{"udp://127.0.0.1:1/announce"}, // nothing listens here; should time out fast in test via short timeout
			{"udp://" + srv.LocalAddr().String() + "/announce"},
		},
	}

	cfg := config.Default()
	cfg.TrackerTimeout = 300 * time.Millisecond
	client := New(info, cfg, zap.NewNop(), func() int64 { return 0 }, func() int64 { return 0 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	peers, err := client.Announce(ctx, EventStarted)
	require.NoError(t, err)
	require.Len(t, peers, 3)
	require.Equal(t, 60, client.Stats().IntervalSeconds)
}

func TestDecodeCompactPeersRejectsBadLength(t *testing.T) {
	_, err := DecodeCompactPeers(make([]byte, 7))
	require.Error(t, err)
}

func TestBuildTrackerListDedupesAndOrdersUDPFirst(t *testing.T) {
	info := &model.TorrentInfo{
		Announce: "udp://a:1/announce",
		AnnounceList: [][]string{
			{"udp://a:1/announce", "http://b:2/announce"},
			{"udp://c:3/announce"},
		},
	}

	list := buildTrackerList(info)
	require.Equal(t, []string{"udp://a:1/announce", "udp://c:3/announce", "http://b:2/announce"}, list)
}
