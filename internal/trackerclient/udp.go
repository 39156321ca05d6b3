package trackerclient

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/halvarsen/torrentcore/internal/model"
)

const (
	udpProtocolID  = 0x41727101980
	actionConnect  = 0
	actionAnnounce = 1
	actionError    = 3

	connectReqSize  = 16
	connectRespSize = 16
	announceReqSize = 98
	minAnnounceResp = 20
	peerEntrySize   = 6
)

// announceUDP performs the BEP-15 connect/announce handshake against a
// single udp:// tracker URL. A single attempt per message is made per
// spec.md §4.2 — MAX_TRY effectively stays at 1, as in the original
// implementation; the supervisor's refresh loop is what cycles trackers
// and backs off across whole cycles.
func (c *Client) announceUDP(ctx context.Context, trackerURL string, event Event) ([]model.PeerAddress, model.SwarmStats, error) {
	host, err := parseUDPHost(trackerURL)
	if err != nil {
		return nil, model.SwarmStats{}, err
	}

	addr, err := net.ResolveUDPAddr("udp", host)
	if err != nil {
		return nil, model.SwarmStats{}, fmt.Errorf("trackerclient: resolving %q: %w", host, err)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, model.SwarmStats{}, fmt.Errorf("trackerclient: dial %q: %w", host, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.cfg.TrackerTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	connectionID, err := c.udpConnect(conn)
	if err != nil {
		return nil, model.SwarmStats{}, err
	}

	return c.udpAnnounce(conn, connectionID, event)
}

func (c *Client) udpConnect(conn *net.UDPConn) (uint64, error) {
	txnID := randomTransactionID()

	req := make([]byte, connectReqSize)
	binary.BigEndian.PutUint64(req[0:8], udpProtocolID)
	binary.BigEndian.PutUint32(req[8:12], actionConnect)
	binary.BigEndian.PutUint32(req[12:16], txnID)

	if _, err := conn.Write(req); err != nil {
		return 0, fmt.Errorf("trackerclient: sending connect: %w", err)
	}

	resp := make([]byte, 1024)
	n, err := conn.Read(resp)
	if err != nil {
		return 0, fmt.Errorf("trackerclient: reading connect response: %w", err)
	}
	if n < connectRespSize {
		return 0, fmt.Errorf("trackerclient: connect response too short: %d bytes", n)
	}

	action := binary.BigEndian.Uint32(resp[0:4])
	gotTxnID := binary.BigEndian.Uint32(resp[4:8])
	if action != actionConnect {
		return 0, fmt.Errorf("trackerclient: invalid connect action %d", action)
	}
	if gotTxnID != txnID {
		return 0, fmt.Errorf("trackerclient: connect transaction id mismatch")
	}

	return binary.BigEndian.Uint64(resp[8:16]), nil
}

func (c *Client) udpAnnounce(conn *net.UDPConn, connectionID uint64, event Event) ([]model.PeerAddress, model.SwarmStats, error) {
	txnID := randomTransactionID()

	req := make([]byte, announceReqSize)
	binary.BigEndian.PutUint64(req[0:8], connectionID)
	binary.BigEndian.PutUint32(req[8:12], actionAnnounce)
	binary.BigEndian.PutUint32(req[12:16], txnID)
	copy(req[16:36], c.info.InfoHash[:])
	copy(req[36:56], c.peerID[:])
	binary.BigEndian.PutUint64(req[56:64], uint64(c.downloadedOrZero()))
	binary.BigEndian.PutUint64(req[64:72], uint64(c.leftOrZero()))
	binary.BigEndian.PutUint64(req[72:80], uint64(c.uploaded))
	binary.BigEndian.PutUint32(req[80:84], uint32(event))
	binary.BigEndian.PutUint32(req[84:88], 0) // ip = 0 (default)
	binary.BigEndian.PutUint32(req[88:92], c.key)
	binary.BigEndian.PutUint32(req[92:96], uint32(int32(-1))) // num_want = -1
	binary.BigEndian.PutUint16(req[96:98], c.port)

	if _, err := conn.Write(req); err != nil {
		return nil, model.SwarmStats{}, fmt.Errorf("trackerclient: sending announce: %w", err)
	}

	resp := make([]byte, 4096)
	n, err := conn.Read(resp)
	if err != nil {
		return nil, model.SwarmStats{}, fmt.Errorf("trackerclient: reading announce response: %w", err)
	}
	if n < minAnnounceResp {
		return nil, model.SwarmStats{}, fmt.Errorf("trackerclient: announce response too short: %d bytes", n)
	}

	action := binary.BigEndian.Uint32(resp[0:4])
	if action == actionError {
		return nil, model.SwarmStats{}, fmt.Errorf("trackerclient: tracker error: %s", string(resp[8:n]))
	}
	if action != actionAnnounce {
		return nil, model.SwarmStats{}, fmt.Errorf("trackerclient: invalid announce action %d", action)
	}
	if binary.BigEndian.Uint32(resp[4:8]) != txnID {
		return nil, model.SwarmStats{}, fmt.Errorf("trackerclient: announce transaction id mismatch")
	}

	interval := int(binary.BigEndian.Uint32(resp[8:12]))
	leechers := int(binary.BigEndian.Uint32(resp[12:16]))
	seeders := int(binary.BigEndian.Uint32(resp[16:20]))

	peerBytes := resp[20:n]
	peers, err := DecodeCompactPeers(peerBytes)
	if err != nil {
		return nil, model.SwarmStats{}, err
	}

	stats := model.SwarmStats{IntervalSeconds: interval, Seeders: seeders, Leechers: leechers}
	return peers, stats, nil
}

func (c *Client) downloadedOrZero() int64 {
	if c.downloaded == nil {
		return 0
	}
	return c.downloaded()
}

func (c *Client) leftOrZero() int64 {
	if c.left == nil {
		return 0
	}
	return c.left()
}

// DecodeCompactPeers parses a compact peer list: N entries of 4-byte IPv4
// + 2-byte big-endian port.
func DecodeCompactPeers(b []byte) ([]model.PeerAddress, error) {
	if len(b)%peerEntrySize != 0 {
		return nil, fmt.Errorf("trackerclient: peers length %d is not a multiple of %d", len(b), peerEntrySize)
	}

	peers := make([]model.PeerAddress, 0, len(b)/peerEntrySize)
	for i := 0; i < len(b); i += peerEntrySize {
		ip := net.IPv4(b[i], b[i+1], b[i+2], b[i+3]).String()
		port := binary.BigEndian.Uint16(b[i+4 : i+6])
		peers = append(peers, model.PeerAddress{IP: ip, Port: port})
	}

	return peers, nil
}

func parseUDPHost(trackerURL string) (string, error) {
	const prefix = "udp://"
	if len(trackerURL) <= len(prefix) || trackerURL[:len(prefix)] != prefix {
		return "", fmt.Errorf("trackerclient: not a udp:// url: %q", trackerURL)
	}
	rest := trackerURL[len(prefix):]
	// Strip any path component (e.g. "/announce").
	for i, r := range rest {
		if r == '/' {
			return rest[:i], nil
		}
	}
	return rest, nil
}
