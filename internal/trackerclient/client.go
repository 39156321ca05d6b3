// Package trackerclient implements the BEP-15 UDP tracker connect/announce
// handshake (with an opportunistic HTTP announce fallback) against a list
// of trackers drawn from a torrent's announce / announce-list fields.
package trackerclient

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/halvarsen/torrentcore/internal/config"
	"github.com/halvarsen/torrentcore/internal/model"
)

// Event mirrors the BEP-15 announce event codes.
type Event uint32

const (
	EventNone      Event = 0
	EventCompleted Event = 1
	EventStarted   Event = 2
	EventStopped   Event = 3
)

// Client announces to a deduplicated, tier-ordered list of trackers and
// keeps the most recent swarm stats as an explicit value — never as a
// package-level global (spec.md §9).
type Client struct {
	info     *model.TorrentInfo
	peerID   [20]byte
	key      uint32
	port     uint16
	cfg      config.Config
	log      *zap.Logger
	http     *http.Client
	trackers []string // tier-ordered, deduplicated; udp:// first, then http(s)://

	statsMu sync.RWMutex
	stats   model.SwarmStats

	uploaded   int64
	downloaded func() int64 // supplied by the ledger, read at announce time
	left       func() int64
}

// New builds a Client for info. downloaded/left are callbacks so the
// client never needs to reach into the ledger's locking directly.
func New(info *model.TorrentInfo, cfg config.Config, log *zap.Logger, downloaded, left func() int64) *Client {
	var peerID [20]byte
	copy(peerID[:], generatePeerID())

	return &Client{
		info:       info,
		peerID:     peerID,
		key:        rand.Uint32(),
		port:       cfg.ListenPort,
		cfg:        cfg,
		log:        log,
		http:       &http.Client{Timeout: 15 * time.Second},
		trackers:   buildTrackerList(info),
		downloaded: downloaded,
		left:       left,
	}
}

// generatePeerID mirrors the teacher's "-GT0001-" + random suffix scheme,
// but draws the random suffix from a UUID (grounded on the teacher's
// go.mod, which already declared google/uuid) instead of raw crypto/rand
// bytes remapped into an alphabet.
func generatePeerID() []byte {
	const prefix = "-TC0001-"
	id := uuid.New().String()
	id = strings.ReplaceAll(id, "-", "")
	suffix := id[:20-len(prefix)]
	return []byte(prefix + suffix)
}

// PeerID returns the local client's 20-byte peer id, stable for the
// lifetime of the Client.
func (c *Client) PeerID() [20]byte { return c.peerID }

// Stats returns the most recently observed swarm stats.
func (c *Client) Stats() model.SwarmStats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.stats
}

func (c *Client) setStats(s model.SwarmStats) {
	c.statsMu.Lock()
	c.stats = s
	c.statsMu.Unlock()
}

// buildTrackerList dedupes info.Announce and info.AnnounceList (tier order
// preserved, UDP schemes tried ahead of HTTP within the tier-flattened
// list) and returns the deduplicated, ordered set.
func buildTrackerList(info *model.TorrentInfo) []string {
	seen := make(map[string]bool)
	var udp, httpList []string

	add := func(u string) {
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		if strings.HasPrefix(u, "udp://") {
			udp = append(udp, u)
		} else if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
			httpList = append(httpList, u)
		}
	}

	add(info.Announce)
	for _, tier := range info.AnnounceList {
		for _, u := range tier {
			add(u)
		}
	}

	return append(udp, httpList...)
}

// Announce tries each tracker in order and returns the first one that
// yields a non-empty peer list for this cycle, updating stats to that
// tracker's reported interval/seeders/leechers (replacing, not appending,
// per spec.md §4.2).
func (c *Client) Announce(ctx context.Context, event Event) ([]model.PeerAddress, error) {
	var lastErr error

	for _, tracker := range c.trackers {
		var peers []model.PeerAddress
		var stats model.SwarmStats
		var err error

		if strings.HasPrefix(tracker, "udp://") {
			peers, stats, err = c.announceUDP(ctx, tracker, event)
		} else {
			peers, stats, err = c.announceHTTP(ctx, tracker, event)
		}

		if err != nil {
			c.log.Warn("tracker announce failed", zap.String("tracker", tracker), zap.Error(err))
			lastErr = err
			continue
		}

		if len(peers) == 0 {
			continue
		}

		c.setStats(stats)
		return peers, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("trackerclient: all trackers failed, last error: %w", lastErr)
	}
	return nil, fmt.Errorf("trackerclient: no tracker returned peers")
}

func randomTransactionID() uint32 {
	return rand.Uint32()
}
