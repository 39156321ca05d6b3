// Package pipeline wires the three bounded worker pools named in spec.md
// §4.5: connect -> handshake -> download, joined by typed channel queues.
// The shape is grounded on the teacher's ConnectToPeers/StartDownload
// semaphore-bounded goroutine fan-out (torrent/p2p.go), generalized to use
// golang.org/x/sync/errgroup for pool lifetime and golang.org/x/time/rate
// to pace outbound connection attempts (both grounded on uber-kraken's
// go.mod).
package pipeline

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/halvarsen/torrentcore/internal/config"
	"github.com/halvarsen/torrentcore/internal/ledger"
	"github.com/halvarsen/torrentcore/internal/model"
	"github.com/halvarsen/torrentcore/internal/peersession"
)

// Pipeline owns the peer_queue -> handshake_queue -> download_queue chain
// and the worker pools that drain them.
type Pipeline struct {
	cfg         config.Config
	info        *model.TorrentInfo
	ledger      *ledger.Ledger
	log         *zap.Logger
	localPeerID [20]byte

	peerQueue      chan model.PeerAddress
	handshakeQueue chan *peersession.Session
	downloadQueue  chan *peersession.Session

	limiter *rate.Limiter

	recentMu          sync.Mutex
	recentlyContacted map[string]time.Time
}

// New constructs a Pipeline. Queue depths are generous multiples of the
// corresponding worker count so a slow downstream stage applies backpressure
// rather than dropping peers.
func New(info *model.TorrentInfo, l *ledger.Ledger, cfg config.Config, log *zap.Logger, localPeerID [20]byte) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		info:        info,
		ledger:      l,
		log:         log,
		localPeerID: localPeerID,

		peerQueue:      make(chan model.PeerAddress, cfg.NumConnTasks*8),
		handshakeQueue: make(chan *peersession.Session, cfg.NumHandleTasks*8),
		downloadQueue:  make(chan *peersession.Session, cfg.NumDownloadTasks*2),

		limiter: rate.NewLimiter(rate.Limit(cfg.ConnectRate), cfg.ConnectBurst),

		recentlyContacted: make(map[string]time.Time),
	}
}

// PeerQueue returns the send side of the peer address queue, suitable for
// passing directly to trackerclient.Client.RunLoop.
func (p *Pipeline) PeerQueue() chan<- model.PeerAddress { return p.peerQueue }

// Run starts every worker pool and blocks until ctx is canceled and every
// worker has exited. Per-peer failures (dial, handshake, choke, stream
// errors) are logged and never propagate past their worker; the only error
// Run can return is ctx's own cancellation cause.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < p.cfg.NumConnTasks; i++ {
		g.Go(func() error { return p.connectWorker(ctx) })
	}
	for i := 0; i < p.cfg.NumHandleTasks; i++ {
		g.Go(func() error { return p.handleWorker(ctx) })
	}
	for i := 0; i < p.cfg.NumDownloadTasks; i++ {
		g.Go(func() error { return p.downloadWorker(ctx) })
	}

	return g.Wait()
}

func (p *Pipeline) connectWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case addr, ok := <-p.peerQueue:
			if !ok {
				return nil
			}
			if p.skipRecentlyContacted(addr) {
				continue
			}
			if err := p.limiter.Wait(ctx); err != nil {
				return ctx.Err()
			}

			sess, err := p.dial(addr)
			if err != nil {
				p.log.Debug("pipeline: connect failed", zap.Stringer("peer", addr), zap.Error(err))
				continue
			}

			select {
			case p.handshakeQueue <- sess:
			case <-ctx.Done():
				sess.Close()
				return ctx.Err()
			}
		}
	}
}

func (p *Pipeline) dial(addr model.PeerAddress) (*peersession.Session, error) {
	conn, err := net.DialTimeout("tcp", addr.String(), p.cfg.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return peersession.New(addr, conn, p.info, p.ledger, p.cfg, p.log, p.localPeerID), nil
}

func (p *Pipeline) handleWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sess, ok := <-p.handshakeQueue:
			if !ok {
				return nil
			}

			if err := sess.Handshake(); err != nil {
				p.log.Debug("pipeline: handshake failed", zap.Stringer("peer", sess.Addr), zap.Error(err))
				continue
			}

			needed, err := sess.EstablishControl()
			if err != nil {
				p.log.Debug("pipeline: control exchange failed", zap.Stringer("peer", sess.Addr), zap.Error(err))
				continue
			}
			if !needed {
				continue
			}

			select {
			case p.downloadQueue <- sess:
			case <-ctx.Done():
				sess.Close()
				return ctx.Err()
			}
		}
	}
}

func (p *Pipeline) downloadWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sess, ok := <-p.downloadQueue:
			if !ok {
				return nil
			}
			if err := sess.DownloadLoop(ctx); err != nil {
				p.log.Debug("pipeline: download loop ended", zap.Stringer("peer", sess.Addr), zap.Error(err))
			}
		}
	}
}

// skipRecentlyContacted implements the peer-dedup design note in spec.md
// §9: a peer address already taken from the queue within
// RecentlyContactedTTL is skipped rather than redialed, whether or not the
// earlier dial succeeded.
func (p *Pipeline) skipRecentlyContacted(addr model.PeerAddress) bool {
	key := addr.String()

	p.recentMu.Lock()
	defer p.recentMu.Unlock()

	if until, ok := p.recentlyContacted[key]; ok && time.Now().Before(until) {
		return true
	}
	p.recentlyContacted[key] = time.Now().Add(p.cfg.RecentlyContactedTTL)
	return false
}
