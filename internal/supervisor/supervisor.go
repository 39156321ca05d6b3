// Package supervisor wires the ledger, tracker client, pipeline, and resume
// store together, and owns the progress display and shutdown sequence. It
// is the otherwise-implicit glue component named in SPEC_FULL.md §4.7.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/halvarsen/torrentcore/internal/config"
	"github.com/halvarsen/torrentcore/internal/ledger"
	"github.com/halvarsen/torrentcore/internal/model"
	"github.com/halvarsen/torrentcore/internal/pipeline"
	"github.com/halvarsen/torrentcore/internal/resume"
	"github.com/halvarsen/torrentcore/internal/trackerclient"
)

// Supervisor drives one torrent's download end-to-end.
type Supervisor struct {
	info       *model.TorrentInfo
	destDir    string
	cfg        config.Config
	log        *zap.Logger
	ledger     *ledger.Ledger
	tracker    *trackerclient.Client
	pipeline   *pipeline.Pipeline
	resumePath string

	fatalErr     chan error
	downloadDone chan struct{}
	doneOnce     sync.Once
}

// New constructs a Supervisor for info, writing committed pieces under the
// destination directory that info.Files already point into.
func New(info *model.TorrentInfo, destDir string, cfg config.Config, log *zap.Logger) *Supervisor {
	l := ledger.New(info)

	tracker := trackerclient.New(info, cfg, log, func() int64 {
		done, _ := l.Progress()
		return int64(done) * info.PieceLength
	}, func() int64 {
		done, total := l.Progress()
		return int64(total-done) * info.PieceLength
	})

	s := &Supervisor{
		info:         info,
		destDir:      destDir,
		cfg:          cfg,
		log:          log,
		ledger:       l,
		tracker:      tracker,
		pipeline:     pipeline.New(info, l, cfg, log, tracker.PeerID()),
		resumePath:   resume.Path(destDir, info.Name),
		fatalErr:     make(chan error, 1),
		downloadDone: make(chan struct{}),
	}

	l.OnFatalDiskError(func(err error) {
		select {
		case s.fatalErr <- err:
		default:
		}
	})

	// Every successful commit checks whether that was the last piece, since
	// Progress() is otherwise never polled anywhere but the periodic
	// display — without this, Run's select would have no way to learn the
	// download finished and would block forever waiting on ctx/fatalErr.
	l.OnProgress(func(done, total int) {
		if total > 0 && done == total {
			s.signalDone()
		}
	})

	return s
}

// signalDone marks the download complete, idempotently.
func (s *Supervisor) signalDone() {
	s.doneOnce.Do(func() { close(s.downloadDone) })
}

// loadResumeState loads a matching resume record, if any, into the ledger.
func (s *Supervisor) loadResumeState() error {
	rec, err := resume.Load(s.resumePath)
	if err != nil {
		return fmt.Errorf("supervisor: loading resume state: %w", err)
	}
	if rec != nil && resume.Matches(rec, s.info) {
		s.ledger.LoadVerified(rec.VerifiedPieces)
		s.log.Info("supervisor: resumed previous download",
			zap.Int("downloaded", rec.Downloaded), zap.Int("total", rec.TotalPieces))
	}
	return nil
}

// isComplete reports whether every piece has been verified.
func (s *Supervisor) isComplete() bool {
	done, total := s.ledger.Progress()
	return total > 0 && done == total
}

// Run drives the download until it completes, a fatal disk error occurs, or
// ctx is canceled (an external signal), persisting the resume record
// on every exit path. It returns nil on a clean completion or graceful
// shutdown, and a non-zero-worthy error on a fatal startup/disk condition.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.loadResumeState(); err != nil {
		return err
	}
	if s.isComplete() {
		s.signalDone()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.tracker.RunLoop(runCtx, s.pipeline.PeerQueue(), s.isComplete)
	go s.reportProgress(runCtx)

	pipelineDone := make(chan error, 1)
	go func() { pipelineDone <- s.pipeline.Run(runCtx) }()

	var runErr error
	select {
	case err := <-s.fatalErr:
		s.log.Error("supervisor: fatal disk error, shutting down", zap.Error(err))
		runErr = err
		cancel()
		<-pipelineDone
	case <-s.downloadDone:
		s.log.Info("supervisor: download complete, shutting down")
		cancel()
		<-pipelineDone
	case <-ctx.Done():
		cancel()
		<-pipelineDone
	case <-pipelineDone:
		cancel()
	}

	if err := s.persist(); err != nil {
		s.log.Error("supervisor: failed to persist resume state", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}

	return runErr
}

func (s *Supervisor) persist() error {
	done, _ := s.ledger.Progress()
	return resume.Save(s.resumePath, s.info, s.ledger.VerifiedSnapshot(), done)
}

// reportProgress renders a terminal-width progress bar every
// cfg.ProgressInterval, grounded on the teacher's StartDownload printf-bar
// loop (torrent/p2p.go), generalized to use schollz/progressbar/v3 sized
// via golang.org/x/term and a humanize-formatted transfer rate.
func (s *Supervisor) reportProgress(ctx context.Context) {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		width = 50
	}

	bar := progressbar.NewOptions(s.info.NumPieces,
		progressbar.OptionSetWidth(width/2),
		progressbar.OptionSetDescription(s.info.Name),
	)

	ticker := time.NewTicker(s.cfg.ProgressInterval)
	defer ticker.Stop()

	var lastDone int
	lastTick := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			done, total := s.ledger.Progress()
			bar.Set(done)

			elapsed := now.Sub(lastTick).Seconds()
			var rate float64
			if elapsed > 0 {
				rate = float64(int64(done-lastDone)*s.info.PieceLength) / elapsed
			}
			lastDone = done
			lastTick = now

			s.log.Info("download progress",
				zap.Int("downloaded", done), zap.Int("total", total),
				zap.String("rate", humanize.Bytes(uint64(rate))+"/s"))
		}
	}
}
