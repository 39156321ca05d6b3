// Package ledger implements the shared, mutable piece-allocation engine:
// the verified/claimed bitsets, SHA-1 verification, and the file-slab
// writer. It is the only place in the module that mutates download state
// shared across peer sessions. Once a download is running, the four
// operations named in spec.md §4.3 are its only claim/verify operations
// (LoadVerified seeds the verified set beforehand; the other exported
// methods are read-only queries and callback registration) — callers never
// see the locking primitive.
package ledger

import (
	"crypto/sha1"
	"fmt"
	"sync"

	"github.com/willf/bitset"
	"go.uber.org/atomic"

	"github.com/halvarsen/torrentcore/internal/model"
)

// CommitResult reports the outcome of a Commit call.
type CommitResult struct {
	Index   int
	Ok      bool // true iff the SHA-1 of data matched piece_hashes[index] and the piece was written
	WriteErr error
}

// Ledger is the singular, shared-mutable component described in spec.md
// §3/§4.3. The zero value is not usable; construct with New.
type Ledger struct {
	info *model.TorrentInfo
	slab *slabWriter

	mu       sync.Mutex // guards verified and claimed only
	verified *bitset.BitSet
	claimed  *bitset.BitSet

	downloaded *atomic.Int64

	progressMu sync.Mutex
	onProgress []func(done, total int)

	fatalMu sync.Mutex
	onFatal []func(error)
}

// New constructs a Ledger for info, writing committed pieces via the
// file-slab writer to the destination paths already held in info.Files.
func New(info *model.TorrentInfo) *Ledger {
	return &Ledger{
		info:       info,
		slab:       newSlabWriter(info),
		verified:   bitset.New(uint(info.NumPieces)),
		claimed:    bitset.New(uint(info.NumPieces)),
		downloaded: atomic.NewInt64(0),
	}
}

// LoadVerified seeds the ledger from a resumed snapshot. It must be called
// before any concurrent claim/commit activity begins.
func (l *Ledger) LoadVerified(verifiedPieces []bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var count int64
	for i, v := range verifiedPieces {
		if v {
			l.verified.Set(uint(i))
			count++
		}
	}
	l.downloaded.Store(count)
}

// OnProgress registers a callback invoked after every successful Commit.
func (l *Ledger) OnProgress(fn func(done, total int)) {
	l.progressMu.Lock()
	defer l.progressMu.Unlock()
	l.onProgress = append(l.onProgress, fn)
}

// OnFatalDiskError registers a callback invoked when the file-slab writer
// fails. Per spec.md §7, a disk write failure is fatal to the whole
// download, not just the committing session, so the supervisor uses this
// to trigger a graceful shutdown.
func (l *Ledger) OnFatalDiskError(fn func(error)) {
	l.fatalMu.Lock()
	defer l.fatalMu.Unlock()
	l.onFatal = append(l.onFatal, fn)
}

func (l *Ledger) notifyFatal(err error) {
	l.fatalMu.Lock()
	callbacks := append([]func(error){}, l.onFatal...)
	l.fatalMu.Unlock()

	for _, fn := range callbacks {
		fn(err)
	}
}

// ClaimBatch atomically picks up to max indices that are in available, not
// in verified, and not already claimed; adds them to claimed; and returns
// them. The tie-break among eligible indices is in-order, which is
// sufficient to guarantee no two concurrent callers receive the same index.
func (l *Ledger) ClaimBatch(available []int, max int) []int {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []int
	for _, idx := range available {
		if len(out) >= max {
			break
		}
		if idx < 0 || idx >= l.info.NumPieces {
			continue
		}
		if l.verified.Test(uint(idx)) || l.claimed.Test(uint(idx)) {
			continue
		}
		l.claimed.Set(uint(idx))
		out = append(out, idx)
	}

	return out
}

// Release removes the given indices from claimed. Used when a session dies
// mid-batch (peer choke, stream error, cancellation).
func (l *Ledger) Release(indices []int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, idx := range indices {
		l.claimed.Clear(uint(idx))
	}
}

// Commit recomputes the SHA-1 of data and compares it against
// piece_hashes[index]. SHA-1 and the disk write both happen outside the
// ledger's mutex, per spec.md §5 — only the verified/claimed bitset
// mutation is serialized.
func (l *Ledger) Commit(index int, data []byte) CommitResult {
	if index < 0 || index >= l.info.NumPieces {
		return CommitResult{Index: index, Ok: false, WriteErr: fmt.Errorf("ledger: index %d out of range", index)}
	}

	want := l.info.PieceHashes[index]
	got := sha1.Sum(data)

	if got != want {
		l.mu.Lock()
		l.claimed.Clear(uint(index))
		l.mu.Unlock()
		return CommitResult{Index: index, Ok: false}
	}

	writeErr := l.slab.writePiece(l.info, index, data)
	if writeErr != nil {
		l.mu.Lock()
		l.claimed.Clear(uint(index))
		l.mu.Unlock()
		l.notifyFatal(writeErr)
		return CommitResult{Index: index, Ok: false, WriteErr: writeErr}
	}

	l.mu.Lock()
	l.verified.Set(uint(index))
	l.claimed.Clear(uint(index))
	l.mu.Unlock()

	done := l.downloaded.Inc()
	l.notifyProgress(int(done))

	return CommitResult{Index: index, Ok: true}
}

func (l *Ledger) notifyProgress(done int) {
	l.progressMu.Lock()
	callbacks := append([]func(done, total int){}, l.onProgress...)
	l.progressMu.Unlock()

	for _, fn := range callbacks {
		fn(done, l.info.NumPieces)
	}
}

// Progress returns (done, total) piece counts.
func (l *Ledger) Progress() (int, int) {
	return int(l.downloaded.Load()), l.info.NumPieces
}

// VerifiedSnapshot returns a copy of the verified bitmap as a []bool sized
// to NumPieces, suitable for persisting as a ResumeRecord.
func (l *Ledger) VerifiedSnapshot() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]bool, l.info.NumPieces)
	for i := 0; i < l.info.NumPieces; i++ {
		out[i] = l.verified.Test(uint(i))
	}
	return out
}

// IsVerified reports whether piece i has already been committed.
func (l *Ledger) IsVerified(i int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.verified.Test(uint(i))
}
