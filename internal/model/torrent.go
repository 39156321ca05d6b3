// Package model holds the data types the core operates on once a .torrent
// file has already been parsed. Nothing in this package knows how to read
// bencode; internal/metadata decodes the .torrent container into these types.
package model

import "fmt"

// TorrentInfo is the immutable, already-parsed view of a torrent's metadata.
// It is shared read-only across every component that touches a download.
type TorrentInfo struct {
	InfoHash    [20]byte
	Name        string
	PieceLength int64
	TotalLength int64
	NumPieces   int
	PieceHashes [][20]byte
	Files       []FileSpan

	Announce     string
	AnnounceList [][]string
}

// FileSpan describes one file within the torrent's flattened byte space.
// Offset is the cumulative prefix-sum of preceding files' lengths; a
// single-file torrent has exactly one entry with Offset 0.
type FileSpan struct {
	Path   string // destination path, already joined under the output dir
	Length int64
	Offset int64
}

// Validate checks the invariants described in spec.md §3.
func (t *TorrentInfo) Validate() error {
	if t.PieceLength <= 0 {
		return fmt.Errorf("model: piece length must be positive, got %d", t.PieceLength)
	}

	var sum int64
	for _, f := range t.Files {
		sum += f.Length
	}
	if sum != t.TotalLength {
		return fmt.Errorf("model: file lengths sum to %d, want total length %d", sum, t.TotalLength)
	}

	wantPieces := int((t.TotalLength + t.PieceLength - 1) / t.PieceLength)
	if t.TotalLength == 0 {
		wantPieces = 0
	}
	if wantPieces != t.NumPieces {
		return fmt.Errorf("model: num pieces %d does not match ceil(total/piece_length)=%d", t.NumPieces, wantPieces)
	}
	if len(t.PieceHashes) != t.NumPieces {
		return fmt.Errorf("model: have %d piece hashes, want %d", len(t.PieceHashes), t.NumPieces)
	}

	return nil
}

// PieceSize returns the effective length of piece i: PieceLength for every
// piece but the last, which may be shorter.
func (t *TorrentInfo) PieceSize(index int) int64 {
	if index == t.NumPieces-1 {
		last := t.TotalLength - int64(t.NumPieces-1)*t.PieceLength
		if last > 0 {
			return last
		}
	}
	return t.PieceLength
}

// PieceOffset returns the byte offset of piece i within the flattened
// torrent content.
func (t *TorrentInfo) PieceOffset(index int) int64 {
	return int64(index) * t.PieceLength
}

// PeerAddress identifies a candidate peer by IP and port, as published by a
// tracker announce.
type PeerAddress struct {
	IP   string
	Port uint16
}

func (p PeerAddress) String() string {
	return fmt.Sprintf("%s:%d", p.IP, p.Port)
}

// SwarmStats is the most recent announce's view of the swarm. It is a plain
// value returned from a query method, never a package-level mutable — see
// DESIGN.md and spec.md §9.
type SwarmStats struct {
	IntervalSeconds int
	Seeders         int
	Leechers        int
}

// ResumeRecord is the persisted snapshot of download progress. claimed is
// intentionally absent: claims are ephemeral and never survive a restart.
type ResumeRecord struct {
	InfoHash        string   `json:"info_hash"`
	PieceLength     int64    `json:"piece_length"`
	TotalPieces     int      `json:"total_pieces"`
	Downloaded      int      `json:"downloaded"`
	FileSizes       []int64  `json:"file_sizes"`
	Mtime           int64    `json:"mtime"`
	VerifiedPieces  []bool   `json:"verified_pieces"`
	LastActive      string   `json:"last_active"`
}
