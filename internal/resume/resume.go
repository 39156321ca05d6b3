// Package resume loads and persists the ResumeRecord snapshot described in
// spec.md §3/§4.6: a write-temp-then-rename JSON file at
// <destdir>/<name>/resume.json.
package resume

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/halvarsen/torrentcore/internal/model"
)

// Path returns the resume file location for a torrent named name under
// destDir, per spec.md §6.
func Path(destDir, name string) string {
	return filepath.Join(destDir, name, "resume.json")
}

// Load reads and parses the resume file at path. A missing file is not an
// error: it reports (nil, nil) so the caller initializes all-zero state.
func Load(path string) (*model.ResumeRecord, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resume: reading %s: %w", path, err)
	}

	var rec model.ResumeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("resume: parsing %s: %w", path, err)
	}
	return &rec, nil
}

// Matches reports whether a loaded record's info_hash matches info, per
// spec.md §4.6 ("load ... if its info_hash matches the current torrent").
func Matches(rec *model.ResumeRecord, info *model.TorrentInfo) bool {
	if rec == nil {
		return false
	}
	return rec.InfoHash == hex.EncodeToString(info.InfoHash[:])
}

// Save builds a ResumeRecord from the ledger's current snapshot and writes
// it atomically: marshal to a sibling temp file, then rename over path.
func Save(path string, info *model.TorrentInfo, verifiedPieces []bool, downloaded int) error {
	fileSizes := make([]int64, len(info.Files))
	for i, f := range info.Files {
		fileSizes[i] = f.Length
	}

	rec := model.ResumeRecord{
		InfoHash:       hex.EncodeToString(info.InfoHash[:]),
		PieceLength:    info.PieceLength,
		TotalPieces:    info.NumPieces,
		Downloaded:     downloaded,
		FileSizes:      fileSizes,
		Mtime:          time.Now().Unix(),
		VerifiedPieces: verifiedPieces,
		LastActive:     time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("resume: marshaling record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("resume: creating %s: %w", filepath.Dir(path), err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("resume: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("resume: renaming %s to %s: %w", tmp, path, err)
	}

	return nil
}
