package metadata

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jackpal/bencode-go"

	"github.com/halvarsen/torrentcore/internal/model"
)

// Load reads and decodes the .torrent file at path, builds the destination
// file layout rooted at outputDir, and returns a fully validated
// model.TorrentInfo.
func Load(path, outputDir string) (*model.TorrentInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("metadata: reading %q: %w", path, err)
	}

	var raw rawFile
	if err := bencode.Unmarshal(bytes.NewReader(data), &raw); err != nil {
		return nil, fmt.Errorf("metadata: decoding %q: %w", path, err)
	}

	infoBytes, err := extractInfoBytes(data)
	if err != nil {
		return nil, fmt.Errorf("metadata: locating info dict in %q: %w", path, err)
	}
	infoHash := sha1.Sum(infoBytes)

	if len(raw.Info.Pieces)%20 != 0 {
		return nil, fmt.Errorf("metadata: pieces field length %d is not a multiple of 20", len(raw.Info.Pieces))
	}
	numPieces := len(raw.Info.Pieces) / 20
	pieceHashes := make([][20]byte, numPieces)
	for i := 0; i < numPieces; i++ {
		copy(pieceHashes[i][:], raw.Info.Pieces[i*20:(i+1)*20])
	}

	files, total := buildFiles(&raw, outputDir)

	info := &model.TorrentInfo{
		InfoHash:     infoHash,
		Name:         raw.Info.Name,
		PieceLength:  raw.Info.PieceLength,
		TotalLength:  total,
		NumPieces:    numPieces,
		PieceHashes:  pieceHashes,
		Files:        files,
		Announce:     raw.Announce,
		AnnounceList: raw.AnnounceList,
	}

	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("metadata: %q: %w", path, err)
	}

	return info, nil
}

// buildFiles lays out the destination paths per spec.md §6: a single-file
// torrent named F.ext is written at <destdir>/F/F.ext; a multi-file torrent
// named D is written at <destdir>/D/<path components joined by slash>.
func buildFiles(raw *rawFile, outputDir string) ([]model.FileSpan, int64) {
	baseDir := filepath.Join(outputDir, raw.Info.Name)

	if len(raw.Info.Files) == 0 {
		name := raw.Info.Name
		stem := name[:len(name)-len(filepath.Ext(name))]
		return []model.FileSpan{{
			Path:   filepath.Join(outputDir, stem, name),
			Length: raw.Info.Length,
			Offset: 0,
		}}, raw.Info.Length
	}

	files := make([]model.FileSpan, 0, len(raw.Info.Files))
	var offset int64
	for _, entry := range raw.Info.Files {
		parts := append([]string{baseDir}, entry.Path...)
		files = append(files, model.FileSpan{
			Path:   filepath.Join(parts...),
			Length: entry.Length,
			Offset: offset,
		})
		offset += entry.Length
	}

	return files, offset
}

// extractInfoBytes locates the raw bencoded span of the "info" dictionary
// within the original file bytes, so its SHA-1 can be computed without
// re-encoding (which would not reproduce unknown/nonstandard keys
// byte-for-byte). Ported from the teacher's extractInfoBytes.
func extractInfoBytes(data []byte) ([]byte, error) {
	idx := bytes.Index(data, []byte("4:info"))
	if idx < 0 {
		return nil, fmt.Errorf("no \"4:info\" prefix found")
	}

	start := idx + len("4:info")

	depth := 0
	for i := start; i < len(data); i++ {
		b := data[i]

		switch b {
		case 'd', 'l':
			depth++
		case 'e':
			depth--
			if depth == 0 {
				return data[start : i+1], nil
			}
		case 'i':
			j := i + 1
			for ; j < len(data) && data[j] != 'e'; j++ {
			}
			if j >= len(data) {
				return nil, fmt.Errorf("unterminated integer at %d", i)
			}
			i = j
		default:
			if b >= '0' && b <= '9' {
				j := i
				for ; j < len(data) && data[j] >= '0' && data[j] <= '9'; j++ {
				}
				if j < len(data) && data[j] == ':' {
					length, err := strconv.Atoi(string(data[i:j]))
					if err != nil {
						return nil, fmt.Errorf("invalid string length at %d-%d", i, j)
					}
					j++
					i = j + length - 1
				}
			}
		}
	}

	return nil, fmt.Errorf("unterminated info dict")
}
