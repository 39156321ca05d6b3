package metadata

import (
	"bytes"
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackpal/bencode-go"
	"github.com/stretchr/testify/require"
)

func writeTorrent(t *testing.T, raw rawFile) string {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, bencode.Marshal(&buf, raw))

	dir := t.TempDir()
	path := filepath.Join(dir, "sample.torrent")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestLoadSingleFile(t *testing.T) {
	content := bytes.Repeat([]byte{0}, 40000)
	pieces := sha1.Sum(content[0:16384])
	pieces2 := sha1.Sum(content[16384:32768])
	pieces3 := sha1.Sum(content[32768:40000])

	raw := rawFile{
		Announce: "udp://tracker.example.com:80/announce",
		Info: rawInfo{
			PieceLength: 16384,
			Pieces:      string(pieces[:]) + string(pieces2[:]) + string(pieces3[:]),
			Name:        "sample.bin",
			Length:      40000,
		},
	}

	path := writeTorrent(t, raw)
	destDir := t.TempDir()

	info, err := Load(path, destDir)
	require.NoError(t, err)

	require.Equal(t, int64(40000), info.TotalLength)
	require.Equal(t, 3, info.NumPieces)
	require.Len(t, info.Files, 1)
	require.Equal(t, filepath.Join(destDir, "sample", "sample.bin"), info.Files[0].Path)
	require.Equal(t, int64(0), info.Files[0].Offset)
}

func TestLoadMultiFile(t *testing.T) {
	raw := rawFile{
		Announce: "udp://tracker.example.com:80/announce",
		Info: rawInfo{
			PieceLength: 32768,
			Pieces:      string(make([]byte, 60)), // 3 placeholder hashes
			Name:        "bundle",
			Files: []rawFileEntry{
				{Length: 20000, Path: []string{"a.bin"}},
				{Length: 50000, Path: []string{"sub", "b.bin"}},
			},
		},
	}

	path := writeTorrent(t, raw)
	destDir := t.TempDir()

	info, err := Load(path, destDir)
	require.NoError(t, err)

	require.Equal(t, int64(70000), info.TotalLength)
	require.Equal(t, 3, info.NumPieces)
	require.Len(t, info.Files, 2)
	require.Equal(t, int64(0), info.Files[0].Offset)
	require.Equal(t, int64(20000), info.Files[1].Offset)
	require.Equal(t, filepath.Join(destDir, "bundle", "sub", "b.bin"), info.Files[1].Path)
}

func TestLoadRejectsBadPiecesLength(t *testing.T) {
	raw := rawFile{
		Info: rawInfo{
			PieceLength: 16384,
			Pieces:      string(make([]byte, 19)), // not a multiple of 20
			Name:        "bad",
			Length:      100,
		},
	}

	path := writeTorrent(t, raw)
	_, err := Load(path, t.TempDir())
	require.Error(t, err)
}
