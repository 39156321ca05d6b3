package resume

import (
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/halvarsen/torrentcore/internal/model"
)

func testInfo() *model.TorrentInfo {
	return &model.TorrentInfo{
		InfoHash:    [20]byte{1, 2, 3},
		PieceLength: 16384,
		TotalLength: 40000,
		NumPieces:   3,
		PieceHashes: make([][20]byte, 3),
		Files:       []model.FileSpan{{Path: "sample.bin", Length: 40000}},
	}
}

func TestLoadMissingFileReturnsNilWithoutError(t *testing.T) {
	rec, err := Load(filepath.Join(t.TempDir(), "resume.json"))
	require.NoError(t, err)
	require.Nil(t, rec)
}

// TestSaveLoadRoundTrip mirrors spec.md's resume round-trip property (#5):
// persist -> load yields identical verified bits and downloaded count.
func TestSaveLoadRoundTrip(t *testing.T) {
	info := testInfo()
	path := Path(t.TempDir(), info.Name)

	verified := []bool{true, false, true}
	require.NoError(t, Save(path, info, verified, 2))

	rec, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, hex.EncodeToString(info.InfoHash[:]), rec.InfoHash)
	require.Equal(t, 2, rec.Downloaded)
	require.Equal(t, verified, rec.VerifiedPieces)
	require.True(t, Matches(rec, info))
}

func TestMatchesRejectsDifferentInfoHash(t *testing.T) {
	info := testInfo()
	other := *info
	other.InfoHash = [20]byte{9, 9, 9}

	path := Path(t.TempDir(), info.Name)
	require.NoError(t, Save(path, info, []bool{false, false, false}, 0))

	rec, err := Load(path)
	require.NoError(t, err)
	require.False(t, Matches(rec, &other))
}
