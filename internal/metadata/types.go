// Package metadata is the external collaborator that turns a .torrent file
// on disk into the already-parsed model.TorrentInfo view the core operates
// on. It is the only package in this module that decodes the .torrent
// container; everything downstream of internal/metadata.Load only ever sees
// model.TorrentInfo. (internal/trackerclient also imports bencode-go, but
// only to decode HTTP tracker announce replies.)
package metadata

// rawFile is a root dictionary of a .torrent file, decoded with
// github.com/jackpal/bencode-go. Field names mirror the teacher's
// TorrentFile/TorrentInfo structs.
type rawFile struct {
	Announce     string     `bencode:"announce"`
	AnnounceList [][]string `bencode:"announce-list"`
	Comment      string     `bencode:"comment"`
	CreatedBy    string     `bencode:"created by"`
	Info         rawInfo    `bencode:"info"`
}

type rawInfo struct {
	PieceLength int64          `bencode:"piece length"`
	Pieces      string         `bencode:"pieces"`
	Name        string         `bencode:"name"`
	Length      int64          `bencode:"length"`
	Files       []rawFileEntry `bencode:"files"`
}

type rawFileEntry struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}
