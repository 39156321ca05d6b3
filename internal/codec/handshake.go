package codec

import (
	"bytes"
	"fmt"
	"io"
)

const (
	protocolString = "BitTorrent protocol"
	pstrLen        = byte(len(protocolString))

	// HandshakeSize is the fixed wire size of a handshake frame: 1 + 19 + 8 + 20 + 20.
	HandshakeSize = 1 + 19 + 8 + 20 + 20
)

// Handshake is the 68-byte frame exchanged before any framed message.
// Reserved and PeerID are carried but never validated (spec.md §4.1).
type Handshake struct {
	InfoHash [20]byte
	PeerID   [20]byte
	Reserved [8]byte
}

// Encode serializes h to the wire representation.
func (h Handshake) Encode() []byte {
	buf := make([]byte, HandshakeSize)
	buf[0] = pstrLen
	copy(buf[1:20], protocolString)
	copy(buf[20:28], h.Reserved[:])
	copy(buf[28:48], h.InfoHash[:])
	copy(buf[48:68], h.PeerID[:])
	return buf
}

// WriteHandshake writes h's wire encoding to w.
func WriteHandshake(w io.Writer, h Handshake) error {
	_, err := w.Write(h.Encode())
	return err
}

// ReadHandshake reads exactly HandshakeSize bytes from r and validates them
// against expectedInfoHash. A handshake is valid iff pstrlen == 19, the
// protocol string matches exactly, and the info_hash equals the expected
// one; reserved bytes and peer_id are not part of validation.
func ReadHandshake(r io.Reader, expectedInfoHash [20]byte) (Handshake, error) {
	buf := make([]byte, HandshakeSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Handshake{}, fmt.Errorf("codec: reading handshake: %w", err)
	}

	h, ok := DecodeHandshake(buf)
	if !ok {
		return Handshake{}, fmt.Errorf("codec: malformed handshake frame")
	}
	if !bytes.Equal(h.InfoHash[:], expectedInfoHash[:]) {
		return Handshake{}, fmt.Errorf("codec: info_hash mismatch")
	}

	return h, nil
}

// DecodeHandshake parses a 68-byte buffer into a Handshake, validating only
// pstrlen and the protocol string (not any particular info_hash — see
// IsHandshake for the standalone property-test form).
func DecodeHandshake(buf []byte) (Handshake, bool) {
	if !IsHandshakeFrame(buf) {
		return Handshake{}, false
	}

	var h Handshake
	copy(h.Reserved[:], buf[20:28])
	copy(h.InfoHash[:], buf[28:48])
	copy(h.PeerID[:], buf[48:68])
	return h, true
}

// IsHandshakeFrame reports whether buf is exactly HandshakeSize bytes with a
// valid pstrlen and protocol string. It does not check info_hash.
func IsHandshakeFrame(buf []byte) bool {
	if len(buf) != HandshakeSize {
		return false
	}
	if buf[0] != pstrLen {
		return false
	}
	return string(buf[1:20]) == protocolString
}

// IsHandshake is the property-tested form from spec.md §8.6: true iff pkt is
// exactly 68 bytes, pstrlen=19, protocol string matches, and bytes 28..48
// equal h.
func IsHandshake(pkt []byte, infoHash [20]byte) bool {
	if !IsHandshakeFrame(pkt) {
		return false
	}
	return bytes.Equal(pkt[28:48], infoHash[:])
}
