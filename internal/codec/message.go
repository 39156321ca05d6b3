package codec

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MessageID is the single byte following the length prefix of a non-keep-
// alive frame.
type MessageID uint8

const (
	Choke MessageID = iota
	Unchoke
	Interested
	NotInterested
	Have
	Bitfield
	Request
	Piece
	Cancel
	Port
)

// MaxMessageLength is the safety ceiling for a single framed message
// (spec.md §4.1): anything larger is a protocol error.
const MaxMessageLength = 2 * 1024 * 1024

// Message is a parsed post-handshake frame. A zero-value Message with
// KeepAlive set to true represents the length-0 keep-alive frame, which
// carries no ID.
type Message struct {
	KeepAlive bool
	ID        MessageID
	Payload   []byte
}

// Encode serializes m into its wire representation: [4-byte length][1-byte
// id][payload]. A keep-alive message encodes to a bare 4-byte zero length.
func (m Message) Encode() []byte {
	if m.KeepAlive {
		return []byte{0, 0, 0, 0}
	}

	length := uint32(len(m.Payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf
}

// WriteMessage writes m's wire encoding to w.
func WriteMessage(w io.Writer, m Message) error {
	_, err := w.Write(m.Encode())
	return err
}

// ReadMessage reads one framed message from r, enforcing MaxMessageLength.
func ReadMessage(r io.Reader) (Message, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return Message{}, fmt.Errorf("codec: reading length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length == 0 {
		return Message{KeepAlive: true}, nil
	}
	if length > MaxMessageLength {
		return Message{}, fmt.Errorf("codec: message length %d exceeds ceiling %d", length, MaxMessageLength)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, fmt.Errorf("codec: reading message body: %w", err)
	}

	return Message{ID: MessageID(body[0]), Payload: body[1:]}, nil
}

// EncodeHave builds the payload of a `have` message.
func EncodeHave(index uint32) Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, index)
	return Message{ID: Have, Payload: payload}
}

// DecodeHave parses the payload of a `have` message.
func DecodeHave(payload []byte) (uint32, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("codec: have payload must be 4 bytes, got %d", len(payload))
	}
	return binary.BigEndian.Uint32(payload), nil
}

// EncodeRequest builds the payload of a `request` (or `cancel`) message.
func EncodeRequest(id MessageID, index, begin, length uint32) Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	binary.BigEndian.PutUint32(payload[8:12], length)
	return Message{ID: id, Payload: payload}
}

// DecodeRequest parses the payload of a `request`/`cancel` message.
func DecodeRequest(payload []byte) (index, begin, length uint32, err error) {
	if len(payload) != 12 {
		return 0, 0, 0, fmt.Errorf("codec: request payload must be 12 bytes, got %d", len(payload))
	}
	return binary.BigEndian.Uint32(payload[0:4]),
		binary.BigEndian.Uint32(payload[4:8]),
		binary.BigEndian.Uint32(payload[8:12]),
		nil
}

// EncodePiece builds the payload of a `piece` message.
func EncodePiece(index, begin uint32, block []byte) Message {
	payload := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	copy(payload[8:], block)
	return Message{ID: Piece, Payload: payload}
}

// DecodePiece parses the payload of a `piece` message.
func DecodePiece(payload []byte) (index, begin uint32, block []byte, err error) {
	if len(payload) < 8 {
		return 0, 0, nil, fmt.Errorf("codec: piece payload too short: %d bytes", len(payload))
	}
	index = binary.BigEndian.Uint32(payload[0:4])
	begin = binary.BigEndian.Uint32(payload[4:8])
	block = payload[8:]
	return index, begin, block, nil
}
