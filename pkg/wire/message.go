// Package wire implements the framed control protocol spoken between the
// name server, storage servers, and clients.
//
// One frame is a 4-byte big-endian payload length followed by the payload:
// a control record encoded field by field in big-endian order with
// length-prefixed strings. All peers exchange the same record shape in both
// directions; replies reuse the request record with Status, Data, and
// ErrorMsg filled in.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Size caps enforced on decode to bound memory per frame.
const (
	MaxFrameSize   = 1 << 20 // 1 MiB
	MaxUsernameLen = 64
	MaxFilenameLen = 256
	MaxDataLen     = 64 << 10 // 64 KiB
	MaxErrorMsgLen = 512
)

// Message is the fixed-shape control record carried in every frame.
type Message struct {
	Op        Op
	Flags     uint16
	Status    Status
	Sentence  int32 // 0-based sentence index, -1 when unused
	WordIndex int32 // 1-based word index, reserved
	Username  string
	Filename  string
	Data      string
	ErrorMsg  string
}

// Reply fills in the result fields of a message in place and returns it,
// for the common handler pattern of mutating the request record.
func (m *Message) Reply(status Status, data string) *Message {
	m.Status = status
	m.Data = data
	return m
}

// Fail sets an error status and human-readable message.
func (m *Message) Fail(status Status, errMsg string) *Message {
	m.Status = status
	m.ErrorMsg = errMsg
	return m
}

// IsReplication reports whether the replication-in-flight flag is set or
// the op itself is a replication code.
func (m *Message) IsReplication() bool {
	return m.Flags&FlagReplication != 0 || m.Op.IsReplication()
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 0xffff {
		return fmt.Errorf("string too long: %d bytes", len(s))
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := buf.WriteString(s)
	return err
}

func readString(r *bytes.Reader, max int, field string) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", fmt.Errorf("read %s length: %w", field, err)
	}
	if int(n) > max {
		return "", fmt.Errorf("%s exceeds %d bytes: %d", field, max, n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("read %s: %w", field, err)
	}
	return string(b), nil
}

// Encode serializes the message payload (without the frame header).
func (m *Message) Encode() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(byte(m.Op))
	if err := binary.Write(&buf, binary.BigEndian, m.Flags); err != nil {
		return nil, err
	}
	buf.WriteByte(byte(m.Status))
	if err := binary.Write(&buf, binary.BigEndian, m.Sentence); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, m.WordIndex); err != nil {
		return nil, err
	}

	for _, f := range []struct {
		val string
		max int
		tag string
	}{
		{m.Username, MaxUsernameLen, "username"},
		{m.Filename, MaxFilenameLen, "filename"},
		{m.Data, MaxDataLen, "data"},
		{m.ErrorMsg, MaxErrorMsgLen, "error message"},
	} {
		if len(f.val) > f.max {
			return nil, fmt.Errorf("%s exceeds %d bytes: %d", f.tag, f.max, len(f.val))
		}
		if err := writeString(&buf, f.val); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Decode parses a message payload produced by Encode.
func Decode(payload []byte) (*Message, error) {
	r := bytes.NewReader(payload)
	m := &Message{}

	op, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read op: %w", err)
	}
	m.Op = Op(op)

	if err := binary.Read(r, binary.BigEndian, &m.Flags); err != nil {
		return nil, fmt.Errorf("read flags: %w", err)
	}
	status, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	m.Status = Status(status)

	if err := binary.Read(r, binary.BigEndian, &m.Sentence); err != nil {
		return nil, fmt.Errorf("read sentence index: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &m.WordIndex); err != nil {
		return nil, fmt.Errorf("read word index: %w", err)
	}

	if m.Username, err = readString(r, MaxUsernameLen, "username"); err != nil {
		return nil, err
	}
	if m.Filename, err = readString(r, MaxFilenameLen, "filename"); err != nil {
		return nil, err
	}
	if m.Data, err = readString(r, MaxDataLen, "data"); err != nil {
		return nil, err
	}
	if m.ErrorMsg, err = readString(r, MaxErrorMsgLen, "error message"); err != nil {
		return nil, err
	}
	return m, nil
}

// WriteMessage writes one framed message: 4-byte big-endian length, payload.
func WriteMessage(w io.Writer, m *Message) error {
	payload, err := m.Encode()
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("frame exceeds %d bytes: %d", MaxFrameSize, len(payload))
	}

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadMessage reads one framed message. io.EOF is returned unwrapped when
// the peer closes the connection cleanly between frames.
func ReadMessage(r io.Reader) (*Message, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	length := binary.BigEndian.Uint32(hdr[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("frame length %d exceeds cap %d", length, MaxFrameSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return Decode(payload)
}
