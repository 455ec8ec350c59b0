package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// Protocol versions carried in the frame header.
const (
	ProtoRawJSON   uint16 = 0 // payload is a JSON document
	ProtoHeartbeat uint16 = 1 // heartbeat ack (binary) or handshake JSON
	ProtoBrotli    uint16 = 3 // brotli-compressed container of nested frames
)

// Packet types carried in the frame header.
const (
	PacketHeartbeat    uint32 = 2
	PacketHeartbeatAck uint32 = 3
	PacketNotice       uint32 = 5
	PacketAuth         uint32 = 7
	PacketAuthAck      uint32 = 8
)

const (
	headerSize    = 16
	fixedSequence = 1
)

// Frame is one decoded gateway frame.
type Frame struct {
	ProtoVer   uint16
	PacketType uint32
	Payload    []byte
	Popularity uint32 // only set for heartbeat-ack frames
}

// JSON unmarshals the frame payload into v.
func (f Frame) JSON(v interface{}) error {
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return &ProtocolError{Reason: "invalid JSON payload", Err: err}
	}
	return nil
}

// ProtocolError reports a malformed or unsupported frame. It is contained at
// the frame boundary: the session drops the frame and keeps running.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Pack prepends the 16-byte gateway header to payload. Only frames the client
// is allowed to send are accepted: protocol versions 0 and 1, packet types
// HEARTBEAT and AUTH.
func Pack(payload []byte, protoVer uint16, packetType uint32) ([]byte, error) {
	if protoVer != ProtoRawJSON && protoVer != ProtoHeartbeat {
		return nil, &ProtocolError{Reason: fmt.Sprintf("unsupported protocol version %d", protoVer)}
	}
	if packetType != PacketHeartbeat && packetType != PacketAuth {
		return nil, &ProtocolError{Reason: fmt.Sprintf("unsupported packet type %d", packetType)}
	}

	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(headerSize+len(payload)))
	binary.BigEndian.PutUint16(buf[4:6], headerSize)
	binary.BigEndian.PutUint16(buf[6:8], protoVer)
	binary.BigEndian.PutUint32(buf[8:12], packetType)
	binary.BigEndian.PutUint32(buf[12:16], fixedSequence)
	copy(buf[headerSize:], payload)
	return buf, nil
}

// Unpack decodes one wire message into its frames.
//
// A protocol-3 message is brotli-decompressed and walked as a concatenation
// of complete sub-frames. A protocol-1 HEARTBEAT_ACK carries a big-endian u32
// popularity counter instead of a JSON payload. Anything else is a single
// frame whose payload is returned as-is.
func Unpack(data []byte) ([]Frame, error) {
	hdr, err := parseHeader(data, 0)
	if err != nil {
		return nil, err
	}

	if hdr.protoVer == ProtoBrotli {
		body, err := io.ReadAll(brotli.NewReader(bytes.NewReader(data[headerSize:])))
		if err != nil {
			return nil, &ProtocolError{Reason: "brotli decompression failed", Err: err}
		}
		return walk(body)
	}

	if hdr.protoVer == ProtoHeartbeat && hdr.packetType == PacketHeartbeatAck {
		if len(data) < headerSize+4 {
			return nil, &ProtocolError{Reason: "heartbeat ack shorter than 4 bytes"}
		}
		return []Frame{{
			ProtoVer:   hdr.protoVer,
			PacketType: hdr.packetType,
			Popularity: binary.BigEndian.Uint32(data[headerSize : headerSize+4]),
		}}, nil
	}

	return walk(data)
}

type header struct {
	length     uint32
	protoVer   uint16
	packetType uint32
}

func parseHeader(data []byte, offset int) (header, error) {
	if len(data)-offset < headerSize {
		return header{}, &ProtocolError{Reason: fmt.Sprintf("truncated header at offset %d", offset)}
	}
	return header{
		length:     binary.BigEndian.Uint32(data[offset : offset+4]),
		protoVer:   binary.BigEndian.Uint16(data[offset+6 : offset+8]),
		packetType: binary.BigEndian.Uint32(data[offset+8 : offset+12]),
	}, nil
}

// walk splits a concatenation of complete frames using each embedded header's
// length field. A length that overruns the buffer is a ProtocolError, never a
// panic.
func walk(data []byte) ([]Frame, error) {
	var frames []Frame
	offset := 0

	for offset < len(data) {
		hdr, err := parseHeader(data, offset)
		if err != nil {
			return nil, err
		}
		length := int(hdr.length)
		if length < headerSize || offset+length > len(data) {
			return nil, &ProtocolError{Reason: fmt.Sprintf("frame length %d overruns buffer at offset %d", length, offset)}
		}

		chunk := data[offset+headerSize : offset+length]
		f := Frame{ProtoVer: hdr.protoVer, PacketType: hdr.packetType}
		if hdr.protoVer == ProtoHeartbeat && hdr.packetType == PacketHeartbeatAck {
			if len(chunk) < 4 {
				return nil, &ProtocolError{Reason: "heartbeat ack shorter than 4 bytes"}
			}
			f.Popularity = binary.BigEndian.Uint32(chunk[:4])
		} else {
			f.Payload = chunk
		}
		frames = append(frames, f)
		offset += length
	}

	return frames, nil
}
