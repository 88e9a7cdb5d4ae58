package wire

import (
	"bytes"
	"fmt"
)

// PortalTag identifies the kind of a PortalMessage on the wire.
type PortalTag uint8

const (
	PortalPing       PortalTag = 0
	PortalPong       PortalTag = 1
	PortalPayload    PortalTag = 2
	PortalDisconnect PortalTag = 3
)

// PortalMessage is the small protocol spoken between a TCP inlet and
// outlet inside the payload of a TransportMessage, per spec §4.5/§6:
//
//	tag: u8  (0=Ping, 1=Pong, 2=Payload, 3=Disconnect)
//	if tag == 2: varint N + N bytes
type PortalMessage struct {
	Tag     PortalTag
	Payload []byte
}

func Ping() PortalMessage       { return PortalMessage{Tag: PortalPing} }
func Pong() PortalMessage       { return PortalMessage{Tag: PortalPong} }
func Disconnect() PortalMessage { return PortalMessage{Tag: PortalDisconnect} }
func Payload(b []byte) PortalMessage {
	return PortalMessage{Tag: PortalPayload, Payload: b}
}

func (m PortalMessage) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(m.Tag))
	if m.Tag == PortalPayload {
		encodeBytes(&buf, m.Payload)
	}
	return buf.Bytes()
}

func DecodePortalMessage(data []byte) (PortalMessage, error) {
	if len(data) == 0 {
		return PortalMessage{}, fmt.Errorf("wire: empty portal message")
	}
	r := bytes.NewReader(data)
	tagByte, _ := r.ReadByte()
	tag := PortalTag(tagByte)
	switch tag {
	case PortalPing, PortalPong, PortalDisconnect:
		if r.Len() != 0 {
			return PortalMessage{}, fmt.Errorf("wire: unexpected trailing bytes for tag %d", tag)
		}
		return PortalMessage{Tag: tag}, nil
	case PortalPayload:
		payload, err := decodeBytes(r)
		if err != nil {
			return PortalMessage{}, fmt.Errorf("wire: decode portal payload: %w", err)
		}
		if r.Len() != 0 {
			return PortalMessage{}, fmt.Errorf("wire: trailing bytes after portal payload")
		}
		return PortalMessage{Tag: tag, Payload: payload}, nil
	default:
		return PortalMessage{}, fmt.Errorf("wire: unknown portal tag %d", tagByte)
	}
}
