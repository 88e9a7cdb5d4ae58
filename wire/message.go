package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// CurrentVersion is the only TransportMessage wire version this codec
// produces or accepts.
const CurrentVersion uint8 = 1

// TransportMessage is the unit carried between any two Ockam addresses.
type TransportMessage struct {
	Version      uint8
	OnwardRoute  Route
	ReturnRoute  Route
	Payload      []byte
}

// NewTransportMessage builds a version-1 message.
func NewTransportMessage(onward, ret Route, payload []byte) TransportMessage {
	return TransportMessage{Version: CurrentVersion, OnwardRoute: onward, ReturnRoute: ret, Payload: payload}
}

// Encode renders m using the BARE-compatible layout:
//
//	version:      u8
//	onward_route: varint N, then N Addresses
//	return_route: varint N, then N Addresses
//	payload:      varint N, then N bytes
//
// Address = { type: u8, value: varint N + N bytes }.
func (m TransportMessage) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(m.Version)
	if err := encodeRoute(&buf, m.OnwardRoute); err != nil {
		return nil, err
	}
	if err := encodeRoute(&buf, m.ReturnRoute); err != nil {
		return nil, err
	}
	encodeBytes(&buf, m.Payload)
	return buf.Bytes(), nil
}

// Decode parses a TransportMessage previously produced by Encode. It
// returns an error rather than panicking on truncated or malformed input.
func Decode(data []byte) (TransportMessage, error) {
	r := bytes.NewReader(data)
	versionByte, err := r.ReadByte()
	if err != nil {
		return TransportMessage{}, fmt.Errorf("wire: read version: %w", err)
	}
	if versionByte != CurrentVersion {
		return TransportMessage{}, fmt.Errorf("wire: unsupported version %d", versionByte)
	}

	onward, err := decodeRoute(r)
	if err != nil {
		return TransportMessage{}, fmt.Errorf("wire: decode onward_route: %w", err)
	}
	ret, err := decodeRoute(r)
	if err != nil {
		return TransportMessage{}, fmt.Errorf("wire: decode return_route: %w", err)
	}
	payload, err := decodeBytes(r)
	if err != nil {
		return TransportMessage{}, fmt.Errorf("wire: decode payload: %w", err)
	}
	if r.Len() != 0 {
		return TransportMessage{}, fmt.Errorf("wire: %d trailing bytes after message", r.Len())
	}

	return TransportMessage{Version: versionByte, OnwardRoute: onward, ReturnRoute: ret, Payload: payload}, nil
}

// EncodeRoute renders route standalone, using the same varint-prefixed
// Address sequence TransportMessage uses for onward/return routes -- used
// by services (e.g. a forwarding hub) that hand a route to a peer as an
// ordinary message payload rather than as part of a TransportMessage.
func EncodeRoute(route Route) []byte {
	var buf bytes.Buffer
	_ = encodeRoute(&buf, route)
	return buf.Bytes()
}

// DecodeRoute parses a route previously produced by EncodeRoute.
func DecodeRoute(data []byte) (Route, error) {
	r := bytes.NewReader(data)
	route, err := decodeRoute(r)
	if err != nil {
		return nil, fmt.Errorf("wire: decode route: %w", err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("wire: %d trailing bytes after route", r.Len())
	}
	return route, nil
}

func encodeRoute(buf *bytes.Buffer, route Route) error {
	putUvarint(buf, uint64(len(route)))
	for _, addr := range route {
		buf.WriteByte(byte(addr.Type))
		encodeBytes(buf, []byte(addr.Value))
	}
	return nil
}

func decodeRoute(r *bytes.Reader) (Route, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	route := make(Route, 0, n)
	for i := uint64(0); i < n; i++ {
		typeByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		value, err := decodeBytes(r)
		if err != nil {
			return nil, err
		}
		route = append(route, Address{Type: TransportType(typeByte), Value: string(value)})
	}
	return route, nil
}

func encodeBytes(buf *bytes.Buffer, b []byte) {
	putUvarint(buf, uint64(len(b)))
	buf.Write(b)
}

func decodeBytes(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	if _, err := readFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

func putUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func readFull(r *bytes.Reader, out []byte) (int, error) {
	total := 0
	for total < len(out) {
		n, err := r.Read(out[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, fmt.Errorf("wire: short read")
		}
	}
	return total, nil
}
