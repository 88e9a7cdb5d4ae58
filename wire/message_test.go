package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportMessageRoundTrip(t *testing.T) {
	cases := []TransportMessage{
		NewTransportMessage(nil, nil, nil),
		NewTransportMessage(
			NewRoute(NewLocalAddress("echo")),
			NewRoute(NewLocalAddress("caller")),
			[]byte("Hello"),
		),
		NewTransportMessage(
			NewRoute(Address{Type: TransportTCP, Value: "127.0.0.1:4000"}, NewLocalAddress("decryptor"), NewLocalAddress("echo")),
			NewRoute(NewLocalAddress("encryptor"), Address{Type: TransportTCP, Value: "10.0.0.1:9000"}),
			make([]byte, 1024),
		),
	}

	for i, m := range cases {
		m := m
		t.Run(string(rune('A'+i)), func(t *testing.T) {
			encoded, err := m.Encode()
			require.NoError(t, err)

			decoded, err := Decode(encoded)
			require.NoError(t, err)

			assert.Equal(t, len(m.OnwardRoute), len(decoded.OnwardRoute))
			assert.Equal(t, len(m.ReturnRoute), len(decoded.ReturnRoute))
			assert.Equal(t, m.Payload, decoded.Payload)
			for i := range m.OnwardRoute {
				assert.True(t, m.OnwardRoute[i].Equal(decoded.OnwardRoute[i]))
			}
		})
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	m := NewTransportMessage(NewRoute(NewLocalAddress("a")), NewRoute(NewLocalAddress("b")), []byte("payload"))
	encoded, err := m.Encode()
	require.NoError(t, err)

	_, err = Decode(encoded[:len(encoded)-2])
	assert.Error(t, err)
}

func TestPortalMessageRoundTrip(t *testing.T) {
	for _, m := range []PortalMessage{Ping(), Pong(), Disconnect(), Payload([]byte("chunk"))} {
		encoded := m.Encode()
		decoded, err := DecodePortalMessage(encoded)
		require.NoError(t, err)
		assert.Equal(t, m.Tag, decoded.Tag)
		assert.Equal(t, m.Payload, decoded.Payload)
	}
}

func TestPortalMessageMaxSize(t *testing.T) {
	payload := make([]byte, 65536)
	m := Payload(payload)
	encoded := m.Encode()
	decoded, err := DecodePortalMessage(encoded)
	require.NoError(t, err)
	assert.Len(t, decoded.Payload, 65536)
}
