package portal

import (
	"crypto/sha256"
	"io"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/build-trust/ockam-go/internal/logger"
	"github.com/build-trust/ockam-go/node"
	"github.com/build-trust/ockam-go/wire"
)

// startEcho runs a TCP server that copies every byte it reads straight
// back to the same connection, until the connection closes.
func startEcho(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				io.Copy(c, c)
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestPortalBridgesTCPThroughRoute(t *testing.T) {
	log := logger.NewDefaultLogger()
	n := node.NewNode(log)

	echoAddr := startEcho(t)

	outletAddr := wire.NewLocalAddress("outlet")
	outlet := NewOutlet(n, echoAddr, log)
	require.NoError(t, RegisterOutlet(n, outletAddr, outlet))

	inlet, err := Listen(n, "127.0.0.1:0", wire.NewRoute(outletAddr), log)
	require.NoError(t, err)
	t.Cleanup(func() { inlet.Close() })

	conn, err := net.Dial("tcp", inlet.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	payload := make([]byte, 1<<20)
	_, err = rand.New(rand.NewSource(1)).Read(payload)
	require.NoError(t, err)
	want := sha256.Sum256(payload)

	done := make(chan error, 1)
	go func() {
		_, err := conn.Write(payload)
		done <- err
	}()

	got := make([]byte, len(payload))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	require.NoError(t, <-done)

	gotSum := sha256.Sum256(got)
	require.Equal(t, want, gotSum)
}

func TestPortalDisconnectIsIdempotent(t *testing.T) {
	d := &disconnectState{}
	require.True(t, d.trigger())
	require.False(t, d.trigger())
	require.True(t, d.isSet())
}
