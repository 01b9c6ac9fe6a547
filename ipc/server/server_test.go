package server

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/uio/ipc/codec"
	"github.com/ValentinKolb/uio/ipc/common"
	"github.com/ValentinKolb/uio/ipc/serializer"
	"github.com/ValentinKolb/uio/ipc/transport"
	"github.com/ValentinKolb/uio/ipc/transport/uds"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

var testModes = []common.ServerMode{common.ServerModeLoop, common.ServerModeThreaded}

var testVariants = []common.TransportVariant{common.TransportStream, common.TransportSeqPacket}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// recordingHandler wraps the announce handler and reports accepted names and closed connections
type recordingHandler struct {
	inner     IRequestHandler
	announced chan string
	closed    chan int
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		inner:     NewAnnounceHandler(),
		announced: make(chan string, 1024),
		closed:    make(chan int, 1024),
	}
}

func (h *recordingHandler) HandleRequest(conn *Connection, req common.Request, caps []*os.File) error {
	if err := h.inner.HandleRequest(conn, req, caps); err != nil {
		return err
	}
	h.announced <- conn.Name()
	return nil
}

func (h *recordingHandler) HandleClose(conn *Connection) {
	h.inner.HandleClose(conn)
	h.closed <- conn.ID()
}

// backlogHandler accepts any number of announcements per connection, only the first
// one is answered
type backlogHandler struct {
	names chan string
}

func newBacklogHandler() *backlogHandler {
	return &backlogHandler{names: make(chan string, 4096)}
}

func (h *backlogHandler) HandleRequest(conn *Connection, req common.Request, caps []*os.File) error {
	defer transport.CloseFiles(caps)

	if conn.State() == StateUnknown {
		if err := conn.Announce(req.Name); err != nil {
			return err
		}
		// the client may already be gone
		_ = conn.Send(*common.NewAnnounceAcceptedEvent(), nil)
	}
	h.names <- req.Name
	return nil
}

func (h *backlogHandler) HandleClose(*Connection) {}

// expectNames reads n names from ch
func expectNames(t *testing.T, ch chan string, n int) []string {
	t.Helper()
	names := make([]string, 0, n)
	for len(names) < n {
		select {
		case name := <-ch:
			names = append(names, name)
		case <-time.After(5 * time.Second):
			t.Fatalf("Handler saw only %d of %d requests", len(names), n)
		}
	}
	return names
}

// testServer is a server of one mode on a fresh socket
type testServer struct {
	path    string
	variant common.TransportVariant
	codec   *codec.PacketCodec
	handler *recordingHandler
	runner  runner
	done    chan error
}

// startServer runs a server in mode on a fresh socket and stops it when the test ends
func startServer(t *testing.T, mode common.ServerMode, variant common.TransportVariant, s serializer.IIPCSerializer) *testServer {
	t.Helper()
	h := newRecordingHandler()
	ts := newTestServer(t, mode, variant, s, h)
	ts.handler = h
	ts.start(t)
	return ts
}

// newTestServer listens on a fresh socket without serving it yet. Clients can already
// connect and send, the kernel queues both.
func newTestServer(t *testing.T, mode common.ServerMode, variant common.TransportVariant, s serializer.IIPCSerializer, h IRequestHandler) *testServer {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "uio-")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	ts := &testServer{
		path:    filepath.Join(dir, "socket"),
		variant: variant,
		codec:   codec.NewPacketCodec(s),
		done:    make(chan error, 1),
	}

	ls, err := uds.Listen(ts.path, variant, 64)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ls.Close() })

	switch mode {
	case common.ServerModeLoop:
		ts.runner, err = NewEventLoop(ls, ts.codec, h, 16)
	case common.ServerModeThreaded:
		ts.runner, err = NewThreadedServer(ls, ts.codec, h, 16)
	}
	require.NoError(t, err)
	return ts
}

// start runs the server until the test ends
func (ts *testServer) start(t *testing.T) {
	t.Helper()
	go func() {
		ts.done <- ts.runner.Run()
	}()

	t.Cleanup(func() {
		ts.runner.Stop()
		select {
		case err := <-ts.done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Errorf("Server did not stop")
		}
	})
}

// dial connects a new client that is closed when the test ends
func (ts *testServer) dial(t *testing.T) transport.IChannel {
	t.Helper()
	ch, err := uds.Connect(ts.path, ts.variant, uds.DefaultChannelOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

// announce sends Announce{name} on ch
func (ts *testServer) announce(t *testing.T, ch transport.IChannel, name string) {
	t.Helper()
	p, err := ts.codec.EncodeRequest(*common.NewAnnounceRequest(name), nil)
	require.NoError(t, err)
	require.NoError(t, ch.WritePacket(p))
}

// readPackets reads from ch until n packets arrived, the peer hung up or the timeout expired
func readPackets(t *testing.T, ch transport.IChannel, n int, timeout time.Duration) ([]transport.Packet, error) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var packets []transport.Packet

	for len(packets) < n {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return packets, os.ErrDeadlineExceeded
		}

		fds := []unix.PollFd{{Fd: int32(ch.Fd()), Events: unix.POLLIN}}
		if _, err := unix.Poll(fds, int(remaining.Milliseconds())+1); err != nil && err != unix.EINTR {
			return packets, err
		}

		got, err := ch.ReadPackets()
		if errors.Is(err, transport.ErrWouldBlock) {
			continue
		}
		if err != nil {
			return packets, err
		}
		packets = append(packets, got...)
	}
	return packets, nil
}

// expectAccepted reads one event from ch and checks that it is AnnounceAccepted
func (ts *testServer) expectAccepted(t *testing.T, ch transport.IChannel) {
	t.Helper()
	packets, err := readPackets(t, ch, 1, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, packets, 1)

	evt, caps, err := ts.codec.DecodeEvent(packets[0])
	require.NoError(t, err)
	require.Empty(t, caps)
	require.Equal(t, common.EvtTAnnounceAccepted, evt.EvtType)
}

// expectHangUp checks that the server closed ch without sending anything
func expectHangUp(t *testing.T, ch transport.IChannel) {
	t.Helper()
	packets, err := readPackets(t, ch, 1, 5*time.Second)
	require.ErrorIs(t, err, io.EOF)
	require.Empty(t, packets)
}

// expectName waits until the handler accepted name
func (ts *testServer) expectName(t *testing.T, name string) {
	t.Helper()
	select {
	case got := <-ts.handler.announced:
		require.Equal(t, name, got)
	case <-time.After(5 * time.Second):
		t.Fatalf("Handler did not see announcement of %s", name)
	}
}

// forEachServer runs fn against every combination of mode and transport
func forEachServer(t *testing.T, fn func(t *testing.T, mode common.ServerMode, variant common.TransportVariant)) {
	for _, mode := range testModes {
		for _, variant := range testVariants {
			t.Run(fmt.Sprintf("%s/%s", mode, variant), func(t *testing.T) {
				fn(t, mode, variant)
			})
		}
	}
}

// --------------------------------------------------------------------------
// Scenarios
// --------------------------------------------------------------------------

// TestAnnounce runs the announce handshake with every serializer, mode and transport
func TestAnnounce(t *testing.T) {
	for _, name := range []string{"binary", "json", "gob", "cbor"} {
		s, ok := serializer.ByName(name)
		require.True(t, ok)

		t.Run(name, func(t *testing.T) {
			forEachServer(t, func(t *testing.T, mode common.ServerMode, variant common.TransportVariant) {
				ts := startServer(t, mode, variant, s)
				ch := ts.dial(t)

				ts.announce(t, ch, "X")
				ts.expectAccepted(t, ch)
				ts.expectName(t, "X")

				require.Equal(t, 1, ts.runner.Table().Len())
			})
		})
	}
}

// TestConnectionsAreIndependent checks that two clients are served separately and that
// a protocol violation of one does not affect the other
func TestConnectionsAreIndependent(t *testing.T) {
	forEachServer(t, func(t *testing.T, mode common.ServerMode, variant common.TransportVariant) {
		ts := startServer(t, mode, variant, serializer.NewBinarySerializer())
		a := ts.dial(t)
		b := ts.dial(t)

		ts.announce(t, a, "a")
		ts.announce(t, b, "b")
		ts.expectAccepted(t, a)
		ts.expectAccepted(t, b)

		// a announces twice: only a is torn down
		ts.announce(t, a, "again")
		expectHangUp(t, a)

		require.Eventually(t, func() bool {
			return ts.runner.Table().Len() == 1
		}, 5*time.Second, 10*time.Millisecond)

		// b is still served and receives nothing unexpected
		packets, err := readPackets(t, b, 1, 100*time.Millisecond)
		require.ErrorIs(t, err, os.ErrDeadlineExceeded)
		require.Empty(t, packets)

		protocolErrors := ts.runner.Metrics().GetOrCreateCounter("uio_protocol_errors_total")
		require.Eventually(t, func() bool {
			return protocolErrors.Get() == 1
		}, 5*time.Second, 10*time.Millisecond)
	})
}

// TestSeveralClients checks that concurrent clients are all accepted
func TestSeveralClients(t *testing.T) {
	forEachServer(t, func(t *testing.T, mode common.ServerMode, variant common.TransportVariant) {
		ts := startServer(t, mode, variant, serializer.NewBinarySerializer())

		const clients = 5
		channels := make([]transport.IChannel, clients)
		for i := range channels {
			channels[i] = ts.dial(t)
		}
		for i, ch := range channels {
			ts.announce(t, ch, fmt.Sprintf("client-%d", i))
		}
		for _, ch := range channels {
			ts.expectAccepted(t, ch)
		}

		seen := make(map[string]bool)
		for i := 0; i < clients; i++ {
			select {
			case name := <-ts.handler.announced:
				seen[name] = true
			case <-time.After(5 * time.Second):
				t.Fatalf("Handler saw only %d announcements", i)
			}
		}
		require.Len(t, seen, clients)
	})
}

// TestQueuedRequestsAreDispatchedInOrder queues several requests before the server runs.
// On the stream transport they arrive in a single receive.
func TestQueuedRequestsAreDispatchedInOrder(t *testing.T) {
	forEachServer(t, func(t *testing.T, mode common.ServerMode, variant common.TransportVariant) {
		h := newBacklogHandler()
		ts := newTestServer(t, mode, variant, serializer.NewBinarySerializer(), h)
		ch := ts.dial(t)

		var want []string
		for i := 0; i < 5; i++ {
			name := fmt.Sprintf("req-%d", i)
			ts.announce(t, ch, name)
			want = append(want, name)
		}

		ts.start(t)
		ts.expectAccepted(t, ch)
		require.Equal(t, want, expectNames(t, h.names, len(want)))
	})
}

// TestRequestsBeforeHangUpAreDispatched checks that complete requests a client sent
// before closing are dispatched before the connection is torn down
func TestRequestsBeforeHangUpAreDispatched(t *testing.T) {
	forEachServer(t, func(t *testing.T, mode common.ServerMode, variant common.TransportVariant) {
		h := newBacklogHandler()
		ts := newTestServer(t, mode, variant, serializer.NewBinarySerializer(), h)
		ch := ts.dial(t)

		var want []string
		for i := 0; i < 5; i++ {
			name := fmt.Sprintf("%d-%s", i, strings.Repeat("x", 10*1024))
			ts.announce(t, ch, name)
			want = append(want, name)
		}
		require.NoError(t, ch.Close())

		ts.start(t)
		require.Equal(t, want, expectNames(t, h.names, len(want)))
		require.Eventually(t, func() bool {
			return ts.runner.Table().Len() == 0
		}, 5*time.Second, 10*time.Millisecond)
	})
}

// TestBacklogDoesNotBlockOtherConnections queues more than one receive worth of requests
// on one connection and checks that another client is still answered
func TestBacklogDoesNotBlockOtherConnections(t *testing.T) {
	forEachServer(t, func(t *testing.T, mode common.ServerMode, variant common.TransportVariant) {
		h := newBacklogHandler()
		ts := newTestServer(t, mode, variant, serializer.NewBinarySerializer(), h)
		a := ts.dial(t)
		b := ts.dial(t)

		// 24 requests of 4000 bytes exceed one stream receive several times and stay
		// below the default socket buffer
		const backlog = 24
		var want []string
		for i := 0; i < backlog; i++ {
			name := fmt.Sprintf("a-%02d-%s", i, strings.Repeat("x", 4000))
			ts.announce(t, a, name)
			want = append(want, name)
		}
		ts.announce(t, b, "b")

		ts.start(t)
		ts.expectAccepted(t, b)

		names := expectNames(t, h.names, backlog+1)
		var fromA []string
		position := -1
		for i, name := range names {
			if name == "b" {
				position = i
				continue
			}
			fromA = append(fromA, name)
		}
		require.Equal(t, want, fromA)
		require.GreaterOrEqual(t, position, 0)

		if mode == common.ServerModeLoop {
			// a single goroutine serves both: b must be dispatched between receives of a
			require.Less(t, position, backlog, "b was only served after the whole backlog of a")
		}
	})
}

// TestMalformedPayload checks that a payload of the event union is rejected as a request
func TestMalformedPayload(t *testing.T) {
	forEachServer(t, func(t *testing.T, mode common.ServerMode, variant common.TransportVariant) {
		ts := startServer(t, mode, variant, serializer.NewBinarySerializer())
		ch := ts.dial(t)

		p, err := ts.codec.EncodeEvent(*common.NewAnnounceAcceptedEvent(), nil)
		require.NoError(t, err)
		require.NoError(t, ch.WritePacket(p))

		expectHangUp(t, ch)
		require.Eventually(t, func() bool {
			return ts.runner.Table().Len() == 0
		}, 5*time.Second, 10*time.Millisecond)
	})
}

// TestCapabilitiesOfRejectedRequestAreReleased sends a descriptor with an invalid request
// and checks that the server closed its copy (the pipe reports end of file)
func TestCapabilitiesOfRejectedRequestAreReleased(t *testing.T) {
	forEachServer(t, func(t *testing.T, mode common.ServerMode, variant common.TransportVariant) {
		ts := startServer(t, mode, variant, serializer.NewBinarySerializer())
		ch := ts.dial(t)

		r, w, err := os.Pipe()
		require.NoError(t, err)
		defer r.Close()

		require.NoError(t, ch.WritePacket(transport.NewPacket([]byte{0x7f}, []*os.File{w})))
		require.NoError(t, w.Close())
		expectHangUp(t, ch)

		// the only remaining write end was the one held by the server
		require.NoError(t, r.SetReadDeadline(time.Now().Add(5*time.Second)))
		n, err := r.Read(make([]byte, 1))
		require.Equal(t, 0, n)
		require.ErrorIs(t, err, io.EOF)
	})
}

// TestIdentityReuse opens and closes connections in a seeded random order. The kernel
// reuses descriptor numbers of closed connections, which must never be mistaken for a
// live connection.
func TestIdentityReuse(t *testing.T) {
	forEachServer(t, func(t *testing.T, mode common.ServerMode, variant common.TransportVariant) {
		ts := startServer(t, mode, variant, serializer.NewBinarySerializer())
		rng := rand.New(rand.NewSource(42))

		var open []transport.IChannel
		for step := 0; step < 200; step++ {
			if len(open) == 0 || rng.Intn(3) != 0 {
				ch, err := uds.Connect(ts.path, variant, uds.DefaultChannelOptions())
				require.NoError(t, err)

				name := fmt.Sprintf("client-%d", step)
				ts.announce(t, ch, name)
				ts.expectAccepted(t, ch)
				ts.expectName(t, name)
				open = append(open, ch)
			} else {
				i := rng.Intn(len(open))
				require.NoError(t, open[i].Close())
				open = append(open[:i], open[i+1:]...)
			}

			select {
			case err := <-ts.done:
				t.Fatalf("Server stopped at step %d: %v", step, err)
			default:
			}
		}

		for _, ch := range open {
			require.NoError(t, ch.Close())
		}
		require.Eventually(t, func() bool {
			return ts.runner.Table().Len() == 0
		}, 5*time.Second, 10*time.Millisecond)
	})
}

// TestStop checks that Stop ends Run cleanly with open connections and can be called again
func TestStop(t *testing.T) {
	forEachServer(t, func(t *testing.T, mode common.ServerMode, variant common.TransportVariant) {
		ts := startServer(t, mode, variant, serializer.NewBinarySerializer())
		ch := ts.dial(t)
		ts.announce(t, ch, "X")
		ts.expectAccepted(t, ch)

		var wg sync.WaitGroup
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ts.runner.Stop()
			}()
		}
		wg.Wait()

		select {
		case err := <-ts.done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatalf("Server did not stop")
		}
		// cleanup waits for a second result
		ts.done <- nil

		require.Equal(t, 0, ts.runner.Table().Len())
		expectHangUp(t, ch)

		select {
		case <-ts.handler.closed:
		case <-time.After(time.Second):
			t.Errorf("Handler was not notified about the closed connection")
		}
	})
}

// --------------------------------------------------------------------------
// IPCServer
// --------------------------------------------------------------------------

// TestServe runs the full server until its context is cancelled
func TestServe(t *testing.T) {
	for _, mode := range testModes {
		t.Run(string(mode), func(t *testing.T) {
			dir, err := os.MkdirTemp("/tmp", "uio-")
			require.NoError(t, err)
			defer os.RemoveAll(dir)

			config := common.DefaultServerConfig()
			config.SocketPath = filepath.Join(dir, "nested", "socket")
			config.Mode = mode
			config.LogLevel = "error"

			s := NewIPCServer(config, serializer.NewBinarySerializer())
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() {
				done <- s.Serve(ctx)
			}()

			var ch transport.IChannel
			require.Eventually(t, func() bool {
				ch, err = uds.Connect(config.SocketPath, config.Transport, uds.DefaultChannelOptions())
				return err == nil
			}, 5*time.Second, 10*time.Millisecond)
			defer ch.Close()

			c := codec.NewPacketCodec(serializer.NewBinarySerializer())
			p, err := c.EncodeRequest(*common.NewAnnounceRequest("X"), nil)
			require.NoError(t, err)
			require.NoError(t, ch.WritePacket(p))

			packets, err := readPackets(t, ch, 1, 5*time.Second)
			require.NoError(t, err)
			evt, _, err := c.DecodeEvent(packets[0])
			require.NoError(t, err)
			require.Equal(t, common.EvtTAnnounceAccepted, evt.EvtType)

			cancel()
			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatalf("Serve did not return")
			}

			_, err = os.Stat(config.SocketPath)
			require.True(t, os.IsNotExist(err), "socket path should be removed")
		})
	}
}

// TestServeRejectsLivePath checks that a second server does not steal a socket in use
func TestServeRejectsLivePath(t *testing.T) {
	ts := startServer(t, common.ServerModeLoop, common.TransportStream, serializer.NewBinarySerializer())

	config := common.DefaultServerConfig()
	config.SocketPath = ts.path
	config.LogLevel = "error"

	err := NewIPCServer(config, serializer.NewBinarySerializer()).Serve(context.Background())
	require.ErrorIs(t, err, uds.ErrAddressInUse)

	// the first server still serves
	ch := ts.dial(t)
	ts.announce(t, ch, "X")
	ts.expectAccepted(t, ch)
}
