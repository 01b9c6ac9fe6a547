package server

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/uio/ipc/codec"
	"github.com/ValentinKolb/uio/ipc/poll"
	"github.com/ValentinKolb/uio/ipc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"io"
)

// Logger is the logger of the server
var Logger = logger.GetLogger("server")

// EventLoop serves all connections of one listen socket on a single goroutine.
// The only place it blocks is the multiplexer wait.
type EventLoop struct {
	listener transport.IListenSocket
	mux      *poll.Multiplexer[PollID]
	waker    *poll.Waker
	table    *ConnectionTable
	codec    *codec.PacketCodec
	handler  IRequestHandler
	metrics  *serverMetrics
}

// NewEventLoop creates an event loop for listener. maxEvents bounds the kernel events
// handled per wait. The listener stays owned by the caller.
func NewEventLoop(listener transport.IListenSocket, c *codec.PacketCodec, handler IRequestHandler, maxEvents int) (*EventLoop, error) {
	mux, err := poll.NewMultiplexer[PollID](pollIDCodec{}, maxEvents)
	if err != nil {
		return nil, err
	}

	waker, err := poll.NewWaker()
	if err != nil {
		_ = mux.Close()
		return nil, err
	}

	if err := mux.Register(listener.Fd(), PollID{Kind: PollListener, Fd: listener.Fd()}); err != nil {
		_ = mux.Close()
		_ = waker.Close()
		return nil, fmt.Errorf("failed to register listener: %w", err)
	}
	if err := mux.Register(waker.Fd(), PollID{Kind: PollWaker, Fd: waker.Fd()}); err != nil {
		_ = mux.Close()
		_ = waker.Close()
		return nil, fmt.Errorf("failed to register waker: %w", err)
	}

	table := NewConnectionTable()
	return &EventLoop{
		listener: listener,
		mux:      mux,
		waker:    waker,
		table:    table,
		codec:    c,
		handler:  handler,
		metrics:  newServerMetrics(table),
	}, nil
}

// Run serves until Stop is called (returns nil) or a fatal error occurs. Connection
// level errors only tear down the affected connection. All connections are closed
// before Run returns.
func (l *EventLoop) Run() error {
	defer l.shutdown()

	Logger.Infof("event loop serving %s", l.listener.Path())
	for {
		events, err := l.mux.Wait(-1)
		if err != nil {
			return err
		}

		for _, ev := range events {
			switch ev.Key.Kind {
			case PollWaker:
				Logger.Infof("event loop stopped")
				return nil

			case PollListener:
				if ev.Condition != poll.Ready {
					return fmt.Errorf("%w: %s", ErrListenerBroken, ev.Condition)
				}
				if err := l.acceptOne(); err != nil {
					return err
				}

			case PollClient:
				if err := l.handleClient(ev); err != nil {
					return err
				}
			}
		}
	}
}

// Stop makes Run return. Safe to call from any goroutine, also after Run returned.
func (l *EventLoop) Stop() {
	if err := l.waker.Wake(); err != nil {
		Logger.Errorf("failed to stop event loop: %v", err)
	}
}

// Table returns the connection table of the loop
func (l *EventLoop) Table() *ConnectionTable {
	return l.table
}

// Metrics returns the metric set of the loop
func (l *EventLoop) Metrics() *metrics.Set {
	return l.metrics.set
}

// --------------------------------------------------------------------------
// Event handling
// --------------------------------------------------------------------------

// acceptOne accepts at most one connection per listener event
func (l *EventLoop) acceptOne() error {
	ch, err := l.listener.Accept()
	if errors.Is(err, transport.ErrWouldBlock) {
		return nil
	}
	if err != nil {
		Logger.Warningf("failed to accept connection: %v", err)
		return nil
	}

	conn := newConnection(ch, l.codec)
	if err := l.table.Insert(conn); err != nil {
		_ = ch.Close()
		return err
	}

	if err := l.mux.Register(conn.ID(), PollID{Kind: PollClient, Fd: conn.ID()}); err != nil {
		l.table.Remove(conn.ID())
		_ = conn.Close()
		if transport.SeverityOf(err) == transport.SeverityProcess {
			return err
		}
		Logger.Warningf("failed to register connection %d: %v", conn.ID(), err)
		return nil
	}

	l.metrics.accepted.Inc()
	Logger.Debugf("accepted connection %d", conn.ID())
	return nil
}

// handleClient processes one condition of a client connection
func (l *EventLoop) handleClient(ev poll.Event[PollID]) error {
	conn, ok := l.table.Lookup(ev.Key.Fd)
	if !ok {
		// already torn down earlier in this batch
		return nil
	}

	switch ev.Condition {
	case poll.Ready:
		_, err := l.receive(conn)
		return err

	case poll.Broken, poll.Hup:
		// requests the peer sent before hanging up are still in the socket buffer
		for {
			more, err := l.receive(conn)
			if err != nil {
				return err
			}
			if !more {
				break
			}
		}
		if current, ok := l.table.Lookup(conn.ID()); ok && current == conn {
			l.teardown(conn)
		}
	}
	return nil
}

// receive performs one receive step and dispatches the complete packets in order.
// more is false once the channel would block or conn was torn down.
func (l *EventLoop) receive(conn *Connection) (more bool, err error) {
	packets, err := conn.readPackets()
	if errors.Is(err, transport.ErrWouldBlock) {
		return false, nil
	}
	if err != nil {
		return false, l.fail(conn, err)
	}

	for i, p := range packets {
		l.metrics.packets.Inc()
		if err := l.dispatch(conn, p); err != nil {
			for _, rest := range packets[i+1:] {
				_ = rest.Close()
			}
			return false, l.fail(conn, err)
		}
	}
	return true, nil
}

// dispatch decodes one packet and hands it to the request handler
func (l *EventLoop) dispatch(conn *Connection, p transport.Packet) error {
	req, caps, err := l.codec.DecodeRequest(p)
	if err != nil {
		return err
	}
	if err := l.handler.HandleRequest(conn, req, caps); err != nil {
		return err
	}
	l.metrics.dispatched.Inc()
	return nil
}

// fail tears down conn for connection level errors and passes process level errors on
func (l *EventLoop) fail(conn *Connection, err error) error {
	if transport.SeverityOf(err) == transport.SeverityProcess {
		return err
	}
	if !errors.Is(err, io.EOF) {
		l.metrics.protocolErrors.Inc()
		Logger.Warningf("closing connection %d: %v", conn.ID(), err)
	}
	l.teardown(conn)
	return nil
}

// teardown deregisters, removes and closes conn in this order, so the descriptor
// number can not be reused while it is still known to the loop
func (l *EventLoop) teardown(conn *Connection) {
	if err := l.mux.Deregister(conn.ID()); err != nil {
		Logger.Warningf("failed to deregister connection %d: %v", conn.ID(), err)
	}
	if _, ok := l.table.Remove(conn.ID()); !ok {
		return
	}
	l.handler.HandleClose(conn)
	if err := conn.Close(); err != nil {
		Logger.Warningf("failed to close connection %d: %v", conn.ID(), err)
	}
	l.metrics.closed.Inc()
}

// shutdown closes every connection and releases the multiplexer and the waker
func (l *EventLoop) shutdown() {
	var conns []*Connection
	l.table.Range(func(_ int, conn *Connection) bool {
		conns = append(conns, conn)
		return true
	})
	for _, conn := range conns {
		l.teardown(conn)
	}

	_ = l.mux.Deregister(l.listener.Fd())
	_ = l.mux.Close()
	_ = l.waker.Close()
}
