package server

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/uio/ipc/codec"
	"github.com/ValentinKolb/uio/ipc/common"
	"github.com/ValentinKolb/uio/ipc/poll"
	"github.com/ValentinKolb/uio/ipc/transport"
	"github.com/VictoriaMetrics/metrics"
	"io"
	"os"
	"sync"
)

// delivery is one unit of work for the dispatcher: a decoded request, or the
// notification that a connection is gone
type delivery struct {
	conn   *Connection
	req    common.Request
	caps   []*os.File
	closed bool
}

// ThreadedServer serves every connection on its own goroutine. Connection goroutines
// own the read side of their channel and push decoded requests into a delivery queue;
// a single dispatcher goroutine runs the request handler, so handler state needs no
// lock and requests of one connection are handled in arrival order.
type ThreadedServer struct {
	listener  transport.IListenSocket
	codec     *codec.PacketCodec
	handler   IRequestHandler
	maxEvents int

	table   *ConnectionTable
	waker   *poll.Waker
	queue   *deliveryQueue[delivery]
	metrics *serverMetrics

	conns   sync.WaitGroup
	errOnce sync.Once
	err     error
}

// NewThreadedServer creates a thread-per-connection server for listener.
// The listener stays owned by the caller.
func NewThreadedServer(listener transport.IListenSocket, c *codec.PacketCodec, handler IRequestHandler, maxEvents int) (*ThreadedServer, error) {
	waker, err := poll.NewWaker()
	if err != nil {
		return nil, err
	}

	table := NewConnectionTable()
	return &ThreadedServer{
		listener:  listener,
		codec:     c,
		handler:   handler,
		maxEvents: maxEvents,
		table:     table,
		waker:     waker,
		queue:     newDeliveryQueue[delivery](),
		metrics:   newServerMetrics(table),
	}, nil
}

// Run accepts connections on the calling goroutine until Stop is called or a fatal
// error occurs. It returns after every connection goroutine and the dispatcher finished.
func (s *ThreadedServer) Run() error {
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		s.dispatch()
	}()

	acceptErr := s.acceptLoop()
	if acceptErr != nil {
		s.setErr(acceptErr)
	}

	// every connection goroutine also watches the waker
	_ = s.waker.Wake()
	s.conns.Wait()

	s.queue.Close()
	<-dispatcherDone
	_ = s.waker.Close()

	Logger.Infof("threaded server stopped")
	return s.err
}

// Stop makes Run return. Safe to call from any goroutine, also after Run returned.
func (s *ThreadedServer) Stop() {
	if err := s.waker.Wake(); err != nil {
		Logger.Errorf("failed to stop server: %v", err)
	}
}

// Table returns the connection table of the server
func (s *ThreadedServer) Table() *ConnectionTable {
	return s.table
}

// Metrics returns the metric set of the server
func (s *ThreadedServer) Metrics() *metrics.Set {
	return s.metrics.set
}

// --------------------------------------------------------------------------
// Acceptor
// --------------------------------------------------------------------------

func (s *ThreadedServer) acceptLoop() error {
	mux, err := poll.NewMultiplexer[PollID](pollIDCodec{}, s.maxEvents)
	if err != nil {
		return err
	}
	defer mux.Close()

	if err := mux.Register(s.listener.Fd(), PollID{Kind: PollListener, Fd: s.listener.Fd()}); err != nil {
		return fmt.Errorf("failed to register listener: %w", err)
	}
	if err := mux.Register(s.waker.Fd(), PollID{Kind: PollWaker, Fd: s.waker.Fd()}); err != nil {
		return fmt.Errorf("failed to register waker: %w", err)
	}

	Logger.Infof("threaded server serving %s", s.listener.Path())
	for {
		events, err := mux.Wait(-1)
		if err != nil {
			return err
		}

		for _, ev := range events {
			switch ev.Key.Kind {
			case PollWaker:
				return nil
			case PollListener:
				if ev.Condition != poll.Ready {
					return fmt.Errorf("%w: %s", ErrListenerBroken, ev.Condition)
				}
				if err := s.acceptOne(); err != nil {
					return err
				}
			}
		}
	}
}

func (s *ThreadedServer) acceptOne() error {
	ch, err := s.listener.Accept()
	if errors.Is(err, transport.ErrWouldBlock) {
		return nil
	}
	if err != nil {
		Logger.Warningf("failed to accept connection: %v", err)
		return nil
	}

	conn := newConnection(ch, s.codec)
	if err := s.table.Insert(conn); err != nil {
		_ = ch.Close()
		return err
	}

	s.metrics.accepted.Inc()
	Logger.Debugf("accepted connection %d", conn.ID())

	s.conns.Add(1)
	go s.serveConnection(conn)
	return nil
}

// --------------------------------------------------------------------------
// Connection goroutines
// --------------------------------------------------------------------------

// serveConnection owns conn: it reads, decodes and queues requests and finally tears conn down
func (s *ThreadedServer) serveConnection(conn *Connection) {
	defer s.conns.Done()
	defer s.teardown(conn)

	mux, err := poll.NewMultiplexer[PollID](pollIDCodec{}, 4)
	if err != nil {
		Logger.Errorf("failed to create multiplexer for connection %d: %v", conn.ID(), err)
		return
	}
	defer mux.Close()

	if err := mux.Register(conn.ID(), PollID{Kind: PollClient, Fd: conn.ID()}); err != nil {
		s.failProcess(err)
		return
	}
	if err := mux.Register(s.waker.Fd(), PollID{Kind: PollWaker, Fd: s.waker.Fd()}); err != nil {
		s.failProcess(err)
		return
	}

	for {
		events, err := mux.Wait(-1)
		if err != nil {
			s.failProcess(err)
			return
		}

		for _, ev := range events {
			if ev.Key.Kind == PollWaker {
				return
			}

			switch ev.Condition {
			case poll.Ready:
				if _, alive := s.readConnection(conn); !alive {
					return
				}
			case poll.Broken, poll.Hup:
				// requests the peer sent before hanging up are still in the socket buffer
				for {
					more, alive := s.readConnection(conn)
					if !more || !alive {
						return
					}
				}
			}
		}
	}
}

// readConnection performs one receive step and queues the decoded requests.
// more is false once the channel would block, alive is false when the connection
// has to be torn down.
func (s *ThreadedServer) readConnection(conn *Connection) (more bool, alive bool) {
	packets, err := conn.readPackets()
	if errors.Is(err, transport.ErrWouldBlock) {
		return false, true
	}
	if err != nil {
		s.connectionError(conn, err)
		return false, false
	}

	for i, p := range packets {
		s.metrics.packets.Inc()
		req, caps, err := s.codec.DecodeRequest(p)
		if err != nil {
			for _, rest := range packets[i+1:] {
				_ = rest.Close()
			}
			s.connectionError(conn, err)
			return false, false
		}
		s.queue.Push(&delivery{conn: conn, req: req, caps: caps})
	}
	return true, true
}

// teardown removes conn, notifies the dispatcher and closes the channel. The table
// entry is removed before the descriptor is released.
func (s *ThreadedServer) teardown(conn *Connection) {
	if _, ok := s.table.Remove(conn.ID()); !ok {
		return
	}
	s.queue.Push(&delivery{conn: conn, closed: true})
	if err := conn.Close(); err != nil {
		Logger.Warningf("failed to close connection %d: %v", conn.ID(), err)
	}
	s.metrics.closed.Inc()
}

// --------------------------------------------------------------------------
// Dispatcher
// --------------------------------------------------------------------------

// dispatch runs the request handler for every delivery until the queue is closed and empty
func (s *ThreadedServer) dispatch() {
	for {
		d, ok := s.queue.Pop()
		if !ok {
			return
		}

		if d.closed {
			s.handler.HandleClose(d.conn)
			continue
		}

		if err := s.handler.HandleRequest(d.conn, d.req, d.caps); err != nil {
			if transport.SeverityOf(err) == transport.SeverityProcess {
				s.failProcess(err)
				continue
			}
			if errors.Is(err, ErrConnectionClosed) {
				continue
			}
			s.metrics.protocolErrors.Inc()
			Logger.Warningf("closing connection %d: %v", d.conn.ID(), err)

			// the owner goroutine sees the hang up and tears the connection down
			if err := d.conn.shutdown(); err != nil {
				Logger.Warningf("%v", err)
			}
			continue
		}
		s.metrics.dispatched.Inc()
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// connectionError logs err unless it is an orderly shutdown, process level errors stop the server
func (s *ThreadedServer) connectionError(conn *Connection, err error) {
	if transport.SeverityOf(err) == transport.SeverityProcess {
		s.failProcess(err)
		return
	}
	if !errors.Is(err, io.EOF) {
		s.metrics.protocolErrors.Inc()
		Logger.Warningf("closing connection %d: %v", conn.ID(), err)
	}
}

// failProcess records the first fatal error and stops every goroutine
func (s *ThreadedServer) failProcess(err error) {
	Logger.Errorf("fatal server error: %v", err)
	s.setErr(err)
	s.Stop()
}

func (s *ThreadedServer) setErr(err error) {
	s.errOnce.Do(func() {
		s.err = err
	})
}
