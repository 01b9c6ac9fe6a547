package server

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/uio/ipc/codec"
	"github.com/ValentinKolb/uio/ipc/common"
	"github.com/ValentinKolb/uio/ipc/serializer"
	"github.com/ValentinKolb/uio/ipc/transport/uds"
	"github.com/VictoriaMetrics/metrics"
	"net/http"
	"time"
)

// runner is implemented by both server modes
type runner interface {
	Run() error
	Stop()
	Table() *ConnectionTable
	Metrics() *metrics.Set
}

// IPCServer ties configuration, socket provisioning and one of the server modes together
type IPCServer struct {
	config     common.ServerConfig
	serializer serializer.IIPCSerializer
	handler    IRequestHandler
}

// NewIPCServer creates a new IPC server
// It takes a config and a serializer as parameters. The default request handler
// implements the announce protocol, see WithHandler to replace it.
//
// Usage:
//
//	s := server.NewIPCServer(
//		common.DefaultServerConfig(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(ctx); err != nil {
//		panic(err)
//	}
func NewIPCServer(config common.ServerConfig, s serializer.IIPCSerializer) *IPCServer {
	return &IPCServer{
		config:     config,
		serializer: s,
		handler:    NewAnnounceHandler(),
	}
}

// WithHandler replaces the request handler
func (s *IPCServer) WithHandler(h IRequestHandler) *IPCServer {
	s.handler = h
	return s
}

// Serve prepares the socket path, opens the listen socket and serves until ctx is
// cancelled or a fatal error occurs. The socket path is removed before Serve returns.
func (s *IPCServer) Serve(ctx context.Context) error {
	if err := common.InitLoggers(s.config.LogLevel); err != nil {
		return err
	}
	Logger.Infof("starting uio server")
	Logger.Infof(s.config.String())

	if err := uds.PrepareSocketPath(s.config.SocketPath, s.config.Transport); err != nil {
		return err
	}

	listener, err := uds.Listen(s.config.SocketPath, s.config.Transport, s.config.Backlog)
	if err != nil {
		return err
	}
	listener.WithChannelOptions(uds.ChannelOptions{
		ReadBufferSize:         s.config.ReadBufferSize,
		MaxPendingCapabilities: s.config.MaxPendingCapabilities,
	})
	defer func() {
		if err := listener.Close(); err != nil {
			Logger.Warningf("failed to close listen socket: %v", err)
		}
	}()

	r, err := s.newRunner(listener)
	if err != nil {
		return err
	}

	if s.config.MetricsEndpoint != "" {
		stopMetrics := serveMetrics(s.config.MetricsEndpoint, r.Metrics())
		defer stopMetrics()
	}

	// stop the runner once ctx is done
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			Logger.Infof("shutting down uio server")
			r.Stop()
		case <-done:
		}
	}()

	return r.Run()
}

// newRunner creates the server mode selected in the config
func (s *IPCServer) newRunner(listener *uds.ListenSocket) (runner, error) {
	c := codec.NewPacketCodec(s.serializer)

	maxEvents := s.config.MaxEvents
	if maxEvents <= 0 {
		maxEvents = common.DefaultServerConfig().MaxEvents
	}

	switch s.config.Mode {
	case common.ServerModeLoop, "":
		return NewEventLoop(listener, c, s.handler, maxEvents)
	case common.ServerModeThreaded:
		return NewThreadedServer(listener, c, s.handler, maxEvents)
	default:
		return nil, fmt.Errorf("invalid server mode: %s", s.config.Mode)
	}
}

// serveMetrics exposes set in the Prometheus text format on endpoint under /metrics.
// The returned function stops the http server.
func serveMetrics(endpoint string, set *metrics.Set) func() {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		set.WritePrometheus(w)
	})

	srv := &http.Server{
		Addr:              endpoint,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		Logger.Infof("serving metrics on http://%s/metrics", endpoint)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("metrics server failed: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
