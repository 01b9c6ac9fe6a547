package transport

// --------------------------------------------------------------------------
// Channel
// --------------------------------------------------------------------------

// IChannel is one connected, non-blocking socket together with its framing state.
// A channel exclusively owns its descriptor.
type IChannel interface {
	// ReadPackets performs the receive step of the channel and returns every packet
	// that became complete. It returns ErrWouldBlock when no data is pending and
	// io.EOF after an orderly shutdown of the peer.
	ReadPackets() ([]Packet, error)
	// WritePacket sends one packet. The capabilities are borrowed, the caller keeps
	// ownership and may close them after the call returns.
	WritePacket(p Packet) error
	// Fd returns the native descriptor number, used as connection identity
	Fd() int
	// Close releases the descriptor and any buffered capabilities. Closing twice is a no-op
	Close() error
}

// --------------------------------------------------------------------------
// Listen Socket
// --------------------------------------------------------------------------

// IListenSocket is a bound, listening, non-blocking socket that owns its filesystem path
type IListenSocket interface {
	// Accept takes one pending connection. It returns ErrWouldBlock when nothing is pending
	Accept() (IChannel, error)
	// Fd returns the native descriptor number of the listening socket
	Fd() int
	// Path returns the filesystem path the socket is bound to
	Path() string
	// Close closes the socket and removes its path
	Close() error
}
