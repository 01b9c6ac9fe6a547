package common

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultSocketPath is the well-known path of the uio listening socket
const DefaultSocketPath = "/tmp/uio/socket"

// --------------------------------------------------------------------------
// Transport variants and server modes
// --------------------------------------------------------------------------

// TransportVariant selects the socket type and framing used on the wire
type TransportVariant string

const (
	// TransportStream uses SOCK_STREAM with an explicit length/capability header per frame
	TransportStream TransportVariant = "stream"
	// TransportSeqPacket uses SOCK_SEQPACKET and relies on kernel record boundaries
	TransportSeqPacket TransportVariant = "seqpacket"
)

// ParseTransportVariant converts a configuration string into a TransportVariant
func ParseTransportVariant(s string) (TransportVariant, error) {
	switch TransportVariant(strings.ToLower(s)) {
	case TransportStream:
		return TransportStream, nil
	case TransportSeqPacket:
		return TransportSeqPacket, nil
	default:
		return "", fmt.Errorf("invalid transport %s (expected one of: stream, seqpacket)", s)
	}
}

// ServerMode selects how the server drives its connections
type ServerMode string

const (
	// ServerModeLoop runs a single goroutine that multiplexes every connection
	ServerModeLoop ServerMode = "loop"
	// ServerModeThreaded runs one goroutine per connection and a single dispatcher
	ServerModeThreaded ServerMode = "threaded"
)

// ParseServerMode converts a configuration string into a ServerMode
func ParseServerMode(s string) (ServerMode, error) {
	switch ServerMode(strings.ToLower(s)) {
	case ServerModeLoop:
		return ServerModeLoop, nil
	case ServerModeThreaded:
		return ServerModeThreaded, nil
	default:
		return "", fmt.Errorf("invalid server mode %s (expected one of: loop, threaded)", s)
	}
}

// --------------------------------------------------------------------------
// IPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters for the uio server.
type ServerConfig struct {
	// Socket settings
	SocketPath string
	Transport  TransportVariant
	Backlog    int

	// Event loop settings
	Mode      ServerMode
	MaxEvents int

	// Channel settings
	ReadBufferSize         int
	MaxPendingCapabilities int

	// Observability
	LogLevel        string
	MetricsEndpoint string
}

// DefaultServerConfig returns a configuration with the defaults used by the CLI
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		SocketPath:             DefaultSocketPath,
		Transport:              TransportStream,
		Backlog:                32,
		Mode:                   ServerModeLoop,
		MaxEvents:              64,
		ReadBufferSize:         16 * 1024,
		MaxPendingCapabilities: 1024,
		LogLevel:               "info",
	}
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// Socket settings
	addSection("Socket")
	addField("Path", c.SocketPath)
	addField("Transport", string(c.Transport))
	addField("Backlog", strconv.Itoa(c.Backlog))

	// Event loop settings
	addSection("Event Loop")
	addField("Mode", string(c.Mode))
	addField("Max Events", strconv.Itoa(c.MaxEvents))

	// Channel settings
	addSection("Channels")
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.ReadBufferSize))
	addField("Max Pending Caps", strconv.Itoa(c.MaxPendingCapabilities))

	// Logging configuration
	addSection("Observability")
	addField("Log Level", c.LogLevel)
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	} else {
		addField("Metrics Endpoint", "disabled")
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// IPC client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds all configuration parameters for a uio client.
type ClientConfig struct {
	SocketPath    string
	Transport     TransportVariant
	TimeoutSecond int
	RetryCount    int
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Socket Path", c.SocketPath)
	addField("Transport", string(c.Transport))
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))

	return sb.String()
}
