// Package client implements a uio client: it connects to the server socket,
// sends requests and waits for events.
//
// Dial retries failed connection attempts with exponential backoff (starting
// at 50ms, +-10% jitter), so clients can be started before the server. The
// channel stays non-blocking; Next and Send wait on a private Multiplexer.
// Output interest is only armed while a Send waits for socket buffer space.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  SocketPath:    common.DefaultSocketPath,
//	  Transport:     common.TransportStream,
//	  TimeoutSecond: 5,
//	  RetryCount:    3,
//	}
//
//	c, err := client.Dial(config, serializer.NewBinarySerializer())
//	if err != nil {
//	  log.Fatalf("Failed to connect: %v", err)
//	}
//	defer c.Close()
//
//	if err := c.Announce("worker"); err != nil {
//	  log.Fatalf("Announce failed: %v", err)
//	}
//
// A Client is not safe for concurrent use. Use one Client per goroutine.
package client
