// Package client implements the client commands of the uio CLI: announce a
// name to a running server and benchmark the connect-announce-close round trip.
package client
