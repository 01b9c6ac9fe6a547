// Package cmd implements the command-line interface of uio. It provides a
// hierarchical command structure for running the server and talking to it as
// a client.
//
// The package is organized into several subpackages:
//
//   - serve: Command for starting and configuring the uio server
//   - client: Commands for announcing a client and benchmarking a server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set as UIO_<FLAG> environment variable or in a .env
// (or .env.local) file in the working directory.
//
// See uio -help for a list of all commands.
package cmd
