// Package util holds helpers shared by the uio commands: help text wrapping,
// environment and .env loading, and reading client configuration, serializer
// and transport from viper.
package util
