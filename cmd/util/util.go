package util

import (
	"fmt"
	"github.com/ValentinKolb/uio/ipc/common"
	"github.com/ValentinKolb/uio/ipc/serializer"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strings"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and makes viper read UIO_* environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("uio")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// SetupClientFlags adds the connection flags shared by all client commands
func SetupClientFlags(cmd *cobra.Command) {
	key := "socket-path"
	cmd.PersistentFlags().String(key, common.DefaultSocketPath, WrapString("Path of the uio server socket"))

	key = "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("How long to wait for an answer of the server (in seconds, 0 waits forever)"))

	key = "retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times to try to connect before giving up"))
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() (*common.ClientConfig, error) {
	t, err := GetTransport()
	if err != nil {
		return nil, err
	}

	return &common.ClientConfig{
		SocketPath:    viper.GetString("socket-path"),
		Transport:     t,
		TimeoutSecond: viper.GetInt("timeout"),
		RetryCount:    viper.GetInt("retries"),
	}, nil
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IIPCSerializer, error) {
	name := viper.GetString("serializer")
	s, ok := serializer.ByName(name)
	if !ok {
		return nil, fmt.Errorf("invalid serializer %s (expected one of: binary, json, gob, cbor)", name)
	}
	return s, nil
}

// GetTransport reads the transport variant from viper
func GetTransport() (common.TransportVariant, error) {
	return common.ParseTransportVariant(viper.GetString("transport"))
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
