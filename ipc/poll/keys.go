package poll

import (
	"fmt"
	"github.com/ValentinKolb/uio/ipc/transport"
)

// KeyCodec converts multiplexer keys to and from the 64 bit user data of the kernel.
// FromU64(ToU64(k)) must return k for every key that is ever registered.
type KeyCodec[K comparable] interface {
	ToU64(key K) uint64
	FromU64(u uint64) (K, error)
}

// Uint64Keys is the identity codec for plain uint64 keys
type Uint64Keys struct{}

func (Uint64Keys) ToU64(key uint64) uint64 {
	return key
}

func (Uint64Keys) FromU64(u uint64) (uint64, error) {
	return u, nil
}

// KeyRoundTripError reports a key that did not survive the conversion to uint64 and back.
// It means the codec is broken, so it stops the process.
type KeyRoundTripError struct {
	Key     string
	Encoded uint64
	Err     error
}

func (e *KeyRoundTripError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("key %s (0x%016x) does not round trip: %v", e.Key, e.Encoded, e.Err)
	}
	return fmt.Sprintf("key %s (0x%016x) does not round trip", e.Key, e.Encoded)
}

func (e *KeyRoundTripError) Unwrap() error {
	return e.Err
}

// Severity implements the severity carrier of the transport package
func (e *KeyRoundTripError) Severity() transport.Severity {
	return transport.SeverityProcess
}

// checkEncode encodes key and verifies that it decodes to the same key
func checkEncode[K comparable](codec KeyCodec[K], key K) (uint64, error) {
	u := codec.ToU64(key)
	back, err := codec.FromU64(u)
	if err != nil || back != key {
		return 0, &KeyRoundTripError{Key: fmt.Sprintf("%v", key), Encoded: u, Err: err}
	}
	return u, nil
}

// checkDecode decodes u and verifies that it encodes to the same value
func checkDecode[K comparable](codec KeyCodec[K], u uint64) (K, error) {
	key, err := codec.FromU64(u)
	if err != nil || codec.ToU64(key) != u {
		var zero K
		return zero, &KeyRoundTripError{Key: fmt.Sprintf("%v", key), Encoded: u, Err: err}
	}
	return key, nil
}
