// Package poll provides a readiness multiplexer over Linux epoll that is
// generic in its key type, plus an eventfd based Waker.
//
// Every descriptor is registered under a key of any comparable type K. The
// kernel only stores 64 bits of user data per registration, so a KeyCodec
// converts keys to uint64 and back. The round trip is verified when a key is
// registered and again when it is reported; a codec that loses information
// yields a *KeyRoundTripError with process severity instead of silently
// routing events to the wrong owner.
//
// Key Components:
//
//   - Multiplexer[K]: Register / RegisterInterest / Deregister / Wait. Wait
//     reports each condition of a descriptor as its own Event, in the order
//     Ready, Writable, Broken, Hup. Broken and Hup are independent: a socket
//     whose peer closed with unread data reports both. Output interest is
//     never armed implicitly: a level triggered writable socket would wake
//     every wait.
//
//   - Waker: eventfd that stays readable once signalled. Registered in one or
//     more multiplexers it is used to stop event loops from other goroutines.
//
//   - Uint64Keys: identity codec for plain uint64 keys.
//
// Thread Safety:
//
// Register and Deregister can be called concurrently with Wait. Wait must not
// be called concurrently on the same multiplexer. Waker.Wake is safe from any
// goroutine.
package poll
