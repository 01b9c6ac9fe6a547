package framing

import (
	"bytes"
	"errors"
	"github.com/ValentinKolb/uio/ipc/transport"
	"math/rand"
	"os"
	"testing"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// testFiles returns n distinct open files that are closed when the test ends
func testFiles(t *testing.T, n int) []*os.File {
	t.Helper()
	files := make([]*os.File, 0, n)
	for len(files) < n {
		r, w, err := os.Pipe()
		if err != nil {
			t.Fatalf("Failed to create pipe: %v", err)
		}
		t.Cleanup(func() {
			_ = r.Close()
			_ = w.Close()
		})
		files = append(files, r)
		if len(files) < n {
			files = append(files, w)
		}
	}
	return files
}

// randomPackets builds count packets with random payloads and capability counts
func randomPackets(t *testing.T, rng *rand.Rand, count int) []transport.Packet {
	t.Helper()
	packets := make([]transport.Packet, count)
	for i := range packets {
		data := make([]byte, rng.Intn(2048))
		rng.Read(data)
		packets[i] = transport.NewPacket(data, testFiles(t, rng.Intn(4)))
	}
	return packets
}

// encodeAll concatenates the frames of all packets and collects their capabilities in order
func encodeAll(t *testing.T, packets []transport.Packet) ([]byte, []*os.File) {
	t.Helper()
	var stream []byte
	var caps []*os.File
	for i, p := range packets {
		frame, err := EncodeFrame(p)
		if err != nil {
			t.Fatalf("Failed to encode packet %d: %v", i, err)
		}
		stream = append(stream, frame...)
		caps = append(caps, p.Capabilities...)
	}
	return stream, caps
}

// comparePackets checks payload equality and capability identity
func comparePackets(t *testing.T, want, got []transport.Packet) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("Packet count mismatch: want %d, got %d", len(want), len(got))
	}
	for i := range want {
		if !bytes.Equal(want[i].Data, got[i].Data) {
			t.Errorf("Payload mismatch at packet %d", i)
		}
		if len(want[i].Capabilities) != len(got[i].Capabilities) {
			t.Errorf("Capability count mismatch at packet %d: want %d, got %d",
				i, len(want[i].Capabilities), len(got[i].Capabilities))
			continue
		}
		for j := range want[i].Capabilities {
			if want[i].Capabilities[j] != got[i].Capabilities[j] {
				t.Errorf("Capability %d of packet %d is not the original descriptor", j, i)
			}
		}
	}
}

// --------------------------------------------------------------------------
// Stream framing
// --------------------------------------------------------------------------

// TestStreamRoundTripArbitraryChunking feeds the encoded stream in random chunks
// and random capability batches and expects the original packets back
func TestStreamRoundTripArbitraryChunking(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		packets := randomPackets(t, rng, 1+rng.Intn(12))
		stream, caps := encodeAll(t, packets)

		dec := NewStreamDecoder(0)
		var got []transport.Packet

		for len(stream) > 0 || len(caps) > 0 {
			n := rng.Intn(len(stream) + 1)
			if n == 0 && len(stream) > 0 && rng.Intn(2) == 0 {
				n = 1
			}
			c := rng.Intn(len(caps) + 1)

			if err := dec.Feed(stream[:n], caps[:c]); err != nil {
				t.Fatalf("seed %d: Failed to feed: %v", seed, err)
			}
			stream = stream[n:]
			caps = caps[c:]
			got = append(got, dec.Drain()...)
		}

		comparePackets(t, packets, got)
		if b, c := dec.Buffered(); b != 0 || c != 0 {
			t.Errorf("seed %d: decoder not empty after full stream: %d bytes, %d caps", seed, b, c)
		}
	}
}

// TestStreamDrainKFramesAndPartial checks that K complete frames plus a partial one
// yield exactly K packets and leave the partial bytes buffered
func TestStreamDrainKFramesAndPartial(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for k := 0; k <= 5; k++ {
		packets := randomPackets(t, rng, k+1)
		stream, caps := encodeAll(t, packets)

		lastFrame, _ := EncodeFrame(packets[k])
		partial := 1 + rng.Intn(len(lastFrame)-1)
		cut := len(stream) - len(lastFrame) + partial

		dec := NewStreamDecoder(0)
		if err := dec.Feed(stream[:cut], caps); err != nil {
			t.Fatalf("Failed to feed: %v", err)
		}

		got := dec.Drain()
		comparePackets(t, packets[:k], got)

		if again := dec.Drain(); len(again) != 0 {
			t.Errorf("k=%d: second drain returned %d packets", k, len(again))
		}
		if b, _ := dec.Buffered(); b != partial {
			t.Errorf("k=%d: expected %d buffered bytes, got %d", k, partial, b)
		}
		if err := dec.Close(); err != nil {
			t.Errorf("k=%d: Failed to close decoder: %v", k, err)
		}
	}
}

// TestStreamNoEarlyCompletion feeds a frame byte by byte and checks that it completes
// exactly once, on the last byte
func TestStreamNoEarlyCompletion(t *testing.T) {
	payload := []byte("hello capability world")
	frame, err := EncodeFrame(transport.NewPacket(payload, nil))
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	dec := NewStreamDecoder(0)
	for i := 0; i < len(frame)-1; i++ {
		if err := dec.Feed(frame[i:i+1], nil); err != nil {
			t.Fatalf("Failed to feed byte %d: %v", i, err)
		}
		if got := dec.Drain(); len(got) != 0 {
			t.Fatalf("Frame completed early after %d of %d bytes", i+1, len(frame))
		}
	}

	if err := dec.Feed(frame[len(frame)-1:], nil); err != nil {
		t.Fatalf("Failed to feed last byte: %v", err)
	}
	got := dec.Drain()
	if len(got) != 1 || !bytes.Equal(got[0].Data, payload) {
		t.Fatalf("Expected exactly one packet with the original payload, got %d", len(got))
	}
	if got[0].Capabilities == nil {
		t.Errorf("Capabilities must be an empty list, not nil")
	}
	if again := dec.Drain(); len(again) != 0 {
		t.Errorf("Frame completed twice")
	}
}

// TestStreamWaitsForCapabilities checks that a frame with all bytes but missing descriptors stays pending
func TestStreamWaitsForCapabilities(t *testing.T) {
	files := testFiles(t, 2)
	p := transport.NewPacket([]byte("x"), files)
	frame, _ := EncodeFrame(p)

	dec := NewStreamDecoder(0)
	_ = dec.Feed(frame, files[:1])
	if got := dec.Drain(); len(got) != 0 {
		t.Fatalf("Frame completed with only one of two capabilities")
	}

	_ = dec.Feed(nil, files[1:])
	got := dec.Drain()
	comparePackets(t, []transport.Packet{p}, got)
}

// TestStreamPayloadNotAliased checks that returned payloads survive further feeding
func TestStreamPayloadNotAliased(t *testing.T) {
	first, _ := EncodeFrame(transport.NewPacket([]byte("aaaa"), nil))
	second, _ := EncodeFrame(transport.NewPacket([]byte("bbbb"), nil))

	dec := NewStreamDecoder(0)
	_ = dec.Feed(first, nil)
	got := dec.Drain()
	_ = dec.Feed(second, nil)
	_ = dec.Drain()

	if string(got[0].Data) != "aaaa" {
		t.Errorf("Payload was overwritten by later feed: %q", got[0].Data)
	}
}

// TestEncodeFrameLimits checks that oversized packets are rejected rather than truncated
func TestEncodeFrameLimits(t *testing.T) {
	_, err := EncodeFrame(transport.NewPacket(make([]byte, 100000), nil))
	if !errors.Is(err, ErrPacketTooLarge) {
		t.Errorf("Expected ErrPacketTooLarge for 100000 byte payload, got %v", err)
	}

	frame, err := EncodeFrame(transport.NewPacket(make([]byte, MaxPayloadLen), nil))
	if err != nil {
		t.Fatalf("Failed to encode max payload: %v", err)
	}
	if len(frame) != HeaderLen+MaxPayloadLen {
		t.Errorf("Unexpected frame length %d", len(frame))
	}

	caps := make([]*os.File, MaxCapabilities+1)
	if _, err := EncodeFrame(transport.NewPacket(nil, caps)); !errors.Is(err, ErrTooManyCapabilities) {
		t.Errorf("Expected ErrTooManyCapabilities, got %v", err)
	}
}

// TestEncodeFrameHeader checks the little endian header layout
func TestEncodeFrameHeader(t *testing.T) {
	files := testFiles(t, 3)
	frame, err := EncodeFrame(transport.NewPacket(make([]byte, 0x0102), files))
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	want := []byte{0x02, 0x01, 0x03, 0x00}
	if !bytes.Equal(frame[:HeaderLen], want) {
		t.Errorf("Unexpected header % x, want % x", frame[:HeaderLen], want)
	}
}

// TestStreamCapabilityBacklog checks that a decoder refuses to pin unbounded descriptors
func TestStreamCapabilityBacklog(t *testing.T) {
	files := testFiles(t, 3)
	dec := NewStreamDecoder(2)

	if err := dec.Feed(nil, files[:2]); err != nil {
		t.Fatalf("Failed to feed within limit: %v", err)
	}
	err := dec.Feed(nil, files[2:])
	if !errors.Is(err, ErrCapabilityBacklog) {
		t.Fatalf("Expected ErrCapabilityBacklog, got %v", err)
	}
	if err := files[2].Close(); !errors.Is(err, os.ErrClosed) {
		t.Errorf("Rejected capability was not closed")
	}

	if err := dec.Close(); err != nil {
		t.Fatalf("Failed to close decoder: %v", err)
	}
	for i, f := range files[:2] {
		if err := f.Close(); !errors.Is(err, os.ErrClosed) {
			t.Errorf("Pending capability %d was not closed by Close", i)
		}
	}
}

// --------------------------------------------------------------------------
// Record framing
// --------------------------------------------------------------------------

// TestRecordAccumulator checks that pieces are joined until the end-of-record marker
func TestRecordAccumulator(t *testing.T) {
	files := testFiles(t, 2)
	acc := NewRecordAccumulator()

	if _, done := acc.Append([]byte("ab"), files[:1], false); done {
		t.Fatalf("Record completed without end-of-record marker")
	}
	if b, c := acc.Pending(); b != 2 || c != 1 {
		t.Errorf("Unexpected pending state: %d bytes, %d caps", b, c)
	}

	p, done := acc.Append([]byte("cd"), files[1:], true)
	if !done {
		t.Fatalf("Record did not complete on end-of-record marker")
	}
	comparePackets(t, []transport.Packet{transport.NewPacket([]byte("abcd"), files)}, []transport.Packet{p})

	if b, c := acc.Pending(); b != 0 || c != 0 {
		t.Errorf("Accumulator not reset after completion: %d bytes, %d caps", b, c)
	}

	// a record without payload still yields a packet with empty data and capabilities
	p, done = acc.Append(nil, nil, true)
	if !done || p.Data == nil || p.Capabilities == nil || len(p.Data) != 0 {
		t.Errorf("Empty record was not returned as an empty packet")
	}
}

// TestRecordAccumulatorClose checks that an incomplete record releases its descriptors
func TestRecordAccumulatorClose(t *testing.T) {
	files := testFiles(t, 1)
	acc := NewRecordAccumulator()
	acc.Append([]byte("x"), files, false)

	if err := acc.Close(); err != nil {
		t.Fatalf("Failed to close accumulator: %v", err)
	}
	if err := files[0].Close(); !errors.Is(err, os.ErrClosed) {
		t.Errorf("Pending capability was not closed")
	}
}
