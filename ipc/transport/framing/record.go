package framing

import (
	"github.com/ValentinKolb/uio/ipc/transport"
	"os"
)

// RecordAccumulator collects the pieces of one kernel record until its end-of-record marker is seen.
// A RecordAccumulator is not safe for concurrent use.
type RecordAccumulator struct {
	data []byte
	caps []*os.File
}

// NewRecordAccumulator creates an empty accumulator
func NewRecordAccumulator() *RecordAccumulator {
	return &RecordAccumulator{caps: []*os.File{}}
}

// Append adds the bytes and descriptors of one receive. When endOfRecord is set the
// accumulated packet is returned and the accumulator is reset.
func (a *RecordAccumulator) Append(data []byte, caps []*os.File, endOfRecord bool) (transport.Packet, bool) {
	a.data = append(a.data, data...)
	a.caps = append(a.caps, caps...)

	if !endOfRecord {
		return transport.Packet{}, false
	}

	p := transport.NewPacket(a.data, a.caps)
	if p.Data == nil {
		p.Data = []byte{}
	}
	a.data = nil
	a.caps = []*os.File{}
	return p, true
}

// Pending returns the number of buffered bytes and descriptors of the incomplete record
func (a *RecordAccumulator) Pending() (bytes int, caps int) {
	return len(a.data), len(a.caps)
}

// Close drops the incomplete record and closes its descriptors
func (a *RecordAccumulator) Close() error {
	err := transport.CloseFiles(a.caps)
	a.data = nil
	a.caps = []*os.File{}
	return err
}
