package transport

import (
	"errors"
	"os"
)

// Packet is one application message together with the descriptors that travel with it.
// Capabilities are owned by whoever holds the packet; Close releases them.
type Packet struct {
	Data         []byte
	Capabilities []*os.File
}

// NewPacket creates a packet. A nil capability list is replaced with an empty one
func NewPacket(data []byte, caps []*os.File) Packet {
	if caps == nil {
		caps = []*os.File{}
	}
	return Packet{Data: data, Capabilities: caps}
}

// Close releases every capability carried by the packet
func (p *Packet) Close() error {
	err := CloseFiles(p.Capabilities)
	p.Capabilities = []*os.File{}
	return err
}

// CloseFiles closes all given files and joins the errors
func CloseFiles(files []*os.File) error {
	var errs []error
	for _, f := range files {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
