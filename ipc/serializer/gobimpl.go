package serializer

import (
	"bytes"
	"encoding/gob"
	"github.com/ValentinKolb/uio/ipc/common"
)

// NewGOBSerializer creates a new serializer using Go's binary gob format
func NewGOBSerializer() IIPCSerializer {
	return &gobSerializerImpl{}
}

// gobSerializerImpl implements the IIPCSerializer interface using gob encoding.
// Every message is encoded with a fresh encoder, so each payload carries its own type description.
type gobSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IIPCSerializer)
// --------------------------------------------------------------------------

func (g gobSerializerImpl) SerializeRequest(req common.Request) ([]byte, error) {
	return g.encode(req)
}

func (g gobSerializerImpl) DeserializeRequest(b []byte, req *common.Request) error {
	if err := g.decode(b, req); err != nil {
		return err
	}
	return req.Validate()
}

func (g gobSerializerImpl) SerializeEvent(evt common.Event) ([]byte, error) {
	return g.encode(evt)
}

func (g gobSerializerImpl) DeserializeEvent(b []byte, evt *common.Event) error {
	if err := g.decode(b, evt); err != nil {
		return err
	}
	return evt.Validate()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func (g gobSerializerImpl) encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g gobSerializerImpl) decode(b []byte, v any) error {
	buf := bytes.NewBuffer(b)
	dec := gob.NewDecoder(buf)
	return dec.Decode(v)
}
