package serializer

import (
	"bytes"
	"encoding/json"
	"github.com/ValentinKolb/uio/ipc/common"
)

// NewJSONSerializer creates a new serializer using json encoding
func NewJSONSerializer() IIPCSerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the IIPCSerializer interface using json encoding
type jsonSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IIPCSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) SerializeRequest(req common.Request) ([]byte, error) {
	return json.Marshal(req)
}

func (j jsonSerializerImpl) DeserializeRequest(b []byte, req *common.Request) error {
	if err := j.strictDecode(b, req); err != nil {
		return err
	}
	return req.Validate()
}

func (j jsonSerializerImpl) SerializeEvent(evt common.Event) ([]byte, error) {
	return json.Marshal(evt)
}

func (j jsonSerializerImpl) DeserializeEvent(b []byte, evt *common.Event) error {
	if err := j.strictDecode(b, evt); err != nil {
		return err
	}
	return evt.Validate()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// strictDecode rejects unknown fields, so an event object never decodes as a request and vice versa
func (j jsonSerializerImpl) strictDecode(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
