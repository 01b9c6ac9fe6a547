package serializer

import (
	"github.com/ValentinKolb/uio/ipc/common"
	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses Core Deterministic Encoding: the same message always produces identical bytes
var cborEncMode cbor.EncMode

// cborDecMode rejects unknown map keys so that an encoded request never decodes as an event
var cborDecMode cbor.DecMode

func init() {
	var err error

	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("serializer: CBOR encoder initialization failed: " + err.Error())
	}

	cborDecMode, err = cbor.DecOptions{
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic("serializer: CBOR decoder initialization failed: " + err.Error())
	}
}

// NewCBORSerializer creates a new serializer using CBOR with integer map keys
func NewCBORSerializer() IIPCSerializer {
	return &cborSerializerImpl{}
}

// cborSerializerImpl implements the IIPCSerializer interface using CBOR encoding
type cborSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IIPCSerializer)
// --------------------------------------------------------------------------

func (c cborSerializerImpl) SerializeRequest(req common.Request) ([]byte, error) {
	return cborEncMode.Marshal(req)
}

func (c cborSerializerImpl) DeserializeRequest(b []byte, req *common.Request) error {
	if err := cborDecMode.Unmarshal(b, req); err != nil {
		return err
	}
	return req.Validate()
}

func (c cborSerializerImpl) SerializeEvent(evt common.Event) ([]byte, error) {
	return cborEncMode.Marshal(evt)
}

func (c cborSerializerImpl) DeserializeEvent(b []byte, evt *common.Event) error {
	if err := cborDecMode.Unmarshal(b, evt); err != nil {
		return err
	}
	return evt.Validate()
}
