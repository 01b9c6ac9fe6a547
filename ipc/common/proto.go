package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Request Structure (client -> server)
// --------------------------------------------------------------------------

// Request represents a single message sent from a client to the server.
// Which fields are used depends on the type of the request.
type Request struct {
	// Type of request
	ReqType RequestType `json:"req_type" cbor:"1,keyasint"`

	// Name of the announcing client. Used for: Announce
	Name string `json:"name,omitempty" cbor:"2,keyasint,omitempty"`
}

// Validate checks that the request carries a known tag and the fields that tag requires
func (r *Request) Validate() error {
	switch r.ReqType {
	case ReqTAnnounce:
		return nil
	default:
		return fmt.Errorf("unknown request type 0x%02x", uint8(r.ReqType))
	}
}

// --------------------------------------------------------------------------
// Event Structure (server -> client)
// --------------------------------------------------------------------------

// Event represents a single message sent from the server to a client.
type Event struct {
	// Type of event
	EvtType EventType `json:"evt_type" cbor:"1,keyasint"`
}

// Validate checks that the event carries a known tag
func (e *Event) Validate() error {
	switch e.EvtType {
	case EvtTAnnounceAccepted:
		return nil
	default:
		return fmt.Errorf("unknown event type 0x%02x", uint8(e.EvtType))
	}
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewAnnounceRequest creates a new Announce request
func NewAnnounceRequest(name string) *Request {
	return &Request{
		ReqType: ReqTAnnounce,
		Name:    name,
	}
}

// NewAnnounceAcceptedEvent creates a new AnnounceAccepted event
func NewAnnounceAcceptedEvent() *Event {
	return &Event{
		EvtType: EvtTAnnounceAccepted,
	}
}

// --------------------------------------------------------------------------
// Request Type Definition
// --------------------------------------------------------------------------

// RequestType is the tag of the request union.
// Request tags and event tags never overlap, so a payload of one union
// can never be mistaken for the other.
type RequestType uint8

// String returns the string representation of a RequestType.
func (t RequestType) String() string {
	switch t {
	case ReqTAnnounce:
		return "announce"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for RequestType.
func (t RequestType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for RequestType.
func (t *RequestType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "announce":
		*t = ReqTAnnounce
	default:
		return fmt.Errorf("unknown request type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Event Type Definition
// --------------------------------------------------------------------------

// EventType is the tag of the event union.
type EventType uint8

// String returns the string representation of an EventType.
func (t EventType) String() string {
	switch t {
	case EvtTAnnounceAccepted:
		return "announce_accepted"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for EventType.
func (t EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for EventType.
func (t *EventType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "announce_accepted":
		*t = EvtTAnnounceAccepted
	default:
		return fmt.Errorf("unknown event type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Tag Constants
// --------------------------------------------------------------------------

const (
	ReqTUnknown  RequestType = 0x00
	ReqTAnnounce RequestType = 0x01 // A client introduces itself by name
)

const (
	EvtTUnknown          EventType = 0x80
	EvtTAnnounceAccepted EventType = 0x81 // The server accepted an announcement
)
