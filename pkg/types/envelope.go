package types

import (
	"encoding/json"
)

// Envelope kinds carried on the shared channel. A Message envelope has no
// kind field; it is recognized by the presence of both from and to.
const (
	KindRegister       = "REGISTER"
	KindUnregister     = "UNREGISTER"
	KindExistsCheck    = "CLIENT_EXISTS_CHECK"
	KindExistsResponse = "CLIENT_EXISTS_RESPONSE"
)

// Registration asks the broker to add or remove a participant.
// Processed only by the broker in the hub context.
type Registration struct {
	Kind          string        `json:"kind"`
	ParticipantID ParticipantID `json:"participantId"`
}

// Message is an addressed envelope. Payload is opaque to the broker; it is
// carried as raw JSON end to end and only interpreted by the receiving
// participant.
type Message struct {
	From    ParticipantID   `json:"from"`
	To      ParticipantID   `json:"to"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Valid reports whether the message is routable. Envelopes missing either
// endpoint are dropped, never queued.
func (m *Message) Valid() bool {
	return m != nil && !m.From.IsEmpty() && !m.To.IsEmpty()
}

// ExistsCheck probes whether a participant has registered yet.
type ExistsCheck struct {
	Kind      string        `json:"kind"`
	ClientID  ParticipantID `json:"clientId"`
	RequestID RequestID     `json:"requestId"`
	From      ParticipantID `json:"from"`
}

// ExistsResponse answers an ExistsCheck, correlated by request ID.
type ExistsResponse struct {
	Kind      string    `json:"kind"`
	RequestID RequestID `json:"requestId"`
	Exists    bool      `json:"exists"`
}

// NewRegister creates a registration envelope
func NewRegister(id ParticipantID) *Registration {
	return &Registration{Kind: KindRegister, ParticipantID: id}
}

// NewUnregister creates an unregistration envelope
func NewUnregister(id ParticipantID) *Registration {
	return &Registration{Kind: KindUnregister, ParticipantID: id}
}

// NewExistsCheck creates an existence-check request envelope with a fresh
// request ID
func NewExistsCheck(clientID, from ParticipantID) *ExistsCheck {
	return &ExistsCheck{
		Kind:      KindExistsCheck,
		ClientID:  clientID,
		RequestID: GenerateRequestID(),
		From:      from,
	}
}

// NewExistsResponse creates the response envelope for a probe
func NewExistsResponse(requestID RequestID, exists bool) *ExistsResponse {
	return &ExistsResponse{Kind: KindExistsResponse, RequestID: requestID, Exists: exists}
}

// EncodeFrame serializes an envelope for the transport channel
func EncodeFrame(env any) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, WrapError(ErrCodeInvalid, "failed to serialize envelope", err)
	}
	return data, nil
}

// frameProbe is the union of all envelope fields, used to classify an
// inbound frame by shape.
type frameProbe struct {
	Kind          string          `json:"kind"`
	ParticipantID ParticipantID   `json:"participantId"`
	ClientID      ParticipantID   `json:"clientId"`
	RequestID     RequestID       `json:"requestId"`
	From          ParticipantID   `json:"from"`
	To            ParticipantID   `json:"to"`
	Exists        bool            `json:"exists"`
	Payload       json.RawMessage `json:"payload"`
}

// DecodeFrame classifies raw bytes received from the shared channel and
// returns one of *Registration, *Message, *ExistsCheck or *ExistsResponse.
// The channel is a shared, unauthenticated pipe, so arbitrary foreign
// payloads may arrive on it; anything that does not match a known shape
// comes back as an INVALID error and receivers drop it without complaint.
func DecodeFrame(data []byte) (any, error) {
	var probe frameProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, WrapError(ErrCodeInvalid, "unparseable frame", err)
	}

	switch probe.Kind {
	case KindRegister, KindUnregister:
		if probe.ParticipantID.IsEmpty() {
			return nil, NewError(ErrCodeInvalid, "registration without participant id")
		}
		return &Registration{Kind: probe.Kind, ParticipantID: probe.ParticipantID}, nil
	case KindExistsCheck:
		if probe.ClientID.IsEmpty() || probe.RequestID.IsEmpty() {
			return nil, NewError(ErrCodeInvalid, "exists check missing client or request id")
		}
		return &ExistsCheck{
			Kind:      probe.Kind,
			ClientID:  probe.ClientID,
			RequestID: probe.RequestID,
			From:      probe.From,
		}, nil
	case KindExistsResponse:
		if probe.RequestID.IsEmpty() {
			return nil, NewError(ErrCodeInvalid, "exists response missing request id")
		}
		return &ExistsResponse{Kind: probe.Kind, RequestID: probe.RequestID, Exists: probe.Exists}, nil
	case "":
		// No kind: a message envelope if from and to are both present.
		msg := &Message{From: probe.From, To: probe.To, Payload: probe.Payload}
		if !msg.Valid() {
			return nil, NewError(ErrCodeInvalid, "frame matches no known envelope shape")
		}
		return msg, nil
	default:
		return nil, NewError(ErrCodeInvalid, "unknown envelope kind: "+probe.Kind)
	}
}
