package core

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/voicemesh/internal/domain"
)

// EnvelopeType is the kind of negotiation message carried by an Envelope.
type EnvelopeType string

const (
	EnvelopeOffer     EnvelopeType = "offer"
	EnvelopeAnswer    EnvelopeType = "answer"
	EnvelopeCandidate EnvelopeType = "candidate"
)

var ErrBadEnvelope = errors.New("bad envelope")

// Valid reports whether t is one of the relayable negotiation types.
func (t EnvelopeType) Valid() bool {
	switch t {
	case EnvelopeOffer, EnvelopeAnswer, EnvelopeCandidate:
		return true
	}
	return false
}

// Envelope is one unicast signaling message between two participants.
// The payload is opaque to the messaging layer.
type Envelope struct {
	Type    EnvelopeType         `json:"type"`
	From    domain.ParticipantID `json:"from,omitempty"`
	To      domain.ParticipantID `json:"to"`
	Payload json.RawMessage      `json:"payload"`
}

func NewEnvelope(t EnvelopeType, from, to domain.ParticipantID, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Envelope{Type: t, From: from, To: to, Payload: raw}, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: empty %s payload", ErrBadEnvelope, e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrBadEnvelope, e.Type, err)
	}
	return nil
}

// Validate checks addressing and type before an envelope is relayed.
func (e Envelope) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: type %q", ErrBadEnvelope, e.Type)
	}
	if e.To == "" {
		return fmt.Errorf("%w: missing recipient", ErrBadEnvelope)
	}
	return nil
}
