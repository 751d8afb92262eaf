package updates

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrMalformedEnvelope = errors.New("updates: malformed update envelope")

// UpdateType is the declared kind of a pulled update.
type UpdateType string

const (
	TypeRequestForTimeline UpdateType = "RequestForTimeline"
	TypeTimeline           UpdateType = "Timeline"
	TypeTimelinePartial    UpdateType = "TimelinePartial"
	TypeHealth             UpdateType = "Health"
)

// numericTypes maps the integer encoding some servers emit.
var numericTypes = []UpdateType{
	TypeRequestForTimeline,
	TypeTimeline,
	TypeTimelinePartial,
	TypeHealth,
}

var namedTypes = map[string]UpdateType{
	strings.ToLower(string(TypeRequestForTimeline)): TypeRequestForTimeline,
	strings.ToLower(string(TypeTimeline)):           TypeTimeline,
	strings.ToLower(string(TypeTimelinePartial)):    TypeTimelinePartial,
	strings.ToLower(string(TypeHealth)):             TypeHealth,
}

// Known reports whether t has a handler.
func (t UpdateType) Known() bool {
	_, ok := namedTypes[strings.ToLower(string(t))]
	return ok
}

// UnmarshalJSON accepts a name in any case or an integer. Unrecognized values
// are kept verbatim so they can be logged.
func (t *UpdateType) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		if known, ok := namedTypes[strings.ToLower(strings.TrimSpace(raw))]; ok {
			*t = known
			return nil
		}
		*t = UpdateType(raw)
		return nil
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("%w: type %s", ErrMalformedEnvelope, data)
	}
	if n >= 0 && n < len(numericTypes) {
		*t = numericTypes[n]
		return nil
	}
	*t = UpdateType(strconv.Itoa(n))
	return nil
}

// Envelope is one pulled update.
type Envelope struct {
	Type   UpdateType      `json:"type"`
	Update json.RawMessage `json:"update"`
}

// DecodeEnvelope parses an update response body.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	return env, nil
}

// Payload returns the update body. A payload sent as a JSON string holding a
// document is unwrapped to the document.
func (e Envelope) Payload() []byte {
	raw := bytes.TrimSpace(e.Update)
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err == nil {
			return []byte(inner)
		}
	}
	return raw
}

type logDump struct {
	Log string `json:"log"`
}

type encryptedPayload struct {
	Payload string `json:"payload"`
}

type timelineRequest struct {
	TimelineID string `json:"timelineId"`
}
