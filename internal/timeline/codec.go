package timeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

var ErrEmptyDocument = errors.New("timeline: empty document")

// Format is a document encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatFromPath picks the encoding from a file extension; anything that is
// not .yaml/.yml is treated as JSON (comments allowed).
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Decode parses a timeline document.
func Decode(data []byte, format Format) (Timeline, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Timeline{}, ErrEmptyDocument
	}
	var t Timeline
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &t); err != nil {
			return Timeline{}, fmt.Errorf("timeline: parse yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), &t); err != nil {
			return Timeline{}, fmt.Errorf("timeline: parse json: %w", err)
		}
	}
	if t.Status == "" {
		t.Status = StatusRun
	}
	return t, nil
}

// Encode renders a timeline document.
func Encode(t Timeline, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(t)
	default:
		return json.MarshalIndent(t, "", "  ")
	}
}

// DecodeHandler parses one handler from JSON (comments allowed).
func DecodeHandler(data []byte) (Handler, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Handler{}, ErrEmptyDocument
	}
	var h Handler
	if err := json.Unmarshal(jsonc.ToJSON(data), &h); err != nil {
		return Handler{}, fmt.Errorf("timeline: parse handler: %w", err)
	}
	return h, nil
}

// EncodeHandler renders one handler as compact JSON.
func EncodeHandler(h Handler) ([]byte, error) {
	return json.Marshal(h)
}

// Canonicalize mints a TrackableID for every event without one and returns
// how many were minted.
func (h *Handler) Canonicalize() int {
	minted := 0
	for i := range h.Events {
		if strings.TrimSpace(h.Events[i].TrackableID) == "" {
			h.Events[i].TrackableID = uuid.NewString()
			minted++
		}
	}
	return minted
}

// Canonicalize applies Handler.Canonicalize to every handler and mints a
// timeline id when missing.
func (t *Timeline) Canonicalize() int {
	if strings.TrimSpace(t.ID) == "" {
		t.ID = uuid.NewString()
	}
	minted := 0
	for i := range t.Handlers {
		minted += t.Handlers[i].Canonicalize()
	}
	return minted
}

// Wrap builds a single-handler running timeline around h.
func Wrap(h Handler) Timeline {
	return Timeline{
		ID:       uuid.NewString(),
		Status:   StatusRun,
		Handlers: []Handler{h},
	}
}
