package timeline

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/ghostline/internal/testutil/testlog"
)

func sampleTimeline() Timeline {
	return Timeline{
		ID:     "tl-1",
		Status: StatusRun,
		Handlers: []Handler{
			{
				Kind:        KindCommand,
				Initial:     "",
				ActiveFrom:  Clock(9, 0, 0),
				ActiveUntil: Clock(17, 30, 0),
				Loop:        true,
				Args:        map[string]any{"execution-probability": 0.5},
				Events: []Event{
					{
						Command:     "echo",
						Args:        []any{"hi", "there"},
						TrackableID: "ev-1",
						DelayBefore: Millis(250),
						DelayAfter:  Delay{Random: true, Min: time.Second, Max: 3 * time.Second},
					},
				},
			},
			{
				Kind:    KindBrowserFirefox,
				Initial: "about:blank",
				Events: []Event{
					{Command: "browse", Args: []any{"https://example.com"}, TrackableID: "ev-2", DelayAfter: Millis(3000)},
				},
			},
		},
	}
}

func TestTimelineRoundTripJSON(t *testing.T) {
	testlog.Start(t)
	in := sampleTimeline()
	data, err := Encode(in, FormatJSON)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(data, FormatJSON)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch\nin:  %+v\nout: %+v", in, out)
	}
}

func TestTimelineRoundTripYAML(t *testing.T) {
	testlog.Start(t)
	in := sampleTimeline()
	in.Handlers[0].Args = map[string]any{"mode": "fast"}
	data, err := Encode(in, FormatYAML)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(data, FormatYAML)
	if err != nil {
		t.Fatalf("decode: %v\n%s", err, data)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch\nin:  %+v\nout: %+v\ndoc:\n%s", in, out, data)
	}
}

func TestDecodeDocumentShape(t *testing.T) {
	logger := testlog.Start(t)
	doc := `{
  // comments are tolerated
  "id": "b8f6",
  "status": "Run",
  "timeLineHandlers": [
    {
      "handlerType": "command",
      "initial": "",
      "utcTimeOn": "00:00:00",
      "utcTimeOff": "25:00:00",
      "loop": false,
      "timeLineEvents": [
        {"command": "dir", "commandArgs": [], "delayBefore": 0, "delayAfter": 900000},
      ]
    }
  ]
}`
	_, err := Decode([]byte(doc), FormatJSON)
	if !errors.Is(err, ErrInvalidTimeOfDay) {
		t.Fatalf("expected ErrInvalidTimeOfDay for 25:00:00, got %v", err)
	}

	doc = strings.Replace(doc, "25:00:00", "24:00:00", 1)
	tl, err := Decode([]byte(doc), FormatJSON)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	h := tl.Handlers[0]
	if h.Kind != KindCommand {
		t.Fatalf("expected case-insensitive kind, got %q", h.Kind)
	}
	if h.ActiveUntil != Clock(24, 0, 0) || h.ActiveUntil.String() != "24:00:00" {
		t.Fatalf("unexpected active until: %s", h.ActiveUntil)
	}
	if h.Events[0].DelayAfter.Resolve(nil) != 15*time.Minute {
		t.Fatalf("unexpected delay after: %v", h.Events[0].DelayAfter)
	}
	logger.Debug().Str("kind", h.Kind.String()).Msg("timeline/decode-shape")
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	testlog.Start(t)
	_, err := DecodeHandler([]byte(`{"handlerType":"Telegraph","timeLineEvents":[]}`))
	if !errors.Is(err, ErrUnknownActivityKind) {
		t.Fatalf("expected ErrUnknownActivityKind, got %v", err)
	}
}

func TestDecodeEmptyDocument(t *testing.T) {
	testlog.Start(t)
	if _, err := Decode([]byte("  \n"), FormatJSON); !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}
}

func TestDecodeDefaultsStatusToRun(t *testing.T) {
	testlog.Start(t)
	tl, err := Decode([]byte(`{"id":"x","timeLineHandlers":[]}`), FormatJSON)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tl.Status != StatusRun {
		t.Fatalf("expected Run, got %q", tl.Status)
	}
}

func TestCanonicalizeMintsMissingTrackableIDs(t *testing.T) {
	testlog.Start(t)
	h := Handler{
		Kind: KindCommand,
		Events: []Event{
			{Command: "echo", TrackableID: "keep"},
			{Command: "echo"},
			{Command: "echo", TrackableID: "  "},
		},
	}
	if n := h.Canonicalize(); n != 2 {
		t.Fatalf("expected 2 minted ids, got %d", n)
	}
	if h.Events[0].TrackableID != "keep" {
		t.Fatalf("existing id overwritten: %q", h.Events[0].TrackableID)
	}
	if h.Events[1].TrackableID == "" || h.Events[2].TrackableID == "" {
		t.Fatalf("expected minted ids: %+v", h.Events)
	}
	if h.Events[1].TrackableID == h.Events[2].TrackableID {
		t.Fatalf("expected distinct ids")
	}
	if n := h.Canonicalize(); n != 0 {
		t.Fatalf("second canonicalize should be a no-op, minted %d", n)
	}
}

func TestDelayResolveRandomWithinBounds(t *testing.T) {
	testlog.Start(t)
	d := Delay{Random: true, Min: 100 * time.Millisecond, Max: 200 * time.Millisecond}
	for i := 0; i < 50; i++ {
		got := d.Resolve(nil)
		if got < d.Min || got > d.Max {
			t.Fatalf("delay out of bounds: %v", got)
		}
	}
	if got := Millis(-5).Resolve(nil); got != 0 {
		t.Fatalf("negative fixed delay should clamp to 0, got %v", got)
	}
}

func TestEventStringArgs(t *testing.T) {
	testlog.Start(t)
	ev := Event{Args: []any{"a", float64(3), true, 1.5}}
	got := strings.Join(ev.StringArgs(), ",")
	if got != "a,3,true,1.5" {
		t.Fatalf("unexpected string args: %q", got)
	}
}
