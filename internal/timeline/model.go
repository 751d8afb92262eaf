package timeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidStatus    = errors.New("timeline: invalid status")
	ErrInvalidTimeOfDay = errors.New("timeline: invalid time of day")
	ErrInvalidDelay     = errors.New("timeline: invalid delay")
)

// Status selects whether a timeline generation should be running.
type Status string

const (
	StatusRun  Status = "Run"
	StatusStop Status = "Stop"
)

func (s Status) MarshalText() ([]byte, error) {
	if s == "" {
		return []byte(StatusRun), nil
	}
	return []byte(s), nil
}

// Empty status decodes as Run.
func (s *Status) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	switch {
	case raw == "", strings.EqualFold(raw, string(StatusRun)):
		*s = StatusRun
	case strings.EqualFold(raw, string(StatusStop)):
		*s = StatusStop
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return nil
}

// Timeline is one declarative activity document.
type Timeline struct {
	ID       string    `json:"id" yaml:"id"`
	Status   Status    `json:"status" yaml:"status"`
	Handlers []Handler `json:"timeLineHandlers" yaml:"timeLineHandlers"`
}

// Handler is a typed unit of simulated activity.
type Handler struct {
	Kind        ActivityKind   `json:"handlerType" yaml:"handlerType"`
	Initial     string         `json:"initial" yaml:"initial"`
	ActiveFrom  TimeOfDay      `json:"utcTimeOn" yaml:"utcTimeOn"`
	ActiveUntil TimeOfDay      `json:"utcTimeOff" yaml:"utcTimeOff"`
	Loop        bool           `json:"loop" yaml:"loop"`
	Args        map[string]any `json:"handlerArgs,omitempty" yaml:"handlerArgs,omitempty"`
	Events      []Event        `json:"timeLineEvents" yaml:"timeLineEvents"`
}

// Event is one action within a handler.
type Event struct {
	Command     string `json:"command" yaml:"command"`
	Args        []any  `json:"commandArgs" yaml:"commandArgs"`
	TrackableID string `json:"trackableId" yaml:"trackableId"`
	DelayBefore Delay  `json:"delayBefore" yaml:"delayBefore"`
	DelayAfter  Delay  `json:"delayAfter" yaml:"delayAfter"`
}

// ArgString returns handler arg key as a string, or def when absent.
func (h Handler) ArgString(key, def string) string {
	v, ok := h.Args[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// StringArgs renders the event args as strings.
func (e Event) StringArgs() []string {
	out := make([]string, 0, len(e.Args))
	for _, a := range e.Args {
		switch t := a.(type) {
		case string:
			out = append(out, t)
		case float64:
			out = append(out, strconv.FormatFloat(t, 'f', -1, 64))
		default:
			out = append(out, fmt.Sprint(t))
		}
	}
	return out
}

// TimeOfDay is an offset from UTC midnight, encoded as "HH:mm:ss".
type TimeOfDay time.Duration

const day = 24 * time.Hour

// ParseTimeOfDay accepts "HH:mm:ss" or "HH:mm". Empty input is midnight and
// "24:00:00" is end of day.
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	parts := strings.Split(raw, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, raw)
	}
	var fields [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, raw)
		}
		fields[i] = n
	}
	endOfDay := fields[0] == 24 && fields[1] == 0 && fields[2] == 0
	if (fields[0] > 23 && !endOfDay) || fields[1] > 59 || fields[2] > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, raw)
	}
	d := time.Duration(fields[0])*time.Hour +
		time.Duration(fields[1])*time.Minute +
		time.Duration(fields[2])*time.Second
	return TimeOfDay(d), nil
}

// Clock builds a TimeOfDay from h:m:s.
func Clock(h, m, s int) TimeOfDay {
	return TimeOfDay(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second)
}

// Of returns the UTC time-of-day of t.
func Of(t time.Time) TimeOfDay {
	u := t.UTC()
	return Clock(u.Hour(), u.Minute(), u.Second()) + TimeOfDay(u.Nanosecond())
}

func (t TimeOfDay) Duration() time.Duration {
	return time.Duration(t)
}

func (t TimeOfDay) String() string {
	if time.Duration(t) == day {
		return "24:00:00"
	}
	d := time.Duration(t) % day
	if d < 0 {
		d += day
	}
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeOfDay(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Delay is a pause around an event. A fixed delay encodes as milliseconds;
// a random one as {"random": true, "min": ms, "max": ms}.
type Delay struct {
	Fixed  time.Duration
	Random bool
	Min    time.Duration
	Max    time.Duration
}

// Millis builds a fixed delay.
func Millis(ms int64) Delay {
	return Delay{Fixed: time.Duration(ms) * time.Millisecond}
}

type delayObject struct {
	Random bool  `json:"random" yaml:"random"`
	Min    int64 `json:"min" yaml:"min"`
	Max    int64 `json:"max" yaml:"max"`
}

// Resolve picks the concrete pause. rng may be nil for fixed delays.
func (d Delay) Resolve(rng *rand.Rand) time.Duration {
	if !d.Random {
		if d.Fixed < 0 {
			return 0
		}
		return d.Fixed
	}
	lo, hi := d.Min, d.Max
	if hi < lo {
		lo, hi = hi, lo
	}
	if lo < 0 {
		lo = 0
	}
	if hi <= lo {
		return lo
	}
	span := int64(hi - lo)
	var n int64
	if rng != nil {
		n = rng.Int63n(span + 1)
	} else {
		n = rand.Int63n(span + 1)
	}
	return lo + time.Duration(n)
}

func (d Delay) object() delayObject {
	return delayObject{Random: d.Random, Min: d.Min.Milliseconds(), Max: d.Max.Milliseconds()}
}

func (d *Delay) fromObject(o delayObject) {
	*d = Delay{
		Random: o.Random,
		Min:    time.Duration(o.Min) * time.Millisecond,
		Max:    time.Duration(o.Max) * time.Millisecond,
	}
	if !o.Random {
		d.Fixed = d.Min
		d.Min, d.Max = 0, 0
	}
}

func (d Delay) MarshalJSON() ([]byte, error) {
	if d.Random {
		return json.Marshal(d.object())
	}
	return []byte(strconv.FormatInt(d.Fixed.Milliseconds(), 10)), nil
}

func (d *Delay) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*d = Delay{}
		return nil
	}
	if data[0] == '{' {
		var o delayObject
		if err := json.Unmarshal(data, &o); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDelay, err)
		}
		d.fromObject(o)
		return nil
	}
	return d.parseScalar(string(bytes.Trim(data, `"`)))
}

func (d Delay) MarshalYAML() (any, error) {
	if d.Random {
		return d.object(), nil
	}
	return d.Fixed.Milliseconds(), nil
}

func (d *Delay) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		var o delayObject
		if err := node.Decode(&o); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDelay, err)
		}
		d.fromObject(o)
		return nil
	case yaml.ScalarNode:
		return d.parseScalar(node.Value)
	default:
		return fmt.Errorf("%w: unexpected yaml node kind %d", ErrInvalidDelay, node.Kind)
	}
}

func (d *Delay) parseScalar(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" || raw == "~" {
		*d = Delay{}
		return nil
	}
	ms, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDelay, raw)
	}
	*d = Delay{Fixed: time.Duration(ms * float64(time.Millisecond))}
	return nil
}
