package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Top-level keys understood by WinOpacity. Any other key in the file is
// carried through rewrites untouched.
const (
	KeyWindows      = "windows"
	KeyPollInterval = "pollInMilliseconds"
	KeyKill         = "kill"
)

// ErrConfigUnreadable is returned when the config file is missing, is not
// valid JSON, or holds a value of the wrong type for a known key.
var ErrConfigUnreadable = errors.New("config unreadable")

// OpacityRule pairs a window title pattern with the opacity to apply
type OpacityRule struct {
	Pattern string  `json:"pattern" yaml:"pattern"`
	Opacity float64 `json:"opacity" yaml:"opacity"`
}

// Config is the typed view of the config file
type Config struct {
	// Windows is ordered; the first rule whose pattern matches a title wins
	Windows []OpacityRule `json:"windows" yaml:"windows"`
	// PollInMilliseconds <= 0 means apply once and exit
	PollInMilliseconds float64 `json:"pollInMilliseconds" yaml:"pollInMilliseconds"`
	// Kill asks a running poller to stop. It is consumed by the poller.
	Kill bool `json:"kill,omitempty" yaml:"kill,omitempty"`
}

// PollInterval returns the delay between cycles, or zero in single-shot mode.
// Any positive value yields a positive interval: tiny values round up to one
// nanosecond and huge values saturate.
func (c Config) PollInterval() time.Duration {
	ms := c.PollInMilliseconds
	if !(ms > 0) {
		return 0
	}
	ns := ms * float64(time.Millisecond)
	if ns >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	if ns < 1 {
		return time.Nanosecond
	}
	return time.Duration(ns)
}

// Document is one version of the config file: the raw text it was read
// from, its top-level fields in file order, and the typed Config.
type Document struct {
	Raw    []byte
	Config Config

	fields *orderedmap.OrderedMap[string, json.RawMessage]
}

// Decode parses raw config text. Failures wrap ErrConfigUnreadable.
func Decode(raw []byte) (*Document, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrConfigUnreadable)
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: top level must be an object", ErrConfigUnreadable)
	}

	fields := orderedmap.New[string, json.RawMessage]()
	if err := fields.UnmarshalJSON(trimmed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigUnreadable, err)
	}

	var cfg Config
	if err := json.Unmarshal(trimmed, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigUnreadable, err)
	}

	return &Document{
		Raw:    raw,
		Config: cfg,
		fields: fields,
	}, nil
}

// Keys returns the top-level keys in file order
func (d *Document) Keys() []string {
	keys := make([]string, 0, d.fields.Len())
	for pair := d.fields.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Has reports whether key is present at the top level
func (d *Document) Has(key string) bool {
	_, ok := d.fields.Get(key)
	return ok
}

// SetKill adds the kill flag, appending it after the existing keys if absent
func (d *Document) SetKill() {
	d.Config.Kill = true
	d.fields.Set(KeyKill, json.RawMessage("true"))
}

// ClearKill removes the kill flag entirely
func (d *Document) ClearKill() {
	d.Config.Kill = false
	d.fields.Delete(KeyKill)
}

// SetPollInterval sets pollInMilliseconds. Values <= 0 select single-shot mode.
func (d *Document) SetPollInterval(ms float64) error {
	raw, err := json.Marshal(ms)
	if err != nil {
		return fmt.Errorf("invalid poll interval: %w", err)
	}
	d.Config.PollInMilliseconds = ms
	d.fields.Set(KeyPollInterval, raw)
	return nil
}

// SetRules replaces the windows list
func (d *Document) SetRules(rules []OpacityRule) error {
	if rules == nil {
		rules = []OpacityRule{}
	}
	raw, err := marshalNoEscape(rules)
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}
	d.Config.Windows = rules
	d.fields.Set(KeyWindows, raw)
	return nil
}

// marshalNoEscape encodes v without HTML escaping so that regex patterns
// containing <, > or & are written the way the user typed them.
func marshalNoEscape(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
