// Package timex provides a time.Duration wrapper that config files can
// express either as a Go duration string ("30s", "5m") or as an integer
// number of milliseconds.
package timex

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var v any
	if err := n.Decode(&v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) set(v any) error {
	switch value := v.(type) {
	case nil:
		d.Duration = 0
	case float64:
		if value != math.Trunc(value) {
			return fmt.Errorf("invalid duration %v: milliseconds must be whole", value)
		}
		return d.set(int(value))
	case int:
		if value < 0 {
			return fmt.Errorf("invalid duration %d: negative", value)
		}
		d.Duration = time.Duration(value) * time.Millisecond
	case string:
		parsed, err := Parse(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration type %T", v)
	}
	return nil
}

// Parse reads a Go duration string, or a bare integer as milliseconds.
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("invalid duration %q: negative", s)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}
