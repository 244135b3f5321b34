package publisher

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// idRule pulls an event id out of an API response body.
type idRule struct {
	name    string
	extract func(body []byte) (string, bool)
}

// idRules are tried in order; the first match wins.
var idRules = []idRule{
	{name: "eventId", extract: jsonField("eventId")},
	{name: "event_id", extract: jsonField("event_id")},
	{name: "id", extract: jsonField("id")},
	{name: "bare", extract: bareID},
}

// extractEventID returns the id reported by the API, or fallback when the
// body carries none.
func extractEventID(body []byte, fallback string) (string, string) {
	for _, r := range idRules {
		if id, ok := r.extract(body); ok {
			return id, r.name
		}
	}
	return fallback, "local"
}

func jsonField(name string) func([]byte) (string, bool) {
	return func(body []byte) (string, bool) {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(body, &obj); err != nil {
			return "", false
		}
		raw, ok := obj[name]
		if !ok {
			return "", false
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
		return s, s != ""
	}
}

func bareID(body []byte) (string, bool) {
	s := string(bytes.TrimSpace(body))
	s = strings.Trim(s, `"`)
	s = strings.ToLower(s)
	return s, nostr.IsValid32ByteHex(s)
}
