package domain

import (
	"encoding/json"
	"strings"
	"testing"
)

// FuzzDecodeCommandParams checks that arbitrary request bodies never panic
// while decoding and validating, and that accepted params round-trip through
// a command.
func FuzzDecodeCommandParams(f *testing.F) {
	seeds := []struct {
		typ  string
		body string
	}{
		{"session.rename", `{"title":"Saturation study"}`},
		{"session.rename", `{"title":"'; DROP TABLE session_events; --"}`},
		{"session.bind_collection", `{"collection_id":"col-1"}`},
		{"expansion.start", `{"direction":{"goal":"map CRISPR delivery"}}`},
		{"expansion.start", `{}`},
		{"collection.prune", `{"target":-5}`},
		{"graph.build", `null`},
		{"expansion.stop", `[]`},
		{"unknown.type", `{"x":1}`},
		{"session.rename", "{\"title\":\"‮right-to-left‬\"}"},
		{"session.rename", `{"title":` + strings.Repeat(`[`, 64)},
	}
	for _, s := range seeds {
		f.Add(s.typ, []byte(s.body))
	}

	f.Fuzz(func(t *testing.T, typ string, body []byte) {
		params, err := DecodeCommandParams(CommandType(typ), json.RawMessage(body))
		if err != nil {
			return
		}
		cmd := NewCommand("s-fuzz", params)
		if cmd.Type != CommandType(typ) {
			t.Fatalf("command type %q, decoded as %q", typ, cmd.Type)
		}
		_ = cmd.Validate()
	})
}

func FuzzSplitIdentifier(f *testing.F) {
	for _, s := range []string{"doi:10.1/a", "arxiv:2401.00001", ":", "doi:", ":x", "no-scheme", "a:b:c", "\x00:\x00"} {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, id string) {
		scheme, value, ok := SplitIdentifier(id)
		if !ok {
			return
		}
		if scheme == "" || value == "" {
			t.Fatalf("accepted %q with empty part", id)
		}
		if !strings.Contains(id, value) {
			t.Fatalf("value %q not taken from %q", value, id)
		}
	})
}
