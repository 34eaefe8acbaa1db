package ledger

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// SchemaVersion is the only version Encode writes.
const SchemaVersion = 1

type document struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

// Encode renders entries in the versioned format.
func Encode(entries []Entry) ([]byte, error) {
	if entries == nil {
		entries = []Entry{}
	}
	return json.Marshal(document{Version: SchemaVersion, Entries: entries})
}

// Decode parses a persisted list. It accepts the versioned document and the
// legacy arrays of "<withdrawHash>:<bundleHash>" and
// "<withdrawHash>:<finalized>:<bundleHash>" strings. Anything it cannot
// fully parse decodes to an empty list.
func Decode(data []byte) []Entry {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '{':
		return decodeDocument(data)
	case '[':
		return decodeLegacy(data)
	}
	return nil
}

func decodeDocument(data []byte) []Entry {
	var raw struct {
		Version int               `json:"version"`
		Entries []json.RawMessage `json:"entries"`
	}
	if err := json.Unmarshal(data, &raw); err != nil || raw.Version != SchemaVersion {
		return nil
	}

	entries := make([]Entry, 0, len(raw.Entries))
	for _, msg := range raw.Entries {
		var e struct {
			WithdrawHash string          `json:"withdrawHash"`
			BundleHash   string          `json:"bundleHash"`
			RecordedAt   json.RawMessage `json:"recordedAt"`
		}
		if err := json.Unmarshal(msg, &e); err != nil {
			return nil
		}
		w, ok := parseHash(e.WithdrawHash)
		if !ok {
			return nil
		}
		b, ok := parseHash(e.BundleHash)
		if !ok {
			return nil
		}
		entry := Entry{WithdrawHash: w, BundleHash: b}
		if len(e.RecordedAt) > 0 && string(e.RecordedAt) != "null" {
			if err := json.Unmarshal(e.RecordedAt, &entry.RecordedAt); err != nil {
				return nil
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

func decodeLegacy(data []byte) []Entry {
	var pairs []string
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil
	}
	entries := make([]Entry, 0, len(pairs))
	for _, p := range pairs {
		parts := strings.Split(p, ":")
		switch {
		case len(parts) == 2:
		case len(parts) == 3 && (parts[1] == "true" || parts[1] == "false"):
			// "<withdrawHash>:<finalized>:<bundleHash>"; the flag is ignored
			// since reconcile asks the bridge for the phase anyway.
			parts = []string{parts[0], parts[2]}
		default:
			return nil
		}
		w, ok := parseHash(parts[0])
		if !ok {
			return nil
		}
		b, ok := parseHash(parts[1])
		if !ok {
			return nil
		}
		entries = append(entries, Entry{WithdrawHash: w, BundleHash: b})
	}
	return entries
}

// parseHash accepts only full 0x-prefixed 32-byte hex that is not all zero.
func parseHash(s string) (common.Hash, bool) {
	s = strings.TrimSpace(s)
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return common.Hash{}, false
	}
	for _, c := range s[2:] {
		if !isHex(c) {
			return common.Hash{}, false
		}
	}
	h := common.HexToHash(s)
	return h, h != (common.Hash{})
}

func isHex(c rune) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
