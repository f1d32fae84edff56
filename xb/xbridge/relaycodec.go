package xbridge

import (
	"encoding/json"
	"fmt"
)

// EncodeRelayEntries serializes entries for carriage inside a
// proposed header's driver annotation, so every validator that
// finalizes the block sees the same payloads.
func EncodeRelayEntries(entries []RelayEntry) ([]byte, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	b, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to encode relay entries: %w", err)
	}
	return b, nil
}

// DecodeRelayEntries is the inverse of [EncodeRelayEntries].
// A nil or empty annotation decodes to no entries.
func DecodeRelayEntries(b []byte) ([]RelayEntry, error) {
	if len(b) == 0 {
		return nil, nil
	}

	var entries []RelayEntry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode relay entries: %w", err)
	}
	return entries, nil
}
