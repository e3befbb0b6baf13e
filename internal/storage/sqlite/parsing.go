package sqlite

import (
	"database/sql"
	"encoding/json"
	"time"
)

// timeLayout is used for every stored timestamp: RFC3339 in UTC with a
// fixed nine-digit fraction, so it round-trips exactly and sorts
// lexicographically the same as chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTimeString parses a required TEXT timestamp column. The
// ncruces/go-sqlite3 driver only auto-converts TEXT→time.Time for
// columns declared as DATETIME/DATE/TIME/TIMESTAMP, so TEXT columns
// (every timestamp in this schema) are parsed manually.
func parseTimeString(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func parseNullableTimeString(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTimeString(ns.String)
	return &t
}

// marshalMetadata serializes a metadata map for storage, returning "" for
// an empty/nil map.
func marshalMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// unmarshalMetadata parses a stored metadata blob, returning nil for "".
func unmarshalMetadata(s string) map[string]any {
	if s == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

func marshalStrings(arr []string) string {
	if len(arr) == 0 {
		return ""
	}
	data, err := json.Marshal(arr)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalStrings(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}
