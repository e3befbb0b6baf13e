// Package validate enforces the key/value/path/query rules of spec.md §4.3
// before any storage call is made. Validation never touches the database;
// it is pure input sanitization and rejection.
package validate

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/ctxkeeper/ctxkeeper/internal/errs"
)

const (
	// MaxKeyLength is the longest permitted context item key.
	MaxKeyLength = 255
	// MaxValueBytes is the largest permitted context item value, 1 MiB.
	MaxValueBytes = 1 << 20
	// MaxSearchQueryLength is the length a search query is truncated to.
	MaxSearchQueryLength = 1000
	// MaxChannelLength is the longest permitted channel name.
	MaxChannelLength = 20
	// MaxBatchSize is the largest number of elements a batch request may carry.
	MaxBatchSize = 100
)

// keyAllowedExtra are the characters permitted in a context item key,
// beyond letters and digits: underscore, hyphen, dot, slash, colon.
const keyAllowedExtra = "_-./:"

// Key validates a context item key per spec.md §4.3. Error messages name
// the specific offense so callers can surface it verbatim.
func Key(key string) error {
	if key == "" {
		return errs.E(errs.InvalidArgument, nil, "key must not be empty")
	}
	trimmed := strings.TrimSpace(key)
	if trimmed != key {
		return errs.E(errs.InvalidArgument, nil, "key must not have leading or trailing whitespace")
	}
	if trimmed == "" {
		return errs.E(errs.InvalidArgument, nil, "key must not be empty")
	}
	if len(key) > MaxKeyLength {
		return errs.Ef(errs.InvalidArgument, nil, "key must not exceed %d characters", MaxKeyLength)
	}
	for _, r := range key {
		if unicode.IsSpace(r) {
			if r == ' ' {
				return errs.E(errs.InvalidArgument, nil, "key must not contain spaces")
			}
			return errs.E(errs.InvalidArgument, nil, "key must not contain tabs or other whitespace")
		}
		if r > unicode.MaxASCII {
			return errs.E(errs.InvalidArgument, nil, "key must not contain non-ASCII characters")
		}
		if r < 0x20 || r == 0x7f {
			return errs.E(errs.InvalidArgument, nil, "key must not contain control characters")
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		if strings.ContainsRune(keyAllowedExtra, r) {
			continue
		}
		return errs.Ef(errs.InvalidArgument, nil, "key must not contain special characters (found %q)", r)
	}
	return nil
}

// Value validates a context item value: any byte sequence up to 1 MiB,
// may be empty.
func Value(value string) error {
	if len(value) > MaxValueBytes {
		return errs.Ef(errs.InvalidArgument, nil, "value must not exceed %d bytes", MaxValueBytes)
	}
	return nil
}

// Category validates a category against the closed enumeration, or allows
// the empty string (no category given).
func Category(cat string) error {
	if cat == "" {
		return nil
	}
	valid := map[string]bool{
		"task": true, "decision": true, "progress": true, "note": true,
		"error": true, "warning": true, "git": true, "system": true,
	}
	if !valid[cat] {
		return errs.Ef(errs.InvalidArgument, nil, "unrecognized category %q", cat)
	}
	return nil
}

// Priority validates a priority against the closed enumeration, or allows
// the empty string (caller should default to "normal").
func Priority(p string) error {
	if p == "" {
		return nil
	}
	switch p {
	case "high", "normal", "low":
		return nil
	default:
		return errs.Ef(errs.InvalidArgument, nil, "unrecognized priority %q", p)
	}
}

// Channel validates a channel name: non-empty, length <= 20, lowercase
// alphanumeric with hyphens.
func Channel(ch string) error {
	if ch == "" {
		return errs.E(errs.InvalidArgument, nil, "channel must not be empty")
	}
	if len(ch) > MaxChannelLength {
		return errs.Ef(errs.InvalidArgument, nil, "channel must not exceed %d characters", MaxChannelLength)
	}
	for _, r := range ch {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			continue
		}
		return errs.Ef(errs.InvalidArgument, nil, "channel must be lowercase alphanumeric with hyphens (found %q)", r)
	}
	return nil
}

// sqlCommentMarkers are stripped out of search queries before they reach
// a LIKE clause.
var sqlCommentMarkers = []string{"--", "/*", "*/"}

// SanitizeSearchQuery returns "" with no error for an empty query and
// otherwise strips quotes, semicolons, backslashes, and SQL comment
// markers, escapes the two LIKE wildcards, and truncates to 1000 chars.
func SanitizeSearchQuery(query string) (string, error) {
	if query == "" {
		return "", nil
	}
	q := query
	for _, bad := range []string{"'", "\"", ";", "\\"} {
		q = strings.ReplaceAll(q, bad, "")
	}
	for _, marker := range sqlCommentMarkers {
		q = strings.ReplaceAll(q, marker, "")
	}
	// Escape LIKE wildcards so user input is matched literally; the caller
	// is expected to wrap the result in a LIKE pattern using '\' as ESCAPE.
	q = strings.ReplaceAll(q, "\\", "\\\\")
	q = strings.ReplaceAll(q, "%", "\\%")
	q = strings.ReplaceAll(q, "_", "\\_")
	if len(q) > MaxSearchQueryLength {
		q = q[:MaxSearchQueryLength]
	}
	return q, nil
}

// FilePath validates a path intended for the external file-cache
// interface: rejects an empty path, null bytes, ".." segments, and the
// system roots /etc, /dev, /proc and /sys; reserved file names are not
// checked. This is grounding-only plumbing — file content
// hashing/caching I/O is an external collaborator per spec.md §1.
func FilePath(path string) error {
	if path == "" {
		return errs.E(errs.InvalidArgument, nil, "path must not be empty")
	}
	if strings.ContainsRune(path, 0) {
		return errs.E(errs.InvalidArgument, nil, "path must not contain a null byte")
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return errs.E(errs.InvalidArgument, nil, "path must not contain .. segments")
		}
	}
	reservedRoots := []string{"/etc", "/dev", "/proc", "/sys"}
	for _, root := range reservedRoots {
		if path == root || strings.HasPrefix(path, root+"/") {
			return errs.Ef(errs.InvalidArgument, nil, "path must not reference reserved root %q", root)
		}
	}
	return nil
}

// ParseTimeBound parses a createdAfter/createdBefore bound: RFC3339, or
// one of the fixed relative phrases "now", "today", "yesterday", and
// "N minutes/hours/days ago", resolved against now.
func ParseTimeBound(value string, now time.Time) (time.Time, error) {
	if value == "" {
		return time.Time{}, errs.E(errs.InvalidArgument, nil, "empty time bound")
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	lower := strings.ToLower(strings.TrimSpace(value))
	switch lower {
	case "now":
		return now, nil
	case "today":
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), nil
	case "yesterday":
		y, m, d := now.AddDate(0, 0, -1).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), nil
	}
	var n int
	var unit string
	if count, _ := fmt.Sscanf(lower, "%d %s ago", &n, &unit); count == 2 {
		unit = strings.TrimSuffix(unit, "s")
		switch unit {
		case "minute":
			return now.Add(-time.Duration(n) * time.Minute), nil
		case "hour":
			return now.Add(-time.Duration(n) * time.Hour), nil
		case "day":
			return now.AddDate(0, 0, -n), nil
		}
	}
	return time.Time{}, errs.Ef(errs.InvalidArgument, nil, "unrecognized time bound %q", value)
}

// Limit normalizes a requested page size: an omitted (wasProvided false)
// or negative limit falls back to the default of 100 with usedDefault
// true, 0 means unlimited, 1-100 pass through, and larger values are
// capped at 100.
func Limit(requested int, wasProvided bool) (limit int, usedDefault bool) {
	if !wasProvided {
		return 100, true
	}
	if requested == 0 {
		return 0, false // unlimited
	}
	if requested < 0 {
		return 100, true
	}
	if requested > 100 {
		return 100, false
	}
	return requested, false
}

// Offset normalizes a requested offset: negative values fall back to 0.
func Offset(requested int) int {
	if requested < 0 {
		return 0
	}
	return requested
}
