// Package wellid resolves a canonical plate-well identity ("A01".."H12")
// for each sample from fuzzy metadata keys or filenames.
package wellid

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrNoWellIDsResolved is returned by ResolveAll when not a single sample
// in the set yields a well identity. It is fatal to the run: there is
// nothing to place on a plate.
var ErrNoWellIDsResolved = errors.New("no well identifiers resolved for any sample")

// ErrUnresolved marks a single sample whose identity sources all failed.
var ErrUnresolved = errors.New("well identifier unresolved")

// Source tags where a well identity came from.
type Source int

const (
	SourceKeyword Source = iota
	SourceFilename
)

func (s Source) String() string {
	if s == SourceFilename {
		return "filename"
	}
	return "keyword"
}

// Assignment is one sample's resolved plate position. Computed once per
// run and cached across plot requests within that run.
type Assignment struct {
	SampleID string
	Well     string
	Source   Source
}

// Unresolved records one excluded sample and why.
type Unresolved struct {
	SampleID string
	Reason   string
}

// wellToken matches one row letter A-H followed by an optional separator
// and 1-2 digits. Column range is validated separately so "A13" is
// rejected rather than truncated.
var wellToken = regexp.MustCompile(`(?i)([A-H])\W*([0-9]{1,2})`)

// ParseToken extracts a (row, column) pair from a candidate string such
// as "A1", "a01", "B_12" or a filename containing one. Tokens outside
// the 8x12 plate domain are rejected.
func ParseToken(s string) (row byte, col int, ok bool) {
	m := wellToken.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, false
	}
	row = strings.ToUpper(m[1])[0]
	col, err := strconv.Atoi(m[2])
	if err != nil || col < 1 || col > 12 {
		return 0, 0, false
	}
	return row, col, true
}

// Canonicalize maps any accepted well token onto the canonical
// upper-case, zero-padded form: "a1" -> "A01". Canonical strings map to
// themselves, so the operation is idempotent.
func Canonicalize(s string) (string, error) {
	row, col, ok := ParseToken(s)
	if !ok {
		return "", fmt.Errorf("%q is not a well identifier", s)
	}
	return fmt.Sprintf("%c%02d", row, col), nil
}

// NormalizeKey lower-cases a metadata key and strips every
// non-alphanumeric rune, so "$WELLID", "Well ID" and "wellid" compare
// equal.
func NormalizeKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// LookupFuzzy finds the metadata value whose key fuzzy-matches key.
// Exact normalized equality is tried first, then substring containment
// in either direction.
func LookupFuzzy(meta map[string]string, key string) (string, bool) {
	want := NormalizeKey(key)
	if want == "" {
		return "", false
	}
	for k, v := range meta {
		if NormalizeKey(k) == want {
			return v, true
		}
	}
	for k, v := range meta {
		got := NormalizeKey(k)
		if strings.Contains(got, want) || strings.Contains(want, got) {
			return v, true
		}
	}
	return "", false
}
