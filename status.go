package flexlink

import (
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
)

// Token is one parsed "key=value" pair from a status line. Bare words
// (no '=') carry HasValue=false; a few status verbs like "removed" arrive
// that way.
type Token struct {
	Key      string
	Value    string
	HasValue bool
}

// tokenize splits one status property string into tokens. Fields are space
// separated; the first '=' in a field splits key from value so values may
// themselves contain '='.
func tokenize(s string) []Token {
	fields := strings.Fields(s)
	tokens := make([]Token, 0, len(fields))
	for _, f := range fields {
		if i := strings.IndexByte(f, '='); i >= 0 {
			tokens = append(tokens, Token{Key: f[:i], Value: f[i+1:], HasValue: true})
		} else {
			tokens = append(tokens, Token{Key: f})
		}
	}
	return tokens
}

// Value conversions shared by every entity's key table. The radio is
// loose about numeric formats, so all of these are tolerant and return an
// error rather than panicking on garbage.

// parseBool interprets the radio's boolean encodings: "1"/"0" and the
// occasional "T"/"F" or "true"/"false".
func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "t", "true":
		return true, nil
	case "0", "f", "false":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", s)
}

// parseMHz converts a frequency given as a decimal MHz string (the control
// protocol's convention, e.g. "14.250000") to integer Hz.
func parseMHz(s string) (uint64, error) {
	mhz, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a frequency: %q", s)
	}
	if mhz < 0 {
		return 0, fmt.Errorf("negative frequency: %q", s)
	}
	return uint64(math.Round(mhz * 1e6)), nil
}

// hzToMHz formats integer Hz as the MHz string the radio expects in
// commands.
func hzToMHz(hz uint64) string {
	return strconv.FormatFloat(float64(hz)/1e6, 'f', 6, 64)
}

// parseID converts a stream/object identifier, which the radio prints as
// hex with or without an 0x prefix.
func parseID(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("not an identifier: %q", s)
	}
	return uint32(v), nil
}

func formatID(id uint32) string {
	return fmt.Sprintf("0x%08X", id)
}

func parseInt(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return v, nil
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return v, nil
}

// boolToWire formats a boolean the way the radio expects it in commands.
func boolToWire(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// logTokenError records a known key whose value would not convert. The key
// is still considered handled: a bad value never aborts the rest of the
// line.
func logTokenError(kind EntityKind, id uint32, t Token, err error) {
	log.Printf("Warning: %s %s: bad value for %s: %v", kind, formatID(id), t.Key, err)
}

// parseList splits a comma-delimited value ("ANT1,ANT2,XVTA") into its
// elements, dropping empties.
func parseList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
