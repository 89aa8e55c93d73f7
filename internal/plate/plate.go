package plate

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRejected is returned for any OCR text that does not resolve to a
// well-formed plate code.  Rejection is routine (OCR is noisy) and simply
// produces no observation.
var ErrRejected = errors.New("plate text rejected")

// Format describes the canonical plate layout: a fixed-length uppercase
// prefix that must begin with RequiredPrefix, a run of digits, and an
// uppercase suffix letter.
type Format struct {
	PrefixLen      int
	DigitsLen      int
	SuffixLen      int
	RequiredPrefix string
}

// DefaultFormat is the national format: 3 letters starting with "RA",
// 3 digits, 1 letter (7 characters total).
func DefaultFormat() Format {
	return Format{
		PrefixLen:      3,
		DigitsLen:      3,
		SuffixLen:      1,
		RequiredPrefix: "RA",
	}
}

// TotalLen is the length of a canonical code under this format.
func (f Format) TotalLen() int {
	return f.PrefixLen + f.DigitsLen + f.SuffixLen
}

// Code is a validated canonical plate code.  Codes are constructed only by
// Validator.Validate; nothing else in the system assembles one by hand.
type Code string

func (c Code) String() string { return string(c) }

type Validator struct {
	format Format
}

func NewValidator(f Format) *Validator {
	if f.PrefixLen <= 0 || f.DigitsLen <= 0 || f.SuffixLen <= 0 || f.RequiredPrefix == "" {
		f = DefaultFormat()
	}
	return &Validator{format: f}
}

// Validate resolves raw OCR text (uppercase alphanumeric, already filtered
// by the caller) into a canonical plate code.
//
// Slicing is anchored at the first occurrence of the required prefix token:
// the token is part of the prefix segment and the whole prefix is re-checked
// as uppercase letters.  Deterministic and side-effect free.
func (v *Validator) Validate(raw string) (Code, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty input", ErrRejected)
	}

	idx := strings.Index(raw, v.format.RequiredPrefix)
	if idx < 0 {
		return "", fmt.Errorf("%w: missing required prefix %q in %q", ErrRejected, v.format.RequiredPrefix, raw)
	}

	candidate := raw[idx:]
	total := v.format.TotalLen()
	if len(candidate) < total {
		return "", fmt.Errorf("%w: %q too short after prefix match", ErrRejected, raw)
	}
	candidate = candidate[:total]

	prefix := candidate[:v.format.PrefixLen]
	digits := candidate[v.format.PrefixLen : v.format.PrefixLen+v.format.DigitsLen]
	suffix := candidate[v.format.PrefixLen+v.format.DigitsLen:]

	if !isUpperAlpha(prefix) {
		return "", fmt.Errorf("%w: prefix %q is not uppercase letters", ErrRejected, prefix)
	}
	if !isDigits(digits) {
		return "", fmt.Errorf("%w: digits segment %q is not numeric", ErrRejected, digits)
	}
	if !isUpperAlpha(suffix) {
		return "", fmt.Errorf("%w: suffix %q is not an uppercase letter", ErrRejected, suffix)
	}

	return Code(candidate), nil
}

func isUpperAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return len(s) > 0
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
