// Package bids parses and formats filenames that follow the BIDS entity
// naming convention used throughout a dataset tree.
package bids

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseErrorType represents the type of filename parse error.
type ParseErrorType string

const (
	// PatternMismatch indicates the filename does not follow the
	// sub-<id>_ses-<id>[_task-<name>][_run-<idx>]_<suffix> template.
	PatternMismatch ParseErrorType = "PATTERN_MISMATCH"
)

// ParseError represents a failure to parse a filename, surfacing the
// offending name alongside a human-readable detail.
type ParseError struct {
	Type   ParseErrorType
	Name   string
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %q: %s", e.Type, e.Name, e.Detail)
}

// Entities is the set of BIDS tokens that identify a single acquisition.
// Subject, Session and Suffix are always present; Task and Run only for
// functional data.
type Entities struct {
	Subject string // value of the sub- token, e.g. "01"
	Session string // value of the ses- token, e.g. "01"
	Task    string // value of the task- token, empty if absent
	Run     int    // value of the run- token, 0 if absent
	Suffix  string // trailing suffix, e.g. "T1w", "bold", "events"
}

// Name renders the canonical filename stem for the entity set,
// without any file extension. Run indices are zero-padded to two digits.
func (e Entities) Name() string {
	var b strings.Builder
	b.WriteString("sub-")
	b.WriteString(e.Subject)
	b.WriteString("_ses-")
	b.WriteString(e.Session)
	if e.Task != "" {
		b.WriteString("_task-")
		b.WriteString(e.Task)
	}
	if e.Run > 0 {
		fmt.Fprintf(&b, "_run-%02d", e.Run)
	}
	b.WriteString("_")
	b.WriteString(e.Suffix)
	return b.String()
}

// Validate checks that required entities are present and all values use
// the alphanumeric label charset.
func (e Entities) Validate() error {
	if e.Subject == "" {
		return &ParseError{Type: PatternMismatch, Name: e.Name(), Detail: "subject is required"}
	}
	if e.Session == "" {
		return &ParseError{Type: PatternMismatch, Name: e.Name(), Detail: "session is required"}
	}
	if e.Suffix == "" {
		return &ParseError{Type: PatternMismatch, Name: e.Name(), Detail: "suffix is required"}
	}
	if e.Run < 0 {
		return &ParseError{Type: PatternMismatch, Name: e.Name(), Detail: "run index must be positive"}
	}
	for _, pair := range []struct{ key, value string }{
		{"sub", e.Subject},
		{"ses", e.Session},
		{"task", e.Task},
	} {
		if pair.value != "" && !isLabel(pair.value) {
			return &ParseError{
				Type:   PatternMismatch,
				Name:   e.Name(),
				Detail: fmt.Sprintf("%s label %q must be alphanumeric", pair.key, pair.value),
			}
		}
	}
	return nil
}

// Parse tokenizes a filename stem into its entity set. The stem must not
// carry a file extension; use ParseFilename for full filenames.
// Entities must appear in template order, and subject, session and suffix
// are mandatory.
func Parse(stem string) (Entities, error) {
	if stem == "" {
		return Entities{}, &ParseError{Type: PatternMismatch, Name: stem, Detail: "empty name"}
	}

	tokens := strings.Split(stem, "_")
	if len(tokens) < 3 {
		return Entities{}, &ParseError{
			Type:   PatternMismatch,
			Name:   stem,
			Detail: "expected at least sub-<id>_ses-<id>_<suffix>",
		}
	}

	var e Entities

	// The final token is the suffix and must not be a key-value pair
	// from the known entity keys.
	suffix := tokens[len(tokens)-1]
	if suffix == "" || hasEntityKey(suffix) {
		return Entities{}, &ParseError{Type: PatternMismatch, Name: stem, Detail: "missing suffix"}
	}
	e.Suffix = suffix

	// Remaining tokens are key-value entities in fixed order.
	keyTokens := tokens[:len(tokens)-1]
	order := []string{"sub", "ses", "task", "run"}
	pos := 0
	for _, token := range keyTokens {
		key, value, ok := splitToken(token)
		if !ok {
			return Entities{}, &ParseError{
				Type:   PatternMismatch,
				Name:   stem,
				Detail: fmt.Sprintf("token %q is not a key-value entity", token),
			}
		}

		// Advance through the expected order until the key matches,
		// skipping optional entities. A key that lies behind the
		// current position is out of order or duplicated.
		idx := indexOf(order, key)
		if idx < 0 {
			return Entities{}, &ParseError{
				Type:   PatternMismatch,
				Name:   stem,
				Detail: fmt.Sprintf("unknown entity key %q", key),
			}
		}
		if idx < pos {
			return Entities{}, &ParseError{
				Type:   PatternMismatch,
				Name:   stem,
				Detail: fmt.Sprintf("entity %q out of order", key),
			}
		}
		pos = idx + 1

		if value == "" {
			return Entities{}, &ParseError{
				Type:   PatternMismatch,
				Name:   stem,
				Detail: fmt.Sprintf("entity %q has an empty value", key),
			}
		}

		switch key {
		case "sub":
			e.Subject = value
		case "ses":
			e.Session = value
		case "task":
			e.Task = value
		case "run":
			run, err := strconv.Atoi(value)
			if err != nil || run <= 0 {
				return Entities{}, &ParseError{
					Type:   PatternMismatch,
					Name:   stem,
					Detail: fmt.Sprintf("run index %q is not a positive integer", value),
				}
			}
			e.Run = run
		}
	}

	if e.Subject == "" {
		return Entities{}, &ParseError{Type: PatternMismatch, Name: stem, Detail: "missing sub- entity"}
	}
	if e.Session == "" {
		return Entities{}, &ParseError{Type: PatternMismatch, Name: stem, Detail: "missing ses- entity"}
	}
	if err := e.Validate(); err != nil {
		if perr, ok := err.(*ParseError); ok {
			perr.Name = stem
		}
		return Entities{}, err
	}

	return e, nil
}

// ParseFilename strips the extension from a filename and parses the
// remaining stem. The extension (including the leading dot, with .gz
// kept attached to its inner extension) is returned alongside.
func ParseFilename(filename string) (Entities, string, error) {
	stem, ext := SplitExtension(filename)
	e, err := Parse(stem)
	return e, ext, err
}

// SplitExtension splits a filename into stem and extension. Compound
// ".nii.gz" style extensions are treated as a single extension.
func SplitExtension(filename string) (stem, ext string) {
	if strings.HasSuffix(filename, ".gz") {
		// The gzip wrapper stacks on the inner extension.
		inner := strings.TrimSuffix(filename, ".gz")
		dot := strings.LastIndex(inner, ".")
		if dot > 0 {
			return inner[:dot], inner[dot:] + ".gz"
		}
		return inner, ".gz"
	}
	dot := strings.LastIndex(filename, ".")
	if dot <= 0 {
		return filename, ""
	}
	return filename[:dot], filename[dot:]
}

// splitToken splits "key-value" on the first hyphen.
func splitToken(token string) (key, value string, ok bool) {
	dash := strings.Index(token, "-")
	if dash <= 0 {
		return "", "", false
	}
	return token[:dash], token[dash+1:], true
}

// hasEntityKey reports whether a token starts with a known entity key
// followed by a hyphen.
func hasEntityKey(token string) bool {
	for _, key := range []string{"sub-", "ses-", "task-", "run-"} {
		if strings.HasPrefix(token, key) {
			return true
		}
	}
	return false
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

// isLabel reports whether a value uses only the alphanumeric charset
// allowed for entity labels.
func isLabel(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return len(s) > 0
}
