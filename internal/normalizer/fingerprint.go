package normalizer

import (
	"context"
	"regexp"
	"sync"
)

// variableToken matches the message fragments that vary between occurrences
// of the same log statement. Order inside the alternation matters: more
// specific shapes (uuid, ip, hex) come before the bare number fallback so
// they are not split into pieces.
var variableToken = regexp.MustCompile(`(?i)` +
	`"[^"]*"` + // double-quoted strings
	`|'[^']*'` + // single-quoted strings
	`|\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b` + // uuids
	`|\b(?:\d{1,3}\.){3}\d{1,3}(?::\d+)?\b` + // ipv4, optional port
	`|\b0x[0-9a-f]+\b` + // hex literals
	`|\b[0-9a-f]{16,}\b` + // long hex ids
	`|\b\d+(?:\.\d+)?(?:ms|s|m|h|us|ns|b|kb|mb|gb)?\b`, // numbers, durations, sizes
)

const placeholder = "<*>"

// Fingerprinter is the in-process Normalizer. It masks variable tokens to
// obtain a template string and assigns each distinct template an incremental
// id starting at 1. Safe for concurrent use.
type Fingerprinter struct {
	mu        sync.Mutex
	templates map[string]int64
	nextID    int64
}

// NewFingerprinter creates a new local normalizer with an empty template
// table.
func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{
		templates: make(map[string]int64),
		nextID:    1,
	}
}

// Normalize masks variable tokens in the message and returns the id of the
// resulting template, allocating a new id on first sight.
func (f *Fingerprinter) Normalize(_ context.Context, raw string) (int64, []string, error) {
	params := variableToken.FindAllString(raw, -1)
	template := variableToken.ReplaceAllString(raw, placeholder)

	f.mu.Lock()
	defer f.mu.Unlock()

	id, ok := f.templates[template]
	if !ok {
		id = f.nextID
		f.nextID++
		f.templates[template] = id
	}

	if params == nil {
		params = []string{}
	}
	return id, params, nil
}

// TemplateCount returns the number of distinct templates seen so far.
func (f *Fingerprinter) TemplateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.templates)
}
