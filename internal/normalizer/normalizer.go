// Package normalizer turns raw log messages into stable structural template
// ids plus the variable parameters that were masked out. Two events with the
// same message shape map to the same template id for the lifetime of the
// process (local mode) or of the external service (remote mode).
package normalizer

import "context"

// Normalizer extracts a structural template from a raw log message.
type Normalizer interface {
	// Normalize returns the template id for the message's structural shape
	// and the variable parameters in order of appearance. Template ids are
	// positive; id assignment is first-come-first-served and stable across
	// repeated calls with the same shape.
	Normalize(ctx context.Context, raw string) (int64, []string, error)
}
