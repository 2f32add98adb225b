package normalizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RemoteNormalizer calls an external template extraction service over HTTP.
// The service owns the template table, so ids stay stable across restarts and
// across multiple consumer instances.
type RemoteNormalizer struct {
	endpoint string
	client   *http.Client
}

// NewRemoteNormalizer creates a normalizer backed by an external service.
func NewRemoteNormalizer(endpoint string, timeout time.Duration) *RemoteNormalizer {
	return &RemoteNormalizer{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type normalizeRequest struct {
	Message string `json:"message"`
}

type normalizeResponse struct {
	TemplateID int64    `json:"template_id"`
	Parameters []string `json:"parameters"`
}

// Normalize posts the raw message to the extraction service and returns its
// verdict. Transport and non-200 failures surface as errors so the caller's
// retry and dead-letter handling applies.
func (n *RemoteNormalizer) Normalize(ctx context.Context, raw string) (int64, []string, error) {
	body, err := json.Marshal(normalizeRequest{Message: raw})
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal normalize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build normalize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("normalize request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return 0, nil, fmt.Errorf("normalize service returned status %d", resp.StatusCode)
	}

	var out normalizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, nil, fmt.Errorf("failed to decode normalize response: %w", err)
	}
	if out.TemplateID <= 0 {
		return 0, nil, fmt.Errorf("normalize service returned invalid template id %d", out.TemplateID)
	}

	params := out.Parameters
	if params == nil {
		params = []string{}
	}
	return out.TemplateID, params, nil
}
