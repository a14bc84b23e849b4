package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"daytrader/internal/domain"
)

const defaultHTTPTimeout = 10 * time.Second

// httpClient is the JSON request helper shared by the remote service clients.
type httpClient struct {
	baseURL string
	client  *http.Client
}

func newHTTPClient(baseURL string, client *http.Client) httpClient {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return httpClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// do sends body (if non-nil) as JSON and decodes a 2xx response into out.
// Non-2xx statuses map onto the domain error taxonomy.
func (c httpClient) do(ctx context.Context, method, path string, header http.Header, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s %s: %w", method, path, err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("building %s %s: %w", method, path, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s %s: %w", method, path, ctxErr)
		}
		return fmt.Errorf("%s %s: %w: %v", method, path, domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %w (HTTP %d: %s)", method, path, statusError(resp.StatusCode),
			resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

func statusError(code int) error {
	switch {
	case code == http.StatusNotFound:
		return domain.ErrNotFound
	case code == http.StatusConflict || code == http.StatusPreconditionFailed:
		return domain.ErrConflict
	case code == http.StatusTooManyRequests || code >= 500:
		return domain.ErrUnavailable
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return domain.ErrValidation
	}
	return fmt.Errorf("unexpected status %d", code)
}
