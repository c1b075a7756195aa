package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/hpungsan/logsift/internal/errors"
	"github.com/hpungsan/logsift/internal/web"
)

// adminClient talks to a running service's admin API.
type adminClient struct {
	base string
	http *http.Client
}

func newAdminClient(addr string) *adminClient {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &adminClient{base: base, http: &http.Client{Timeout: 30 * time.Second}}
}

// do sends a request and decodes a 2xx JSON body into out. Error bodies are
// turned back into LogsiftErrors.
func (c *adminClient) do(ctx context.Context, method, path string, query url.Values, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("bad admin address %q: %v", c.base, err))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("admin API unreachable at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read admin response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb web.ErrorBody
		if json.Unmarshal(body, &eb) == nil && eb.Error.Code != "" {
			return &errors.LogsiftError{
				Code:    errors.ErrorCode(eb.Error.Code),
				Status:  eb.Error.Status,
				Message: eb.Error.Message,
				Details: eb.Error.Details,
			}
		}
		return fmt.Errorf("admin API returned %s", resp.Status)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode admin response: %w", err)
	}
	return nil
}
