package cli

import (
	"bytes"
	stdcontext "context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Paintersrp/botshell/internal/api"
	apihttp "github.com/Paintersrp/botshell/internal/api/http"
)

// controlClient talks to a running "botshell run" over its control API.
type controlClient struct {
	baseURL string
	http    *http.Client
}

func newControlClient(addr string) *controlClient {
	return &controlClient{baseURL: apihttp.BaseURL(addr), http: &http.Client{}}
}

func (c *controlClient) State(ctx stdcontext.Context) (api.BackendState, error) {
	var state api.BackendState
	ctx, cancel := stdcontext.WithTimeout(ctx, controlTimeout)
	defer cancel()
	err := c.do(ctx, http.MethodGet, "/api/v1/state", nil, &state)
	return state, err
}

func (c *controlClient) SetCredential(ctx stdcontext.Context, token *string) error {
	ctx, cancel := stdcontext.WithTimeout(ctx, controlTimeout)
	defer cancel()
	return c.command(ctx, http.MethodPut, "/api/v1/credential", api.CredentialRequest{AuthToken: token})
}

// Restart waits for the whole restart, which is bounded by the server's
// startup timeout rather than controlTimeout.
func (c *controlClient) Restart(ctx stdcontext.Context, token *string) error {
	return c.command(ctx, http.MethodPost, "/api/v1/restart", api.RestartRequest{AuthToken: token})
}

func (c *controlClient) Stop(ctx stdcontext.Context) error {
	return c.command(ctx, http.MethodPost, "/api/v1/stop", nil)
}

func (c *controlClient) command(ctx stdcontext.Context, method, path string, body any) error {
	var result api.Result
	if err := c.do(ctx, method, path, body, &result); err != nil {
		return err
	}
	return result.Err()
}

// do decodes the response into out for every status so command failures
// surface their reason.
func (c *controlClient) do(ctx stdcontext.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("control api unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var result api.Result
		if err := json.Unmarshal(data, &result); err != nil || result.OK {
			return fmt.Errorf("control api returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
		}
		if r, ok := out.(*api.Result); ok {
			*r = result
			return nil
		}
		return result.Err()
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
