package std

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/txtx/runbook/internal/ctxlog"
	"github.com/txtx/runbook/internal/runbook"
	"github.com/zclconf/go-cty/cty"
)

// httpRequestAction implements std::http_request: an unsigned action that
// performs one HTTP call and exposes the response to downstream constructs.
type httpRequestAction struct {
	// Client overrides the default client, for tests.
	Client *http.Client
}

func (a *httpRequestAction) RequiresSignature() bool { return false }

// CheckExecutability validates the request shape without sending anything.
func (a *httpRequestAction) CheckExecutability(ctx context.Context, in *runbook.Inputs, ec *runbook.ExecContext) (*runbook.CheckResult, error) {
	rawURL, err := in.String("url")
	if err != nil {
		return runbook.BlockedResult(runbook.Diag("", "missing url", "%v", err)), nil
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return runbook.BlockedResult(runbook.Diag("", "invalid url", "%q is not an absolute URL", rawURL)), nil
	}
	method := strings.ToUpper(in.StringOr("method", http.MethodGet))
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return runbook.BlockedResult(runbook.Diag("", "invalid method", "unsupported HTTP method %q", method)), nil
	}
	return runbook.ReadyResult(cty.ObjectVal(map[string]cty.Value{
		"url":    cty.StringVal(u.String()),
		"method": cty.StringVal(method),
	})), nil
}

func (a *httpRequestAction) RunSignedExecution(ctx context.Context, in *runbook.Inputs, _ runbook.SignerHandle, ec *runbook.ExecContext) (*runbook.ExecutionOutcome, error) {
	logger := ctxlog.FromContext(ctx)

	rawURL, err := in.String("url")
	if err != nil {
		return nil, runbook.FatalExecution("", err)
	}
	method := strings.ToUpper(in.StringOr("method", http.MethodGet))

	var body io.Reader
	if b, err := in.String("body"); err == nil && b != "" {
		body = strings.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, runbook.FatalExecution("", fmt.Errorf("building request: %w", err))
	}
	if contentType := in.StringOr("content_type", ""); contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	client := a.Client
	if client == nil {
		client = &http.Client{Timeout: time.Duration(in.Int64Or("timeout_seconds", 30)) * time.Second}
	}

	logger.Info("Making HTTP request.", "method", method, "url", rawURL)
	resp, err := client.Do(req)
	if err != nil {
		return nil, runbook.RetryableExecution("", fmt.Errorf("executing request: %w", err))
	}
	defer resp.Body.Close()

	logger.Info("Received HTTP response.", "status", resp.Status)
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, runbook.RetryableExecution("", fmt.Errorf("reading response body: %w", err))
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, runbook.RetryableExecution("", fmt.Errorf("server returned %s", resp.Status))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, runbook.FatalExecution("", fmt.Errorf("request rejected with %s", resp.Status))
	}

	return &runbook.ExecutionOutcome{
		Outputs: cty.ObjectVal(map[string]cty.Value{
			"status_code": cty.NumberIntVal(int64(resp.StatusCode)),
			"body":        cty.StringVal(string(respBody)),
		}),
	}, nil
}
