package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout  = 15 * time.Second
	maxHTTPResponseBody = 1 << 20
)

// HTTPExecutor runs "http" steps against arbitrary endpoints, typically
// ticketing systems or security tooling webhooks.
type HTTPExecutor struct {
	client *http.Client
}

func NewHTTPExecutor(timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPExecutor{client: &http.Client{Timeout: timeout}}
}

func (e *HTTPExecutor) Kind() string { return "http" }

// Run issues one request described by the step config: "url" is required,
// "method" defaults to GET, "headers" is a string map, and "body" is sent
// as JSON when it is a map or verbatim when it is a string. Any response is
// a result; statuses of 400 and above mark the step failed.
func (e *HTTPExecutor) Run(ctx context.Context, config map[string]any) (map[string]any, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("http step requires a url")
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)

	body, contentType, err := requestBody(config["body"])
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build http request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if headers, ok := config["headers"].(map[string]any); ok {
		for name, value := range headers {
			if s, ok := value.(string); ok {
				req.Header.Set(name, s)
			}
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read http response: %w", err)
	}

	return map[string]any{
		"success": resp.StatusCode < 400,
		"status":  resp.StatusCode,
		"body":    string(respBody),
	}, nil
}

// requestBody turns the step's body value into a reader. Maps and slices
// are marshalled to JSON, strings pass through, nil means no body.
func requestBody(v any) (io.Reader, string, error) {
	switch body := v.(type) {
	case nil:
		return nil, "", nil
	case string:
		if body == "" {
			return nil, "", nil
		}
		return strings.NewReader(body), "", nil
	case map[string]any, []any:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("encode http body: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	default:
		return nil, "", fmt.Errorf("unsupported http body type %T", v)
	}
}
