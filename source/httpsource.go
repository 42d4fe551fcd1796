package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/errwatch/errwatch/internal/httpclient"
	"github.com/errwatch/errwatch/internal/util"
)

// HTTPAuth configures request authentication for an HTTP source.
type HTTPAuth struct {
	Type     string `json:"type"` // none, basic, bearer, api_key
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
	// api_key placement
	KeyName     string `json:"key_name,omitempty"`
	KeyValue    string `json:"key_value,omitempty"`
	KeyLocation string `json:"key_location,omitempty"` // header (default) or query
}

// HTTPConfig is the JSON source_config shape for source_type "http".
type HTTPConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"` // default GET
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	Auth    *HTTPAuth         `json:"auth,omitempty"`
	// ResponsePath navigates into the decoded JSON before row extraction,
	// e.g. "data.errors".
	ResponsePath string `json:"response_path,omitempty"`
	// TimeoutSeconds bounds a single request; the per-check deadline still
	// applies on top.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
	// AllowPrivateURLs disables the private address guard for internal APIs.
	AllowPrivateURLs bool `json:"allow_private_urls,omitempty"`
}

// HTTPSource fetches rows from a JSON HTTP endpoint.
type HTTPSource struct {
	cfg    HTTPConfig
	client *httpclient.SaferClient
}

// NewHTTPSource validates the config and builds the guarded client.
func NewHTTPSource(cfg HTTPConfig) (*HTTPSource, error) {
	if cfg.URL == "" {
		return nil, NewError(KindConfig, nil, "http source requires a url")
	}
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, NewError(KindConfig, err, "invalid url")
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}

	timeout := 30 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	client := httpclient.NewSaferClientWithOptions(timeout, httpclient.SaferClientOptions{
		BlockPrivateIP: util.Ptr(!cfg.AllowPrivateURLs),
	})

	return &HTTPSource{cfg: cfg, client: client}, nil
}

// ParseHTTPConfig decodes the JSON source_config for an HTTP source.
func ParseHTTPConfig(configJSON string) (HTTPConfig, error) {
	var cfg HTTPConfig
	if configJSON == "" {
		return cfg, NewError(KindConfig, nil, "http source requires a source_config")
	}
	if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
		return cfg, NewError(KindConfig, err, "invalid http source_config")
	}
	return cfg, nil
}

// Fetch requests the endpoint and extracts rows from the JSON response.
func (s *HTTPSource) Fetch(ctx context.Context) (*Result, error) {
	req, err := s.buildRequest(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.client.ValidateURL(req.URL); err != nil {
		return nil, NewError(KindConfig, err, "url rejected")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classify(ctx, err, KindConnection, "request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, classify(ctx, err, KindConnection, "read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewError(KindQuery, nil,
			fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, NewError(KindDecode, err, "response is not valid JSON")
	}

	if s.cfg.ResponsePath != "" {
		decoded, err = navigatePath(decoded, s.cfg.ResponsePath)
		if err != nil {
			return nil, err
		}
	}

	return rowsFromJSON(decoded)
}

func (s *HTTPSource) buildRequest(ctx context.Context) (*http.Request, error) {
	target := s.cfg.URL

	auth := s.cfg.Auth
	if auth != nil && auth.Type == "api_key" && auth.KeyLocation == "query" {
		u, err := url.Parse(target)
		if err != nil {
			return nil, NewError(KindConfig, err, "invalid url")
		}
		q := u.Query()
		q.Set(auth.KeyName, auth.KeyValue)
		u.RawQuery = q.Encode()
		target = u.String()
	}

	var body io.Reader
	if s.cfg.Body != "" {
		body = bytes.NewReader([]byte(s.cfg.Body))
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(s.cfg.Method), target, body)
	if err != nil {
		return nil, NewError(KindConfig, err, "build request")
	}

	req.Header.Set("Accept", "application/json")
	if s.cfg.Body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	if auth != nil {
		switch auth.Type {
		case "", "none":
		case "basic":
			req.SetBasicAuth(auth.Username, auth.Password)
		case "bearer":
			req.Header.Set("Authorization", "Bearer "+auth.Token)
		case "api_key":
			if auth.KeyLocation != "query" {
				req.Header.Set(auth.KeyName, auth.KeyValue)
			}
		default:
			return nil, NewError(KindConfig, nil, fmt.Sprintf("unsupported auth type: %s", auth.Type))
		}
	}

	return req, nil
}

// Test performs one fetch and reports the shape of the response.
func (s *HTTPSource) Test(ctx context.Context) *TestReport {
	result, err := s.Fetch(ctx)
	if err != nil {
		return &TestReport{Success: false, Message: err.Error()}
	}
	return &TestReport{
		Success:    true,
		Message:    fmt.Sprintf("endpoint reachable, returned %d rows", len(result.Rows)),
		Columns:    result.Columns,
		RowCount:   len(result.Rows),
		SampleRows: sampleRows(result.Rows, 5),
	}
}

// Fields fetches once and describes the columns of the first row.
func (s *HTTPSource) Fields(ctx context.Context) ([]Field, error) {
	result, err := s.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return fieldsFromResult(result), nil
}

// Close is a no-op; the client holds no persistent connections worth keeping.
func (s *HTTPSource) Close() error { return nil }

// navigatePath walks dot-separated keys into nested JSON objects.
func navigatePath(data any, path string) (any, error) {
	current := data
	for _, segment := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, NewError(KindDecode, nil,
				fmt.Sprintf("response_path %q: segment %q is not an object", path, segment))
		}
		next, ok := obj[segment]
		if !ok {
			return nil, NewError(KindDecode, nil,
				fmt.Sprintf("response_path %q: key %q not found", path, segment))
		}
		current = next
	}
	return current, nil
}

// rowsFromJSON normalizes a decoded JSON value into rows. An array of
// objects becomes one row each; a single object becomes one row.
func rowsFromJSON(data any) (*Result, error) {
	var items []any
	switch v := data.(type) {
	case []any:
		items = v
	case map[string]any:
		items = []any{v}
	case nil:
		return &Result{}, nil
	default:
		return nil, NewError(KindDecode, nil, "response is neither an object nor an array")
	}

	result := &Result{}
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, NewError(KindDecode, nil, fmt.Sprintf("element %d is not an object", i))
		}
		result.Rows = append(result.Rows, Row(obj))
	}

	if len(result.Rows) > 0 {
		for k := range result.Rows[0] {
			result.Columns = append(result.Columns, k)
		}
		sort.Strings(result.Columns)
	}

	return result, nil
}
