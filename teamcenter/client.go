// Package teamcenter implements the plm collaborators on top of the
// Teamcenter JSON REST services.
package teamcenter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/santiagomed/plmgen/logger"
	"github.com/santiagomed/plmgen/plm"
)

const DefaultCookieName = "JSESSIONID"

// Options configures a Client.
type Options struct {
	// BaseURL is the web tier root, e.g. http://plm:7001/tc.
	BaseURL    string
	CookieName string
	// Timeout bounds each request. Zero means no timeout.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Client talks to one Teamcenter server. It is safe for concurrent use, but
// the materializer drives it from a single goroutine per run.
type Client struct {
	baseURL    string
	cookieName string
	cookieRe   *regexp.Regexp
	httpClient *http.Client
	logger     logger.Logger

	mu          sync.Mutex
	lastToken   string
	openWindows []string
}

var (
	_ plm.SessionClient          = (*Client)(nil)
	_ plm.ContainerResolver      = (*Client)(nil)
	_ plm.ObjectCreator          = (*Client)(nil)
	_ plm.StructureWindowManager = (*Client)(nil)
)

func NewClient(opts Options, l logger.Logger) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("teamcenter URL is required")
	}
	if l == nil {
		l = logger.NewNullLogger()
	}
	name := opts.CookieName
	if name == "" {
		name = DefaultCookieName
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		cookieName: name,
		cookieRe:   regexp.MustCompile(`(?:^|[;,]\s*)` + regexp.QuoteMeta(name) + `=([^;]*)`),
		httpClient: httpClient,
		logger:     l,
	}, nil
}

// Collaborators exposes the client as every plm collaborator.
func (c *Client) Collaborators() plm.Collaborators {
	return plm.Collaborators{Sessions: c, Containers: c, Objects: c, Windows: c}
}

// post sends body to service/operation and decodes the response into out.
// It returns the response headers so login can read the session cookie.
func (c *Client) post(ctx context.Context, s *plm.Session, service, operation string, body, out interface{}) (http.Header, error) {
	endpoint, err := url.JoinPath(c.baseURL, "JsonRestServices", service, operation)
	if err != nil {
		return nil, fmt.Errorf("error building URL: %w", err)
	}
	if u, err := url.Parse(endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q", endpoint)
	}

	payload, err := json.Marshal(newEnvelope(body))
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s != nil && s.Token != "" {
		req.AddCookie(&http.Cookie{Name: c.cookieName, Value: s.Token})
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}
	c.logger.WithField("operation", service+"/"+operation).
		WithField("status", resp.StatusCode).
		Debug(fmt.Sprintf("Request completed in %v", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.Header, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(data), 512)}
	}

	if len(bytes.TrimSpace(data)) > 0 {
		var probe exceptionProbe
		if json.Unmarshal(data, &probe) == nil && strings.Contains(probe.QName, "Exception") {
			return resp.Header, fmt.Errorf("service exception %d: %s", probe.Code, probe.Message)
		}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.Header, fmt.Errorf("error unmarshaling response: %w", err)
		}
	}
	return resp.Header, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
