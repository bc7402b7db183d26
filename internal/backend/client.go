// Package backend sends one question to the configured HTTP endpoint and
// extracts the answer from its JSON reply.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/net/publicsuffix"

	"chatwidget/internal/config"
	"chatwidget/internal/logging"
)

// Defaults for the wire profile.
const (
	DefaultEndpoint      = "http://localhost:8000/ask"
	DefaultQuestionField = "question"
	DefaultAnswerField   = "answer"
	DefaultTimeout       = 60 * time.Second

	maxResponseBytes = 4 << 20

	// Answers slower than this are logged as warnings.
	slowAnswerThreshold = 10 * time.Second
)

// Profile describes the endpoint and payload shape.
type Profile struct {
	Endpoint      string
	QuestionField string
	AnswerField   string
	Headers       map[string]string
	Extra         map[string]any
}

// ProfileFromConfig builds a Profile from the backend config section.
func ProfileFromConfig(bc config.BackendConfig) Profile {
	return Profile{
		Endpoint:      bc.Endpoint,
		QuestionField: bc.QuestionField,
		AnswerField:   bc.AnswerField,
		Headers:       bc.Headers,
		Extra:         bc.Extra,
	}
}

func (p *Profile) applyDefaults() {
	if p.Endpoint == "" {
		p.Endpoint = DefaultEndpoint
	}
	if p.QuestionField == "" {
		p.QuestionField = DefaultQuestionField
	}
	if p.AnswerField == "" {
		p.AnswerField = DefaultAnswerField
	}
}

// Asker answers a question.
type Asker interface {
	Ask(ctx context.Context, question string) (string, error)
}

// Client is an Asker backed by an HTTP endpoint.
type Client struct {
	profile  Profile
	endpoint *url.URL
	http     *http.Client
	timeout  time.Duration
	log      *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds each request. Zero disables the per-request bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New creates a Client for the given profile.
func New(profile Profile, opts ...Option) (*Client, error) {
	profile.applyDefaults()

	u, err := url.Parse(profile.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", profile.Endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid endpoint %q: scheme must be http or https", profile.Endpoint)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	c := &Client{
		profile:  profile,
		endpoint: u,
		http:     &http.Client{Jar: jar},
		timeout:  DefaultTimeout,
		log:      logging.Get(logging.CategoryBackend),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Profile returns the effective wire profile.
func (c *Client) Profile() Profile {
	return c.profile
}

func (c *Client) payload(question string) ([]byte, error) {
	body := make(map[string]any, len(c.profile.Extra)+1)
	for k, v := range c.profile.Extra {
		body[k] = v
	}
	body[c.profile.QuestionField] = question
	return json.Marshal(body)
}

// Ask posts the question and returns the answer field of the JSON reply.
func (c *Client) Ask(ctx context.Context, question string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	timer := logging.StartTimer(logging.CategoryBackend, "ask")
	defer timer.StopWithThreshold(slowAnswerThreshold)

	data, err := c.payload(question)
	if err != nil {
		return "", fmt.Errorf("failed to encode question: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.String(), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.profile.Headers {
		req.Header.Set(k, v)
	}

	c.log.Debug("POST %s (%d bytes)", c.endpoint, len(data))
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("request failed: %v", err)
		return "", &NetworkError{Err: unwrapURLError(err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		c.log.Warn("reading response failed: %v", err)
		return "", &NetworkError{Err: unwrapURLError(err)}
	}
	if int64(len(raw)) > maxResponseBytes {
		c.log.Warn("endpoint replied %s with a body over %d bytes", resp.Status, maxResponseBytes)
		return "", &TooLargeError{Limit: maxResponseBytes}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("endpoint replied %s", resp.Status)
		return "", &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	answer, ok := c.extractAnswer(raw)
	if !ok {
		c.log.Warn("endpoint replied %s without a usable %q field", resp.Status, c.profile.AnswerField)
		return "", ErrNoAnswer
	}

	c.log.Debug("answer received (%d chars)", len(answer))
	return answer, nil
}

// extractAnswer returns the answer field when the body is a JSON object
// holding a non-empty string under it.
func (c *Client) extractAnswer(raw []byte) (string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", false
	}
	field, ok := obj[c.profile.AnswerField]
	if !ok {
		return "", false
	}
	var answer string
	if err := json.Unmarshal(field, &answer); err != nil {
		return "", false
	}
	if answer == "" {
		return "", false
	}
	return answer, true
}

// Ping checks that the endpoint's origin accepts connections. Any HTTP reply
// counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	origin := url.URL{Scheme: c.endpoint.Scheme, Host: c.endpoint.Host, Path: "/"}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, origin.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Err: unwrapURLError(err)}
	}
	resp.Body.Close()
	c.log.Debug("ping %s -> %s", origin.String(), resp.Status)
	return nil
}

// unwrapURLError drops the "Post \"url\":" prefix net/http adds so the
// message shown after the network error prefix stays short.
func unwrapURLError(err error) error {
	if ue, ok := err.(*url.Error); ok && ue.Err != nil {
		return ue.Err
	}
	return err
}
