// Package identity talks to the external identity provider used to enrich a
// user's profile the first time they are seen. Only the profile endpoint
// (GET {base}/me?fields=id,name) is used.
package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/tidwall/gjson"
)

// ErrNoToken is returned when Profile is called without an access token.
var ErrNoToken = errors.New("identity: missing access token")

// Profile is the subset of the provider's user object the service keeps.
type Profile struct {
	ProviderID string
	Name       string
	Photo      string
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client fetches profiles from the identity provider.
type Client struct {
	client  *http.Client
	baseURL string
}

// NewClient returns a Client for cfg. A zero timeout defaults to 10s.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		client: &http.Client{
			Transport: &jsonTransport{Base: http.DefaultTransport},
			Timeout:   timeout,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// jsonTransport asks for JSON and advertises brotli support.
type jsonTransport struct {
	Base http.RoundTripper
}

func (t *jsonTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "br")
	return t.Base.RoundTrip(req)
}

// Profile resolves the user behind token. The photo URL is derived from the
// provider id as {base}/{id}/picture?type=large.
func (c *Client) Profile(ctx context.Context, token string) (*Profile, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrNoToken
	}

	q := url.Values{}
	q.Set("fields", "id,name")
	q.Set("access_token", token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/me?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity: request failed: %w", err)
	}
	if resp.Header.Get("Content-Encoding") == "br" {
		resp.Body = &readCloserWrapper{Reader: brotli.NewReader(resp.Body), Closer: resp.Body}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("identity: read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
			return nil, fmt.Errorf("identity: status %d: %s", resp.StatusCode, msg.String())
		}
		return nil, fmt.Errorf("identity: unexpected status code: %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("identity: invalid JSON body")
	}

	res := gjson.GetManyBytes(body, "id", "name")
	id := res[0].String()
	if id == "" {
		return nil, errors.New("identity: profile has no id")
	}
	return &Profile{
		ProviderID: id,
		Name:       res[1].String(),
		Photo:      c.baseURL + "/" + url.PathEscape(id) + "/picture?type=large",
	}, nil
}

type readCloserWrapper struct {
	io.Reader
	io.Closer
}

func (r *readCloserWrapper) Read(p []byte) (n int, err error) {
	return r.Reader.Read(p)
}

func (r *readCloserWrapper) Close() error {
	return r.Closer.Close()
}
