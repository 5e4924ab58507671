// Package remote is the HTTP client of the link service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"linksync/internal/config"
	"linksync/internal/linksync"
)

// TokenStore provides the API key and keeps the access token between runs.
type TokenStore interface {
	APIKey() (string, error)
	AccessToken() (string, error)
	SetAccessToken(token string) error
}

// Client talks to the link service on behalf of one site.
type Client struct {
	apiURL  string
	authURL string
	siteURL string
	version string
	tokens  TokenStore
	http    *http.Client
}

var _ linksync.RemoteClient = (*Client)(nil)

// NewClient creates a client for siteURL against the service rooted at rootURL.
func NewClient(rootURL, siteURL, version string, timeout time.Duration, tokens TokenStore) *Client {
	root := strings.TrimRight(rootURL, "/")
	if timeout <= 0 {
		timeout = time.Duration(config.DefaultTimeout) * time.Second
	}
	return &Client{
		apiURL:  root + "/api/v2/wp/",
		authURL: root + "/api/v2/auth/",
		siteURL: siteURL,
		version: version,
		tokens:  tokens,
		http:    &http.Client{Timeout: timeout},
	}
}

// NewClientFromConfig creates a Client from the remote section of cfg.
func NewClientFromConfig(cfg *config.Config, tokens TokenStore) *Client {
	return NewClient(
		cfg.Remote.RootURL,
		cfg.SiteURL,
		cfg.Remote.ClientVersion,
		time.Duration(cfg.Remote.Timeout)*time.Second,
		tokens,
	)
}

// Authenticate exchanges the API key for an access token and stores it.
// A 405 answer means the service no longer knows the site.
func (c *Client) Authenticate(ctx context.Context) error {
	key, err := c.tokens.APIKey()
	if err != nil {
		return err
	}

	var resp AuthResponse
	status, err := c.send(ctx, http.MethodPost, c.authURL, "", AuthRequest{Client: c.siteURL, APIKey: key}, &resp)
	if err != nil {
		var rej *linksync.RemoteRejection
		if errors.As(err, &rej) && rej.StatusCode == http.StatusMethodNotAllowed {
			return fmt.Errorf("%w: %s", linksync.ErrSiteRemoved, rej.Message)
		}
		if errors.As(err, &rej) {
			return &linksync.AuthError{StatusCode: rej.StatusCode, Message: rej.Message}
		}
		return err
	}
	if resp.Access == "" {
		return &linksync.AuthError{StatusCode: status, Message: "no access token in response"}
	}
	if err := c.tokens.SetAccessToken(resp.Access); err != nil {
		return fmt.Errorf("storing access token: %w", err)
	}
	return nil
}

func (c *Client) Init(ctx context.Context, req linksync.InitRequest) (*linksync.MessageResponse, error) {
	return c.message(ctx, http.MethodPost, "sync/init", req)
}

func (c *Client) Ingest(ctx context.Context, posts []linksync.NormalizedContent, force bool) (*linksync.MessageResponse, error) {
	body := IngestRequest{Posts: make([]WirePost, 0, len(posts)), Force: force}
	for _, p := range posts {
		wp, err := toWirePost(p)
		if err != nil {
			return nil, err
		}
		body.Posts = append(body.Posts, wp)
	}
	return c.message(ctx, http.MethodPost, "sync", body)
}

func (c *Client) SendCategories(ctx context.Context, categories []linksync.CategoryPayload) (*linksync.MessageResponse, error) {
	return c.message(ctx, http.MethodPost, "options", CategoriesRequest{Categories: categories})
}

// Finish calls sync/fin. On rejection the parsed body is returned alongside
// the error so callers can read remain and notify.
func (c *Client) Finish(ctx context.Context) (*linksync.FinishResponse, error) {
	var resp linksync.FinishResponse
	status, err := c.authed(ctx, http.MethodPost, "sync/fin", struct{}{}, &resp)
	if err != nil {
		var rej *linksync.RemoteRejection
		if errors.As(err, &rej) {
			return &linksync.FinishResponse{
				StatusCode: rej.StatusCode,
				Message:    rej.Message,
				Remain:     rej.Remain,
				Notify:     rej.Notify,
			}, err
		}
		return nil, err
	}
	resp.StatusCode = status
	return &resp, nil
}

// FetchUpdates returns the items edited on the service since the last ack.
func (c *Client) FetchUpdates(ctx context.Context) ([]linksync.RemoteUpdate, error) {
	var resp UpdatesResponse
	if _, err := c.authed(ctx, http.MethodGet, "sync", nil, &resp); err != nil {
		return nil, err
	}
	updates := make([]linksync.RemoteUpdate, 0, len(resp.Posts))
	for _, p := range resp.Posts {
		updates = append(updates, p.toRemoteUpdate())
	}
	return updates, nil
}

func (c *Client) AcknowledgeUpdates(ctx context.Context, itemIDs []int64) error {
	body := AckRequest{Posts: make([]AckItem, 0, len(itemIDs))}
	for _, id := range itemIDs {
		body.Posts = append(body.Posts, AckItem{PostID: id})
	}
	_, err := c.authed(ctx, http.MethodPatch, "sync", body, nil)
	return err
}

func (c *Client) message(ctx context.Context, method, path string, payload any) (*linksync.MessageResponse, error) {
	var resp linksync.MessageResponse
	status, err := c.authed(ctx, method, path, payload, &resp)
	if err != nil {
		return nil, err
	}
	resp.StatusCode = status
	return &resp, nil
}

// authed sends an API call with the stored access token, authenticating
// first when none is held.
func (c *Client) authed(ctx context.Context, method, path string, payload, v any) (int, error) {
	token, err := c.tokens.AccessToken()
	if err != nil {
		return 0, fmt.Errorf("reading access token: %w", err)
	}
	if token == "" {
		if err := c.Authenticate(ctx); err != nil {
			return 0, err
		}
		if token, err = c.tokens.AccessToken(); err != nil {
			return 0, fmt.Errorf("reading access token: %w", err)
		}
	}

	status, err := c.send(ctx, method, c.apiURL+path, token, payload, v)
	var rej *linksync.RemoteRejection
	if errors.As(err, &rej) && rej.StatusCode == http.StatusUnauthorized {
		return status, &linksync.AuthError{StatusCode: rej.StatusCode, Message: rej.Message}
	}
	return status, err
}

// send performs one request. Non-2xx answers become *RemoteRejection and
// anything that prevented a readable answer becomes *TransportError.
func (c *Client) send(ctx context.Context, method, url, token string, payload, v any) (int, error) {
	op := method + " " + strings.TrimPrefix(url, c.apiURL)

	var body io.Reader
	if payload != nil {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(payload); err != nil {
			return 0, fmt.Errorf("marshal payload: %w", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-PLUGIN-VERSION", c.version)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &linksync.TransportError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, &linksync.TransportError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		return resp.StatusCode, &linksync.RemoteRejection{
			StatusCode: resp.StatusCode,
			Message:    eb.Message,
			Remain:     eb.Remain,
			Notify:     eb.Notify,
		}
	}

	if v == nil || len(bytes.TrimSpace(raw)) == 0 {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return resp.StatusCode, &linksync.TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return resp.StatusCode, nil
}
