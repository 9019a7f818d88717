// Package github is a minimal client for the GitHub contents API: read a
// file with its blob sha, and commit new content over it.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

const DefaultBaseURL = "https://api.github.com"

// ErrNoSHA is returned when the contents response does not carry a sha
var ErrNoSHA = errors.New("no file sha in GitHub response")

// StatusError is a non-success response from the API
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, strings.TrimSpace(string(e.Body)))
}

// CommitError is returned when an upload response has no commit object
type CommitError struct {
	StatusCode int
	Response   json.RawMessage
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("github commit failed: status %d", e.StatusCode)
}

// File is a fetched file
type File struct {
	SHA     string
	Content []byte
}

// CommitResult is the commit object returned for an upload
type CommitResult struct {
	SHA    string
	Commit json.RawMessage
}

type Client struct {
	http    *http.Client
	baseURL *url.URL
	repo    string
	branch  string
	token   string
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithBaseURL(raw string) Option {
	return func(c *Client) {
		if u, err := url.Parse(raw); err == nil && raw != "" {
			c.baseURL = u
		}
	}
}

func WithBranch(branch string) Option {
	return func(c *Client) { c.branch = branch }
}

// New builds a client for repo ("owner/name"). A non-empty token is sent on
// every request through an oauth2 transport.
func New(token, repo string, opts ...Option) (*Client, error) {
	if !strings.Contains(repo, "/") {
		return nil, fmt.Errorf("repo must look like owner/name, got %q", repo)
	}
	u, _ := url.Parse(DefaultBaseURL)
	c := &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: u,
		repo:    repo,
		token:   token,
	}
	for _, o := range opts {
		o(c)
	}
	if token != "" {
		c.http = &http.Client{
			Timeout: c.http.Timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "token"}),
				Base:   c.http.Transport,
			},
		}
	}
	return c, nil
}

func (c *Client) Repo() string   { return c.repo }
func (c *Client) Branch() string { return c.branch }

func (c *Client) contentsURL(filePath string, withRef bool) string {
	u := *c.baseURL
	u.Path = path.Join(u.Path, "repos", c.repo, "contents", filePath)
	if withRef && c.branch != "" {
		q := u.Query()
		q.Set("ref", c.branch)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, rawURL string, body any) (int, []byte, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request body: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, rdr)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read %s response: %w", rawURL, err)
	}
	return resp.StatusCode, b, nil
}

// FetchFile returns the file's sha and decoded content on the configured branch
func (c *Client) FetchFile(ctx context.Context, filePath string) (*File, error) {
	u := c.contentsURL(filePath, true)
	status, body, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: %w", ErrNoSHA, &StatusError{Method: http.MethodGet, URL: u, StatusCode: status, Body: body})
	}

	sha := gjson.GetBytes(body, "sha").String()
	if sha == "" {
		return nil, ErrNoSHA
	}
	f := &File{SHA: sha}

	// content is base64 with line breaks; large files come back empty
	if raw := gjson.GetBytes(body, "content").String(); raw != "" {
		content, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(raw, "\n", ""))
		if err != nil {
			return nil, fmt.Errorf("decode %s content: %w", filePath, err)
		}
		f.Content = content
	}
	return f, nil
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

// PutFile commits content over the file whose current blob is sha
func (c *Client) PutFile(ctx context.Context, filePath string, content []byte, sha, message string) (*CommitResult, error) {
	status, body, err := c.do(ctx, http.MethodPut, c.contentsURL(filePath, false), putRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		SHA:     sha,
		Branch:  c.branch,
	})
	if err != nil {
		return nil, err
	}

	commit := gjson.GetBytes(body, "commit")
	if !commit.IsObject() {
		resp := json.RawMessage(body)
		if !json.Valid(body) {
			resp, _ = json.Marshal(string(body))
		}
		return nil, &CommitError{StatusCode: status, Response: resp}
	}
	return &CommitResult{
		SHA:    commit.Get("sha").String(),
		Commit: json.RawMessage(commit.Raw),
	}, nil
}
