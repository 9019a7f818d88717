package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidyback/templatestore/internal/store"
)

// fakeGitHub serves the contents API for a single repo file
type fakeGitHub struct {
	mu        sync.Mutex
	sha       string
	content   []byte
	puts      []map[string]any
	authSeen  []string
	failGet   int
	failPut   int
	noCommit  bool
	getRefSet []string
}

func (f *fakeGitHub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/site/contents/db.json", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.authSeen = append(f.authSeen, r.Header.Get("Authorization"))

		switch r.Method {
		case http.MethodGet:
			f.getRefSet = append(f.getRefSet, r.URL.Query().Get("ref"))
			if f.failGet != 0 {
				w.WriteHeader(f.failGet)
				_, _ = w.Write([]byte(`{"message":"Not Found"}`))
				return
			}
			encoded := base64.StdEncoding.EncodeToString(f.content)
			// GitHub wraps content at 60 columns
			if len(encoded) > 60 {
				encoded = encoded[:60] + "\n" + encoded[60:]
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"sha": f.sha, "content": encoded, "encoding": "base64"})
		case http.MethodPut:
			var body map[string]any
			b, _ := io.ReadAll(r.Body)
			assert.NoError(t, json.Unmarshal(b, &body))
			f.puts = append(f.puts, body)
			if f.failPut != 0 {
				w.WriteHeader(f.failPut)
				_, _ = w.Write([]byte(`{"message":"sha does not match"}`))
				return
			}
			if f.noCommit {
				_, _ = w.Write([]byte(`{"content":{}}`))
				return
			}
			decoded, _ := base64.StdEncoding.DecodeString(body["content"].(string))
			f.content = decoded
			f.sha = "sha-next"
			_ = json.NewEncoder(w).Encode(map[string]any{
				"content": map[string]any{"sha": f.sha},
				"commit":  map[string]any{"sha": "commit-1", "message": body["message"]},
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	return mux
}

// snapshot copies the recorded state under the lock
func (f *fakeGitHub) snapshot() fakeGitHub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fakeGitHub{
		sha:       f.sha,
		content:   append([]byte(nil), f.content...),
		puts:      append([]map[string]any(nil), f.puts...),
		authSeen:  append([]string(nil), f.authSeen...),
		getRefSet: append([]string(nil), f.getRefSet...),
	}
}

func newTestClient(t *testing.T, fake *fakeGitHub) *Client {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	c, err := New("secret", "acme/site", WithBaseURL(srv.URL), WithBranch("master"))
	require.NoError(t, err)
	return c
}

func TestNewRequiresRepo(t *testing.T) {
	_, err := New("tok", "no-slash")
	assert.Error(t, err)

	c, err := New("", "acme/site")
	require.NoError(t, err)
	assert.Equal(t, "acme/site", c.Repo())
	assert.Equal(t, "", c.Branch())
}

func TestFetchFile(t *testing.T) {
	fake := &fakeGitHub{sha: "sha-1", content: []byte(`{"Hooks":[{"id":"1","name":"a long enough name to wrap the base64"}]}`)}
	c := newTestClient(t, fake)

	f, err := c.FetchFile(context.Background(), "db.json")
	require.NoError(t, err)
	assert.Equal(t, "sha-1", f.SHA)
	seen := fake.snapshot()
	assert.Equal(t, seen.content, f.Content)
	assert.Equal(t, []string{"token secret"}, seen.authSeen)
	assert.Equal(t, []string{"master"}, seen.getRefSet)
}

func TestFetchFileMissing(t *testing.T) {
	fake := &fakeGitHub{failGet: http.StatusNotFound}
	c := newTestClient(t, fake)

	_, err := c.FetchFile(context.Background(), "db.json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoSHA))

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestFetchFileWithoutSHA(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"db.json"}`))
	}))
	defer srv.Close()

	c, err := New("t", "acme/site", WithBaseURL(srv.URL))
	require.NoError(t, err)
	_, err = c.FetchFile(context.Background(), "db.json")
	assert.ErrorIs(t, err, ErrNoSHA)
}

func TestPutFile(t *testing.T) {
	fake := &fakeGitHub{sha: "sha-1"}
	c := newTestClient(t, fake)

	res, err := c.PutFile(context.Background(), "db.json", []byte(`{}`), "sha-1", "Updated db.json via API")
	require.NoError(t, err)
	assert.Equal(t, "commit-1", res.SHA)
	assert.JSONEq(t, `{"sha":"commit-1","message":"Updated db.json via API"}`, string(res.Commit))

	seen := fake.snapshot()
	require.Len(t, seen.puts, 1)
	put := seen.puts[0]
	assert.Equal(t, "sha-1", put["sha"])
	assert.Equal(t, "master", put["branch"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte(`{}`)), put["content"])
}

func TestPutFileWithoutCommit(t *testing.T) {
	tests := []struct {
		name       string
		fake       *fakeGitHub
		wantStatus int
	}{
		{"conflict", &fakeGitHub{failPut: http.StatusConflict}, http.StatusConflict},
		{"no commit object", &fakeGitHub{noCommit: true}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.fake)
			_, err := c.PutFile(context.Background(), "db.json", []byte(`{}`), "old", "msg")
			var commitErr *CommitError
			require.True(t, errors.As(err, &commitErr))
			assert.Equal(t, tt.wantStatus, commitErr.StatusCode)
			assert.True(t, json.Valid(commitErr.Response))
		})
	}
}

func TestSyncerPushAndPull(t *testing.T) {
	fake := &fakeGitHub{sha: "sha-1", content: []byte(`{}`)}
	c := newTestClient(t, fake)
	s := NewSyncer(c, "db.json", "")

	doc := store.Document{"Hooks": {{"id": "1", "category": []any{"Hooks"}}}}
	res, err := s.Push(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "commit-1", res.SHA)
	seen := fake.snapshot()
	require.Len(t, seen.puts, 1)
	assert.Equal(t, "Updated db.json via API", seen.puts[0]["message"])
	assert.Equal(t, "sha-1", seen.puts[0]["sha"])

	want, _ := store.Encode(doc)
	assert.Equal(t, want, seen.content)

	pulled, err := s.Pull(context.Background())
	require.NoError(t, err)
	require.Len(t, pulled["Hooks"], 1)
	assert.Equal(t, "1", pulled["Hooks"][0]["id"])
}

func TestSyncerPushStopsWithoutSHA(t *testing.T) {
	fake := &fakeGitHub{failGet: http.StatusUnauthorized}
	s := NewSyncer(newTestClient(t, fake), "db.json", "msg")

	_, err := s.Push(context.Background(), store.Document{})
	assert.ErrorIs(t, err, ErrNoSHA)
	assert.Empty(t, fake.snapshot().puts)
}
