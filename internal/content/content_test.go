package content

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/contentops/tailor/config"
	"github.com/contentops/tailor/models"
)

const homeEntry = `{
  "entry": {
    "uid": "home",
    "title": "Home",
    "url": "/home",
    "blocks": [
      {"block": {"title": "Welcome", "copy": "<p>We do things.</p>", "_metadata": {"uid": "hero"}}},
      {"block": {"title": "Why us", "copy": "<p>Because reasons.</p>", "_metadata": {"uid": "why"}}},
      {"block": {"title": "Get started", "copy": "<p>Call us.</p>", "_metadata": {}}}
    ]
  }
}`

func cmsServer(t *testing.T, entries map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api_key") == "" || r.Header.Get("access_token") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, ok := entries[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
}

func newTestClient(baseURL string) *Client {
	return NewClient(config.CMSConfig{
		BaseURL:       baseURL,
		APIKey:        "key",
		DeliveryToken: "token",
		Environment:   "production",
		ContentType:   "page",
		Timeout:       time.Second,
	})
}

func TestFetchPageFlattensBlocks(t *testing.T) {
	srv := cmsServer(t, map[string]string{
		"/content_types/page/entries/home": homeEntry,
	})
	defer srv.Close()

	content, err := newTestClient(srv.URL).FetchPage(context.Background(), "home")
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if content.PageID != "home" || content.Title != "Home" || content.URL != "/home" {
		t.Fatalf("entry identity: %+v", content)
	}
	wantNames := []string{
		"hero/title", "hero/copy",
		"why/title", "why/copy",
		"block_2/title", "block_2/copy",
	}
	got := content.FieldNames()
	if len(got) != len(wantNames) {
		t.Fatalf("expected %d fields got %d: %v", len(wantNames), len(got), got)
	}
	for i, n := range wantNames {
		if got[i] != n {
			t.Fatalf("field %d: expected %q got %q", i, n, got[i])
		}
	}
	if content.Fields[1].Value != "<p>We do things.</p>" {
		t.Fatalf("copy value lost markup: %q", content.Fields[1].Value)
	}
}

func TestFetchPageNotFound(t *testing.T) {
	srv := cmsServer(t, nil)
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchPage(context.Background(), "missing")
	if !errors.Is(err, models.ErrPageNotFound) {
		t.Fatalf("expected ErrPageNotFound, got %v", err)
	}
}

func TestFetchPageEmptyEntry(t *testing.T) {
	srv := cmsServer(t, map[string]string{
		"/content_types/page/entries/hollow": `{"entry": {}}`,
	})
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchPage(context.Background(), "hollow")
	if !errors.Is(err, models.ErrPageNotFound) {
		t.Fatalf("expected ErrPageNotFound, got %v", err)
	}
}

func TestFetchPageAuthFailure(t *testing.T) {
	srv := cmsServer(t, map[string]string{
		"/content_types/page/entries/home": homeEntry,
	})
	defer srv.Close()

	c := NewClient(config.CMSConfig{
		BaseURL:     srv.URL,
		Environment: "production",
		ContentType: "page",
		Timeout:     time.Second,
	})
	_, err := c.FetchPage(context.Background(), "home")
	if !errors.Is(err, models.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestFetchPageUnreachable(t *testing.T) {
	_, err := newTestClient("http://127.0.0.1:1").FetchPage(context.Background(), "home")
	if !errors.Is(err, models.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}
