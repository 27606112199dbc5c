package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestExtractText_Simple(t *testing.T) {
	page := `<html><body><h1>Title</h1><p>Hello world</p><ul><li>Item 1</li><li>Item 2</li></ul></body></html>`
	text := ExtractText(page)
	for _, want := range []string{"Title", "Hello world", "Item 1", "Item 2"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got: %s", want, text)
		}
	}
	if strings.Contains(text, "Title Hello") {
		t.Errorf("block elements should be on separate lines, got: %q", text)
	}
}

func TestExtractText_RemovesScripts(t *testing.T) {
	page := `<html><body><script>alert('xss')</script><p>Content</p><style>.foo{}</style></body></html>`
	text := ExtractText(page)
	if strings.Contains(text, "alert") {
		t.Errorf("expected script content to be removed, got: %s", text)
	}
	if strings.Contains(text, ".foo") {
		t.Errorf("expected style content to be removed, got: %s", text)
	}
	if !strings.Contains(text, "Content") {
		t.Errorf("expected 'Content' in output, got: %s", text)
	}
}

func TestExtractText_RemovesNav(t *testing.T) {
	page := `<html><body><nav><a href="/">Home</a></nav><main><p>Main content</p></main><footer>Footer</footer></body></html>`
	text := ExtractText(page)
	if strings.Contains(text, "Home") || strings.Contains(text, "Footer") {
		t.Errorf("expected nav and footer to be removed, got: %s", text)
	}
	if !strings.Contains(text, "Main content") {
		t.Errorf("expected 'Main content' in output, got: %s", text)
	}
}

func TestExtractTitle(t *testing.T) {
	page := `<html><head><title>My Page Title</title></head><body></body></html>`
	if title := ExtractTitle(page); title != "My Page Title" {
		t.Errorf("expected 'My Page Title', got '%s'", title)
	}
}

func TestStripTags(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", "  just   text ", "just text"},
		{"markup", "<p>Hello <b>world</b></p><p>again</p>", "Hello world again"},
		{"entities", "Fish &amp; chips &#8211; 50%", "Fish & chips – 50%"},
		{"script", "before<script>var x = 1;</script>after", "before after"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StripTags(tt.in)
			if tt.name == "script" {
				if strings.Contains(got, "var x") || !strings.Contains(got, "before") || !strings.Contains(got, "after") {
					t.Errorf("StripTags(%q) = %q", tt.in, got)
				}
				return
			}
			if got != tt.want {
				t.Errorf("StripTags(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestHTTPFetcher_Headers(t *testing.T) {
	var gotUA, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte("<rss/>"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client())
	resp, err := f.Fetch(context.Background(), srv.URL, &FetchOptions{Accept: "application/rss+xml", Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if gotUA != DefaultUserAgent {
		t.Errorf("expected default user agent, got %q", gotUA)
	}
	if gotAccept != "application/rss+xml" {
		t.Errorf("unexpected Accept %q", gotAccept)
	}
	if string(resp.Body) != "<rss/>" || resp.ContentType != "application/rss+xml" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestHTTPFetcher_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(srv.Client()).Fetch(context.Background(), srv.URL, nil)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected StatusError 500, got %v", err)
	}
	if !IsStatus(err, http.StatusInternalServerError) {
		t.Fatal("IsStatus should match")
	}
}
