package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

var fastRetry = RetryConfig{MaxAttempts: 3, Delay: time.Millisecond}

func TestHTTPFetcherFetch(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("payload"))
	}))
	defer server.Close()

	f := NewHTTPFetcher(server.Client(), "News Import/1.0", time.Second).WithRetry(fastRetry)

	data, err := f.Fetch(context.Background(), server.URL+"/a.jpg")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("Expected 'payload', got '%s'", string(data))
	}
	if gotUA != "News Import/1.0" {
		t.Errorf("Expected User-Agent 'News Import/1.0', got '%s'", gotUA)
	}
}

func TestHTTPFetcherRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	f := NewHTTPFetcher(server.Client(), "", time.Second).WithRetry(fastRetry)

	data, err := f.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Expected success on third attempt, got: %v", err)
	}
	if string(data) != "ok" {
		t.Errorf("Expected 'ok', got '%s'", string(data))
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 calls, got %d", calls.Load())
	}
}

func TestHTTPFetcherDoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := NewHTTPFetcher(server.Client(), "", time.Second).WithRetry(fastRetry)

	_, err := f.Fetch(context.Background(), server.URL)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Expected FetchError, got: %v", err)
	}
	if fetchErr.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", fetchErr.StatusCode)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 call, got %d", calls.Load())
	}
}

func TestHTTPFetcherTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	f := NewHTTPFetcher(server.Client(), "", 20*time.Millisecond).WithRetry(RetryConfig{MaxAttempts: 1})

	start := time.Now()
	if _, err := f.Fetch(context.Background(), server.URL); err == nil {
		t.Fatal("Expected timeout error")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("Expected fetch to give up quickly, took %v", time.Since(start))
	}
}

func TestHTTPFetcherFetchHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/json" {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte("{}"))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<p>hi</p>"))
	}))
	defer server.Close()

	f := NewHTTPFetcher(server.Client(), "", time.Second).WithRetry(fastRetry)

	if _, err := f.FetchHTML(context.Background(), server.URL+"/page"); err != nil {
		t.Errorf("Expected HTML fetch to succeed, got: %v", err)
	}
	if _, err := f.FetchHTML(context.Background(), server.URL+"/json"); err == nil {
		t.Error("Expected error for non-HTML content type")
	}
}

func TestHTTPFetcherLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.xml")
	if err := os.WriteFile(path, []byte("<rss/>"), 0644); err != nil {
		t.Fatal(err)
	}

	f := NewHTTPFetcher(nil, "", time.Second)

	for _, location := range []string{path, "file://" + path} {
		data, err := f.Fetch(context.Background(), location)
		if err != nil {
			t.Fatalf("Expected no error for %s, got: %v", location, err)
		}
		if string(data) != "<rss/>" {
			t.Errorf("Expected '<rss/>', got '%s'", string(data))
		}
	}

	_, err := f.Fetch(context.Background(), filepath.Join(t.TempDir(), "missing.xml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected not-exist error, got: %v", err)
	}
}

func TestWithRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithRetry(ctx, RetryConfig{MaxAttempts: 5, Delay: time.Second}, func() error {
		return errors.New("boom")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got: %v", err)
	}
}
