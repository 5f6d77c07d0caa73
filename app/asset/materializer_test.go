package asset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lysyi3m/news-import/app/content"
	"github.com/lysyi3m/news-import/app/fetcher"
	"github.com/lysyi3m/news-import/app/source"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)

type mockFetcher struct {
	calls atomic.Int32
	data  map[string][]byte
	err   error
	delay time.Duration
}

func (m *mockFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	m.calls.Add(1)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	data, ok := m.data[location]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func newTestMaterializer(t *testing.T, f *mockFetcher) (*Materializer, *FileStorage) {
	t.Helper()
	storage, err := NewFileStorage(filepath.Join(t.TempDir(), "assets"))
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	return NewMaterializer(f, storage, time.Second), storage
}

func TestStoragePath(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		key      source.AssetKey
		expected string
	}{
		{"basename of URL", "https://cdn.example.com/img/photo.jpg?w=200", source.AssetKeyBasename, "uploads/photo.jpg"},
		{"escaped name", "https://cdn.example.com/img/my%20photo.jpg", source.AssetKeyBasename, "uploads/my_photo.jpg"},
		{"local descriptor", "images/local.png", source.AssetKeyBasename, "uploads/local.png"},
		{"default key", "https://a.example.com/x/logo.gif", "", "uploads/logo.gif"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StoragePath(tt.src, tt.key); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}

	hashed := StoragePath("https://a.example.com/x/photo.JPG", source.AssetKeyURLHash)
	if !strings.HasPrefix(hashed, "uploads/") || !strings.HasSuffix(hashed, ".jpg") {
		t.Errorf("Expected hashed name with extension, got %s", hashed)
	}
	if hashed == StoragePath("https://b.example.com/x/photo.JPG", source.AssetKeyURLHash) {
		t.Error("Expected different URLs to get different hashed paths")
	}

	if got := StoragePath("https://example.com/", source.AssetKeyBasename); !strings.HasPrefix(got, "uploads/") || got == "uploads/" {
		t.Errorf("Expected hashed fallback for URL without file name, got %s", got)
	}
}

func TestMaterializeEmptyReference(t *testing.T) {
	f := &mockFetcher{}
	m, _ := newTestMaterializer(t, f)

	handle, err := m.Materialize(context.Background(), content.ImageRef{}, source.AssetKeyBasename)
	if !errors.Is(err, ErrEmptyReference) || handle != nil {
		t.Errorf("Expected ErrEmptyReference, got %v, %v", handle, err)
	}
	if f.calls.Load() != 0 {
		t.Error("Expected no fetch for empty reference")
	}
}

func TestMaterializeFetchesOnce(t *testing.T) {
	f := &mockFetcher{data: map[string][]byte{
		"https://a.example.com/photo.png": pngBytes,
		"https://b.example.com/photo.png": pngBytes,
	}}
	m, storage := newTestMaterializer(t, f)

	ref := content.ImageRef{Src: "https://a.example.com/photo.png", Alt: "alt", Title: "title", Link: "https://example.com"}
	handle, err := m.Materialize(context.Background(), ref, source.AssetKeyBasename)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if handle.Path != "uploads/photo.png" || handle.Reused {
		t.Errorf("Expected fresh asset at uploads/photo.png, got %+v", handle)
	}
	if handle.MimeType != "image/png" {
		t.Errorf("Expected image/png, got %s", handle.MimeType)
	}
	if handle.Hash == "" || handle.Reused {
		t.Errorf("Expected content hash for a fetched asset, got %+v", handle)
	}
	if handle.Alt != "alt" || handle.Title != "title" || handle.Link != "https://example.com" {
		t.Errorf("Expected display metadata to be copied, got %+v", handle)
	}

	written, err := os.ReadFile(filepath.Join(storage.Root(), "uploads", "photo.png"))
	if err != nil || len(written) != len(pngBytes) {
		t.Errorf("Expected asset on disk, got %d bytes (%v)", len(written), err)
	}

	// Same basename from another host collides and is reused.
	again, err := m.Materialize(context.Background(), content.ImageRef{Src: "https://b.example.com/photo.png"}, source.AssetKeyBasename)
	if err != nil {
		t.Fatal(err)
	}
	if !again.Reused || again.Hash != "" || again.Path != "uploads/photo.png" {
		t.Errorf("Expected reuse keyed by path, got %+v", again)
	}
	if f.calls.Load() != 1 {
		t.Errorf("Expected 1 fetch, got %d", f.calls.Load())
	}

	// Hashing the full URL keeps them apart.
	if _, err := m.Materialize(context.Background(), content.ImageRef{Src: "https://b.example.com/photo.png"}, source.AssetKeyURLHash); err != nil {
		t.Fatal(err)
	}
	if f.calls.Load() != 2 {
		t.Errorf("Expected 2 fetches with url_hash key, got %d", f.calls.Load())
	}
}

func TestMaterializeFailures(t *testing.T) {
	tests := []struct {
		name    string
		fetcher *mockFetcher
	}{
		{"fetch error", &mockFetcher{err: errors.New("connection refused")}},
		{"empty body", &mockFetcher{data: map[string][]byte{"https://a.example.com/x.jpg": {}}}},
		{"html error page", &mockFetcher{data: map[string][]byte{"https://a.example.com/x.jpg": []byte("<!DOCTYPE html><html><body>404</body></html>")}}},
		{"plain text", &mockFetcher{data: map[string][]byte{"https://a.example.com/x.jpg": []byte("db_password=hunter2\n")}}},
		{"svg markup", &mockFetcher{data: map[string][]byte{"https://a.example.com/x.jpg": []byte(`<svg xmlns="http://www.w3.org/2000/svg"><script>alert(1)</script></svg>`)}}},
		{"timeout", &mockFetcher{data: map[string][]byte{"https://a.example.com/x.jpg": pngBytes}, delay: 5 * time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, _ := NewFileStorage(t.TempDir())
			m := NewMaterializer(tt.fetcher, storage, 50*time.Millisecond)

			handle, err := m.Materialize(context.Background(), content.ImageRef{Src: "https://a.example.com/x.jpg"}, source.AssetKeyBasename)
			if err == nil {
				t.Fatalf("Expected error, got handle %+v", handle)
			}

			if exists, _ := storage.Exists("uploads/x.jpg"); exists {
				t.Error("Expected nothing to be stored")
			}
		})
	}
}

func TestMaterializeRejectsLocalReferences(t *testing.T) {
	secret := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(secret, []byte("db_password=hunter2\n"), 0600); err != nil {
		t.Fatal(err)
	}

	storage, _ := NewFileStorage(t.TempDir())
	m := NewMaterializer(fetcher.NewHTTPFetcher(nil, "test", time.Second), storage, time.Second)

	for _, src := range []string{secret, "file://" + secret, "/img/a.jpg", "img/a.jpg"} {
		handle, err := m.Materialize(context.Background(), content.ImageRef{Src: src}, source.AssetKeyBasename)
		if !errors.Is(err, ErrNotRemote) || handle != nil {
			t.Errorf("%s: expected ErrNotRemote, got %v, %v", src, handle, err)
		}
	}

	for _, name := range []string{"uploads/secret.txt", "uploads/a.jpg"} {
		if exists, _ := storage.Exists(name); exists {
			t.Errorf("Expected %s not to be stored", name)
		}
	}
}

func TestMaterializeConcurrentSamePath(t *testing.T) {
	f := &mockFetcher{data: map[string][]byte{"https://a.example.com/photo.png": pngBytes}, delay: 20 * time.Millisecond}
	m, _ := newTestMaterializer(t, f)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Materialize(context.Background(), content.ImageRef{Src: "https://a.example.com/photo.png"}, source.AssetKeyBasename); err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
		}()
	}
	wg.Wait()

	if f.calls.Load() != 1 {
		t.Errorf("Expected a single fetch, got %d", f.calls.Load())
	}
}

func TestFileStorage(t *testing.T) {
	storage, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if exists, err := storage.Exists("uploads/a.txt"); err != nil || exists {
		t.Errorf("Expected missing file, got %v, %v", exists, err)
	}

	if err := storage.Write("uploads/a.txt", []byte("hello")); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if exists, _ := storage.Exists("uploads/a.txt"); !exists {
		t.Error("Expected file to exist after write")
	}

	entries, _ := os.ReadDir(filepath.Join(storage.Root(), "uploads"))
	if len(entries) != 1 {
		t.Errorf("Expected no temporary files left behind, got %d entries", len(entries))
	}

	if err := storage.Write("../escape.txt", []byte("x")); err == nil {
		t.Error("Expected error for path outside storage root")
	}
}

func TestEnclosurePath(t *testing.T) {
	tests := []struct {
		mimeType string
		ok       bool
		suffix   string
	}{
		{"image/jpeg", true, ".jpg"},
		{"IMAGE/PNG", true, ".png"},
		{"image/gif", true, ".gif"},
		{"application/pdf", true, ".pdf"},
		{"video/mp4", false, ""},
		{"", false, ""},
	}

	for _, tt := range tests {
		got, ok := EnclosurePath("item/1", "https://example.com/media", tt.mimeType)
		if ok != tt.ok {
			t.Errorf("%s: expected ok=%v, got %v", tt.mimeType, tt.ok, ok)
			continue
		}
		if ok && (!strings.HasPrefix(got, "uploads/item_1_") || !strings.HasSuffix(got, tt.suffix)) {
			t.Errorf("%s: unexpected path %s", tt.mimeType, got)
		}
	}

	if _, ok := EnclosurePath("1", "", "image/jpeg"); ok {
		t.Error("Expected no path for empty enclosure URL")
	}
}
