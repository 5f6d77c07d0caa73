// Package asset fetches image references once per storage path and hands
// out reusable asset handles.
package asset

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"

	"github.com/lysyi3m/news-import/app/content"
	"github.com/lysyi3m/news-import/app/fetcher"
	"github.com/lysyi3m/news-import/app/keylock"
	"github.com/lysyi3m/news-import/app/metrics"
	"github.com/lysyi3m/news-import/app/source"
)

const uploadDir = "uploads"

var (
	ErrEmptyReference = errors.New("empty image reference")
	ErrNotRemote      = errors.New("asset reference is not an http(s) URL")
)

// Only these types are stored and published under the asset root.
var allowedTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"application/pdf",
}

// Handle is a materialized asset. Hash is empty when an existing file was
// reused without fetching.
type Handle struct {
	Path      string // storage-relative
	Hash      string
	MimeType  string
	Size      int64
	SourceURL string
	Alt       string
	Title     string
	Link      string
	Class     string
	Reused    bool
}

type Materializer struct {
	fetcher fetcher.Fetcher
	storage Storage
	timeout time.Duration
	locks   *keylock.Locker
}

func NewMaterializer(f fetcher.Fetcher, storage Storage, timeout time.Duration) *Materializer {
	return &Materializer{
		fetcher: f,
		storage: storage,
		timeout: timeout,
		locks:   keylock.New(),
	}
}

// Materialize stores the image behind ref unless its storage path already
// exists. Calls for the same path are serialized.
func (m *Materializer) Materialize(ctx context.Context, ref content.ImageRef, key source.AssetKey) (*Handle, error) {
	src := strings.TrimSpace(ref.Src)
	if src == "" {
		return nil, ErrEmptyReference
	}

	return m.MaterializeAt(ctx, ref, StoragePath(src, key))
}

// MaterializeAt is Materialize with an explicit storage path. Only remote
// references are fetched; relative ones must be resolved by the caller.
func (m *Materializer) MaterializeAt(ctx context.Context, ref content.ImageRef, storagePath string) (*Handle, error) {
	src := strings.TrimSpace(ref.Src)
	if src == "" {
		return nil, ErrEmptyReference
	}
	if !fetcher.IsRemote(src) {
		return nil, fmt.Errorf("%w: %s", ErrNotRemote, src)
	}

	handle := &Handle{
		Path:      storagePath,
		SourceURL: src,
		Alt:       ref.Alt,
		Title:     ref.Title,
		Link:      ref.Link,
		Class:     ref.Class,
	}

	unlock := m.locks.Lock(storagePath)
	defer unlock()

	exists, err := m.storage.Exists(storagePath)
	if err != nil {
		return nil, err
	}
	if exists {
		handle.Reused = true
		metrics.Global.IncrementAssetsReused()
		slog.Debug("Asset reused", "path", storagePath, "url", src)
		return handle, nil
	}

	fetchCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	data, err := m.fetcher.Fetch(fetchCtx, src)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch asset: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("asset %s is empty", src)
	}

	mtype := mimetype.Detect(data)
	if !mimetype.EqualsAny(mtype.String(), allowedTypes...) {
		return nil, fmt.Errorf("asset %s is not a supported media file: %s", src, mtype.String())
	}

	sum := sha256.Sum256(data)
	handle.Hash = hex.EncodeToString(sum[:])
	handle.MimeType = mtype.String()
	handle.Size = int64(len(data))

	if err := m.storage.Write(storagePath, data); err != nil {
		return nil, fmt.Errorf("failed to store asset: %w", err)
	}

	metrics.Global.RecordAssetFetched(handle.Size)
	slog.Info("Asset materialized", "path", storagePath, "mime", handle.MimeType, "size", humanize.Bytes(uint64(handle.Size)))

	return handle, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

var enclosureExtensions = map[string]string{
	"image/jpeg":      "jpg",
	"image/gif":       "gif",
	"image/png":       "png",
	"application/pdf": "pdf",
}

// EnclosurePath returns the storage path of a feed enclosure, or false when
// the enclosure type is not imported.
func EnclosurePath(itemID, src, mimeType string) (string, bool) {
	ext, ok := enclosureExtensions[strings.ToLower(strings.TrimSpace(mimeType))]
	if !ok || strings.TrimSpace(src) == "" {
		return "", false
	}

	sum := md5.Sum([]byte(src))
	name := fmt.Sprintf("%s_%s.%s", unsafeName.ReplaceAllString(itemID, "_"), hex.EncodeToString(sum[:]), ext)

	return path.Join(uploadDir, name), true
}

// IsImageType reports whether an enclosure type is an image.
func IsImageType(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/")
}

// StoragePath derives the storage-relative path of src. With the basename
// key two URLs sharing a file name map to the same path.
func StoragePath(src string, key source.AssetKey) string {
	name := ""
	if key != source.AssetKeyURLHash {
		name = basename(src)
	}

	if name == "" {
		sum := sha256.Sum256([]byte(src))
		name = hex.EncodeToString(sum[:16]) + strings.ToLower(path.Ext(basename(src)))
	}

	return path.Join(uploadDir, name)
}

func basename(src string) string {
	p := strings.TrimPrefix(src, "file://")
	if fetcher.IsRemote(src) {
		u, err := url.Parse(src)
		if err != nil {
			return ""
		}
		p = u.Path
	}
	if unescaped, err := url.PathUnescape(p); err == nil {
		p = unescaped
	}

	p = strings.ReplaceAll(p, "\\", "/")
	name := path.Base(p)
	if name == "." || name == "/" || name == "" {
		return ""
	}

	name = strings.Trim(unsafeName.ReplaceAllString(name, "_"), "._")
	return name
}
