// Package source resolves document references into bytes and inspects them.
//
// A reference is a local path (optionally file://), a gs://bucket/object
// URI, or an RFC 2397 data: URI. Local references can be confined to a
// directory or disabled for callers that do not own the host.
package source

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
)

var (
	// ErrNotFound is returned when the referenced document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrTooLarge is returned when the document exceeds the size limit.
	ErrTooLarge = errors.New("document too large")
	// ErrUnsupportedRef is returned for references the loader cannot resolve.
	ErrUnsupportedRef = errors.New("unsupported document reference")
	// ErrLocalDisallowed is returned for local references the loader may not read.
	ErrLocalDisallowed = errors.New("local document reference not allowed")
)

// DefaultMaxBytes bounds documents when no limit is configured.
const DefaultMaxBytes int64 = 20 << 20

// ObjectReader opens objects in a bucket store.
type ObjectReader interface {
	Open(ctx context.Context, bucket, object string) (io.ReadCloser, error)
}

// GCSReader reads objects from Cloud Storage.
type GCSReader struct {
	client *storage.Client
}

// NewGCSReader wraps a storage client.
func NewGCSReader(client *storage.Client) *GCSReader {
	return &GCSReader{client: client}
}

// Open opens gs://bucket/object.
func (g *GCSReader) Open(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	r, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, fmt.Errorf("%w: gs://%s/%s", ErrNotFound, bucket, object)
		}
		return nil, fmt.Errorf("open gs://%s/%s: %w", bucket, object, err)
	}
	return r, nil
}

// Loaded is a resolved document.
type Loaded struct {
	Bytes []byte
	// MediaType is the type declared by a data: URI, empty otherwise.
	MediaType string
}

// Loader resolves references.
type Loader struct {
	objects  ObjectReader
	maxBytes int64
	logger   *slog.Logger

	// denyLocal rejects local references outright; localRoot, when set,
	// confines them to one directory tree.
	denyLocal bool
	localRoot string
}

// Option configures a Loader.
type Option func(*Loader)

// WithObjectReader enables gs:// references.
func WithObjectReader(r ObjectReader) Option { return func(l *Loader) { l.objects = r } }

// WithMaxBytes sets the size limit.
func WithMaxBytes(n int64) Option { return func(l *Loader) { l.maxBytes = n } }

// WithLocalRoot confines local and file:// references to dir. Relative paths
// resolve against dir; nothing outside it is read, symlinks included.
func WithLocalRoot(dir string) Option {
	return func(l *Loader) {
		l.localRoot = dir
		l.denyLocal = false
	}
}

// WithoutLocalFiles rejects local and file:// references.
func WithoutLocalFiles() Option {
	return func(l *Loader) {
		l.denyLocal = true
		l.localRoot = ""
	}
}

// WithLogger sets the logger.
func WithLogger(lg *slog.Logger) Option { return func(l *Loader) { l.logger = lg } }

// NewLoader creates a Loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{maxBytes: DefaultMaxBytes}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Load resolves ref.
func (l *Loader) Load(ctx context.Context, ref string) (Loaded, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return Loaded{}, fmt.Errorf("%w: empty reference", ErrUnsupportedRef)
	case strings.HasPrefix(ref, "data:"):
		return l.loadData(ref)
	case strings.HasPrefix(ref, "gs://"):
		return l.loadObject(ctx, ref)
	case strings.HasPrefix(ref, "file://"):
		u, err := url.Parse(ref)
		if err != nil {
			return Loaded{}, fmt.Errorf("%w: %v", ErrUnsupportedRef, err)
		}
		return l.loadFile(u.Path)
	case strings.Contains(ref, "://"):
		return Loaded{}, fmt.Errorf("%w: %s", ErrUnsupportedRef, ref)
	}
	return l.loadFile(ref)
}

func (l *Loader) loadFile(path string) (Loaded, error) {
	if l.denyLocal {
		return Loaded{}, ErrLocalDisallowed
	}
	if l.localRoot != "" {
		return l.loadRooted(path)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Loaded{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Loaded{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return Loaded{}, fmt.Errorf("%w: %s is a directory", ErrUnsupportedRef, path)
	}
	if info.Size() > l.maxBytes {
		return Loaded{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, info.Size(), l.maxBytes)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Loaded{Bytes: b}, nil
}

// loadRooted reads path through an os.Root so that neither ".." nor a
// symlink can leave the configured directory.
func (l *Loader) loadRooted(path string) (Loaded, error) {
	rel := filepath.Clean(path)
	if filepath.IsAbs(rel) {
		absRoot, err := filepath.Abs(l.localRoot)
		if err != nil {
			return Loaded{}, fmt.Errorf("resolve local root: %w", err)
		}
		if rel, err = filepath.Rel(absRoot, rel); err != nil {
			return Loaded{}, fmt.Errorf("%w: %s", ErrLocalDisallowed, path)
		}
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return Loaded{}, fmt.Errorf("%w: %s", ErrLocalDisallowed, path)
	}

	root, err := os.OpenRoot(l.localRoot)
	if err != nil {
		return Loaded{}, fmt.Errorf("open local root: %w", err)
	}
	defer root.Close()

	f, err := root.Open(rel)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Loaded{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		// Symlinks leaving the root and unreadable entries land here.
		return Loaded{}, fmt.Errorf("%w: %s: %v", ErrLocalDisallowed, path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Loaded{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return Loaded{}, fmt.Errorf("%w: %s is a directory", ErrUnsupportedRef, path)
	}
	b, err := io.ReadAll(io.LimitReader(f, l.maxBytes+1))
	if err != nil {
		return Loaded{}, fmt.Errorf("read %s: %w", path, err)
	}
	if int64(len(b)) > l.maxBytes {
		return Loaded{}, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, path, l.maxBytes)
	}
	return Loaded{Bytes: b}, nil
}

func (l *Loader) loadObject(ctx context.Context, ref string) (Loaded, error) {
	if l.objects == nil {
		return Loaded{}, fmt.Errorf("%w: gs:// references need a storage client", ErrUnsupportedRef)
	}
	bucket, object, ok := strings.Cut(strings.TrimPrefix(ref, "gs://"), "/")
	if !ok || bucket == "" || object == "" {
		return Loaded{}, fmt.Errorf("%w: malformed %s", ErrUnsupportedRef, ref)
	}

	rc, err := l.objects.Open(ctx, bucket, object)
	if err != nil {
		return Loaded{}, err
	}
	defer rc.Close()

	b, err := io.ReadAll(io.LimitReader(rc, l.maxBytes+1))
	if err != nil {
		return Loaded{}, fmt.Errorf("read %s: %w", ref, err)
	}
	if int64(len(b)) > l.maxBytes {
		return Loaded{}, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, ref, l.maxBytes)
	}
	l.logger.Debug("Loaded object", "bucket", bucket, "object", object, "bytes", len(b))
	return Loaded{Bytes: b}, nil
}

// loadData decodes data:[<mediatype>][;base64],<data>.
func (l *Loader) loadData(ref string) (Loaded, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return Loaded{}, fmt.Errorf("%w: data URI without payload", ErrUnsupportedRef)
	}

	params := strings.Split(meta, ";")
	mediaType := strings.TrimSpace(params[0])
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}

	var b []byte
	if isBase64 {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return Loaded{}, fmt.Errorf("%w: invalid base64: %v", ErrUnsupportedRef, err)
		}
		b = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return Loaded{}, fmt.Errorf("%w: invalid escape: %v", ErrUnsupportedRef, err)
		}
		b = []byte(unescaped)
	}
	if int64(len(b)) > l.maxBytes {
		return Loaded{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(b), l.maxBytes)
	}
	return Loaded{Bytes: b, MediaType: mediaType}, nil
}
