package source

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-docintel/pkg/domain"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type memObjects map[string][]byte

func (m memObjects) Open(_ context.Context, bucket, object string) (io.ReadCloser, error) {
	b, ok := m[bucket+"/"+object]
	if !ok {
		return nil, fmt.Errorf("%w: gs://%s/%s", ErrNotFound, bucket, object)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.png")
	require.NoError(t, os.WriteFile(path, pngHeader, 0o600))

	l := NewLoader()
	ctx := context.Background()

	got, err := l.Load(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, got.Bytes)
	assert.Empty(t, got.MediaType)

	got, err = l.Load(ctx, "file://"+path)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, got.Bytes)

	_, err = l.Load(ctx, filepath.Join(dir, "missing.png"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = l.Load(ctx, dir)
	assert.ErrorIs(t, err, ErrUnsupportedRef)

	_, err = NewLoader(WithMaxBytes(4)).Load(ctx, path)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestLoadLocalRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	inside := filepath.Join(root, "inbox", "scan.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(inside), 0o700))
	require.NoError(t, os.WriteFile(inside, pngHeader, 0o600))
	secret := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("api key"), 0o600))

	l := NewLoader(WithLocalRoot(root))
	ctx := context.Background()

	for _, ref := range []string{inside, "inbox/scan.png", "file://" + inside} {
		got, err := l.Load(ctx, ref)
		require.NoError(t, err, ref)
		assert.Equal(t, pngHeader, got.Bytes, ref)
	}

	for _, ref := range []string{secret, "../" + filepath.Base(outside) + "/secret.txt", "inbox/../../x", "file://" + secret} {
		_, err := l.Load(ctx, ref)
		assert.ErrorIs(t, err, ErrLocalDisallowed, ref)
	}

	_, err := l.Load(ctx, "inbox/missing.png")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = NewLoader(WithLocalRoot(root), WithMaxBytes(4)).Load(ctx, "inbox/scan.png")
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestLoadLocalRootRejectsEscapingSymlink(t *testing.T) {
	root := t.TempDir()
	secret := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("api key"), 0o600))
	if err := os.Symlink(secret, filepath.Join(root, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	_, err := NewLoader(WithLocalRoot(root)).Load(context.Background(), "link.txt")
	assert.ErrorIs(t, err, ErrLocalDisallowed)
}

func TestLoadWithoutLocalFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.png")
	require.NoError(t, os.WriteFile(path, pngHeader, 0o600))

	l := NewLoader(WithoutLocalFiles())
	ctx := context.Background()
	for _, ref := range []string{path, "file://" + path, filepath.Join(t.TempDir(), "missing.png")} {
		_, err := l.Load(ctx, ref)
		assert.ErrorIs(t, err, ErrLocalDisallowed, ref)
	}

	got, err := l.Load(ctx, "data:text/plain,hello")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got.Bytes)
}

func TestLoadDataURI(t *testing.T) {
	l := NewLoader()
	ctx := context.Background()

	got, err := l.Load(ctx, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(pngHeader))
	require.NoError(t, err)
	assert.Equal(t, pngHeader, got.Bytes)
	assert.Equal(t, "image/png", got.MediaType)

	got, err = l.Load(ctx, "data:text/plain,Invoice%20INV-1")
	require.NoError(t, err)
	assert.Equal(t, "Invoice INV-1", string(got.Bytes))
	assert.Equal(t, "text/plain", got.MediaType)

	_, err = l.Load(ctx, "data:image/png;base64,***")
	assert.ErrorIs(t, err, ErrUnsupportedRef)

	_, err = l.Load(ctx, "data:no-payload")
	assert.ErrorIs(t, err, ErrUnsupportedRef)
}

func TestLoadObject(t *testing.T) {
	objects := memObjects{"inbox/2024/inv.pdf": []byte("%PDF-1.7")}
	l := NewLoader(WithObjectReader(objects))
	ctx := context.Background()

	got, err := l.Load(ctx, "gs://inbox/2024/inv.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(got.Bytes))

	_, err = l.Load(ctx, "gs://inbox/missing.pdf")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = l.Load(ctx, "gs://inbox")
	assert.ErrorIs(t, err, ErrUnsupportedRef)

	_, err = NewLoader(WithObjectReader(objects), WithMaxBytes(3)).Load(ctx, "gs://inbox/2024/inv.pdf")
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = NewLoader().Load(ctx, "gs://inbox/2024/inv.pdf")
	assert.ErrorIs(t, err, ErrUnsupportedRef, "no storage client configured")
}

func TestLoadRejectsOtherSchemes(t *testing.T) {
	_, err := NewLoader().Load(context.Background(), "https://example.com/inv.pdf")
	assert.ErrorIs(t, err, ErrUnsupportedRef)

	_, err = NewLoader().Load(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrUnsupportedRef)
}

func TestSniffAndCheckMagic(t *testing.T) {
	webp := append([]byte("RIFF\x00\x00\x00\x00WEBP"), 0)
	riffWave := []byte("RIFF\x00\x00\x00\x00WAVEfmt ")

	tests := []struct {
		name     string
		content  []byte
		declared domain.MediaType
		ok       bool
	}{
		{"png", pngHeader, domain.MediaPNG, true},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, domain.MediaJPEG, true},
		{"webp", webp, domain.MediaWebP, true},
		{"pdf", []byte("%PDF-1.4\n"), domain.MediaPDF, true},
		{"text", []byte("INVOICE 42"), domain.MediaText, true},
		{"png declared pdf", pngHeader, domain.MediaPDF, false},
		{"wave is not webp", riffWave, domain.MediaWebP, false},
		{"pdf declared text", []byte("%PDF-1.4"), domain.MediaText, false},
		{"binary text", []byte{0xff, 0xfe, 0x00}, domain.MediaText, false},
		{"unknown image", []byte("GIF89a"), domain.MediaPNG, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckMagic(tt.content, tt.declared)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestDetect(t *testing.T) {
	mt, ok := Detect(pngHeader)
	assert.True(t, ok)
	assert.Equal(t, domain.MediaPNG, mt)

	mt, ok = Detect([]byte("Bill of entry 2231"))
	assert.True(t, ok)
	assert.Equal(t, domain.MediaText, mt)

	_, ok = Detect([]byte{'a', 0x00, 'b'})
	assert.False(t, ok)
	_, ok = Detect([]byte{0xff, 0xfe})
	assert.False(t, ok)
}

// minimalPDF builds a valid PDF with n empty pages and a correct xref table.
func minimalPDF(n int) []byte {
	var objs []string
	kids := make([]string, n)
	for i := range n {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	objs = append(objs,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox [0 0 612 792] >>", strings.Join(kids, " "), n),
	)
	for range n {
		objs = append(objs, "<< /Type /Page /Parent 2 0 R >>")
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

func TestInspect(t *testing.T) {
	n, err := Inspect(pngHeader, domain.MediaPNG)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = Inspect(minimalPDF(3), domain.MediaPDF)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = Inspect([]byte("%PDF-1.4 truncated"), domain.MediaPDF)
	assert.Error(t, err)
}
