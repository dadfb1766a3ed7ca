package source

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/polisai/polis-docintel/pkg/domain"
)

var signatures = []struct {
	media  domain.MediaType
	prefix []byte
	// offset of a second marker, for RIFF containers.
	at     int
	marker []byte
}{
	{media: domain.MediaPDF, prefix: []byte("%PDF-")},
	{media: domain.MediaPNG, prefix: []byte("\x89PNG\r\n\x1a\n")},
	{media: domain.MediaJPEG, prefix: []byte{0xFF, 0xD8, 0xFF}},
	{media: domain.MediaWebP, prefix: []byte("RIFF"), at: 8, marker: []byte("WEBP")},
}

// Sniff returns the media type indicated by the leading bytes of b, or false
// when b is not a recognised binary format.
func Sniff(b []byte) (domain.MediaType, bool) {
	for _, s := range signatures {
		if !bytes.HasPrefix(b, s.prefix) {
			continue
		}
		if s.marker != nil && (len(b) < s.at+len(s.marker) || !bytes.Equal(b[s.at:s.at+len(s.marker)], s.marker)) {
			continue
		}
		return s.media, true
	}
	return "", false
}

// Detect is Sniff extended to plain text: UTF-8 content without NUL bytes
// is reported as text/plain.
func Detect(b []byte) (domain.MediaType, bool) {
	if mt, ok := Sniff(b); ok {
		return mt, true
	}
	if utf8.Valid(b) && bytes.IndexByte(b, 0) < 0 {
		return domain.MediaText, true
	}
	return "", false
}

// CheckMagic verifies that b is consistent with the declared media type.
// Text must be valid UTF-8 and must not look like a binary format.
func CheckMagic(b []byte, declared domain.MediaType) error {
	sniffed, ok := Sniff(b)
	if declared == domain.MediaText {
		if ok {
			return domain.NewValidationError("media_type", "declared %s but content is %s", declared, sniffed)
		}
		if !utf8.Valid(b) {
			return domain.NewValidationError("media_type", "declared %s but content is not UTF-8", declared)
		}
		return nil
	}
	if !ok {
		return domain.NewValidationError("media_type", "declared %s but content signature is not recognised", declared)
	}
	if sniffed != declared {
		return domain.NewValidationError("media_type", "declared %s but content is %s", declared, sniffed)
	}
	return nil
}

// Inspect returns the page count of a document. Images and text count as one
// page. PDFs are read with relaxed validation.
func Inspect(b []byte, mt domain.MediaType) (int, error) {
	if mt != domain.MediaPDF {
		return 1, nil
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(bytes.NewReader(b), conf)
	if err != nil {
		return 0, fmt.Errorf("count pdf pages: %w", err)
	}
	return n, nil
}
