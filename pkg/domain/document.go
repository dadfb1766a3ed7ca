package domain

import (
	"fmt"
	"strings"
)

// DocumentType is the document-type hint that selects prompts, schemas and
// rule checklists.
type DocumentType string

// Supported document types.
const (
	DocumentInvoice     DocumentType = "invoice"
	DocumentBillOfEntry DocumentType = "billOfEntry"
	DocumentGeneral     DocumentType = "general"
)

// DocumentTypes lists every supported document type in a stable order.
var DocumentTypes = []DocumentType{DocumentInvoice, DocumentBillOfEntry, DocumentGeneral}

// Valid reports whether t is a known document type.
func (t DocumentType) Valid() bool {
	switch t {
	case DocumentInvoice, DocumentBillOfEntry, DocumentGeneral:
		return true
	}
	return false
}

// ParseDocumentType accepts the canonical names plus a few common spellings.
func ParseDocumentType(s string) (DocumentType, error) {
	switch strings.ToLower(strings.TrimSpace(strings.NewReplacer("_", "", "-", "", " ", "").Replace(s))) {
	case "invoice", "commercialinvoice":
		return DocumentInvoice, nil
	case "billofentry", "boe":
		return DocumentBillOfEntry, nil
	case "general", "":
		return DocumentGeneral, nil
	}
	return "", NewValidationError("document_type", "unsupported document type %q", s)
}

// MediaType is the declared media type of a submitted document.
type MediaType string

// Supported media types.
const (
	MediaPNG  MediaType = "image/png"
	MediaJPEG MediaType = "image/jpeg"
	MediaWebP MediaType = "image/webp"
	MediaPDF  MediaType = "application/pdf"
	MediaText MediaType = "text/plain"
)

// Valid reports whether m is a supported media type.
func (m MediaType) Valid() bool {
	switch m {
	case MediaPNG, MediaJPEG, MediaWebP, MediaPDF, MediaText:
		return true
	}
	return false
}

// IsImage reports whether the media type is an image format.
func (m MediaType) IsImage() bool {
	return strings.HasPrefix(string(m), "image/")
}

// TaskKind selects which preference list the registry consults.
type TaskKind string

// Task kinds.
const (
	TaskOCR            TaskKind = "ocr"
	TaskCompliance     TaskKind = "compliance"
	TaskClassification TaskKind = "classification"
)

// Valid reports whether k is a known task kind.
func (k TaskKind) Valid() bool {
	switch k {
	case TaskOCR, TaskCompliance, TaskClassification:
		return true
	}
	return false
}

// Document is the payload handed to the extraction stage.
type Document struct {
	Bytes     []byte
	MediaType MediaType
	// PageCount is populated for PDFs when the page tree could be read.
	PageCount int
}

func (d Document) String() string {
	return fmt.Sprintf("%s (%d bytes)", d.MediaType, len(d.Bytes))
}
