package qcmengine

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// TextExtractor produces the text of a document restricted to a page set.
// pages holds 1-based page numbers; nil or empty means the whole document.
type TextExtractor interface {
	Extract(path string, pages []int) (string, error)
}

// PDFTextExtractor extracts text with the pdftotext binary.
type PDFTextExtractor struct {
	Binary string // defaults to "pdftotext"
}

// NewPDFTextExtractor creates an extractor using pdftotext from PATH.
func NewPDFTextExtractor() *PDFTextExtractor {
	return &PDFTextExtractor{Binary: "pdftotext"}
}

// Extract runs pdftotext over the requested pages and joins the output.
func (e *PDFTextExtractor) Extract(path string, pages []int) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("document not readable: %w", err)
	}

	bin := e.Binary
	if bin == "" {
		bin = "pdftotext"
	}

	if len(pages) == 0 {
		out, err := exec.Command(bin, path, "-").Output()
		if err != nil {
			return "", fmt.Errorf("pdftotext failed: %w", err)
		}
		return strings.TrimSpace(string(out)), nil
	}

	// pdftotext only takes a contiguous -f/-l range, so run it per page and
	// join the non-empty parts.
	var parts []string
	for _, p := range pages {
		arg := strconv.Itoa(p)
		out, err := exec.Command(bin, "-f", arg, "-l", arg, path, "-").Output()
		if err != nil {
			// A page past the end of the document is dropped, not fatal.
			VerboseLog("pdftotext page %d of %s failed: %v", p, path, err)
			continue
		}
		if t := strings.TrimSpace(string(out)); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n"), nil
}
