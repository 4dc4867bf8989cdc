// Package export renders mind maps as Markdown or PDF.
package export

import (
	"errors"
	"time"

	"mindmap/api/internal/mindmap"
)

type Format string

const (
	FormatMarkdown Format = "md"
	FormatPDF      Format = "pdf"
)

// ParseFormat accepts the query-string spellings of a format.
func ParseFormat(value string) (Format, bool) {
	switch value {
	case "", "md", "markdown":
		return FormatMarkdown, true
	case "pdf":
		return FormatPDF, true
	default:
		return "", false
	}
}

// Request contains parameters for an export operation.
type Request struct {
	MapID string
	// Version is a revision hash; empty means the current content.
	Version         string
	Format          Format
	IncludeComments bool
}

// MapInfo is the map data an export needs.
type MapInfo struct {
	ID        string
	Title     string
	Content   mindmap.Node
	OwnerName string
	UpdatedAt time.Time
}

type CommentInfo struct {
	NodeID    string
	Text      string
	Author    string
	CreatedAt time.Time
}

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("export format not supported")
	// ErrPDFDependencyMissing indicates no Chromium binary is installed.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
