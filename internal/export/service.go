package export

import (
	"context"
	"fmt"

	"mindmap/api/internal/mindmap"
)

// DataStore is the read side the export service needs.
type DataStore interface {
	GetMapInfo(ctx context.Context, mapID string) (MapInfo, error)
	ListCommentInfo(ctx context.Context, mapID string) ([]CommentInfo, error)
	GetContentAtVersion(ctx context.Context, mapID, version string) (mindmap.Node, error)
}

// PDFRenderer turns an HTML page into a PDF.
type PDFRenderer func(ctx context.Context, html string) ([]byte, error)

type Service struct {
	store DataStore
	pdf   PDFRenderer
}

// NewService creates an export service that prints PDFs with headless Chrome.
func NewService(store DataStore) *Service {
	return &Service{store: store, pdf: RenderPDF}
}

// WithPDFRenderer swaps the PDF backend.
func (s *Service) WithPDFRenderer(r PDFRenderer) *Service {
	s.pdf = r
	return s
}

func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	info, err := s.store.GetMapInfo(ctx, req.MapID)
	if err != nil {
		return nil, fmt.Errorf("get map: %w", err)
	}
	if req.Version != "" {
		content, err := s.store.GetContentAtVersion(ctx, req.MapID, req.Version)
		if err != nil {
			return nil, fmt.Errorf("get map version: %w", err)
		}
		info.Content = content
	}

	switch req.Format {
	case FormatMarkdown:
		return &Result{
			Data:     []byte(mindmap.Markdown(info.Content)),
			Filename: mindmap.FileStem(info.Content) + ".md",
			MimeType: "text/markdown; charset=utf-8",
		}, nil
	case FormatPDF:
		data := TemplateData{
			Title:     info.Title,
			Root:      info.Content,
			Owner:     info.OwnerName,
			UpdatedAt: info.UpdatedAt,
		}
		if req.IncludeComments {
			comments, err := s.store.ListCommentInfo(ctx, req.MapID)
			if err != nil {
				return nil, fmt.Errorf("list comments: %w", err)
			}
			data.Comments = templateComments(info.Content, comments)
		}
		html, err := RenderMapHTML(data)
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		pdf, err := s.pdf(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{
			Data:     pdf,
			Filename: mindmap.FileStem(info.Content) + ".pdf",
			MimeType: "application/pdf",
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}

func templateComments(tree mindmap.Node, comments []CommentInfo) []TemplateComment {
	out := make([]TemplateComment, 0, len(comments))
	for _, c := range comments {
		label := c.NodeID
		if node, ok := mindmap.Find(tree, c.NodeID); ok {
			label = node.Text
		}
		out = append(out, TemplateComment{Node: label, Text: c.Text, Author: c.Author, CreatedAt: c.CreatedAt})
	}
	return out
}
