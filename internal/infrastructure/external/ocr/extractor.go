// Package ocr extracts text from uploaded authorization documents.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"

	"github.com/garyjia/prior-auth/internal/application/port"
	"github.com/garyjia/prior-auth/internal/domain/entity"
)

// ErrUnsupportedDocument is returned for files the extractor cannot read
var ErrUnsupportedDocument = errors.New("unsupported document type")

// Config holds extractor limits
type Config struct {
	MaxPages int `mapstructure:"max_pages"`
}

// Extractor implements port.TextExtractor using mupdf through go-fitz.
// Plain text uploads are returned as they are.
type Extractor struct {
	storage  port.DocumentStorage
	maxPages int
	logger   *zap.Logger
}

// NewExtractor creates a new text extractor reading files from storage
func NewExtractor(storage port.DocumentStorage, cfg Config, logger *zap.Logger) *Extractor {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 20
	}
	return &Extractor{
		storage:  storage,
		maxPages: cfg.MaxPages,
		logger:   logger,
	}
}

// ExtractText reads the stored file of doc and returns its text
func (e *Extractor) ExtractText(ctx context.Context, doc entity.Document) (*port.OCRResult, error) {
	if doc.StoragePath == "" {
		return nil, fmt.Errorf("document %s has no stored file", doc.ID)
	}

	content, err := e.storage.Read(ctx, doc.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", doc.ID, err)
	}

	switch documentKind(doc) {
	case kindText:
		return &port.OCRResult{Text: string(content), PageCount: 1}, nil
	case kindPDF, kindImage:
		return e.extractWithFitz(ctx, doc, content)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDocument, doc.FileName)
	}
}

func (e *Extractor) extractWithFitz(ctx context.Context, doc entity.Document, content []byte) (*port.OCRResult, error) {
	fd, err := fitz.NewFromMemory(content)
	if err != nil {
		e.logger.Error("Failed to open document",
			zap.String("document_id", doc.ID),
			zap.String("file_name", doc.FileName),
			zap.Error(err))
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	defer fd.Close()

	pageCount := fd.NumPage()
	pages := pageCount
	if pages > e.maxPages {
		pages = e.maxPages
	}

	var sb strings.Builder
	for page := 0; page < pages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := fd.Text(page)
		if err != nil {
			e.logger.Warn("Failed to extract page text",
				zap.String("document_id", doc.ID),
				zap.Int("page", page),
				zap.Error(err))
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(strings.TrimSpace(text))
	}

	e.logger.Debug("Extracted document text",
		zap.String("document_id", doc.ID),
		zap.Int("pages", pageCount),
		zap.Int("chars", sb.Len()))

	return &port.OCRResult{Text: sb.String(), PageCount: pageCount}, nil
}

type kind int

const (
	kindUnknown kind = iota
	kindText
	kindPDF
	kindImage
)

func documentKind(doc entity.Document) kind {
	switch strings.ToLower(doc.MimeType) {
	case "text/plain":
		return kindText
	case "application/pdf":
		return kindPDF
	case "image/png", "image/jpeg":
		return kindImage
	}

	switch strings.ToLower(filepath.Ext(doc.FileName)) {
	case ".txt":
		return kindText
	case ".pdf":
		return kindPDF
	case ".png", ".jpg", ".jpeg":
		return kindImage
	}
	return kindUnknown
}

var _ port.TextExtractor = (*Extractor)(nil)
