package ingest

import (
	"archive/zip"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tidwall/jsonc"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func parseText(ctx context.Context, path string) ([]schema.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return documentloaders.NewText(f).Load(ctx)
}

func parseCSV(ctx context.Context, path string) ([]schema.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return documentloaders.NewCSV(f).Load(ctx)
}

func parsePDF(ctx context.Context, path string) ([]schema.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return documentloaders.NewPDF(f, info.Size()).Load(ctx)
}

// parseMarkdown extracts plain text from the goldmark AST, dropping
// markup while keeping block structure as line breaks.
func parseMarkdown(_ context.Context, path string) ([]schema.Document, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	root := goldmark.New().Parser().Parse(gmtext.NewReader(src))

	var b strings.Builder
	err = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte('\n')
				}
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(src))
				}
			}
		default:
			if !entering && n.Type() == ast.TypeBlock {
				b.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}

	content := strings.TrimSpace(b.String())
	if content == "" {
		return nil, nil
	}
	return []schema.Document{{PageContent: content}}, nil
}

// parseJSON normalizes the file through a tolerant JSON pass (comments
// and trailing commas allowed) and uses the whole document as one record.
func parseJSON(_ context.Context, path string) ([]schema.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	normalized := jsonc.ToJSON(raw)
	if !json.Valid(normalized) {
		return nil, fmt.Errorf("not valid JSON: %s", path)
	}
	return []schema.Document{{PageContent: string(normalized)}}, nil
}

// parseXLSX produces one record per sheet, cells joined by ", " and
// rows by newlines.
func parseXLSX(_ context.Context, path string) ([]schema.Document, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var docs []schema.Document
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("reading sheet %s: %w", sheet, err)
		}

		var b strings.Builder
		for _, row := range rows {
			b.WriteString(strings.Join(row, ", "))
			b.WriteByte('\n')
		}
		content := strings.TrimSpace(b.String())
		if content == "" {
			continue
		}
		docs = append(docs, schema.Document{
			PageContent: content,
			Metadata:    map[string]any{"sheet": sheet},
		})
	}
	return docs, nil
}

// parseDOCX extracts paragraph text from the OOXML body. A .docx file
// is a zip archive; the document body is a single XML stream under
// word/document.xml with text runs in <w:t> elements.
func parseDOCX(_ context.Context, path string) ([]schema.Document, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var body io.ReadCloser
	for _, f := range r.File {
		if f.Name == "word/document.xml" {
			body, err = f.Open()
			if err != nil {
				return nil, err
			}
			break
		}
	}
	if body == nil {
		return nil, errors.New("no word/document.xml in archive")
	}
	defer body.Close()

	decoder := xml.NewDecoder(body)
	var b strings.Builder
	inText := false
	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decoding document body: %w", err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local == "t" {
				inText = true
			}
		case xml.CharData:
			if inText {
				b.Write(el)
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		}
	}

	content := strings.TrimSpace(b.String())
	if content == "" {
		return nil, nil
	}
	return []schema.Document{{PageContent: content}}, nil
}
