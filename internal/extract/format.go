// Package extract turns materialized artifacts into plain text, choosing an
// extractor by filename suffix.
package extract

import (
	"path"
	"strings"
)

// Format is a text extraction route.
type Format string

const (
	FormatPDF         Format = "pdf"
	FormatWord        Format = "word"
	FormatImage       Format = "image"
	FormatSpreadsheet Format = "spreadsheet"
	FormatText        Format = "text"
)

var suffixes = map[string]Format{
	".pdf":  FormatPDF,
	".docx": FormatWord,
	".doc":  FormatWord,
	".jpg":  FormatImage,
	".jpeg": FormatImage,
	".png":  FormatImage,
	".xlsx": FormatSpreadsheet,
	".xls":  FormatSpreadsheet,
}

// FormatFor picks the route for filename. Matching is case-insensitive and
// anything unrecognized falls back to plain text.
func FormatFor(filename string) Format {
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(filename, `\`, "/")))
	if f, ok := suffixes[ext]; ok {
		return f
	}
	return FormatText
}

// ImageMimeType returns the MIME type for an image filename.
func ImageMimeType(filename string) string {
	if strings.HasSuffix(strings.ToLower(filename), ".png") {
		return "image/png"
	}
	return "image/jpeg"
}
