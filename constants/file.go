package constants

import "strings"

// Content types understood by the document loader.
const (
	ContentTypeText     = "text/plain"
	ContentTypeMarkdown = "text/markdown"
	ContentTypeCSV      = "text/csv"
	ContentTypeHTML     = "text/html"
	ContentTypePDF      = "application/pdf"
	ContentTypeUnknown  = "application/octet-stream"
)

// DocumentFormat groups content types by how they are converted to text.
type DocumentFormat string

const (
	FormatText        DocumentFormat = "TEXT"
	FormatPDF         DocumentFormat = "PDF"
	FormatHTML        DocumentFormat = "HTML"
	FormatUnsupported DocumentFormat = ""
)

var contentTypeFormats = map[string]DocumentFormat{
	ContentTypeText:     FormatText,
	ContentTypeMarkdown: FormatText,
	ContentTypeCSV:      FormatText,
	ContentTypeHTML:     FormatHTML,
	ContentTypePDF:      FormatPDF,
}

// AllowedExtensions holds the file extensions picked up by the watch-folder ingester.
var AllowedExtensions = map[string]string{
	"txt":      ContentTypeText,
	"md":       ContentTypeMarkdown,
	"markdown": ContentTypeMarkdown,
	"csv":      ContentTypeCSV,
	"html":     ContentTypeHTML,
	"htm":      ContentTypeHTML,
	"pdf":      ContentTypePDF,
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// NormalizeContentType drops parameters (e.g. "; charset=utf-8") and lowercases.
func NormalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// MapContentTypeToFormat returns FormatUnsupported for anything the loader cannot convert.
func MapContentTypeToFormat(ct string) DocumentFormat {
	return contentTypeFormats[NormalizeContentType(ct)]
}

// ContentTypeForExt maps a file extension to a content type, or "" if unknown.
func ContentTypeForExt(ext string) string {
	return AllowedExtensions[NormalizeExt(ext)]
}
