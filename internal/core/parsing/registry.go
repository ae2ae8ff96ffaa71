// Package parsing holds the parser plugin registry and file kind detection.
package parsing

import (
	"bytes"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
)

// Registry is immutable after construction.
type Registry struct {
	parsers []ports.Parser
	byID    map[string]ports.Parser
}

func NewRegistry(parsers ...ports.Parser) (*Registry, error) {
	r := &Registry{byID: make(map[string]ports.Parser, len(parsers))}
	for _, p := range parsers {
		id := p.Descriptor().ID
		if id == "" {
			return nil, fmt.Errorf("parser without id")
		}
		if _, exists := r.byID[id]; exists {
			return nil, fmt.Errorf("parser %s registered twice", id)
		}
		r.byID[id] = p
		r.parsers = append(r.parsers, p)
	}
	sort.SliceStable(r.parsers, func(i, j int) bool {
		return r.parsers[i].Descriptor().ID < r.parsers[j].Descriptor().ID
	})
	return r, nil
}

func (r *Registry) Get(id string) (ports.Parser, bool) {
	p, ok := r.byID[id]
	return p, ok
}

func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.parsers))
	for _, p := range r.parsers {
		out = append(out, p.Descriptor().ID)
	}
	return out
}

func (r *Registry) Descriptors() []ports.ParserDescriptor {
	out := make([]ports.ParserDescriptor, 0, len(r.parsers))
	for _, p := range r.parsers {
		out = append(out, p.Descriptor())
	}
	return out
}

// ForKind lists parsers able to read kind, in id order.
func (r *Registry) ForKind(kind domain.FileKind) []ports.Parser {
	out := make([]ports.Parser, 0, 4)
	for _, p := range r.parsers {
		if p.Descriptor().Supports(kind) {
			out = append(out, p)
		}
	}
	return out
}

// ForKindAndDocType returns the parser that reads kind into docType, if any.
func (r *Registry) ForKindAndDocType(kind domain.FileKind, docType domain.DocType) (ports.Parser, bool) {
	for _, p := range r.ForKind(kind) {
		if p.Descriptor().DocType == docType {
			return p, true
		}
	}
	return nil, false
}

var (
	magicPDF  = []byte("%PDF")
	magicZIP  = []byte("PK\x03\x04")
	magicPNG  = []byte("\x89PNG")
	magicJPEG = []byte("\xff\xd8\xff")
	magicGIF  = []byte("GIF8")
	magicTIFF = [][]byte{[]byte("II*\x00"), []byte("MM\x00*")}
	bom       = []byte("\xef\xbb\xbf")
)

// DetectKind looks at magic bytes first, then the extension, then the
// declared content type. head should hold the first few KB of the file.
func DetectKind(filename, contentType string, head []byte) domain.FileKind {
	switch {
	case bytes.HasPrefix(head, magicPDF):
		return domain.KindPDF
	case bytes.HasPrefix(head, magicZIP):
		return domain.KindXLSX
	case bytes.HasPrefix(head, magicPNG), bytes.HasPrefix(head, magicJPEG), bytes.HasPrefix(head, magicGIF):
		return domain.KindImage
	}
	for _, m := range magicTIFF {
		if bytes.HasPrefix(head, m) {
			return domain.KindImage
		}
	}

	trimmed := bytes.TrimLeft(bytes.TrimPrefix(head, bom), " \t\r\n")
	if bytes.HasPrefix(trimmed, []byte("<")) {
		return domain.KindXML
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".tsv", ".txt":
		return domain.KindCSV
	case ".xlsx", ".xlsm":
		return domain.KindXLSX
	case ".xml":
		return domain.KindXML
	case ".pdf":
		return domain.KindPDF
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".gif":
		return domain.KindImage
	}

	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if mediaType == "" && len(head) > 0 {
		mediaType = strings.Split(http.DetectContentType(head), ";")[0]
	}
	switch {
	case mediaType == "text/csv", mediaType == "text/tab-separated-values":
		return domain.KindCSV
	case strings.Contains(mediaType, "spreadsheetml"):
		return domain.KindXLSX
	case strings.HasSuffix(mediaType, "/xml"):
		return domain.KindXML
	case mediaType == "application/pdf":
		return domain.KindPDF
	case strings.HasPrefix(mediaType, "image/"):
		return domain.KindImage
	case mediaType == "text/plain" && looksDelimited(trimmed):
		return domain.KindCSV
	}
	return domain.KindUnknown
}

func looksDelimited(head []byte) bool {
	line := head
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		line = head[:i]
	}
	return bytes.ContainsAny(line, ",;\t|")
}
