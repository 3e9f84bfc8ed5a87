// Package citation defines the shared contract between a bot answer and the
// source documents that back it.
package citation

import (
	"net/url"
	"regexp"
	"strings"
)

// Source points at one retrievable document together with the extracted
// passages that support an answer. Chunks keep the order the answer service
// produced them in; that order is display order, not necessarily document
// order.
type Source struct {
	Filename string  `json:"filename"`
	Chunks   []Chunk `json:"chunks"`
}

// Chunk is one extracted passage, optionally tagged with its source lines.
type Chunk struct {
	Text  string     `json:"text"`
	Lines *LineRange `json:"lines,omitempty"`
}

type LineRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

var versionSuffix = regexp.MustCompile(`(?i)~\d+\.pdf$`)

// DisplayName cleans the raw identifier for presentation: the store's ~N
// version suffix is dropped and underscores become spaces. The raw Filename
// stays authoritative for retrieval.
func (s Source) DisplayName() string {
	name := versionSuffix.ReplaceAllString(s.Filename, ".pdf")
	return strings.ReplaceAll(name, "_", " ")
}

// DownloadQuery returns the server-relative retrieval address for the
// unmodified identifier.
func (s Source) DownloadQuery() string {
	return "/api/download?file=" + url.QueryEscape(s.Filename)
}

// Preview shortens the chunk text for list display.
func (c Chunk) Preview(max int) string {
	if max <= 0 || len(c.Text) <= max {
		return c.Text
	}
	return c.Text[:max] + "..."
}
