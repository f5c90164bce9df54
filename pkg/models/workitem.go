package models

import "fmt"

// WorkItem is one unit of content to be produced, identified by a stable
// unique ID. Every key of the source record other than id, category and
// description lands in Metadata and is passed through to the producer
// untouched.
type WorkItem struct {
	ID          string         `yaml:"id" json:"id"`
	Category    string         `yaml:"category" json:"category"`
	Description string         `yaml:"description" json:"description"`
	Metadata    map[string]any `yaml:",inline" json:"metadata,omitempty"`
}

// MetadataString returns the metadata value for key formatted as a string,
// or "" when the key is absent.
func (w WorkItem) MetadataString(key string) string {
	v, ok := w.Metadata[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
