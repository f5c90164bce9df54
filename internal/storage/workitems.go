package storage

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/valter-silva-au/ralph/pkg/models"
	"gopkg.in/yaml.v3"
)

// idPattern restricts IDs to characters that are safe in a file name, since
// every ID names exactly one artifact on disk.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidID reports whether id can be used as a work item identifier.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// WorkItemStore is an immutable, ID-keyed collection of work items loaded
// once from a YAML or JSON document. Source order is preserved.
type WorkItemStore struct {
	source string
	items  []models.WorkItem
	index  map[string]int
}

// LoadWorkItemStore reads and parses the work item document at path.
func LoadWorkItemStore(path string) (*WorkItemStore, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: configured store path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("loading work items: %s does not exist: %w", path, err)
		}
		return nil, fmt.Errorf("loading work items: %w", err)
	}
	return ParseWorkItems(data, path)
}

// ParseWorkItems parses a work item document. The document is either a
// sequence of records or a mapping whose "items" key holds that sequence.
// JSON input is accepted since it is valid YAML. Duplicate IDs reject the
// whole document.
func ParseWorkItems(data []byte, source string) (*WorkItemStore, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &MalformedStoreError{Source: source, Reason: "parsing document", Err: err}
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, &MalformedStoreError{Source: source, Reason: "document is empty"}
	}

	seq, err := itemSequence(root.Content[0], source)
	if err != nil {
		return nil, err
	}

	s := &WorkItemStore{
		source: source,
		items:  make([]models.WorkItem, 0, len(seq.Content)),
		index:  make(map[string]int, len(seq.Content)),
	}
	for i, node := range seq.Content {
		if node.Kind != yaml.MappingNode {
			return nil, &MalformedStoreError{Source: source, Reason: fmt.Sprintf("record %d (line %d) is not a mapping", i, node.Line)}
		}
		var item models.WorkItem
		if err := node.Decode(&item); err != nil {
			return nil, &MalformedStoreError{Source: source, Reason: fmt.Sprintf("decoding record %d (line %d)", i, node.Line), Err: err}
		}
		item.ID = strings.TrimSpace(item.ID)
		if item.ID == "" {
			return nil, &MalformedStoreError{Source: source, Reason: fmt.Sprintf("record %d (line %d) has no id", i, node.Line)}
		}
		if !ValidID(item.ID) {
			return nil, &MalformedStoreError{Source: source, Reason: fmt.Sprintf("record %d has invalid id %q", i, item.ID)}
		}
		if first, dup := s.index[item.ID]; dup {
			return nil, &DuplicateIDError{Source: source, ID: item.ID, First: first, Second: i}
		}
		if len(item.Metadata) == 0 {
			item.Metadata = nil
		}
		s.index[item.ID] = len(s.items)
		s.items = append(s.items, item)
	}
	return s, nil
}

func itemSequence(doc *yaml.Node, source string) (*yaml.Node, error) {
	switch doc.Kind {
	case yaml.SequenceNode:
		return doc, nil
	case yaml.MappingNode:
		for i := 0; i+1 < len(doc.Content); i += 2 {
			if doc.Content[i].Value != "items" {
				continue
			}
			val := doc.Content[i+1]
			if val.Kind != yaml.SequenceNode {
				return nil, &MalformedStoreError{Source: source, Reason: `"items" is not a list`}
			}
			return val, nil
		}
		return nil, &MalformedStoreError{Source: source, Reason: `no "items" list found`}
	default:
		return nil, &MalformedStoreError{Source: source, Reason: "top level must be a list or a mapping with an items list"}
	}
}

// Source returns where the store was loaded from.
func (s *WorkItemStore) Source() string {
	return s.source
}

// Get returns the item for id. A missing id yields *UnknownIDError.
func (s *WorkItemStore) Get(id string) (models.WorkItem, error) {
	i, ok := s.index[id]
	if !ok {
		return models.WorkItem{}, &UnknownIDError{ID: id, Where: "work item store " + s.source}
	}
	return s.items[i], nil
}

// Has reports whether id is present.
func (s *WorkItemStore) Has(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Items returns a copy of all items in source order.
func (s *WorkItemStore) Items() []models.WorkItem {
	out := make([]models.WorkItem, len(s.items))
	copy(out, s.items)
	return out
}

// Len returns the number of loaded items.
func (s *WorkItemStore) Len() int {
	return len(s.items)
}

// Categories returns the number of items per category. Items without a
// category are counted under "".
func (s *WorkItemStore) Categories() map[string]int {
	counts := make(map[string]int)
	for _, item := range s.items {
		counts[item.Category]++
	}
	return counts
}
