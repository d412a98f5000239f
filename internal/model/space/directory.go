package space

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Marker prefixes a space name when users mention one in free text.
const Marker = "@"

// Directory exposes space lookup for the turn handler.
type Directory interface {
	// Resolve scans text for a marked space name ("@Name", case-insensitive)
	// and returns the id of the first registered match.
	Resolve(text string) (string, bool)
	// NameOf maps a space id back to its registered name.
	NameOf(id string) (string, bool)
	List() []Space
}

// StaticDirectory implements Directory over an ordered, immutable slice.
// Registration order matters: Resolve returns the first match, not the best.
type StaticDirectory struct {
	items []Space
}

// NewStaticDirectory returns a StaticDirectory preloaded with the supplied spaces.
func NewStaticDirectory(items []Space) *StaticDirectory {
	return &StaticDirectory{items: append([]Space(nil), items...)}
}

// LoadDirectory reads the name->id mapping file. The file is a YAML mapping;
// document order is preserved so that first-registered-wins stays stable.
func LoadDirectory(path string) (*StaticDirectory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spaces file: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse spaces file %s: %w", path, err)
	}
	if len(doc.Content) == 0 {
		return NewStaticDirectory(nil), nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("spaces file %s: expected a mapping of name to id", path)
	}

	items := make([]Space, 0, len(root.Content)/2)
	seen := make(map[string]struct{}, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		id := root.Content[i+1].Value
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("spaces file %s: duplicate space name %q", path, name)
		}
		seen[key] = struct{}{}
		items = append(items, Space{Name: name, ID: id})
	}

	return NewStaticDirectory(items), nil
}

// Resolve looks for "@name" as a case-insensitive substring of text.
func (d *StaticDirectory) Resolve(text string) (string, bool) {
	lowered := strings.ToLower(text)
	for _, item := range d.items {
		if strings.Contains(lowered, Marker+strings.ToLower(item.Name)) {
			return item.ID, true
		}
	}
	return "", false
}

// NameOf looks up the registered name for a space id.
func (d *StaticDirectory) NameOf(id string) (string, bool) {
	for _, item := range d.items {
		if item.ID == id {
			return item.Name, true
		}
	}
	return "", false
}

// List returns the registered spaces in registration order.
func (d *StaticDirectory) List() []Space {
	return append([]Space(nil), d.items...)
}

// NotFoundMessage is the user-facing reply for an unresolved space mention.
func NotFoundMessage(d Directory) string {
	names := make([]string, 0)
	for _, item := range d.List() {
		names = append(names, Marker+item.Name)
	}
	return fmt.Sprintf("Genie space not found. Please use %s to specify the space.", strings.Join(names, ", "))
}
