package export

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// PageMeta is the YAML frontmatter of a report page.
type PageMeta struct {
	Tags     []string `yaml:"tags"`
	Run      string   `yaml:"run,omitempty"`
	Scenario string   `yaml:"scenario,omitempty"`
	// Best-plan summary, set on index.md only.
	Plan  int     `yaml:"plan,omitempty"`
	Value float64 `yaml:"value,omitempty"`
}

const delim = "---\n"

// page renders meta as frontmatter followed by body. Tags are sorted.
func page(meta PageMeta, body string) string {
	meta.Tags = append([]string(nil), meta.Tags...)
	sort.Strings(meta.Tags)
	// PageMeta holds only plain fields, so marshalling cannot fail.
	fm, _ := yaml.Marshal(meta)
	var b bytes.Buffer
	b.WriteString(delim)
	b.Write(fm)
	b.WriteString(delim)
	b.WriteString("\n")
	b.WriteString(body)
	return b.String()
}

// ParsePage splits a report page into its frontmatter and body.
func ParsePage(data []byte) (PageMeta, []byte, error) {
	if !bytes.HasPrefix(data, []byte(delim)) {
		return PageMeta{}, nil, errors.New("page: missing opening --- delimiter")
	}
	rest := data[len(delim):]
	idx := bytes.Index(rest, []byte("\n---"))
	if idx < 0 {
		return PageMeta{}, nil, errors.New("page: missing closing --- delimiter")
	}
	var meta PageMeta
	if err := yaml.Unmarshal(rest[:idx+1], &meta); err != nil {
		return PageMeta{}, nil, fmt.Errorf("page: frontmatter: %w", err)
	}
	body := bytes.TrimLeft(rest[idx+len("\n---"):], "\n")
	return meta, body, nil
}

// ReadPage reads and parses the report page at path.
func ReadPage(path string) (PageMeta, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PageMeta{}, nil, err
	}
	meta, body, err := ParsePage(data)
	if err != nil {
		return PageMeta{}, nil, fmt.Errorf("%s: %w", path, err)
	}
	return meta, body, nil
}

// writeNote writes content to path, creating parent directories as needed.
func writeNote(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
