package normalize

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog describes extra vendor shapes loaded from a YAML file. Its
// matchers run after the built-in ones, so onboarding a vendor never
// changes how existing shapes resolve.
type Catalog struct {
	Matchers   []MatcherSpec `yaml:"matchers"`
	StatusKeys []string      `yaml:"status_keys"`
}

// MatcherSpec is one catalogue entry.
type MatcherSpec struct {
	Kind   string   `yaml:"kind"`
	Keys   []string `yaml:"keys"`
	Fields []string `yaml:"fields"`
	IDKeys []string `yaml:"id_keys"`
}

// ParseCatalog decodes a YAML catalogue.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing matcher catalog: %w", err)
	}
	return &c, nil
}

// LoadCatalog reads and decodes the catalogue at path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading matcher catalog: %w", err)
	}
	return ParseCatalog(data)
}

// Build converts the catalogue entries into matchers.
func (c *Catalog) Build() ([]Matcher, error) {
	matchers := make([]Matcher, 0, len(c.Matchers))
	for i, spec := range c.Matchers {
		switch spec.Kind {
		case "flat_key":
			if len(spec.Keys) == 0 {
				return nil, fmt.Errorf("matcher %d: flat_key needs keys", i)
			}
			matchers = append(matchers, FlatKey{Keys: spec.Keys})
		case "nested_object":
			if len(spec.Fields) == 0 || len(spec.IDKeys) == 0 {
				return nil, fmt.Errorf("matcher %d: nested_object needs fields and id_keys", i)
			}
			matchers = append(matchers, NestedObject{Fields: spec.Fields, IDKeys: spec.IDKeys})
		case "nested_string":
			if len(spec.Fields) == 0 {
				return nil, fmt.Errorf("matcher %d: nested_string needs fields", i)
			}
			matchers = append(matchers, NestedString{Fields: spec.Fields})
		default:
			return nil, fmt.Errorf("matcher %d: unknown kind %q", i, spec.Kind)
		}
	}
	return matchers, nil
}

// FromCatalog returns the default normalizer extended with the catalogue.
func FromCatalog(c *Catalog) (*Normalizer, error) {
	extra, err := c.Build()
	if err != nil {
		return nil, err
	}
	n := New().With(extra...)
	n.statusKeys = append(append([]string(nil), n.statusKeys...), c.StatusKeys...)
	return n, nil
}
