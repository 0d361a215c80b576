package persona

import (
	_ "embed"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed personas.yaml
var defaultCatalogYAML []byte

// RoleTemplate is the static identity a token's roleId selects.
type RoleTemplate struct {
	ID        int    `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Style     string `json:"style" yaml:"style"`
	Expertise string `json:"expertise" yaml:"expertise"`
}

// TraitPools holds the secondary trait tables indexed by seed windows.
type TraitPools struct {
	Tones        []string `yaml:"tones"`
	Verbosity    []string `yaml:"verbosity"`
	Catchphrases []string `yaml:"catchphrases"`
	EmojiLevels  []string `yaml:"emojiLevels"`
}

// Catalog is the persona content loaded once at startup.
type Catalog struct {
	Roles  []RoleTemplate `yaml:"roles"`
	Traits TraitPools     `yaml:"traits"`
}

// ParseCatalog decodes and validates YAML catalog content.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse persona catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadCatalog reads a catalog from path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read persona catalog: %w", err)
	}
	return ParseCatalog(data)
}

var (
	defaultCatalog *Catalog
	defaultOnce    sync.Once
)

// DefaultCatalog returns the embedded catalog. The embedded file is part of
// the binary, so a parse failure is a build defect and panics.
func DefaultCatalog() *Catalog {
	defaultOnce.Do(func() {
		c, err := ParseCatalog(defaultCatalogYAML)
		if err != nil {
			panic(err)
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

func (c *Catalog) validate() error {
	if len(c.Roles) == 0 {
		return fmt.Errorf("persona catalog has no roles")
	}
	pools := map[string][]string{
		"tones":        c.Traits.Tones,
		"verbosity":    c.Traits.Verbosity,
		"catchphrases": c.Traits.Catchphrases,
		"emojiLevels":  c.Traits.EmojiLevels,
	}
	for name, pool := range pools {
		if len(pool) == 0 {
			return fmt.Errorf("persona catalog pool %q is empty", name)
		}
	}
	return nil
}

// Role looks up a template by id, falling back to the first one.
func (c *Catalog) Role(id int) RoleTemplate {
	for _, r := range c.Roles {
		if r.ID == id {
			return r
		}
	}
	return c.Roles[0]
}
