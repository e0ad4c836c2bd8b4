package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed sample_bots.yaml
var sampleCatalog []byte

// Load reads a catalog from a YAML or JSON file. An empty path loads the
// bundled sample catalog.
func Load(path string) ([]Bot, error) {
	data := sampleCatalog
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
	}
	return Parse(data)
}

// Parse decodes a catalog document. Every bot needs a unique, non-empty id.
func Parse(data []byte) ([]Bot, error) {
	var bots []Bot
	if err := yaml.Unmarshal(data, &bots); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	seen := make(map[string]struct{}, len(bots))
	for i, b := range bots {
		if b.ID == "" {
			return nil, fmt.Errorf("catalog entry %d has no id", i)
		}
		if _, dup := seen[b.ID]; dup {
			return nil, fmt.Errorf("duplicate bot id %q", b.ID)
		}
		seen[b.ID] = struct{}{}
	}
	if bots == nil {
		bots = []Bot{}
	}
	return bots, nil
}
