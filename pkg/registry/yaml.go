package registry

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// YAMLSource loads a whole catalog (agents and skills) from one YAML file:
//
//	agents:
//	  - name: debug-test-failure
//	    category: quality
//	    triggers: ["tests are failing", "pytest"]
//	    ...
//	skills:
//	  - name: log-analysis
//	    description: Reads CI logs
type YAMLSource struct {
	Path string
}

// Name implements Source
func (s YAMLSource) Name() string {
	return "yaml:" + s.Path
}

// Load implements Source
func (s YAMLSource) Load(context.Context) (*Catalog, error) {
	content, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read catalog file '%s'", s.Path)
	}
	return ParseYAMLCatalog(content, s.Path)
}

// ParseYAMLCatalog decodes a YAML catalog document. path is recorded on each agent.
func ParseYAMLCatalog(content []byte, path string) (*Catalog, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, errors.Wrap(err, "invalid YAML catalog")
	}

	var catalog Catalog
	if err := decodeRecord(doc, &catalog); err != nil {
		return nil, err
	}
	for i := range catalog.Agents {
		catalog.Agents[i].Path = path
	}
	return &catalog, nil
}
