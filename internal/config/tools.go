package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/n0madic/go-turnkit/internal/types"
)

// LoadTools reads tool declarations from a YAML or JSON file. The file holds
// either a list of tools or a mapping with a "tools" key.
func LoadTools(path string) ([]types.Tool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tools file %s: %w", path, err)
	}
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &root); err != nil {
		return nil, fmt.Errorf("parse tools file %s: %w", path, err)
	}
	if len(root.Content) == 0 {
		return nil, nil
	}
	doc := root.Content[0]

	var tools []types.Tool
	switch doc.Kind {
	case yaml.SequenceNode:
		err = doc.Decode(&tools)
	case yaml.MappingNode:
		var wrapped struct {
			Tools []types.Tool `yaml:"tools"`
		}
		err = doc.Decode(&wrapped)
		tools = wrapped.Tools
	default:
		return nil, fmt.Errorf("parse tools file %s: expected a list or a mapping", path)
	}
	if err != nil {
		return nil, fmt.Errorf("decode tools file %s: %w", path, err)
	}
	for i := range tools {
		if tools[i].Type == "" {
			tools[i].Type = "function"
		}
		if tools[i].Type == "function" && tools[i].Name == "" {
			return nil, fmt.Errorf("tools file %s: tool %d has no name", path, i)
		}
	}
	return tools, nil
}
