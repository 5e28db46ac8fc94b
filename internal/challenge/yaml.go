package challenge

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlTemplate mirrors Template's YAML-facing fields. GroundTruth is split
// out because Template embeds it without yaml tags (ground_truth is opaque
// to validators written in Go, but operators may still want to supply one).
type yamlTemplate struct {
	Template    `yaml:",inline"`
	GroundTruth *struct {
		Exists bool   `yaml:"exists"`
		Value  string `yaml:"value"`
	} `yaml:"ground_truth,omitempty"`
}

type yamlFile struct {
	Templates []yamlTemplate `yaml:"templates"`
}

// LoadYAML reads an operator-supplied template set from path, falling back
// to the code-defined default set if path is empty (SPEC_FULL.md §10.5).
func LoadYAML(path string) ([]Template, error) {
	if path == "" {
		return defaultTemplates, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template file: %w", err)
	}

	var f yamlFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse template file: %w", err)
	}
	if len(f.Templates) == 0 {
		return defaultTemplates, nil
	}

	out := make([]Template, 0, len(f.Templates))
	for _, yt := range f.Templates {
		tpl := yt.Template
		if yt.GroundTruth != nil {
			tpl.GroundTruth = GroundTruth{Exists: yt.GroundTruth.Exists, Value: yt.GroundTruth.Value}
		}
		out = append(out, tpl)
	}
	return out, nil
}
