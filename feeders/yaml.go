package feeders

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// YamlFeeder is a feeder that reads a YAML file into a configuration map.
type YamlFeeder struct {
	Path string
}

// NewYamlFeeder creates a new YamlFeeder that reads from the specified
// YAML file.
func NewYamlFeeder(filePath string) YamlFeeder {
	return YamlFeeder{Path: filePath}
}

// Feed reads the YAML file and merges its mapping into target. A file
// whose root is not a mapping is rejected.
func (y YamlFeeder) Feed(target map[string]interface{}) error {
	raw, err := os.ReadFile(y.Path)
	if err != nil {
		return fmt.Errorf("failed to read YAML file %s: %w", y.Path, err)
	}

	var data map[string]interface{}
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("failed to parse YAML file %s: %w", y.Path, err)
	}

	mergeMaps(target, data)
	return nil
}
