package feeders

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// TomlFeeder is a feeder that reads a TOML file into a configuration map.
type TomlFeeder struct {
	Path string
}

// NewTomlFeeder creates a new TomlFeeder that reads from the specified
// TOML file.
func NewTomlFeeder(filePath string) TomlFeeder {
	return TomlFeeder{Path: filePath}
}

// Feed reads the TOML file and merges its tables into target.
func (t TomlFeeder) Feed(target map[string]interface{}) error {
	var data map[string]interface{}
	if _, err := toml.DecodeFile(t.Path, &data); err != nil {
		return fmt.Errorf("failed to parse TOML file %s: %w", t.Path, err)
	}

	mergeMaps(target, data)
	return nil
}
