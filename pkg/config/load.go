package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and validates a Config from a TOML file at path.
func Load(path string) (Config, error) {
	var c Config
	meta, err := toml.DecodeFile(path, &c)
	if err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fieldErr("(root)", "unrecognized keys in %s: %v", path, undecoded)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// LoadReader is the same as Load but decodes an in-memory TOML document,
// used by tests that don't want to touch the filesystem.
func LoadReader(data []byte) (Config, error) {
	var c Config
	meta, err := toml.Decode(string(data), &c)
	if err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fieldErr("(root)", "unrecognized keys: %v", undecoded)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// MustExist is a small boundary helper used by the CLI to produce a clean
// error message when the config path itself does not exist, rather than
// letting the TOML decoder's os.Open error surface directly.
func MustExist(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}
