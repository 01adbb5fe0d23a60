// Package config loads the optional CLI defaults file: which partition,
// inner path, and output filename to fall back to when a flag is omitted
// (spec.md §6 "CLI defaults").
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Defaults holds the CLI's fallback values. A missing config file is not an
// error; Load returns the built-in defaults below unchanged.
type Defaults struct {
	Partition  int    `mapstructure:"partition"`
	InnerPath  string `mapstructure:"inner_path"`
	DumpOutput string `mapstructure:"dump_output"`
}

func builtinDefaults() Defaults {
	return Defaults{
		Partition:  0,
		InnerPath:  `/WINDOWS/system32/notepad.exe`,
		DumpOutput: "dump.bin",
	}
}

// Load reads path (if non-empty and present) as a viper config file,
// layered on top of the built-in defaults. A missing file at a non-empty
// path is tolerated; any other read or parse failure is returned.
func Load(path string) (*Defaults, error) {
	d := builtinDefaults()
	if path == "" {
		return &d, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("partition", d.Partition)
	v.SetDefault("inner_path", d.InnerPath)
	v.SetDefault("dump_output", d.DumpOutput)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return &d, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := v.Unmarshal(&d); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return &d, nil
}
