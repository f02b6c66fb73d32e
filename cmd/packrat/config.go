package main

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config is the packrat.toml file. Locations use the same syntax as the
// -src/-dst flags: a plain directory path, "mem:", or "s3://host/bucket/
// prefix". If the destination lives inside the source tree, list its prefix
// in exclude so backups never archive themselves.
type Config struct {
	Source      string
	Destination string
	Staging     string // optional, restores land here instead of the source

	Passphrase string
	KDF        string // "md5" (openssl default) or "pbkdf2"

	Tombstone    bool
	OnlyNewer    bool
	MaxFiles     int
	AutoContinue bool
	SplitSize    int
	Exclude      []string

	VerifyRate float64 // bytes/sec cap for the verify sweep, 0 = none
}

func loadConfig(path string) (*Config, error) {
	var c Config
	if path == "" {
		return &c, nil
	}
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return &c, nil
}
