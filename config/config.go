// Package config builds a process configuration from a YAML file or
// reader (§ "Configuration"): API endpoint, app key, default packing
// choice, user agent, and capability-construction hints.
//
// Grounded on config/initconfig.go's YAML-plus-defaults pattern, trimmed
// from upspin's endpoint/factotum/flags configuration surface to this
// spec's smaller, flatter set of values — there is no per-command flag
// override table here, so the immutable-value-object approach fits
// directly without initconfig.go's chain of cfgXxx wrapper types.
package config

import (
	"io"
	"os"

	yaml "gopkg.in/yaml.v2"

	"cryptdrive.io/errors"
)

// Packing selects the default node-key/attribute cipher suite for newly
// created nodes (§4.4.1 always decrypts either representation; Packing
// only affects what a client itself writes).
type Packing string

const (
	// PackingAES128 is this client's only supported packing: AES-128
	// node keys wrapped per §4.4.1, AES-CBC/CTR file data.
	PackingAES128 Packing = "aes128"
)

// Config is the immutable process configuration.
type Config struct {
	// APIURL is the base URL for the `cs`/`sc` endpoints (§6.1), default
	// "https://g.api.mega.co.nz/".
	APIURL string `yaml:"apiurl"`

	// AppKey identifies this client to the API server per the `ak`
	// query parameter (§6.1).
	AppKey string `yaml:"appkey"`

	// Packing is the default packing for newly created nodes.
	Packing Packing `yaml:"packing"`

	// UserAgent is sent as-is in the `ua` field of login-adjacent
	// requests.
	UserAgent string `yaml:"useragent"`

	// CacheDir is where the reference DbAccess/FileSystemAccess
	// implementations keep their on-disk state.
	CacheDir string `yaml:"cachedir"`

	// DownloadWorkers/UploadWorkers size the async worker pool used
	// for the transfer engine's CPU-bound steps (§5's "async worker
	// pool").
	DownloadWorkers int `yaml:"downloadworkers"`
	UploadWorkers   int `yaml:"uploadworkers"`
}

var defaults = Config{
	APIURL:          "https://g.api.mega.co.nz/",
	Packing:         PackingAES128,
	UserAgent:       "cryptdrive-client",
	DownloadWorkers: 4,
	UploadWorkers:   4,
}

// Default returns a Config with every field set to its default value.
func Default() Config {
	return defaults
}

// FromFile reads a YAML configuration from name, applying it on top of
// the defaults.
func FromFile(name string) (Config, error) {
	const op = "config.FromFile"
	f, err := os.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, errors.E(op, errors.NotExist, err)
		}
		return Config{}, errors.E(op, err)
	}
	defer f.Close()
	return FromReader(f)
}

// FromReader parses a YAML configuration from r, applying it on top of
// the defaults. Unset fields keep their default value.
func FromReader(r io.Reader) (Config, error) {
	const op = "config.FromReader"
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, errors.E(op, err)
	}
	cfg := defaults
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.E(op, errors.Invalid, err)
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaults.APIURL
	}
	if cfg.Packing == "" {
		cfg.Packing = defaults.Packing
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	return cfg, nil
}
