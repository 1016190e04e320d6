package config

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"go.viam.com/pcdgrasp/logging"
)

// Read reads a YAML or JSON config from filePath and validates it. The format follows the file
// extension.
func Read(filePath string, logger logging.Logger) (*Config, error) {
	//nolint:gosec
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			logger.Warnw("failed to close config file", "path", filePath, "error", closeErr)
		}
	}()
	return FromReader(filePath, f, logger)
}

// FromReader reads a config from r. originalPath picks the format by extension and anchors
// relative paths in the config.
func FromReader(originalPath string, r io.Reader, logger logging.Logger) (*Config, error) {
	raw := map[string]interface{}{}
	switch ext := strings.ToLower(filepath.Ext(originalPath)); ext {
	case ".yaml", ".yml":
		if err := yaml.NewDecoder(r).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, errors.Wrapf(err, "failed to decode Config from yaml")
		}
	case ".json":
		if err := json.NewDecoder(r).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, errors.Wrapf(err, "failed to decode Config from json")
		}
	default:
		return nil, errors.Errorf("unsupported config format %q, expected .yaml, .yml or .json", ext)
	}

	cfg, err := fromMap(raw)
	if err != nil {
		return nil, err
	}
	if originalPath != "" {
		abs, err := filepath.Abs(originalPath)
		if err != nil {
			return nil, err
		}
		cfg.ConfigFilePath = abs
	}
	if err := cfg.Validate("config"); err != nil {
		return nil, err
	}
	logger.Debugw("read config", "path", cfg.ConfigFilePath, "reference_cloud", cfg.ReferenceCloud)
	return cfg, nil
}

// fromMap overlays raw onto the defaults. Unknown keys are errors.
func fromMap(raw map[string]interface{}) (*Config, error) {
	cfg := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      cfg,
		ErrorUnused: true,
		DecodeHook:  mapstructure.DecodeHookFuncType(decodeMatrixSource),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, errors.Wrap(err, "failed to decode Config")
	}
	return cfg, nil
}
