package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/ghostline/internal/config"
	"github.com/danmuck/ghostline/internal/ghost"
	"github.com/rs/zerolog"
)

// loadFile decodes path over the default document. Unknown keys are
// reported, not fatal; `ghostctl config validate` is the strict check.
func loadFile(path string, log zerolog.Logger) (config.File, error) {
	cfg := config.Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return config.File{}, fmt.Errorf("load ghostline config: %w", err)
	}
	for _, key := range meta.Undecoded() {
		log.Warn().Str("key", key.String()).Str("path", path).Msg("ghostctl.config unknown key ignored")
	}

	// A [updates] table that names an endpoint opts in unless enabled is
	// spelled out.
	if !meta.IsDefined("updates", "enabled") &&
		(meta.IsDefined("updates", "pull_url") || meta.IsDefined("updates", "post_url")) {
		cfg.Updates.Enabled = true
	}
	if meta.IsDefined("kinds") {
		cfg.Kinds = normalizeKinds(cfg.Kinds)
	}
	if meta.IsDefined("id") && strings.TrimSpace(cfg.ID) == "" {
		return config.File{}, fmt.Errorf("%w: id must not be blank", config.ErrInvalidConfig)
	}
	return cfg, nil
}

// loadServiceConfig resolves the runtime config. A missing file is only
// tolerated when the path was not given explicitly.
func loadServiceConfig(path string, explicit bool, log zerolog.Logger) (ghost.ServiceConfig, error) {
	f := config.Default()
	if _, err := os.Stat(path); err == nil || explicit {
		loaded, err := loadFile(path, log)
		if err != nil {
			return ghost.ServiceConfig{}, err
		}
		f = loaded
	} else if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("path", path).Msg("ghostctl.config not found, using defaults")
	}

	cfg, err := config.ServiceConfig(f)
	if err != nil {
		return ghost.ServiceConfig{}, err
	}
	cfg.Version = version
	cfg.Updates.Version = version
	cfg.Logger = log
	return cfg, nil
}

func normalizeKinds(in []string) []string {
	out := make([]string, 0, len(in))
	for _, kind := range in {
		v := strings.TrimSpace(kind)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
