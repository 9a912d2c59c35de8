package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	DEFAULT_GITHUB_API    = "https://api.github.com"
	DEFAULT_GITHUB_WEB    = "https://github.com"
	DEFAULT_CORE_MODS_URL = "https://raw.githubusercontent.com/QuestPackageManager/bs-coremods/main/core_mods.json"
	DEFAULT_COVER_SIZE    = 512
)

// Config holds everything derived from the environment at startup.
// Components are handed the values they need, nothing reads the environment after this.
type Config struct {
	Root             string `mapstructure:"QMODS_ROOT"`
	GithubToken      string `mapstructure:"GITHUB_TOKEN"`
	GithubRepository string `mapstructure:"GITHUB_REPOSITORY"`
	CoreModsURL      string `mapstructure:"QMODS_CORE_MODS_URL"`
	CoverSize        int    `mapstructure:"QMODS_COVER_SIZE"`

	GithubAPI string `mapstructure:"-"`
	GithubWeb string `mapstructure:"-"`

	// public url prefix used for generated links, "--baseHref"
	BaseHref string `mapstructure:"-"`

	Paths Paths `mapstructure:"-"`
}

type Paths struct {
	Mods           string // contributor records, mods/<game-version>/<id>-<version>.json
	Public         string // website web root
	Covers         string // optimized covers, <hash>.png
	OriginalCovers string // original covers, <hash>.<ext>
	Archives       string // local archive cache, <game-version>/<id>-<version>.qmod
	Metadata       string // sha1sums.json
	Funding        string // funding-info.json
	AllMods        string // mods.json
	GroupedMods    string // mods-grouped.json
	Versions       string // versions.json
	ImportedCores  string // mods/imported.json
}

func derive_paths(root string) Paths {
	public := filepath.Join(root, "website", "public")
	covers := filepath.Join(public, "covers")
	mods := filepath.Join(root, "mods")
	return Paths{
		Mods:           mods,
		Public:         public,
		Covers:         covers,
		OriginalCovers: filepath.Join(covers, "originals"),
		Archives:       filepath.Join(root, "scripts", "qmods"),
		Metadata:       filepath.Join(public, "sha1sums.json"),
		Funding:        filepath.Join(public, "funding-info.json"),
		AllMods:        filepath.Join(public, "mods.json"),
		GroupedMods:    filepath.Join(public, "mods-grouped.json"),
		Versions:       filepath.Join(public, "versions.json"),
		ImportedCores:  filepath.Join(mods, "imported.json"),
	}
}

// the base url of the mirrored archives, empty when no repository is configured.
func (c Config) MirrorBase() string {
	repo := strings.Trim(c.GithubRepository, "/ ")
	if repo == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/releases/download/mod-mirror", c.GithubWeb, repo)
}

// fills in defaults and derives paths.
func process_config_defaults(cfg *Config) {
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if cfg.CoreModsURL == "" {
		cfg.CoreModsURL = DEFAULT_CORE_MODS_URL
	}
	if cfg.CoverSize <= 0 {
		cfg.CoverSize = DEFAULT_COVER_SIZE
	}
	if cfg.GithubAPI == "" {
		cfg.GithubAPI = DEFAULT_GITHUB_API
	}
	if cfg.GithubWeb == "" {
		cfg.GithubWeb = DEFAULT_GITHUB_WEB
	}
	if cfg.BaseHref == "" {
		cfg.BaseHref = "."
	}
	cfg.BaseHref = strings.TrimRight(cfg.BaseHref, "/")
	cfg.Paths = derive_paths(cfg.Root)
}

// reads configuration from an optional .env file in `path` and the environment.
func load_config(v *viper.Viper, path string) (Config, error) {
	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")

	err := v.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		slog.Debug("no .env file found, relying on environment variables")
	} else if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	v.AutomaticEnv()
	for _, key := range []string{"QMODS_ROOT", "GITHUB_TOKEN", "GITHUB_REPOSITORY", "QMODS_CORE_MODS_URL", "QMODS_COVER_SIZE"} {
		err = v.BindEnv(key)
		if err != nil {
			slog.Warn("unable to bind env var", "key", key, "error", err)
		}
	}

	cfg := Config{}
	err = v.Unmarshal(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}

	process_config_defaults(&cfg)
	return cfg, nil
}
