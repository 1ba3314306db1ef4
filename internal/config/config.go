// Package config loads dashboard settings from defaults, an optional config
// file and LOADTOY_* environment variables.
package config

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const EnvPrefix = "LOADTOY"

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	K6     K6Config     `mapstructure:"k6"`
	Target TargetConfig `mapstructure:"target"`
	Pool   PoolConfig   `mapstructure:"pool"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DockerConfig struct {
	Command string `mapstructure:"command"`
	Image   string `mapstructure:"image"`
	Network string `mapstructure:"network"`
}

type K6Config struct {
	Mode              string        `mapstructure:"mode"`
	Binary            string        `mapstructure:"binary"`
	Docker            DockerConfig  `mapstructure:"docker"`
	ScriptsPath       string        `mapstructure:"scriptsPath"`
	BaseURL           string        `mapstructure:"baseURL"`
	OpenEndedDuration time.Duration `mapstructure:"openEndedDuration"`
	SummaryDir        string        `mapstructure:"summaryDir"`
	SummaryRetention  time.Duration `mapstructure:"summaryRetention"`
	KillGrace         time.Duration `mapstructure:"killGrace"`
}

type TargetConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
	// Mock serves canned target values instead of calling URL.
	Mock bool `mapstructure:"mock"`
}

type PoolConfig struct {
	Source string `mapstructure:"source"`
	DSN    string `mapstructure:"dsn"`
}

// SetDefaults registers every key so that environment overrides are picked
// up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdownTimeout", 15*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("k6.mode", "docker")
	v.SetDefault("k6.binary", "k6")
	v.SetDefault("k6.docker.command", "")
	v.SetDefault("k6.docker.image", "grafana/k6:latest")
	v.SetDefault("k6.docker.network", "load-test-net")
	v.SetDefault("k6.scriptsPath", "")
	v.SetDefault("k6.baseURL", "http://app:28080")
	v.SetDefault("k6.openEndedDuration", 24*time.Hour)
	v.SetDefault("k6.summaryDir", "")
	v.SetDefault("k6.summaryRetention", 7*24*time.Hour)
	v.SetDefault("k6.killGrace", 30*time.Second)
	v.SetDefault("target.url", "")
	v.SetDefault("target.token", "")
	v.SetDefault("target.timeout", 10*time.Second)
	v.SetDefault("target.mock", false)
	v.SetDefault("pool.source", "none")
	v.SetDefault("pool.dsn", "")
}

// Load reads path if it is set, applies the environment and resolves the
// auto-detected k6 settings.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.resolve()
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.K6.Mode {
	case "docker", "local":
	default:
		return errors.Errorf("k6.mode must be docker or local, got %q", c.K6.Mode)
	}
	switch strings.ToLower(c.Pool.Source) {
	case "", "none", "http", "mysql", "postgres":
	default:
		return errors.Errorf("pool.source must be none, http, mysql or postgres, got %q", c.Pool.Source)
	}
	if c.K6.OpenEndedDuration < time.Minute {
		return errors.Errorf("k6.openEndedDuration must be at least 1m, got %s", c.K6.OpenEndedDuration)
	}
	if c.K6.SummaryRetention < 0 {
		return errors.Errorf("k6.summaryRetention must not be negative, got %s", c.K6.SummaryRetention)
	}
	if c.K6.KillGrace < 0 {
		return errors.Errorf("k6.killGrace must not be negative, got %s", c.K6.KillGrace)
	}
	return nil
}

func (c *Config) resolve() {
	if c.K6.Mode == "docker" && c.K6.Docker.Command == "" {
		c.K6.Docker.Command = findDockerCommand()
	}
	if c.K6.ScriptsPath == "" {
		c.K6.ScriptsPath = findScriptsPath()
	}
}

var dockerCandidates = []string{"/usr/local/bin/docker", "/usr/bin/docker", "/opt/homebrew/bin/docker"}

func findDockerCommand() string {
	for _, p := range dockerCandidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	if p, err := exec.LookPath("docker"); err == nil {
		return p
	}
	log.Warn("docker executable not found, falling back to \"docker\"")
	return "docker"
}

const hostScriptsPath = "/host-k6"

// findScriptsPath prefers ./k6, then the /host-k6 mount used when the
// dashboard itself runs in a container.
func findScriptsPath() string {
	if wd, err := os.Getwd(); err == nil {
		local := filepath.Join(wd, "k6")
		if isDir(local) {
			return local
		}
	}
	if !isDir(hostScriptsPath) {
		log.Warnf("could not find k6 scripts directory, defaulting to %s", hostScriptsPath)
	}
	return hostScriptsPath
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
