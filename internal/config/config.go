// Package config resolves the gateway's runtime configuration: the
// filesystem layout rooted at WEBTHINGS_HOME and the TCP ports each
// subsystem binds to. It is read once at Bootstrap and threaded through
// every constructor that needs it, rather than consulted as a global.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Ports holds every TCP port the gateway binds or dials, per spec.md §6.
type Ports struct {
	API       int `yaml:"api"`       // public demultiplexer port
	HTTP      int `yaml:"http"`      // REST upstream, demultiplexer target
	WebSocket int `yaml:"websocket"` // fan-out upstream, demultiplexer target
	IPC       int `yaml:"ipc"`       // add-on IPC listener
}

func defaultPorts() Ports {
	return Ports{API: 8080, HTTP: 8081, WebSocket: 8082, IPC: 9500}
}

// fileConfig is the shape of config/config.yaml. Every field is optional;
// absent fields keep their default or environment-derived value.
type fileConfig struct {
	Ports      Ports  `yaml:"ports"`
	LogLevel   string `yaml:"logLevel"`
	LogPretty  bool   `yaml:"logPretty"`
	NATSURL    string `yaml:"natsUrl"`
	CacheAddr  string `yaml:"cacheAddr"`
	CacheDB    int    `yaml:"cacheDb"`
}

// Paths is the resolved, immutable filesystem layout described in
// spec.md §6: WEBTHINGS_HOME and its five subdirectories, plus the
// gateway's own installation directory.
type Paths struct {
	Base    string
	Config  string
	Addons  string
	Data    string
	Log     string
	Media   string
	Gateway string
}

// DBPath returns the path to the SQLite database file.
func (p Paths) DBPath() string {
	return filepath.Join(p.Config, "db.sqlite3")
}

// AddonDir returns the directory a single add-on is installed under.
func (p Paths) AddonDir(id string) string {
	return filepath.Join(p.Addons, id)
}

func resolvePaths() (Paths, error) {
	base := os.Getenv("WEBTHINGS_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, fmt.Errorf("resolve home directory: %w", err)
		}
		base = filepath.Join(home, ".webthings2")
	}

	gatewayDir, err := os.Getwd()
	if err != nil {
		gatewayDir = base
	}

	paths := Paths{
		Base:    base,
		Config:  filepath.Join(base, "config"),
		Addons:  filepath.Join(base, "addons"),
		Data:    filepath.Join(base, "data"),
		Log:     filepath.Join(base, "log"),
		Media:   filepath.Join(base, "media"),
		Gateway: gatewayDir,
	}

	for _, dir := range []string{paths.Base, paths.Config, paths.Addons, paths.Data, paths.Log, paths.Media} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Paths{}, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	return paths, nil
}

// Config is the fully resolved configuration used to build every
// singleton and server in Bootstrap.
type Config struct {
	Paths     Paths
	Ports     Ports
	LogLevel  string
	LogPretty bool
	NATSURL   string
	CacheAddr string
	CacheDB   int
}

// Load resolves Paths from WEBTHINGS_HOME, then layers config/config.yaml
// (if present) and environment variable overrides on top of the defaults.
func Load() (Config, error) {
	paths, err := resolvePaths()
	if err != nil {
		return Config{}, err
	}

	fc := fileConfig{Ports: defaultPorts(), LogLevel: "info"}

	configFile := filepath.Join(paths.Config, "config.yaml")
	if data, err := os.ReadFile(configFile); err == nil {
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", configFile, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read %s: %w", configFile, err)
	}

	applyPortEnv("WEBTHINGS_PORT_API", &fc.Ports.API)
	applyPortEnv("WEBTHINGS_PORT_HTTP", &fc.Ports.HTTP)
	applyPortEnv("WEBTHINGS_PORT_WEBSOCKET", &fc.Ports.WebSocket)
	applyPortEnv("WEBTHINGS_PORT_IPC", &fc.Ports.IPC)

	if v := os.Getenv("WEBTHINGS_LOG_LEVEL"); v != "" {
		fc.LogLevel = v
	}
	if v := os.Getenv("WEBTHINGS_LOG_PRETTY"); v == "true" {
		fc.LogPretty = true
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		fc.NATSURL = v
	}
	if v := os.Getenv("CACHE_ADDR"); v != "" {
		fc.CacheAddr = v
	}

	return Config{
		Paths:     paths,
		Ports:     fc.Ports,
		LogLevel:  fc.LogLevel,
		LogPretty: fc.LogPretty,
		NATSURL:   fc.NATSURL,
		CacheAddr: fc.CacheAddr,
		CacheDB:   fc.CacheDB,
	}, nil
}

func applyPortEnv(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if port, err := strconv.Atoi(v); err == nil {
		*dst = port
	}
}
