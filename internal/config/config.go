// Package config loads and validates the agent host TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the root agent host configuration.
type Config struct {
	General   General    `toml:"general"`
	Security  Security   `toml:"security"`
	Store     StoreCfg   `toml:"store"`
	Skills    SkillsCfg  `toml:"skills"`
	Sandbox   SandboxCfg `toml:"sandbox"`
	Messaging Messaging  `toml:"messaging"`
	Tools     ToolsCfg   `toml:"tools"`
}

// General controls the tick loop and process-wide knobs.
type General struct {
	TickInterval        Duration `toml:"tick_interval"`
	ExpirySeconds       int      `toml:"expiry_seconds"`        // pending-action expiry age
	MaxConcurrentSkills int      `toml:"max_concurrent_skills"` // hard cap on concurrently running skills
	MaxPerTick          int      `toml:"max_per_tick"`          // accepted for config compatibility; defaults to max_concurrent_skills, not read elsewhere
	LogLevel            string   `toml:"log_level"`
	GracefulStopTimeout Duration `toml:"graceful_stop_timeout"` // SIGTERM -> SIGKILL grace period for skills
}

// Security controls the master key and identity encryption.
type Security struct {
	MasterKeyFile string `toml:"master_key_file"`
	UseKeyring    bool   `toml:"use_keyring"`
}

// StoreCfg names the on-disk SQLite databases.
type StoreCfg struct {
	StateDB  string `toml:"state_db"`  // relational store: approvals, memory, identity, cron
	VectorDB string `toml:"vector_db"` // vector memory store
}

// SkillsCfg controls skill discovery, signing, and bootstrap.
type SkillsCfg struct {
	Dir            string         `toml:"dir"`         // skills root, holds human-readable symlinks
	CASDir         string         `toml:"cas_dir"`     // content-addressable store (default: <dir>/.cas)
	VenvPolicy     string         `toml:"venv_policy"` // auto | always | never
	SeccompEnabled bool           `toml:"seccomp_enabled"`
	ResourceLimits ResourceLimits `toml:"resource_limits"`
}

// ResourceLimits are the rlimits applied to subprocess skills before exec.
type ResourceLimits struct {
	MaxOpenFiles      uint64 `toml:"max_open_files"`
	CPUSeconds        uint64 `toml:"cpu_seconds"`
	AddressSpaceBytes uint64 `toml:"address_space_bytes"`
}

// SandboxCfg controls the sandboxed filesystem and trash manager.
type SandboxCfg struct {
	Root     string `toml:"root"`
	TrashDir string `toml:"trash_dir"`
}

// Messaging names the primary outbound messaging backend. The backend
// implementation itself is an external collaborator.
type Messaging struct {
	Primary string `toml:"primary"`
}

// ToolsCfg caps the tool invocation rate. Load replaces an unset or zero
// cap with the default (60 per minute, 1000 per hour).
type ToolsCfg struct {
	PerMinuteCap int `toml:"per_minute_cap"`
	PerHourCap   int `toml:"per_hour_cap"`
}

// Clone returns a deep copy of cfg so callers can safely mutate the result.
func (cfg *Config) Clone() *Config {
	if cfg == nil {
		return nil
	}
	cloned := *cfg
	return &cloned
}

// Load reads and validates an agent host TOML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	normalizePaths(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Reload reads and validates an agent host TOML configuration file.
//
// This mirrors Load but is intentionally named to reflect runtime refresh paths.
func Reload(path string) (*Config, error) {
	return Load(path)
}

// LoadManager reads config from path and returns an RWMutex-backed thread-safe manager.
func LoadManager(path string) (ConfigManager, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	cfg, err := Reload(path)
	if err != nil {
		return nil, err
	}
	return NewRWMutexManager(cfg), nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.TickInterval.Duration == 0 {
		cfg.General.TickInterval.Duration = 30 * time.Second
	}
	if cfg.General.ExpirySeconds == 0 {
		cfg.General.ExpirySeconds = 3600
	}
	if cfg.General.MaxConcurrentSkills == 0 {
		cfg.General.MaxConcurrentSkills = 16
	}
	if cfg.General.MaxPerTick == 0 {
		cfg.General.MaxPerTick = cfg.General.MaxConcurrentSkills
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.GracefulStopTimeout.Duration == 0 {
		cfg.General.GracefulStopTimeout.Duration = 10 * time.Second
	}

	if cfg.Security.MasterKeyFile == "" {
		cfg.Security.MasterKeyFile = "~/.agenthost/master.key"
	}

	if cfg.Store.StateDB == "" {
		cfg.Store.StateDB = "~/.agenthost/state.db"
	}
	if cfg.Store.VectorDB == "" {
		cfg.Store.VectorDB = "~/.agenthost/vectors.db"
	}

	if cfg.Skills.Dir == "" {
		cfg.Skills.Dir = "~/.agenthost/skills"
	}
	if cfg.Skills.CASDir == "" {
		cfg.Skills.CASDir = filepath.Join(cfg.Skills.Dir, ".cas")
	}
	if cfg.Skills.VenvPolicy == "" {
		cfg.Skills.VenvPolicy = "auto"
	}
	if cfg.Skills.ResourceLimits.MaxOpenFiles == 0 {
		cfg.Skills.ResourceLimits.MaxOpenFiles = 256
	}
	if cfg.Skills.ResourceLimits.CPUSeconds == 0 {
		cfg.Skills.ResourceLimits.CPUSeconds = 300
	}
	if cfg.Skills.ResourceLimits.AddressSpaceBytes == 0 {
		cfg.Skills.ResourceLimits.AddressSpaceBytes = 1 << 30 // 1 GiB
	}

	if cfg.Sandbox.Root == "" {
		cfg.Sandbox.Root = "~/.agenthost/workspace"
	}
	if cfg.Sandbox.TrashDir == "" {
		cfg.Sandbox.TrashDir = "~/.agenthost/trash"
	}

	if cfg.Tools.PerMinuteCap == 0 {
		cfg.Tools.PerMinuteCap = 60
	}
	if cfg.Tools.PerHourCap == 0 {
		cfg.Tools.PerHourCap = 1000
	}
}

// normalizePaths expands "~" and trims whitespace for configured filesystem paths.
func normalizePaths(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Security.MasterKeyFile = ExpandHome(strings.TrimSpace(cfg.Security.MasterKeyFile))
	cfg.Store.StateDB = ExpandHome(strings.TrimSpace(cfg.Store.StateDB))
	cfg.Store.VectorDB = ExpandHome(strings.TrimSpace(cfg.Store.VectorDB))
	cfg.Skills.Dir = ExpandHome(strings.TrimSpace(cfg.Skills.Dir))
	cfg.Skills.CASDir = ExpandHome(strings.TrimSpace(cfg.Skills.CASDir))
	cfg.Sandbox.Root = ExpandHome(strings.TrimSpace(cfg.Sandbox.Root))
	cfg.Sandbox.TrashDir = ExpandHome(strings.TrimSpace(cfg.Sandbox.TrashDir))
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

func validate(cfg *Config) error {
	if cfg.General.TickInterval.Duration <= 0 {
		return fmt.Errorf("general.tick_interval must be > 0")
	}
	if cfg.General.ExpirySeconds <= 0 {
		return fmt.Errorf("general.expiry_seconds must be > 0")
	}
	if cfg.General.MaxConcurrentSkills <= 0 {
		return fmt.Errorf("general.max_concurrent_skills must be > 0")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Skills.VenvPolicy)) {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("skills.venv_policy must be one of auto, always, never, got %q", cfg.Skills.VenvPolicy)
	}

	if cfg.Sandbox.Root == "" {
		return fmt.Errorf("sandbox.root is required")
	}
	if cfg.Sandbox.TrashDir == "" {
		return fmt.Errorf("sandbox.trash_dir is required")
	}

	return nil
}
