// Package config loads and validates the optional .droidship YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/deixis/droidship/internal/elevation"
	"gopkg.in/yaml.v3"
)

// FileName is the name of the configuration file at the workspace root.
const FileName = ".droidship"

// Default values.
const (
	DefaultTimeout           = 30 * time.Minute // builds can be slow
	DefaultMaxOutput         = 4 << 20          // 4 MB
	DefaultTarget            = "aarch64-linux-android"
	DefaultPackage           = "com.squalr.android"
	DefaultActivity          = "android.app.NativeActivity"
	DefaultAPKCrate          = "squalr"
	DefaultWorkerCrate       = "squalr-cli"
	DefaultWorkerDevicePath  = "/data/local/tmp/squalr-cli"
	DefaultLivenessTimeout   = 10 * time.Second
	DefaultPollInterval      = time.Second
	DefaultHandshakeAttempts = 12
	DefaultLogSeconds        = 6
	DefaultBreadcrumbTag     = "[android_bootstrap]"
)

// DefaultWorkerArgs start the worker in IPC mode.
var DefaultWorkerArgs = []string{"--ipc-mode"}

// DefaultBreadcrumbs are the bootstrap log markers, in the order the
// app emits them.
var DefaultBreadcrumbs = []string{
	"Before SqualrEngine::new.",
	"After SqualrEngine::new.",
	"Before App::new.",
	"After App::new.",
	"Before first frame submission.",
}

// DefaultLogcatFilters restrict the diagnostics logcat dump.
var DefaultLogcatFilters = []string{
	"Squalr:I",
	"ActivityTaskManager:I",
	"ActivityManager:I",
	"AndroidRuntime:E",
	"DEBUG:E",
	"libc:E",
	"*:S",
}

// Config holds the parsed .droidship configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version      int    `yaml:"version"`
	RawTimeout   string `yaml:"timeout"`    // per-command timeout, e.g. "30m"
	RawMaxOutput int    `yaml:"max_output"` // bytes captured per command
	ADB          string `yaml:"adb"`        // adb binary; default "adb"
	Serial       string `yaml:"serial"`     // device to target when several are attached
	Target       string `yaml:"target"`     // rust target triple
	RawPackage   string `yaml:"package"`
	RawActivity  string `yaml:"activity"`
	RawAPKCrate  string `yaml:"apk_crate"`
	RunsDir      string `yaml:"runs_dir"` // where run reports are stored; default temp dir

	Worker      WorkerConfig      `yaml:"worker"`
	Elevation   []ElevationForm   `yaml:"elevation"`
	Liveness    LivenessConfig    `yaml:"liveness"`
	Handshake   HandshakeConfig   `yaml:"handshake"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Preflight   PreflightConfig   `yaml:"preflight"`
}

// WorkerConfig describes the privileged worker binary.
type WorkerConfig struct {
	Crate      string   `yaml:"crate"`       // cargo package name
	Binary     string   `yaml:"binary"`      // process name on the device; defaults to crate
	DevicePath string   `yaml:"device_path"` // where the binary is pushed
	Args       []string `yaml:"args"`        // launch arguments
}

// ElevationForm overrides the built-in su invocation catalog.
type ElevationForm struct {
	Label  string   `yaml:"label"`
	Prefix []string `yaml:"prefix"`
}

// LivenessConfig controls worker launch confirmation.
type LivenessConfig struct {
	RawTimeout  string `yaml:"timeout"`  // default 10s
	RawInterval string `yaml:"interval"` // default 1s
}

// HandshakeConfig controls the post-launch IPC handshake check.
type HandshakeConfig struct {
	Attempts    int    `yaml:"attempts"` // default 12
	RawInterval string `yaml:"interval"` // default 1s
}

// DiagnosticsConfig controls post-launch log collection.
type DiagnosticsConfig struct {
	LogSeconds    *int     `yaml:"log_seconds"`
	BreadcrumbTag string   `yaml:"breadcrumb_tag"`
	Breadcrumbs   []string `yaml:"breadcrumbs"`
	LogcatFilters []string `yaml:"logcat_filters"`
}

// PreflightConfig tunes host checks.
type PreflightConfig struct {
	MinNDKVersion string `yaml:"min_ndk_version"` // e.g. "26.1"; empty disables the check
}

// Timeout returns the configured per-command timeout or the default.
func (c *Config) Timeout() time.Duration {
	return durationOr(c.RawTimeout, DefaultTimeout)
}

// MaxOutputBytes returns the configured max output size or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

// TargetTriple returns the rust target triple.
func (c *Config) TargetTriple() string {
	return stringOr(c.Target, DefaultTarget)
}

// Package returns the Android application id.
func (c *Config) Package() string {
	return stringOr(c.RawPackage, DefaultPackage)
}

// Activity returns the expected launcher activity class.
func (c *Config) Activity() string {
	return stringOr(c.RawActivity, DefaultActivity)
}

// Component returns the expected launcher component "<package>/<activity>".
func (c *Config) Component() string {
	return c.Package() + "/" + c.Activity()
}

// APKCrate returns the cargo-apk crate directory name.
func (c *Config) APKCrate() string {
	return stringOr(c.RawAPKCrate, DefaultAPKCrate)
}

// WorkerCrate returns the cargo package of the worker.
func (c *Config) WorkerCrate() string {
	return stringOr(c.Worker.Crate, DefaultWorkerCrate)
}

// WorkerBinary returns the worker's process name on the device.
func (c *Config) WorkerBinary() string {
	return stringOr(c.Worker.Binary, c.WorkerCrate())
}

// WorkerDevicePath returns where the worker is pushed on the device.
func (c *Config) WorkerDevicePath() string {
	return stringOr(c.Worker.DevicePath, DefaultWorkerDevicePath)
}

// WorkerArgs returns the worker launch arguments.
func (c *Config) WorkerArgs() []string {
	if c.Worker.Args != nil {
		return c.Worker.Args
	}
	return DefaultWorkerArgs
}

// ElevationCatalog returns the configured su forms, falling back to
// elevation.DefaultCatalog.
func (c *Config) ElevationCatalog() []elevation.Attempt {
	if len(c.Elevation) == 0 {
		return elevation.DefaultCatalog
	}
	out := make([]elevation.Attempt, len(c.Elevation))
	for i, f := range c.Elevation {
		out[i] = elevation.Attempt{Label: f.Label, Prefix: f.Prefix}
	}
	return out
}

// LivenessTimeout returns how long a launch may take to show a process.
func (c *Config) LivenessTimeout() time.Duration {
	return durationOr(c.Liveness.RawTimeout, DefaultLivenessTimeout)
}

// PollInterval returns the liveness poll cadence.
func (c *Config) PollInterval() time.Duration {
	return durationOr(c.Liveness.RawInterval, DefaultPollInterval)
}

// HandshakeAttempts returns how many one-interval polls the handshake
// check makes.
func (c *Config) HandshakeAttempts() int {
	if c.Handshake.Attempts > 0 {
		return c.Handshake.Attempts
	}
	return DefaultHandshakeAttempts
}

// HandshakeInterval returns the handshake poll cadence.
func (c *Config) HandshakeInterval() time.Duration {
	return durationOr(c.Handshake.RawInterval, DefaultPollInterval)
}

// HandshakeTimeout is the handshake deadline: attempts × interval.
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeAttempts()) * c.HandshakeInterval()
}

// LogSeconds returns how long to wait after launch before collecting
// diagnostics. Zero is a valid configured value.
func (c *Config) LogSeconds() int {
	if c.Diagnostics.LogSeconds != nil && *c.Diagnostics.LogSeconds >= 0 {
		return *c.Diagnostics.LogSeconds
	}
	return DefaultLogSeconds
}

// BreadcrumbTag returns the log marker that prefixes bootstrap breadcrumbs.
func (c *Config) BreadcrumbTag() string {
	return stringOr(c.Diagnostics.BreadcrumbTag, DefaultBreadcrumbTag)
}

// Breadcrumbs returns the expected bootstrap breadcrumbs in order.
func (c *Config) Breadcrumbs() []string {
	if len(c.Diagnostics.Breadcrumbs) > 0 {
		return c.Diagnostics.Breadcrumbs
	}
	return DefaultBreadcrumbs
}

// LogcatFilters returns the logcat tag filters.
func (c *Config) LogcatFilters() []string {
	if len(c.Diagnostics.LogcatFilters) > 0 {
		return c.Diagnostics.LogcatFilters
	}
	return DefaultLogcatFilters
}

// Validate reports configuration values that cannot be used.
func (c *Config) Validate() error {
	for _, d := range []struct{ key, raw string }{
		{"timeout", c.RawTimeout},
		{"liveness.timeout", c.Liveness.RawTimeout},
		{"liveness.interval", c.Liveness.RawInterval},
		{"handshake.interval", c.Handshake.RawInterval},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s: must be positive, got %s", d.key, d.raw)
		}
	}
	for i, f := range c.Elevation {
		if f.Label == "" || len(f.Prefix) == 0 {
			return fmt.Errorf("elevation[%d]: label and prefix are required", i)
		}
	}
	return nil
}

func durationOr(raw string, def time.Duration) time.Duration {
	if raw != "" {
		d, err := time.ParseDuration(raw)
		if err == nil && d > 0 {
			return d
		}
	}
	return def
}

func stringOr(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

// LoadResult holds the parsed config and the discovered workspace root.
type LoadResult struct {
	Config   *Config
	RepoRoot string // directory containing Cargo.toml; falls back to workspace
}

// Load reads the .droidship file from the workspace root.
// The root is discovered by walking upward from workspace looking for
// the outermost directory containing Cargo.toml. If no .droidship file
// exists, a default Config is returned.
func Load(workspace string) (*LoadResult, error) {
	root, err := findRepoRoot(workspace)
	if err != nil {
		// No Cargo.toml found; use workspace as root.
		root = workspace
	}

	path := filepath.Join(root, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &LoadResult{Config: &Config{}, RepoRoot: root}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", FileName, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", FileName, err)
	}
	return &LoadResult{Config: cfg, RepoRoot: root}, nil
}

// findRepoRoot walks upward from dir and returns the outermost directory
// containing Cargo.toml, so that running from inside a member crate
// still resolves the cargo workspace root.
func findRepoRoot(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	found := ""
	for {
		if _, err := os.Stat(filepath.Join(dir, "Cargo.toml")); err == nil {
			found = dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	if found == "" {
		return "", fmt.Errorf("Cargo.toml not found")
	}
	return found, nil
}
