package config

import "time"

// Config represents the complete cmci configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	State     StateConfig     `yaml:"state"`
	Gate      GateConfig      `yaml:"gate"`
	Toolchain ToolchainConfig `yaml:"toolchain"`
	HIL       HILConfig       `yaml:"hil"`
	API       APIConfig       `yaml:"api"`
}

// StateConfig defines run history storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// GateConfig decides whether the dispatcher runs for a given branch/event.
type GateConfig struct {
	PrimaryBranch string `yaml:"primary_branch"`
	// BranchVars and EventVars are checked in order; the first non-empty value wins.
	BranchVars      []string `yaml:"branch_vars"`
	EventVars       []string `yaml:"event_vars"`
	ScheduledEvents []string `yaml:"scheduled_events"`
}

// ToolchainConfig names the external tools and crate paths the dispatcher drives.
type ToolchainConfig struct {
	Cargo         string `yaml:"cargo"`
	Rustc         string `yaml:"rustc"`
	Rustup        string `yaml:"rustup"`
	R0P1Feature   string `yaml:"r0p1_feature"`
	ToolchainFile string `yaml:"toolchain_file"`
	BinDir        string `yaml:"bin_dir"`
	AsmSource     string `yaml:"asm_source"`
}

// HILConfig defines the on-target test workflow.
type HILConfig struct {
	QEMU     string        `yaml:"qemu"`
	QEMUArgs []string      `yaml:"qemu_args"`
	Probe    string        `yaml:"probe"`
	Chip     string        `yaml:"chip"`
	Timeout  time.Duration `yaml:"timeout"`
}

// APIConfig defines the read-only history API.
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		LogLevel: "info",
		State: StateConfig{
			Path: "./.cmci/history.db",
		},
		Gate: GateConfig{
			PrimaryBranch:   "master",
			BranchVars:      []string{"GITHUB_REF_NAME", "TRAVIS_BRANCH"},
			EventVars:       []string{"GITHUB_EVENT_NAME", "TRAVIS_EVENT_TYPE"},
			ScheduledEvents: []string{"schedule", "cron"},
		},
		Toolchain: ToolchainConfig{
			Cargo:         "cargo",
			Rustc:         "rustc",
			Rustup:        "rustup",
			R0P1Feature:   "cm7-r0p1",
			ToolchainFile: "asm-toolchain",
			BinDir:        "bin",
			AsmSource:     "asm.rs",
		},
		HIL: HILConfig{
			QEMU: "qemu-system-arm",
			QEMUArgs: []string{
				"-cpu", "cortex-m3",
				"-machine", "lm3s6965evb",
				"-nographic",
				"-semihosting-config", "enable=on,target=native",
			},
			Probe:   "probe-run",
			Chip:    "STM32F103C8",
			Timeout: 10 * time.Minute,
		},
		API: APIConfig{
			Listen: "127.0.0.1:8088",
		},
	}
}
