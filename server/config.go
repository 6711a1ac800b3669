//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package server

import "github.com/BurntSushi/toml"

// Config mirrors the harness setters for callers that prefer a file.
// Absent keys leave the corresponding setting untouched; command-line
// options still take precedence over the configured defaults.
type Config struct {
	Port        *int    `toml:"port"`
	Address     *string `toml:"address"`
	PackageName *string `toml:"package_name"`
	Chroot      *string `toml:"chroot"`
	User        *string `toml:"user"`
	StderrFile  *string `toml:"stderr_file"`

	DisableSyslog bool `toml:"disable_syslog"`
	DisableFork   bool `toml:"disable_fork"`
	DisableChdir  bool `toml:"disable_chdir"`
	DisableClose  bool `toml:"disable_close"`

	StackTraceOnCrash bool `toml:"stack_trace_on_crash"`
}

// LoadConfig reads a TOML file and applies it. Call before MainLoop.
func LoadConfig(path string) error {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return err
	}
	c.Apply()
	return nil
}

// Apply installs the configured settings.
func (c *Config) Apply() {
	if c.Port != nil {
		DefaultPort(*c.Port)
	}
	if c.Address != nil {
		DefaultAddress(*c.Address)
	}
	if c.PackageName != nil {
		PackageName(*c.PackageName)
	}
	if c.Chroot != nil {
		Chroot(*c.Chroot)
	}
	if c.User != nil {
		Username(*c.User)
	}
	if c.StderrFile != nil {
		StderrFile(*c.StderrFile)
	}
	if c.DisableSyslog {
		DisableSyslog()
	}
	if c.DisableFork {
		DisableFork()
	}
	if c.DisableChdir {
		DisableChdir()
	}
	if c.DisableClose {
		DisableClose()
	}
	if c.StackTraceOnCrash {
		EnableStackTraceOnCrash()
	}
}
