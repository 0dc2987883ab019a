// Package config holds the runtime configuration of the shared-stack tool.
// All options live in one explicit value passed to the entry point; there is
// no global mutable configuration.
package config

import (
	"fmt"
	"time"

	"gopkg.in/ini.v1"
)

// Config describes one maintenance run.
type Config struct {
	// Root is the directory the stack lives in (or will be created in).
	Root string

	// PkgRoot is the eups distribution server publishing tag manifests.
	PkgRoot string

	// VersionGlob is the regular expression tag names must match to be
	// fetched. The more tags match, the slower the repository load.
	VersionGlob string

	// Products are the top-level products kept in sync.
	Products []string

	// Host is the machine carrying the stack. Anything other than
	// localhost is driven over SSH.
	Host string

	// User is the SSH user for a remote Host.
	User string

	Debug bool

	// Concurrency bounds parallel manifest fetches.
	Concurrency int

	// CommandTimeout bounds each eups/conda invocation.
	CommandTimeout time.Duration

	// Version pins used only when bootstrapping a new stack.
	EupsVersion      string
	MinicondaVersion string
	AnacondaVersion  string

	// Python is the interpreter used to bootstrap eups; the stack itself
	// uses its own miniconda afterwards.
	Python string
}

// Default returns the configuration for the LSST developer infrastructure.
func Default() Config {
	return Config{
		Root:             "/ssd/lsstsw/stack",
		PkgRoot:          "https://sw.lsstcorp.org/eupspkg/",
		VersionGlob:      `w_2016_\d\d|v12_\d(_rc\d)?`,
		Products:         []string{"lsst_distrib"},
		Host:             "localhost",
		Concurrency:      4,
		CommandTimeout:   2 * time.Hour,
		EupsVersion:      "2.0.2",
		MinicondaVersion: "3.19.0.lsst4",
		AnacondaVersion:  "2.5.0",
		Python:           "/usr/bin/python",
	}
}

// Load reads an ini file over the defaults. Every key is optional.
//
//	[stack]
//	root = /ssd/lsstsw/stack
//	pkgroot = https://sw.lsstcorp.org/eupspkg/
//	version_glob = w_2016_\d\d
//	products = lsst_distrib, lsst_apps
//	[remote]
//	host = lsst-dev.ncsa.illinois.edu
//	user = stackmgr
//	[bootstrap]
//	eups_version = 2.0.2
//	miniconda_version = 3.19.0.lsst4
//	anaconda_version = 2.5.0
//	python = /usr/bin/python
func Load(path string) (Config, error) {
	cfg := Default()

	file, err := ini.Load(path)
	if err != nil {
		return Config{}, fmt.Errorf("loading config %s: %w", path, err)
	}

	s := file.Section("stack")
	cfg.Root = s.Key("root").MustString(cfg.Root)
	cfg.PkgRoot = s.Key("pkgroot").MustString(cfg.PkgRoot)
	cfg.VersionGlob = s.Key("version_glob").MustString(cfg.VersionGlob)
	if s.HasKey("products") {
		cfg.Products = s.Key("products").Strings(",")
	}
	cfg.Debug = s.Key("debug").MustBool(cfg.Debug)
	cfg.Concurrency = s.Key("concurrency").MustInt(cfg.Concurrency)
	cfg.CommandTimeout = s.Key("command_timeout").MustDuration(cfg.CommandTimeout)

	r := file.Section("remote")
	cfg.Host = r.Key("host").MustString(cfg.Host)
	cfg.User = r.Key("user").MustString(cfg.User)

	b := file.Section("bootstrap")
	cfg.EupsVersion = b.Key("eups_version").MustString(cfg.EupsVersion)
	cfg.MinicondaVersion = b.Key("miniconda_version").MustString(cfg.MinicondaVersion)
	cfg.AnacondaVersion = b.Key("anaconda_version").MustString(cfg.AnacondaVersion)
	cfg.Python = b.Key("python").MustString(cfg.Python)

	return cfg, nil
}

// Validate rejects configurations the run cannot work with.
func (c Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("stack root must be set")
	}
	if c.PkgRoot == "" {
		return fmt.Errorf("pkgroot must be set")
	}
	if len(c.Products) == 0 {
		return fmt.Errorf("at least one product must be configured")
	}
	return nil
}
