// Package stack manages a local eups product stack: it keeps an in-memory
// tracker synchronized with `eups list` and wraps the eups commands that
// mutate the installation. eups itself remains the authoritative store of
// truth; the tracker is rebuilt wholesale after every mutation.
package stack

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lsst-france/shared-stack/sharedstack/commandmanager"
	"github.com/lsst-france/shared-stack/sharedstack/product"
)

// MinicondaProduct is the product providing the Python interpreter used by
// the stack. When a current-tagged version is installed, its bin directory
// is prepended to the command environment.
const MinicondaProduct = "miniconda2"

// tagSetup marks products loaded into the active shell environment. It is
// not an installation tag and is filtered from the tracker.
const tagSetup = "setup"

const defaultCommandTimeout = 2 * time.Hour

// Manager drives an eups stack rooted at a directory.
type Manager struct {
	stackDir string
	pkgroot  string
	userdata string
	flavor   string
	timeout  time.Duration

	runner commandmanager.CommandManager
	logger *logrus.Logger

	// condaBin is the bin directory of the current miniconda, or empty
	// when none is installed. Set only by Refresh.
	condaBin string

	tracker *product.Tracker
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithUserData stores eups user data (cache files etc) under dir instead of
// the invoking user's home directory, so simultaneous runs do not clobber
// each other.
func WithUserData(dir string) ManagerOption {
	return func(m *Manager) { m.userdata = dir }
}

// WithCommandTimeout bounds each eups/conda invocation.
func WithCommandTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// NewManager creates a Manager for the stack in stackDir, which must already
// contain an eups installation, and performs an initial refresh. Products
// are installed from the distribution server at pkgroot.
func NewManager(ctx context.Context, stackDir, pkgroot string, runner commandmanager.CommandManager, logger *logrus.Logger, options ...ManagerOption) (*Manager, error) {
	flavor, err := Flavor()
	if err != nil {
		return nil, err
	}

	m := &Manager{
		stackDir: stackDir,
		pkgroot:  pkgroot,
		flavor:   flavor,
		timeout:  defaultCommandTimeout,
		runner:   runner,
		logger:   logger,
		tracker:  product.NewTracker(),
	}
	for _, option := range options {
		option(m)
	}

	if err := m.Refresh(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// StackDir returns the root directory of the managed stack.
func (m *Manager) StackDir() string {
	return m.stackDir
}

// environ builds the eups working environment. A best guess at what
// setups.sh would produce, without sourcing it.
func (m *Manager) environ() []string {
	eupsDir := filepath.Join(m.stackDir, "eups")

	path := filepath.Join(eupsDir, "bin") + ":" + os.Getenv("PATH")
	if m.condaBin != "" {
		path = m.condaBin + ":" + path
	}

	env := []string{
		"PATH=" + path,
		"EUPS_PATH=" + m.stackDir,
		"EUPS_DIR=" + eupsDir,
		"EUPS_SHELL=sh",
		"PYTHONPATH=" + filepath.Join(eupsDir, "python"),
		"SETUP_EUPS=" + fmt.Sprintf("eups LOCAL:%s -f (none) -Z (none)", eupsDir),
		"EUPS_PKGROOT=" + m.pkgroot,
	}
	if m.userdata != "" {
		env = append(env, "EUPS_USERDATA="+m.userdata)
	}
	return env
}

// runEups runs one eups subcommand in the stack environment and returns its
// standard output.
func (m *Manager) runEups(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	result, err := m.runner.Run(ctx, commandmanager.CommandConfig{
		Command: "eups",
		Args:    append([]string{"--nolocks"}, args...),
		Env:     m.environ(),
	})
	if err != nil {
		return result.Stdout, fmt.Errorf("eups %s: %w", strings.Join(args, " "), err)
	}
	return result.Stdout, nil
}

// Refresh rebuilds the tracker from `eups list --raw`. Run after every
// operation that changes stack state.
func (m *Manager) Refresh(ctx context.Context) error {
	out, err := m.runEups(ctx, "list", "--raw")
	if err != nil {
		return err
	}

	tracker := product.NewTracker()
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) != 3 {
			return fmt.Errorf("unparseable eups list line %q", line)
		}
		name, version, tags := parts[0], parts[1], parts[2]
		tracker.Insert(name, version, "")
		for _, tag := range strings.Split(tags, ":") {
			if tag == "" || tag == tagSetup {
				continue
			}
			tracker.Insert(name, version, tag)
		}
	}
	m.tracker = tracker

	// With a current miniconda installed, its interpreter takes over from
	// the system Python.
	m.condaBin = ""
	version, found, err := tracker.Current(MinicondaProduct)
	if err != nil {
		m.logger.WithField("error", err).Warn("Inconsistent current tag on miniconda")
	}
	if found {
		m.condaBin = filepath.Join(m.stackDir, m.flavor, MinicondaProduct, version, "bin")
	}
	return nil
}

// TagsForProduct returns all installation tags carried by any locally
// installed version of the named product.
func (m *Manager) TagsForProduct(productName string) map[string]struct{} {
	return m.tracker.TagsForProduct(productName)
}

// HasVersion reports whether the named product is installed at exactly
// version.
func (m *Manager) HasVersion(productName, version string) bool {
	return m.tracker.HasVersion(productName, version)
}

// Current returns the locally installed version of the named product tagged
// current.
func (m *Manager) Current(productName string) (string, bool, error) {
	return m.tracker.Current(productName)
}

// VersionFromTag returns the installed version of the named product carrying
// tag, or found=false when none does.
func (m *Manager) VersionFromTag(productName, tag string) (version string, found bool) {
	for _, tp := range m.tracker.ProductsForTag(tag) {
		if tp.Product == productName {
			return tp.Version, true
		}
	}
	return "", false
}

// DistribInstall installs a product from the distribution server. When
// version or tag are non-empty they are requested explicitly; otherwise the
// server defaults apply.
func (m *Manager) DistribInstall(ctx context.Context, productName, version, tag string) error {
	args := []string{"distrib", "install", "--no-server-tags", productName}
	if version != "" {
		args = append(args, version)
	}
	if tag != "" {
		args = append(args, "-t", tag)
	}

	m.logger.WithFields(logrus.Fields{
		"product": productName,
		"version": version,
		"tag":     tag,
	}).Info("Installing product")

	out, err := m.runEups(ctx, args...)
	if err != nil {
		return err
	}
	m.logger.WithField("product", productName).Debug(out)

	return m.Refresh(ctx)
}

// ApplyTag declares tag on an installed version of a product. A version not
// present locally (an install that failed or was never fetched) is a logged
// no-op, not a failure. The tag must generally have been pre-declared with
// AddGlobalTag.
func (m *Manager) ApplyTag(ctx context.Context, productName, version, tag string) error {
	if !m.tracker.HasVersion(productName, version) {
		m.logger.WithFields(logrus.Fields{
			"product": productName,
			"version": version,
			"tag":     tag,
		}).Debug("Version not installed; not tagging")
		return nil
	}
	// Re-declaring an already-applied tag would make every maintenance run
	// issue mutating eups calls; skip it so an unchanged run is a no-op.
	if m.tracker.HasTag(productName, version, tag) {
		return nil
	}

	if _, err := m.runEups(ctx, "declare", "-t", tag, productName, version); err != nil {
		return err
	}
	return m.Refresh(ctx)
}

// Tags returns every tag name known to the stack.
func (m *Manager) Tags(ctx context.Context) ([]string, error) {
	out, err := m.runEups(ctx, "tags")
	if err != nil {
		return nil, err
	}
	return strings.Fields(out), nil
}

// AddGlobalTag declares a tag in the stack's site/startup.py. With few
// exceptions eups only allows tagging products with pre-declared tags, so
// this must run before the first ApplyTag for a new tag name. The file is
// append-only; the stack directory must be writable from the machine running
// the tool.
func (m *Manager) AddGlobalTag(tag string) error {
	startupPath := filepath.Join(m.stackDir, "site", "startup.py")
	f, err := os.OpenFile(startupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", startupPath, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "hooks.config.Eups.globalTags += [\"%s\"]\n", tag); err != nil {
		return fmt.Errorf("appending to %s: %w", startupPath, err)
	}
	m.logger.WithField("tag", tag).Info("Declared global tag")
	return nil
}
