// Package bootstrap creates a new shared stack from nothing: it builds eups
// into the stack directory, installs miniconda through eups distrib,
// upgrades it to a full Anaconda installation and writes the shell loader
// scripts.
package bootstrap

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lsst-france/shared-stack/sharedstack/commandmanager"
	"github.com/lsst-france/shared-stack/sharedstack/product"
	"github.com/lsst-france/shared-stack/sharedstack/stack"
)

const eupsURLTemplate = "https://github.com/RobertLuptonTheGood/eups/archive/%s.tar.gz"

// condaInstall and condaRemove are the auxiliary packages adjusted after the
// Anaconda upgrade. MKL is removed: its licensing is unsuitable for a shared
// installation.
var (
	condaInstall = []string{"nomkl", "numpy", "scipy", "scikit-learn", "numexpr"}
	condaRemove  = []string{"mkl", "mkl-service"}
)

// Options configures a stack bootstrap.
type Options struct {
	StackDir string
	PkgRoot  string

	EupsVersion      string
	MinicondaVersion string
	AnacondaVersion  string

	// Python bootstraps the eups build only; the finished stack uses its
	// own miniconda.
	Python string

	// UserData, if set, keeps the eups cache out of the user's home
	// directory.
	UserData string

	Runner commandmanager.CommandManager
	Logger *logrus.Logger

	// HTTPClient downloads the eups release tarball. Defaults to a client
	// with a ten minute timeout.
	HTTPClient *http.Client
}

// CreateStack bootstraps a stack in Options.StackDir, which must not already
// exist, and returns a Manager for it.
func CreateStack(ctx context.Context, opts Options) (*stack.Manager, error) {
	if _, err := os.Stat(opts.StackDir); err == nil {
		return nil, fmt.Errorf("stack directory %s already exists", opts.StackDir)
	}
	if err := os.MkdirAll(opts.StackDir, 0o755); err != nil {
		return nil, err
	}

	if err := installEups(ctx, opts); err != nil {
		return nil, err
	}
	opts.Logger.WithField("version", opts.EupsVersion).Info("Installed eups")

	sm, err := stack.NewManager(ctx, opts.StackDir, opts.PkgRoot, opts.Runner, opts.Logger,
		stack.WithUserData(opts.UserData))
	if err != nil {
		return nil, err
	}

	if err := installMiniconda(ctx, opts, sm); err != nil {
		return nil, err
	}
	if err := writeLoaderScripts(opts.StackDir); err != nil {
		return nil, err
	}

	// A base install seeds the stack before the first reconciliation run.
	if err := sm.DistribInstall(ctx, "lsst", "", ""); err != nil {
		return nil, err
	}
	return sm, nil
}

// installEups downloads the eups release tarball, builds it and installs it
// into the stack directory.
func installEups(ctx context.Context, opts Options) error {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}

	url := fmt.Sprintf(eupsURLTemplate, opts.EupsVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading eups: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading eups: unexpected status %s", resp.Status)
	}

	buildDir, err := os.MkdirTemp("", "eups-build-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(buildDir)

	if err := extractTarGz(resp.Body, buildDir); err != nil {
		return fmt.Errorf("extracting eups tarball: %w", err)
	}

	srcDir := filepath.Join(buildDir, "eups-"+opts.EupsVersion)
	for _, step := range [][]string{
		{"./configure",
			"-prefix=" + filepath.Join(opts.StackDir, "eups"),
			"--with-eups=" + opts.StackDir,
			"--with-python=" + opts.Python},
		{"make", "install"},
	} {
		result, err := opts.Runner.Run(ctx, commandmanager.CommandConfig{
			Command: step[0],
			Args:    step[1:],
			Dir:     srcDir,
		})
		if err != nil {
			return fmt.Errorf("building eups: %w", err)
		}
		opts.Logger.WithField("command", result.Command).Debug(result.Stdout)
	}
	return nil
}

// installMiniconda installs miniconda via eups distrib, marks it current and
// upgrades it to Anaconda with the standard scientific package set.
func installMiniconda(ctx context.Context, opts Options, sm *stack.Manager) error {
	if err := sm.DistribInstall(ctx, stack.MinicondaProduct, opts.MinicondaVersion, ""); err != nil {
		return err
	}
	if err := sm.ApplyTag(ctx, stack.MinicondaProduct, opts.MinicondaVersion, product.TagCurrent); err != nil {
		return err
	}
	opts.Logger.Info("Miniconda installed")

	if err := sm.Conda(ctx, "install", "anaconda", opts.AnacondaVersion); err != nil {
		return err
	}
	for _, pkg := range condaInstall {
		if err := sm.Conda(ctx, "install", pkg, ""); err != nil {
			return err
		}
	}
	for _, pkg := range condaRemove {
		if err := sm.Conda(ctx, "remove", pkg, ""); err != nil {
			return err
		}
	}

	// Strip group write so end users cannot litter the shared Python tree
	// with undeletable .pyc files.
	flavor, err := stack.Flavor()
	if err != nil {
		return err
	}
	condaDir := filepath.Join(opts.StackDir, flavor, stack.MinicondaProduct, opts.MinicondaVersion)
	if _, err := opts.Runner.Run(ctx, commandmanager.CommandConfig{
		Command: "chmod",
		Args:    []string{"-R", "g-w", condaDir},
	}); err != nil {
		return fmt.Errorf("fixing permissions on %s: %w", condaDir, err)
	}

	opts.Logger.WithField("version", opts.AnacondaVersion).Info("Upgraded to Anaconda")
	return nil
}

// writeLoaderScripts writes the loadLSST.* shell initialization scripts.
func writeLoaderScripts(stackDir string) error {
	for _, shells := range [][2]string{
		{"bash", "sh"},
		{"csh", "csh"},
		{"ksh", "sh"},
		{"zsh", "zsh"},
	} {
		loader := fmt.Sprintf("source %s\nsetup miniconda2\n",
			filepath.Join(stackDir, "eups", "bin", "setups."+shells[1]))
		path := filepath.Join(stackDir, "loadLSST."+shells[0])
		if err := os.WriteFile(path, []byte(loader), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// extractTarGz unpacks a gzipped tarball under dest, refusing entries that
// escape it.
func extractTarGz(r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(dest, hdr.Name)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("tar entry %q escapes extraction directory", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		}
	}
}
