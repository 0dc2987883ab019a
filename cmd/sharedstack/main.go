// Command sharedstack maintains a shared eups software stack: it compares
// the tags published by the distribution server against the local
// installation, installs whatever is missing and re-points the "current" tag
// at the most recently published bundle. It is designed for unattended,
// scheduled execution.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/lsst-france/shared-stack/sharedstack/commandmanager"
	"github.com/lsst-france/shared-stack/sharedstack/config"
	"github.com/lsst-france/shared-stack/sharedstack/reconcile"
	"github.com/lsst-france/shared-stack/sharedstack/repository"
	"github.com/lsst-france/shared-stack/sharedstack/stack"
)

type flags struct {
	ConfigPath     string
	Root           string
	PkgRoot        string
	VersionGlob    string
	Products       productsValue
	Host           string
	User           string
	PasswordPrompt bool
	KeyPassPrompt  bool
	Bootstrap      bool
	Debug          bool
}

type productsValue []string

func (p *productsValue) String() string {
	return strings.Join(*p, ",")
}

func (p *productsValue) Set(value string) error {
	*p = append(*p, value)
	return nil
}

func parseFlags() *flags {
	f := &flags{}
	flag.StringVar(&f.ConfigPath, "config", "", "Path to INI configuration file")
	flag.StringVar(&f.Root, "root", "", "Stack root directory")
	flag.StringVar(&f.PkgRoot, "pkgroot", "", "eups distribution server URL")
	flag.StringVar(&f.VersionGlob, "version-glob", "", "Regular expression selecting tags to fetch")
	flag.Var(&f.Products, "product", "Top-level product to keep in sync (repeatable)")
	flag.StringVar(&f.Host, "host", "", "Host carrying the stack; anything but localhost is driven over SSH")
	flag.StringVar(&f.User, "user", "", "SSH user for a remote host")
	flag.BoolVar(&f.PasswordPrompt, "password", false, "Prompt for an SSH password")
	flag.BoolVar(&f.KeyPassPrompt, "keypass", false, "Prompt for an SSH key passphrase")
	flag.BoolVar(&f.Bootstrap, "bootstrap", false, "Create the stack if the root directory does not exist")
	flag.BoolVar(&f.Debug, "debug", false, "Enable debug log level")
	flag.Parse()
	return f
}

func configureLogger(debug bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}

func loadConfig(f *flags) (config.Config, error) {
	cfg := config.Default()
	if f.ConfigPath != "" {
		var err error
		cfg, err = config.Load(f.ConfigPath)
		if err != nil {
			return config.Config{}, err
		}
	}

	// Flags override file values.
	if f.Root != "" {
		cfg.Root = f.Root
	}
	if f.PkgRoot != "" {
		cfg.PkgRoot = f.PkgRoot
	}
	if f.VersionGlob != "" {
		cfg.VersionGlob = f.VersionGlob
	}
	if len(f.Products) > 0 {
		cfg.Products = f.Products
	}
	if f.Host != "" {
		cfg.Host = f.Host
	}
	if f.User != "" {
		cfg.User = f.User
	}
	if f.Debug {
		cfg.Debug = true
	}

	return cfg, cfg.Validate()
}

func readSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(secret), nil
}

func buildCommandManager(cfg config.Config, f *flags, logger *logrus.Logger) (commandmanager.CommandManager, error) {
	if cfg.Host == "" || cfg.Host == "localhost" || cfg.Host == "127.0.0.1" {
		return &commandmanager.LocalCommandManager{Logger: logger}, nil
	}

	manager := &commandmanager.SSHCommandManager{
		Hostname: cfg.Host,
		User:     cfg.User,
		Dialer:   commandmanager.RealSSHDialer{},
		Logger:   logger,
	}
	if f.PasswordPrompt {
		password, err := readSecret("Enter the SSH password: ")
		if err != nil {
			return nil, err
		}
		manager.Password = password
	}
	if f.KeyPassPrompt {
		keyPass, err := readSecret("Enter the key passphrase: ")
		if err != nil {
			return nil, err
		}
		manager.KeyPassphrase = keyPass
	}
	return manager, nil
}

func run() error {
	f := parseFlags()

	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	logger := configureLogger(cfg.Debug)

	runner, err := buildCommandManager(cfg, f, logger)
	if err != nil {
		return err
	}

	// A scratch area for the eups cache lets several runs coexist without
	// clobbering each other's user data.
	userdata, err := os.MkdirTemp("", "sharedstack-userdata-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(userdata)

	ctx := context.Background()

	var sm *stack.Manager
	if _, statErr := os.Stat(cfg.Root); os.IsNotExist(statErr) {
		if !f.Bootstrap {
			return fmt.Errorf("stack root %s does not exist (re-run with -bootstrap to create it)", cfg.Root)
		}
		sm, err = bootstrapStack(ctx, cfg, userdata, runner, logger)
	} else {
		sm, err = stack.NewManager(ctx, cfg.Root, cfg.PkgRoot, runner, logger,
			stack.WithUserData(userdata),
			stack.WithCommandTimeout(cfg.CommandTimeout))
	}
	if err != nil {
		return err
	}

	rm, err := repository.NewManager(cfg.PkgRoot, cfg.VersionGlob, logger,
		repository.WithConcurrency(cfg.Concurrency))
	if err != nil {
		return err
	}
	if err := rm.Load(ctx); err != nil {
		return err
	}

	rec := &reconcile.Reconciler{Remote: rm, Local: sm, Logger: logger}
	return rec.Run(ctx, cfg.Products)
}

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Error("Stack maintenance failed")
		os.Exit(1)
	}
}
