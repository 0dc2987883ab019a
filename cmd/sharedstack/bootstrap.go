package main

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/lsst-france/shared-stack/sharedstack/bootstrap"
	"github.com/lsst-france/shared-stack/sharedstack/commandmanager"
	"github.com/lsst-france/shared-stack/sharedstack/config"
	"github.com/lsst-france/shared-stack/sharedstack/stack"
)

func bootstrapStack(ctx context.Context, cfg config.Config, userdata string, runner commandmanager.CommandManager, logger *logrus.Logger) (*stack.Manager, error) {
	logger.WithField("root", cfg.Root).Info("Stack root does not exist; bootstrapping")
	return bootstrap.CreateStack(ctx, bootstrap.Options{
		StackDir:         cfg.Root,
		PkgRoot:          cfg.PkgRoot,
		EupsVersion:      cfg.EupsVersion,
		MinicondaVersion: cfg.MinicondaVersion,
		AnacondaVersion:  cfg.AnacondaVersion,
		Python:           cfg.Python,
		UserData:         userdata,
		Runner:           runner,
		Logger:           logger,
	})
}
