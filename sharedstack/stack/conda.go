package stack

import (
	"context"
	"fmt"

	"github.com/lsst-france/shared-stack/sharedstack/commandmanager"
	"github.com/sirupsen/logrus"
)

// Conda performs action ("install", "remove", ...) on an auxiliary package
// through the stack's conda installation. When no current miniconda exists
// the request is a logged no-op: the base distribution simply is not there
// yet.
func (m *Manager) Conda(ctx context.Context, action, packageName, version string) error {
	_, found, err := m.tracker.Current(MinicondaProduct)
	if err != nil {
		m.logger.WithField("error", err).Warn("Inconsistent current tag on miniconda")
	}
	if !found {
		m.logger.WithFields(logrus.Fields{
			"action":  action,
			"package": packageName,
		}).Warn("Miniconda not available; skipping conda operation")
		return nil
	}

	pkg := packageName
	if version != "" {
		pkg = fmt.Sprintf("%s=%s", packageName, version)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	result, err := m.runner.Run(ctx, commandmanager.CommandConfig{
		Command: "conda",
		Args:    []string{action, "--yes", pkg},
		Env:     m.environ(),
	})
	if err != nil {
		return fmt.Errorf("conda %s %s: %w", action, pkg, err)
	}
	m.logger.WithFields(logrus.Fields{
		"action":  action,
		"package": pkg,
	}).Debug(result.Stdout)
	return nil
}
