package stack

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lsst-france/shared-stack/sharedstack/commandmanager"
)

type MockCommandManager struct {
	mock.Mock
}

func (m *MockCommandManager) Run(ctx context.Context, config commandmanager.CommandConfig) (commandmanager.CommandResult, error) {
	args := m.Called(ctx, config)
	return args.Get(0).(commandmanager.CommandResult), args.Error(1)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// onEups matches an `eups <sub> ...` invocation regardless of the trailing
// arguments.
func onEups(m *MockCommandManager, sub string, stdout string) *mock.Call {
	return m.On("Run", mock.Anything, mock.MatchedBy(func(config commandmanager.CommandConfig) bool {
		return config.Command == "eups" && len(config.Args) >= 2 &&
			config.Args[0] == "--nolocks" && config.Args[1] == sub
	})).Return(commandmanager.CommandResult{Stdout: stdout}, nil)
}

func newTestManager(t *testing.T, runner commandmanager.CommandManager) *Manager {
	t.Helper()
	m, err := NewManager(context.Background(), t.TempDir(), "https://sw.example.org/eupspkg/", runner, testLogger())
	require.NoError(t, err)
	return m
}

func TestRefreshParsesEupsList(t *testing.T) {
	runner := new(MockCommandManager)
	onEups(runner, "list",
		"lsst_distrib|v12_1|w_2016_12:setup\n"+
			"lsst_distrib|v12_0|w_2016_10\n"+
			"python|2.7|\n")

	m := newTestManager(t, runner)

	tags := m.TagsForProduct("lsst_distrib")
	assert.Len(t, tags, 2)
	assert.Contains(t, tags, "w_2016_10")
	assert.Contains(t, tags, "w_2016_12")
	// The setup pseudo-tag only marks shell state and must be filtered.
	assert.NotContains(t, tags, "setup")

	// Untagged products are registered all the same.
	assert.True(t, m.HasVersion("python", "2.7"))
	assert.Empty(t, m.TagsForProduct("python"))
}

func TestRefreshRejectsUnparseableLine(t *testing.T) {
	runner := new(MockCommandManager)
	onEups(runner, "list", "lsst_distrib v12_1 w_2016_12\n")

	_, err := NewManager(context.Background(), t.TempDir(), "https://sw.example.org/eupspkg/", runner, testLogger())
	assert.Error(t, err)
}

func TestRefreshWithEmptyStack(t *testing.T) {
	runner := new(MockCommandManager)
	onEups(runner, "list", "")

	m := newTestManager(t, runner)
	assert.Empty(t, m.TagsForProduct("lsst_distrib"))
}

func TestEnvironCarriesEupsConfiguration(t *testing.T) {
	runner := new(MockCommandManager)
	var captured commandmanager.CommandConfig
	runner.On("Run", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(commandmanager.CommandConfig)
		}).
		Return(commandmanager.CommandResult{}, nil)

	m := newTestManager(t, runner)
	assert.Contains(t, captured.Env, "EUPS_PATH="+m.StackDir())
	assert.Contains(t, captured.Env, "EUPS_PKGROOT=https://sw.example.org/eupspkg/")
	assert.Contains(t, captured.Env, "EUPS_SHELL=sh")
}

func TestDistribInstallBuildsArgsAndRefreshes(t *testing.T) {
	runner := new(MockCommandManager)
	onEups(runner, "list", "")
	onEups(runner, "distrib", "")

	m := newTestManager(t, runner)
	require.NoError(t, m.DistribInstall(context.Background(), "lsst_distrib", "", "w_2016_12"))

	runner.AssertCalled(t, "Run", mock.Anything, mock.MatchedBy(func(config commandmanager.CommandConfig) bool {
		return config.Command == "eups" &&
			assert.ObjectsAreEqual(
				[]string{"--nolocks", "distrib", "install", "--no-server-tags", "lsst_distrib", "-t", "w_2016_12"},
				config.Args)
	}))
	// Initial refresh plus post-install refresh.
	assert.Equal(t, 2, countCalls(runner, "list"))
}

func TestApplyTagDeclaresAndRefreshes(t *testing.T) {
	runner := new(MockCommandManager)
	onEups(runner, "list", "lsst_distrib|v12_1|\n")
	onEups(runner, "declare", "")

	m := newTestManager(t, runner)
	require.NoError(t, m.ApplyTag(context.Background(), "lsst_distrib", "v12_1", "w_2016_12"))

	runner.AssertCalled(t, "Run", mock.Anything, mock.MatchedBy(func(config commandmanager.CommandConfig) bool {
		return config.Command == "eups" &&
			assert.ObjectsAreEqual(
				[]string{"--nolocks", "declare", "-t", "w_2016_12", "lsst_distrib", "v12_1"},
				config.Args)
	}))
}

// Tagging a version that never made it into the stack is a no-op, not a
// failure.
func TestApplyTagIsNoOpForUnknownVersion(t *testing.T) {
	runner := new(MockCommandManager)
	onEups(runner, "list", "lsst_distrib|v12_1|\n")

	m := newTestManager(t, runner)
	require.NoError(t, m.ApplyTag(context.Background(), "lsst_distrib", "v12_2", "w_2016_12"))

	assert.Zero(t, countCalls(runner, "declare"))
}

// Re-running maintenance must not re-declare tags that are already applied.
func TestApplyTagSkipsAlreadyAppliedTag(t *testing.T) {
	runner := new(MockCommandManager)
	onEups(runner, "list", "lsst_distrib|v12_1|w_2016_12\n")

	m := newTestManager(t, runner)
	require.NoError(t, m.ApplyTag(context.Background(), "lsst_distrib", "v12_1", "w_2016_12"))

	assert.Zero(t, countCalls(runner, "declare"))
}

func TestTags(t *testing.T) {
	runner := new(MockCommandManager)
	onEups(runner, "list", "")
	onEups(runner, "tags", "current w_2016_10 w_2016_12\n")

	m := newTestManager(t, runner)
	tags, err := m.Tags(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"current", "w_2016_10", "w_2016_12"}, tags)
}

func TestVersionFromTag(t *testing.T) {
	runner := new(MockCommandManager)
	onEups(runner, "list",
		"lsst_distrib|v12_1|w_2016_12\n"+
			"afw|v12_1+1|w_2016_12\n")

	m := newTestManager(t, runner)

	version, found := m.VersionFromTag("lsst_distrib", "w_2016_12")
	assert.True(t, found)
	assert.Equal(t, "v12_1", version)

	_, found = m.VersionFromTag("lsst_distrib", "w_2016_14")
	assert.False(t, found)
}

func TestAddGlobalTagAppends(t *testing.T) {
	runner := new(MockCommandManager)
	onEups(runner, "list", "")

	m := newTestManager(t, runner)
	require.NoError(t, os.MkdirAll(filepath.Join(m.StackDir(), "site"), 0o755))

	require.NoError(t, m.AddGlobalTag("w_2016_10"))
	require.NoError(t, m.AddGlobalTag("w_2016_12"))

	data, err := os.ReadFile(filepath.Join(m.StackDir(), "site", "startup.py"))
	require.NoError(t, err)
	assert.Equal(t,
		"hooks.config.Eups.globalTags += [\"w_2016_10\"]\n"+
			"hooks.config.Eups.globalTags += [\"w_2016_12\"]\n",
		string(data))
}

// With no current miniconda the conda collaborator must decline quietly.
func TestCondaIsNoOpWithoutMiniconda(t *testing.T) {
	runner := new(MockCommandManager)
	onEups(runner, "list", "")

	m := newTestManager(t, runner)
	require.NoError(t, m.Conda(context.Background(), "install", "numpy", ""))

	assert.Zero(t, countCommandCalls(runner, "conda"))
}

func TestCondaRunsWithCurrentMiniconda(t *testing.T) {
	runner := new(MockCommandManager)
	onEups(runner, "list", "miniconda2|3.19.0.lsst4|current\n")
	runner.On("Run", mock.Anything, mock.MatchedBy(func(config commandmanager.CommandConfig) bool {
		return config.Command == "conda"
	})).Return(commandmanager.CommandResult{}, nil)

	m := newTestManager(t, runner)
	require.NoError(t, m.Conda(context.Background(), "install", "anaconda", "2.5.0"))

	runner.AssertCalled(t, "Run", mock.Anything, mock.MatchedBy(func(config commandmanager.CommandConfig) bool {
		return config.Command == "conda" &&
			assert.ObjectsAreEqual([]string{"install", "--yes", "anaconda=2.5.0"}, config.Args)
	}))
}

func countCalls(m *MockCommandManager, sub string) int {
	n := 0
	for _, call := range m.Calls {
		config := call.Arguments.Get(1).(commandmanager.CommandConfig)
		if config.Command == "eups" && len(config.Args) >= 2 && config.Args[1] == sub {
			n++
		}
	}
	return n
}

func countCommandCalls(m *MockCommandManager, command string) int {
	n := 0
	for _, call := range m.Calls {
		config := call.Arguments.Get(1).(commandmanager.CommandConfig)
		if config.Command == command {
			n++
		}
	}
	return n
}
