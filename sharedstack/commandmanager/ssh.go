package commandmanager

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// SSHDialer abstracts ssh.Dial so tests can substitute a fake.
type SSHDialer interface {
	Dial(network, addr string, config *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error)
}

// RealSSHDialer dials with the real SSH client.
type RealSSHDialer struct{}

func (RealSSHDialer) Dial(network, addr string, config *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error) {
	config.Timeout = timeout
	return ssh.Dial(network, addr, config)
}

// SSHCommandManager runs commands on a remote host. It is used when the
// shared stack lives on a developer server rather than on the machine
// running the tool; the stack directory must be visible at the same path on
// the remote side.
type SSHCommandManager struct {
	Hostname      string
	User          string
	Password      string
	KeyPassphrase string
	Dialer        SSHDialer
	Logger        *logrus.Logger
}

func (s *SSHCommandManager) Run(ctx context.Context, config CommandConfig) (CommandResult, error) {
	if s.Dialer == nil {
		return CommandResult{}, errors.New("SSH dialer is not initialized")
	}

	sshConfig, err := s.clientConfig()
	if err != nil {
		return CommandResult{}, err
	}

	dialTimeout := 15 * time.Minute
	if deadline, ok := ctx.Deadline(); ok {
		dialTimeout = time.Until(deadline)
	}

	client, err := s.Dialer.Dial("tcp", s.Hostname+":22", sshConfig, dialTimeout)
	if err != nil {
		return CommandResult{}, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return CommandResult{}, err
	}
	defer session.Close()

	cmdStr := remoteCommandLine(config)
	if config.Stdin != "" {
		session.Stdin = strings.NewReader(config.Stdin)
	}

	var stdout, stderr strings.Builder
	session.Stdout = &stdout
	session.Stderr = &stderr

	if s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{
			"hostname": s.Hostname,
			"command":  cmdStr,
		}).Debug("Running remote command")
	}

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmdStr)
	}()

	select {
	case err := <-done:
		result := CommandResult{
			Command:   cmdStr,
			Stdout:    stdout.String(),
			Stderr:    stderr.String(),
			Duration:  time.Since(start),
			Timestamp: start,
		}
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				result.ExitCode = exitErr.ExitStatus()
			} else {
				result.ExitCode = -1
			}
			return result, &CommandError{Result: result, Err: err}
		}
		return result, nil

	case <-ctx.Done():
		return CommandResult{Command: cmdStr, Timestamp: start}, ctx.Err()
	}
}

func (s *SSHCommandManager) clientConfig() (*ssh.ClientConfig, error) {
	var authMethod ssh.AuthMethod

	if s.Password != "" {
		authMethod = ssh.Password(s.Password)
	} else {
		var keyManager SSHKeyManager
		if s.KeyPassphrase != "" {
			keyManager = FileSSHKeyManager{}
		} else {
			keyManager = AgentSSHKeyManager{}
		}

		keys, err := keyManager.ReadPrivateKeys(s.KeyPassphrase)
		if err != nil {
			return nil, err
		}
		authMethod = ssh.PublicKeysCallback(func() ([]ssh.Signer, error) {
			return keys, nil
		})
	}

	return &ssh.ClientConfig{
		User:            s.User,
		Auth:            []ssh.AuthMethod{authMethod},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}, nil
}

// remoteCommandLine renders a CommandConfig into a shell command string,
// carrying the extra environment as leading variable assignments.
func remoteCommandLine(config CommandConfig) string {
	var parts []string
	for _, kv := range config.Env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			parts = append(parts, k+"="+shellQuote(v))
		}
	}
	parts = append(parts, config.Command)
	for _, arg := range config.Args {
		parts = append(parts, shellQuote(arg))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$&|;<>()*?[]#~`") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
