// Package reload runs the consumer reload action after a certificate deploy.
package reload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/appleparan/dimension-bridge/pkg/cert_agent/config"
	"github.com/appleparan/dimension-bridge/pkg/cert_agent/model"
)

// RestartMarkerFile is written into the certificate directory when no reload
// command is configured. An external supervisor watches for it and restarts
// the consuming service on its own schedule.
const RestartMarkerFile = ".restart_needed"

// Executor makes the certificate consumer pick up a newly deployed pair.
type Executor interface {
	Reload(ctx context.Context) error
}

type _CommandExecutor struct {
	command     string
	serviceName string
	timeout     time.Duration
	markerPath  string
}

// NewExecutor returns an Executor for the given reload spec. The marker file
// fallback lands in certDir next to the certificates it concerns.
func NewExecutor(spec config.ReloadSpec, certDir string) *_CommandExecutor {
	return &_CommandExecutor{
		command:     spec.Command,
		serviceName: spec.ServiceName,
		timeout:     spec.CommandTimeout(),
		markerPath:  filepath.Join(certDir, RestartMarkerFile),
	}
}

// Reload runs the configured command through the shell and waits for it to
// finish. Without a command it writes the restart marker file instead.
func (e *_CommandExecutor) Reload(ctx context.Context) error {
	if e.command == "" {
		return e.writeMarker()
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", e.command)
	// A background child inheriting the output pipes must not keep Wait
	// blocked past the deadline.
	cmd.WaitDelay = time.Second
	output, err := cmd.CombinedOutput()
	if err == nil {
		logrus.Infof("reloaded %s", e.serviceName)
		return nil
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		// The command itself exited zero; only its output stream was left
		// open by a child.
		logrus.Warnf("reload command of %s exited but left its output open", e.serviceName)
		return nil
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s did not finish within %s%w", e.serviceName, e.timeout, model.ErrReloadTimeout)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%s exited with status %d: %s%w", e.serviceName, exitErr.ExitCode(), firstLine(output), model.ErrReloadNonZeroExit)
	}
	return fmt.Errorf("%s: %s%w", e.serviceName, err.Error(), model.ErrReloadSpawnFailed)
}

func (e *_CommandExecutor) writeMarker() error {
	content := time.Now().UTC().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(e.markerPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("write restart marker: %s%w", err.Error(), model.ErrReloadSpawnFailed)
	}
	logrus.Infof("no reload command configured, wrote restart marker %s", e.markerPath)
	return nil
}

func firstLine(output []byte) string {
	line, _, _ := strings.Cut(strings.TrimSpace(string(output)), "\n")
	return line
}
