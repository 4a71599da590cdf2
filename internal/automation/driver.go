package automation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/antoniostano/botfleet/internal/store"
)

// Driver launches the automation process that drives a browser or device
// for one session.
type Driver interface {
	Launch(ctx context.Context, sess store.Session) (Handle, error)
}

// Handle controls a launched automation process.
type Handle interface {
	Terminate() error
}

// DriverConfig configures the exec driver.
type DriverConfig struct {
	Command string
	Args    []string
	// GracePeriod is how long Terminate waits after an interrupt before
	// killing the process outright.
	GracePeriod time.Duration
}

// ExecDriver runs one local automation process per session. The process
// receives its session id and phone number through the environment and
// talks back through the gateway's automation endpoints.
type ExecDriver struct {
	cfg     DriverConfig
	baseURL string
}

func NewExecDriver(cfg DriverConfig, baseURL string) (*ExecDriver, error) {
	if cfg.Command == "" {
		return nil, errors.New("automation command not configured")
	}
	if _, err := exec.LookPath(cfg.Command); err != nil {
		return nil, fmt.Errorf("automation command: %w", err)
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 700 * time.Millisecond
	}
	return &ExecDriver{cfg: cfg, baseURL: baseURL}, nil
}

func (d *ExecDriver) Launch(ctx context.Context, sess store.Session) (Handle, error) {
	cmd := exec.Command(d.cfg.Command, d.cfg.Args...)
	cmd.Env = append(os.Environ(),
		"BOTFLEET_SESSION_ID="+strconv.FormatInt(sess.ID, 10),
		"BOTFLEET_PHONE_NUMBER="+sess.PhoneNumber,
		"BOTFLEET_BASE_URL="+d.baseURL,
	)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start automation process: %w", err)
	}
	return &execHandle{cmd: cmd, grace: d.cfg.GracePeriod}, nil
}

type execHandle struct {
	cmd   *exec.Cmd
	grace time.Duration
}

// Terminate interrupts the process and escalates to a kill if it does not
// exit within the grace period.
func (h *execHandle) Terminate() error {
	if h.cmd == nil || h.cmd.Process == nil {
		return nil
	}
	_ = h.cmd.Process.Signal(os.Interrupt)
	done := make(chan error, 1)
	go func() {
		done <- h.cmd.Wait()
	}()
	select {
	case err := <-done:
		return ignoreSignalExit(err)
	case <-time.After(h.grace):
		_ = h.cmd.Process.Kill()
		return ignoreSignalExit(<-done)
	}
}

// ignoreSignalExit maps the exit status of a process we deliberately
// signalled to success. Wait reports death by signal as an *exec.ExitError,
// which is the expected outcome of Terminate, not a failure.
func ignoreSignalExit(err error) error {
	if err == nil || errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// RemoteDriver is used when automation processes run on another host and
// attach to the gateway on their own; there is nothing to launch locally.
type RemoteDriver struct{}

func (RemoteDriver) Launch(ctx context.Context, sess store.Session) (Handle, error) {
	return remoteHandle{}, nil
}

type remoteHandle struct{}

func (remoteHandle) Terminate() error { return nil }
