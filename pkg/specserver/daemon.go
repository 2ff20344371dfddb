package specserver

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// RunForeground starts the server and blocks until ctx is cancelled or a
// SIGTERM/SIGINT/SIGHUP arrives, implementing the non-daemonized half of
// §4.5: SIGTERM/SIGINT triggers a graceful drain-and-exit, SIGHUP reloads
// the resolver cache in place.
func RunForeground(ctx context.Context, cfg Config, resolver SpecResolver, posture PostureValidator) error {
	srv := New(cfg, resolver, posture)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	if err := writePIDFile(cfg.PIDPath); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}
	defer os.Remove(cfg.PIDPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return srv.Shutdown(context.Background())
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				srv.ReloadCache()
			default:
				log.Info().Str("signal", sig.String()).Msg("shutting down spec/repo server")
				return srv.Shutdown(context.Background())
			}
		}
	}
}

// daemonizeEnv is the environment variable this process checks to detect
// it is the re-exec'd background child, since Go has no fork(2): the
// parent re-execs itself detached (new session, stdio redirected) and
// waits for the health check to pass before returning, in place of
// daemon.py's double-fork and pipe handshake.
const daemonizeEnv = "HOMESTAK_SERVER_FOREGROUND"

// Daemonize starts the server as a detached background process and
// returns once it answers /health, mirroring daemon.py's parent_wait
// health-poll handshake without relying on fork(2).
func Daemonize(cfg Config) error {
	if os.Getenv(daemonizeEnv) == "1" {
		return RunForeground(context.Background(), cfg, NewFileResolver(cfg.SpecsDir), nil)
	}

	if running, _ := pidFileHealthy(cfg.PIDPath); running {
		return fmt.Errorf("server already running per %s", cfg.PIDPath)
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving executable path: %w", err)
	}

	logPath := cfg.PIDPath + ".log"
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening daemon log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(exePath, os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonizeEnv+"=1")
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting detached server process: %w", err)
	}

	if err := waitHealthy(cfg); err != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
		return err
	}

	log.Info().Int("pid", cmd.Process.Pid).Msg("spec/repo server daemonized")
	return nil
}

// Stop sends SIGTERM to the PID recorded in cfg.PIDPath and waits for the
// process to exit, mirroring daemon.py's _kill_process escalation to
// SIGKILL if it doesn't exit promptly.
func Stop(cfg Config) error {
	b, err := os.ReadFile(cfg.PIDPath)
	if err != nil {
		return fmt.Errorf("reading pid file: %w", err)
	}
	var pid int
	if _, err := fmt.Sscanf(string(b), "%d", &pid); err != nil {
		return fmt.Errorf("parsing pid file: %w", err)
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM: %w", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err := syscall.Kill(pid, 0); err != nil {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("sending SIGKILL: %w", err)
	}
	return nil
}
