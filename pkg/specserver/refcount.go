package specserver

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
)

// RefCounter implements the server's reference-counted ensure/release
// lifecycle (§4.5): any number of node-executor instances may hold a
// handle on the same running server; the instance that actually started
// it is the only one allowed to stop it, and concurrent ensure() calls
// from separate processes serialize on a file lock covering the PID file
// creation window.
type RefCounter struct {
	cfg Config

	mu      sync.Mutex
	count   int
	started bool
	server  *Server
}

// NewRefCounter builds a RefCounter for the server described by cfg.
func NewRefCounter(cfg Config) *RefCounter {
	cfg.setDefaults()
	return &RefCounter{cfg: cfg}
}

// Ensure increments the reference count. If no server is running it starts
// one (recording that this instance owns it); otherwise it attaches to the
// already-running instance without claiming ownership.
func (rc *RefCounter) Ensure(ctx context.Context, resolver SpecResolver, posture PostureValidator) error {
	if err := os.MkdirAll(pidDir(rc.cfg.PIDPath), 0o755); err != nil {
		return fmt.Errorf("creating pid directory: %w", err)
	}

	lockPath := rc.cfg.PIDPath + ".lock"
	fl := flock.New(lockPath)
	lockCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	locked, err := fl.TryLockContext(lockCtx, 100*time.Millisecond)
	if err != nil || !locked {
		return fmt.Errorf("serializing ensure() on pid file lock: %w", err)
	}
	defer fl.Unlock()

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if running, _ := pidFileHealthy(rc.cfg.PIDPath); running {
		log.Debug().Str("pid_path", rc.cfg.PIDPath).Msg("attaching to already-running server")
		rc.count++
		return nil
	}

	srv := New(rc.cfg, resolver, posture)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	if err := waitHealthy(rc.cfg); err != nil {
		_ = srv.Shutdown(ctx)
		return err
	}
	if err := writePIDFile(rc.cfg.PIDPath); err != nil {
		_ = srv.Shutdown(ctx)
		return err
	}

	rc.server = srv
	rc.started = true
	rc.count++
	return nil
}

// Release decrements the reference count. If it reaches zero and this
// instance started the server, the server is stopped; if a different
// instance started it, Release never stops it.
func (rc *RefCounter) Release(ctx context.Context) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.count > 0 {
		rc.count--
	}
	if rc.count > 0 || !rc.started {
		return nil
	}

	rc.started = false
	if rc.server == nil {
		return nil
	}
	err := rc.server.Shutdown(ctx)
	rc.server = nil
	_ = os.Remove(rc.cfg.PIDPath)
	return err
}

func pidDir(pidPath string) string {
	i := len(pidPath) - 1
	for i >= 0 && pidPath[i] != '/' {
		i--
	}
	if i <= 0 {
		return "."
	}
	return pidPath[:i]
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// pidFileHealthy reports whether the PID file names a live process, by
// sending that PID signal 0. It does not probe /health: a live process
// that is not answering health checks still counts as running.
func pidFileHealthy(path string) (bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return false, nil
	}
	pid, err := strconv.Atoi(string(b))
	if err != nil {
		return false, nil
	}
	if err := syscall.Kill(pid, 0); err != nil {
		return false, nil
	}
	return true, nil
}

func waitHealthy(cfg Config) error {
	client := &http.Client{
		Timeout: 2 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	addr := "https://" + cfg.Bind + ":" + strconv.Itoa(cfg.Port) + "/health"

	deadline := time.Now().Add(10 * time.Second)
	for {
		resp, err := client.Get(addr)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become healthy within startup window")
		}
		time.Sleep(200 * time.Millisecond)
	}
}
