// Package browser starts and stops the Chromium process the raw CDP engine
// drives when no external CDP endpoint is configured.
package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"
)

type Config struct {
	CDPAddress string
	CDPPort    int
	ExecPath   string
	// ProfileDir is the --user-data-dir; empty means a temporary profile
	// that is removed on Stop.
	ProfileDir  string
	Headless    bool
	WindowSize  string // "w,h"
	DeviceScale float64
	Lang        string
	ExtraArgs   []string

	ReadyTimeout time.Duration // default 15s
	StopTimeout  time.Duration // default 5s
}

// Launcher owns at most one browser process.
type Launcher struct {
	cfg     Config
	cmd     *exec.Cmd
	exited  chan struct{}
	running bool
	tempDir string
}

func NewLauncher(cfg Config) *Launcher {
	if cfg.CDPAddress == "" {
		cfg.CDPAddress = "127.0.0.1"
	}
	if cfg.WindowSize == "" {
		cfg.WindowSize = "2560,1440"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 15 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	return &Launcher{cfg: cfg}
}

// CDPURL is the HTTP endpoint the browser exposes for /json/version.
func (l *Launcher) CDPURL() string {
	return "http://" + net.JoinHostPort(l.cfg.CDPAddress, strconv.Itoa(l.cfg.CDPPort))
}

// Running reports whether this launcher spawned the browser.
func (l *Launcher) Running() bool { return l.running }

var (
	browserNames = []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"}
	browserPaths = map[string][]string{
		"linux":  {"/usr/bin/google-chrome", "/usr/bin/chromium", "/usr/bin/chromium-browser", "/snap/bin/chromium"},
		"darwin": {"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome", "/Applications/Chromium.app/Contents/MacOS/Chromium"},
	}
)

// detectBrowser returns explicit when it exists, otherwise the first
// Chrome/Chromium found on PATH or at a well-known install location.
func detectBrowser(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("browser executable %s: %w", explicit, err)
		}
		return explicit, nil
	}
	for _, name := range browserNames {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	for _, p := range browserPaths[runtime.GOOS] {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no Chrome/Chromium found (tried %s)", strings.Join(browserNames, ", "))
}

func (l *Launcher) args() []string {
	args := []string{
		"--remote-debugging-port=" + strconv.Itoa(l.cfg.CDPPort),
		"--remote-debugging-address=" + l.cfg.CDPAddress,
		"--user-data-dir=" + l.cfg.ProfileDir,
		"--window-size=" + l.cfg.WindowSize,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-breakpad",
		"--disable-dev-shm-usage",
		"--disable-gpu",
		"--no-sandbox",
		// full-page screenshots must not show scrollbars
		"--hide-scrollbars",
		"--mute-audio",
		"--autoplay-policy=no-user-gesture-required",
		"--disable-popup-blocking",
	}
	if l.cfg.DeviceScale > 0 {
		args = append(args, "--force-device-scale-factor="+strconv.FormatFloat(l.cfg.DeviceScale, 'f', -1, 64))
	}
	if l.cfg.Lang != "" {
		args = append(args, "--lang="+l.cfg.Lang)
	}
	if l.cfg.Headless {
		args = append(args, "--headless=new")
	}
	args = append(args, l.cfg.ExtraArgs...)
	return append(args, "about:blank")
}

// Launch starts the browser and waits until its CDP endpoint answers. When
// something already listens on the CDP port it is assumed to be a browser
// and reused.
func (l *Launcher) Launch(ctx context.Context) error {
	addr := net.JoinHostPort(l.cfg.CDPAddress, strconv.Itoa(l.cfg.CDPPort))
	if conn, err := net.DialTimeout("tcp", addr, time.Second); err == nil {
		_ = conn.Close()
		slog.Info("cdp port already in use, reusing browser", "addr", addr)
		return nil
	}

	bin, err := detectBrowser(l.cfg.ExecPath)
	if err != nil {
		return err
	}
	if l.cfg.ProfileDir == "" {
		if l.tempDir, err = os.MkdirTemp("", "adcapture-profile-"); err != nil {
			return fmt.Errorf("create profile dir: %w", err)
		}
		l.cfg.ProfileDir = l.tempDir
	} else if err := os.MkdirAll(l.cfg.ProfileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	cmd := exec.Command(bin, l.args()...)
	cmd.Stderr = &logWriter{source: filepath.Base(bin)}
	if err := cmd.Start(); err != nil {
		l.removeTempProfile()
		return fmt.Errorf("start browser: %w", err)
	}
	l.cmd, l.running = cmd, true
	l.exited = make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(l.exited)
	}()
	slog.Info("browser started", "path", bin, "pid", cmd.Process.Pid, "profile", l.cfg.ProfileDir)

	wsURL, err := l.waitReady(ctx)
	if err != nil {
		l.Stop()
		return err
	}
	slog.Info("cdp endpoint ready", "ws_url", wsURL)
	return nil
}

// waitReady polls /json/version until it reports a websocket URL, the
// process exits or ReadyTimeout passes.
func (l *Launcher) waitReady(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.ReadyTimeout)
	defer cancel()
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()

	client := &http.Client{Timeout: time.Second}
	for {
		if ws, err := probeVersion(ctx, client, l.CDPURL()); err == nil {
			return ws, nil
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("cdp not ready at %s: %w", l.CDPURL(), ctx.Err())
		case <-l.exited:
			return "", errors.New("browser exited before cdp became ready")
		case <-tick.C:
		}
	}
}

func probeVersion(ctx context.Context, client *http.Client, base string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/json/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var v struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("/json/version: HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil || v.WebSocketDebuggerURL == "" {
		return "", errors.New("/json/version: no websocket url")
	}
	return v.WebSocketDebuggerURL, nil
}

// logWriter forwards browser stderr to the debug log line by line.
type logWriter struct {
	source string
	buf    []byte
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		if line := strings.TrimSpace(string(w.buf[:i])); line != "" {
			slog.Debug("browser output", "source", w.source, "line", line)
		}
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Stop sends SIGTERM, escalating to SIGKILL after StopTimeout. A browser
// this launcher did not start is left alone.
func (l *Launcher) Stop() {
	if !l.running || l.cmd == nil || l.cmd.Process == nil {
		return
	}
	pid := l.cmd.Process.Pid
	_ = l.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-l.exited:
		slog.Info("browser stopped", "pid", pid)
	case <-time.After(l.cfg.StopTimeout):
		slog.Warn("browser ignored SIGTERM, killing", "pid", pid)
		_ = l.cmd.Process.Kill()
		<-l.exited
	}
	l.running = false
	l.removeTempProfile()
}

func (l *Launcher) removeTempProfile() {
	if l.tempDir == "" {
		return
	}
	if err := os.RemoveAll(l.tempDir); err != nil {
		slog.Debug("temp profile cleanup failed", "dir", l.tempDir, "error", err)
	}
	l.cfg.ProfileDir, l.tempDir = "", ""
}
