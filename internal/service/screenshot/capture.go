// Package screenshot renders a dynamic's page into an image file by running
// an external headless-browser command.
package screenshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	logx "kibot/pkg/logx"
)

// ErrDisabled is returned when no capture command is configured.
var ErrDisabled = errors.New("screenshot: disabled")

// Capturer turns a page into a local image file and returns its absolute path.
type Capturer interface {
	Capture(ctx context.Context, id, pageURL string) (string, error)
}

type Config struct {
	// Command is the program and its arguments. "{url}" and "{out}" in any
	// argument are replaced by the page URL and the output file path.
	Command  []string
	CacheDir string

	// Keep is how many image files survive a cleanup.
	Keep    int
	Timeout time.Duration
}

type ExecCapturer struct {
	cfg Config
	log logx.Logger
}

func NewExec(cfg Config, log logx.Logger) *ExecCapturer {
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join("cache", "bilibili_screenshots")
	}
	if cfg.Keep <= 0 {
		cfg.Keep = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ExecCapturer{cfg: cfg, log: log.With(logx.String("comp", "screenshot"))}
}

// Capture reuses an existing image for id; otherwise it runs the command and
// checks that it produced a non-empty file.
func (c *ExecCapturer) Capture(ctx context.Context, id, pageURL string) (string, error) {
	if len(c.cfg.Command) == 0 || strings.TrimSpace(c.cfg.Command[0]) == "" {
		return "", ErrDisabled
	}
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("screenshot: invalid id %q", id)
	}
	dir, err := filepath.Abs(c.cfg.CacheDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("screenshot: cache dir: %w", err)
	}
	out := filepath.Join(dir, id+".png")
	if fi, err := os.Stat(out); err == nil && fi.Size() > 0 {
		return out, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	args := make([]string, 0, len(c.cfg.Command)-1)
	for _, a := range c.cfg.Command[1:] {
		a = strings.ReplaceAll(a, "{url}", pageURL)
		args = append(args, strings.ReplaceAll(a, "{out}", out))
	}
	cmd := exec.CommandContext(ctx, c.cfg.Command[0], args...)
	start := time.Now()
	if b, err := cmd.CombinedOutput(); err != nil {
		_ = os.Remove(out)
		return "", fmt.Errorf("screenshot %s: %w: %s", id, err, tail(b, 200))
	}
	fi, err := os.Stat(out)
	if err != nil || fi.Size() == 0 {
		_ = os.Remove(out)
		return "", fmt.Errorf("screenshot %s: command produced no image", id)
	}
	c.log.Debug("captured", logx.String("id", id), logx.Duration("dur", time.Since(start)))
	c.Cleanup()
	return out, nil
}

// Cleanup removes the oldest images beyond Keep.
func (c *ExecCapturer) Cleanup() int {
	entries, err := os.ReadDir(c.cfg.CacheDir)
	if err != nil {
		return 0
	}
	type file struct {
		path string
		mod  time.Time
	}
	var files []file
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".png") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, file{filepath.Join(c.cfg.CacheDir, e.Name()), info.ModTime()})
	}
	if len(files) <= c.cfg.Keep {
		return 0
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })
	removed := 0
	for _, f := range files[:len(files)-c.cfg.Keep] {
		if err := os.Remove(f.path); err != nil {
			c.log.Warn("cleanup failed", logx.String("path", f.path), logx.Err(err))
			continue
		}
		removed++
	}
	return removed
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return s
}
