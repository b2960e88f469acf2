package screenshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	logx "kibot/pkg/logx"
)

func TestCaptureDisabled(t *testing.T) {
	t.Parallel()
	_, err := NewExec(Config{CacheDir: t.TempDir()}, logx.Nop()).Capture(context.Background(), "1", "u")
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v", err)
	}
}

func TestCaptureRunsCommand(t *testing.T) {
	t.Parallel()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no sh")
	}
	dir := t.TempDir()
	c := NewExec(Config{
		Command:  []string{sh, "-c", `printf '%s' "$1" > "$2"`, "sh", "{url}", "{out}"},
		CacheDir: dir,
	}, logx.Nop())

	out, err := c.Capture(context.Background(), "1001", "https://t.bilibili.com/1001")
	if err != nil {
		t.Fatal(err)
	}
	if out != filepath.Join(dir, "1001.png") {
		t.Fatalf("out = %s", out)
	}
	b, _ := os.ReadFile(out)
	if string(b) != "https://t.bilibili.com/1001" {
		t.Fatalf("content = %q", b)
	}
}

func TestCaptureCommandWithoutOutputFails(t *testing.T) {
	t.Parallel()
	truePath, err := exec.LookPath("true")
	if err != nil {
		t.Skip("no true")
	}
	c := NewExec(Config{Command: []string{truePath}, CacheDir: t.TempDir()}, logx.Nop())
	if _, err := c.Capture(context.Background(), "7", "u"); err == nil {
		t.Fatal("expected error")
	}
}

func TestCaptureRejectsPathID(t *testing.T) {
	t.Parallel()
	c := NewExec(Config{Command: []string{"x"}, CacheDir: t.TempDir()}, logx.Nop())
	if _, err := c.Capture(context.Background(), "../etc", "u"); err == nil {
		t.Fatal("expected error")
	}
}

func TestCleanupKeepsNewest(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	for i := range 5 {
		p := filepath.Join(dir, fmt.Sprintf("%d.png", i))
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		mt := base.Add(time.Duration(i) * time.Minute)
		if err := os.Chtimes(p, mt, mt); err != nil {
			t.Fatal(err)
		}
	}
	c := NewExec(Config{CacheDir: dir, Keep: 2}, logx.Nop())
	if n := c.Cleanup(); n != 3 {
		t.Fatalf("removed = %d", n)
	}
	for _, name := range []string{"3.png", "4.png"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("%s should remain: %v", name, err)
		}
	}
}
