package main

import (
	"bytes"
	"context"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/inamate/planboard/internal/engine"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunDragBench(t *testing.T) {
	res, err := runDragBench(context.Background(), engine.DefaultOptions(), 100, 20)
	if err != nil {
		t.Fatalf("runDragBench() error = %v", err)
	}
	if res.Frames != 20 || res.Rendered == 0 {
		t.Fatalf("result = %+v", res)
	}
	if _, err := runDragBench(context.Background(), engine.DefaultOptions(), 0, 1); err == nil {
		t.Fatal("empty board accepted")
	}
}

func TestValidateCmd(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(good, []byte(`{"version":1,"elements":[{"id":"a","type":"sticky","visible":true}]}`), 0o644)
	os.WriteFile(bad, []byte(`{"elements":[{"id":"","type":"shape"}]}`), 0o644)

	out, err := run(t, "validate", good)
	if err != nil {
		t.Fatalf("validate good: %v", err)
	}
	if !strings.Contains(out, "1 elements") || !strings.Contains(out, "sticky") {
		t.Fatalf("output = %q", out)
	}
	if _, err := run(t, "validate", bad); err == nil {
		t.Fatal("validate accepted an element without id")
	}
}

func TestGridCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grid.png")
	if _, err := run(t, "grid", "--type", "dots", "--width", "64", "--height", "32", "--dpr", "2", "-o", path); err != nil {
		t.Fatalf("grid: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 128 || b.Dy() != 64 {
		t.Fatalf("size = %v, want 128x64 device pixels", b)
	}

	if _, err := run(t, "grid", "--type", "plaid"); err == nil {
		t.Fatal("unknown grid type accepted")
	}
}
