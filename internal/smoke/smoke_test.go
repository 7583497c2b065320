// Package smoke holds end-to-end checks that exercise the whole
// control plane in one process: gateway, router, lifecycle, audit
// chain, and the operator surface over the same files the CLI uses.
package smoke

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func moduleRoot(t *testing.T) string {
	t.Helper()

	cmd := exec.Command("go", "env", "GOMOD")
	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("go env GOMOD: %v", err)
	}
	gomod := strings.TrimSpace(string(out))
	if gomod == "" || gomod == os.DevNull {
		t.Fatalf("go env GOMOD returned %q; expected path to go.mod", gomod)
	}
	return filepath.Dir(gomod)
}

func buildBinary(t *testing.T, pkg string) {
	t.Helper()
	root := moduleRoot(t)
	outPath := filepath.Join(t.TempDir(), filepath.Base(pkg))

	cmd := exec.Command("go", "build", "-o", outPath, pkg)
	cmd.Dir = root

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		t.Fatalf("go build %s failed: %v\n%s", pkg, err, buf.String())
	}

	fi, err := os.Stat(outPath)
	if err != nil {
		t.Fatalf("stat built binary: %v", err)
	}
	if fi.Size() <= 0 {
		t.Fatalf("built binary has unexpected size %d", fi.Size())
	}
}

func TestSmoke_BuildsSwarmctlBinary(t *testing.T) {
	buildBinary(t, "./cmd/swarmctl")
}

func TestSmoke_BuildsSwarmdBinary(t *testing.T) {
	buildBinary(t, "./cmd/swarmd")
}
