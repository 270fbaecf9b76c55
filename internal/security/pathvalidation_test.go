package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	dir := t.TempDir()
	inside := filepath.Join(dir, "part.nc")
	if err := os.WriteFile(inside, []byte("G1 X0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ValidatePathWithinDirectory(inside, dir); err != nil {
		t.Errorf("path inside directory rejected: %v", err)
	}
	// a file that does not exist yet but would land inside is fine
	if err := ValidatePathWithinDirectory(filepath.Join(dir, "new.nc"), dir); err != nil {
		t.Errorf("future path inside directory rejected: %v", err)
	}

	outside := filepath.Join(t.TempDir(), "part.nc")
	if err := ValidatePathWithinDirectory(outside, dir); err == nil {
		t.Error("path outside directory accepted")
	}
	if err := ValidatePathWithinDirectory(filepath.Join(dir, "..", "escape.nc"), dir); err == nil {
		t.Error("dot-dot escape accepted")
	}
}

func TestValidatePathRejectsSymlinkEscape(t *testing.T) {
	dir := t.TempDir()
	target := t.TempDir()
	link := filepath.Join(dir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if err := ValidatePathWithinDirectory(filepath.Join(link, "part.nc"), dir); err == nil {
		t.Error("symlinked escape accepted")
	}
}

func TestValidateProgramPath(t *testing.T) {
	dir := t.TempDir()
	inside := filepath.Join(dir, "part.nc")

	if err := ValidateProgramPath(inside, nil); err != nil {
		t.Errorf("empty allow-list must disable the check: %v", err)
	}
	if err := ValidateProgramPath(inside, []string{dir}); err != nil {
		t.Errorf("allowed path rejected: %v", err)
	}
	if err := ValidateProgramPath("/etc/passwd", []string{dir}); err == nil {
		t.Error("path outside the allow-list accepted")
	}
}
