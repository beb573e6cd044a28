package fsops

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestSanitizeComponent(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Super Game: Deluxe!", "Super-Game-Deluxe"},
		{"already-safe_1.2", "already-safe_1.2"},
		{"../..", "untitled"},
		{"", "untitled"},
		{"..hidden..", "hidden"},
	}
	for _, c := range cases {
		if got := SanitizeComponent(c.in); got != c.want {
			t.Errorf("SanitizeComponent(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestInstallAndStagingPathsStayUnderTheirRoots(t *testing.T) {
	install := InstallDirFor("/root/apps", "Evil/../Game", 42)
	if install != filepath.Join("/root/apps", "Evil-..-Game-42") {
		t.Fatalf("install dir = %q", install)
	}
	staging := StagingPathFor("/root/staging", "../../etc/passwd", 42)
	if staging != filepath.Join("/root/staging", "42", "etc-passwd") {
		t.Fatalf("staging path = %q", staging)
	}
}

func TestFixExecutablePermissionsRestoresScriptBits(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on windows")
	}
	root := t.TempDir()

	script := filepath.Join(root, "launch.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho hi\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	elf := filepath.Join(root, "game.bin")
	if err := os.WriteFile(elf, append([]byte{0x7f, 'E', 'L', 'F'}, make([]byte, 32)...), 0o600); err != nil {
		t.Fatal(err)
	}
	data := filepath.Join(root, "assets.dat")
	if err := os.WriteFile(data, []byte("not a binary"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := FixExecutablePermissions(root); err != nil {
		t.Fatalf("fix permissions: %v", err)
	}

	assertMode := func(path string, want os.FileMode) {
		t.Helper()
		fi, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if fi.Mode().Perm() != want {
			t.Errorf("%s mode = %o, want %o", filepath.Base(path), fi.Mode().Perm(), want)
		}
	}
	assertMode(script, 0o755)
	assertMode(elf, 0o700)
	assertMode(data, 0o644)
}

func TestFixExecutablePermissionsFailsOnMissingRoot(t *testing.T) {
	if err := FixExecutablePermissions(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("missing root did not fail")
	}
}

func TestScanBundlesFindsAppDirsAndSkipsSymlinks(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "Game.app"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "docs"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "notes.app"), []byte("a file, not a bundle"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(root, "Game.app"), filepath.Join(root, "Link.app")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	bundles, err := ScanBundles(root)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(bundles) != 1 || bundles[0] != filepath.Join(root, "Game.app") {
		t.Fatalf("bundles = %v, want only Game.app", bundles)
	}
}

func TestScanBundlesFailsOnlyOnUnreachableRoot(t *testing.T) {
	if _, err := ScanBundles(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("unreachable root did not fail")
	}
}
