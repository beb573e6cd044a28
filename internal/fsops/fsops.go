// Package fsops provides the filesystem collaborator: destination path
// computation, executable permission fix-up and post-install bundle probing.
package fsops

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"cavern/internal/errkind"
)

var unsafePathChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeComponent turns an arbitrary title into a single safe path
// component.
func SanitizeComponent(name string) string {
	s := unsafePathChars.ReplaceAllString(name, "-")
	s = strings.Trim(s, "-.")
	if s == "" {
		s = "untitled"
	}
	return s
}

// InstallDirFor computes the cave install directory for a game.
func InstallDirFor(installRoot, gameTitle string, gameID int64) string {
	return filepath.Join(installRoot, fmt.Sprintf("%s-%d", SanitizeComponent(gameTitle), gameID))
}

// StagingPathFor computes the destination path a download is fetched to
// before install finalization.
func StagingPathFor(stagingRoot, filename string, gameID int64) string {
	return filepath.Join(stagingRoot, fmt.Sprintf("%d", gameID), SanitizeComponent(filename))
}

// Executable magic: ELF, Mach-O (both endiannesses, thin and fat) and
// shebang scripts.
var execMagics = [][]byte{
	{0x7f, 'E', 'L', 'F'},
	{0xfe, 0xed, 0xfa, 0xce},
	{0xfe, 0xed, 0xfa, 0xcf},
	{0xcf, 0xfa, 0xed, 0xfe},
	{0xce, 0xfa, 0xed, 0xfe},
	{0xca, 0xfe, 0xba, 0xbe},
	{'#', '!'},
}

func looksExecutable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, 4)
	n, err := f.Read(head)
	if err != nil || n < 2 {
		return false
	}
	for _, magic := range execMagics {
		if n >= len(magic) && bytes.Equal(head[:len(magic)], magic) {
			return true
		}
	}
	return false
}

// FixExecutablePermissions walks root and restores the executable bits on
// native binaries and scripts, which archive extraction tends to lose.
// Entries that vanish mid-walk are skipped.
func FixExecutablePermissions(root string) error {
	if _, err := os.Stat(root); err != nil {
		return errkind.Wrap(errkind.Filesystem, err, "install dir unreachable")
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return errkind.Wrap(errkind.Filesystem, err, "install dir unreachable")
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if !looksExecutable(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		mode := info.Mode()
		want := mode | (mode&0o444)>>2 // +x wherever there is +r
		if want == mode {
			return nil
		}
		if err := os.Chmod(path, want); err != nil {
			return errkind.Wrap(errkind.Filesystem, err, "fix permissions")
		}
		return nil
	})
}

// ScanBundles probes an install directory for app bundles (".app"
// directories). Symlinked and inaccessible entries are skipped rather than
// failing the whole scan; only an unreachable scan root is an error.
func ScanBundles(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errkind.Wrap(errkind.Filesystem, err, "scan root unreachable")
	}

	var bundles []string
	for _, entry := range entries {
		if entry.Type()&fs.ModeSymlink != 0 {
			continue
		}
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, entry.Name())); err != nil {
			// Vanished or inaccessible since ReadDir; not fatal.
			continue
		}
		if strings.HasSuffix(entry.Name(), ".app") {
			bundles = append(bundles, filepath.Join(root, entry.Name()))
		}
	}
	return bundles, nil
}
