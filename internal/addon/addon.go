// Package addon locates installable addon folders inside a repository
// working copy.
//
// An addon folder is any directory containing a .toc descriptor whose
// declared interface version is compatible with the configured game client.
// A repository may carry a single addon at its root or bundle several addons
// in subdirectories; both shapes map onto the same Folder slice.
package addon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ErrNoInstallableContent indicates a working copy contains nothing
// recognizable as an addon.
var ErrNoInstallableContent = errors.New("no installable addons found")

// Folder describes one installable addon directory inside a working copy.
type Folder struct {
	// Name is the destination folder name under the addon root, taken from
	// the .toc descriptor's base name. Descriptor names are stable across
	// checkouts, so repeated installs of a source map to the same folders.
	Name string
	// Dir is the absolute source directory inside the working copy.
	Dir string
}

var interfacePattern = regexp.MustCompile(`## Interface:\s*(\d+)`)

// vcsDirs mirrors the fingerprint exclusions; descriptors inside
// version-control metadata are never installable.
var vcsDirs = map[string]bool{
	".git": true,
	".svn": true,
	".hg":  true,
}

// Discover walks workDir for .toc descriptors and returns the addon folders
// they declare, sorted by name. Descriptors targeting an interface version
// above maxInterface are skipped (maxInterface <= 0 disables the gate).
// Discover fails with ErrNoInstallableContent when nothing qualifies.
func Discover(workDir string, maxInterface int) ([]Folder, error) {
	byDir := make(map[string]Folder)

	err := filepath.WalkDir(workDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if vcsDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(d.Name()), ".toc") {
			return nil
		}

		version, ok, err := readInterfaceVersion(path)
		if err != nil {
			return err
		}
		if !ok {
			// Descriptor without an interface header; not installable.
			return nil
		}
		if maxInterface > 0 && version > maxInterface {
			return nil
		}

		dir := filepath.Dir(path)
		if prev, exists := byDir[dir]; exists {
			return fmt.Errorf("multiple addon descriptors in %s (%s and %s)",
				dir, prev.Name, strings.TrimSuffix(d.Name(), filepath.Ext(d.Name())))
		}
		byDir[dir] = Folder{
			Name: strings.TrimSuffix(d.Name(), filepath.Ext(d.Name())),
			Dir:  dir,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan working copy: %w", err)
	}

	if len(byDir) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoInstallableContent, workDir)
	}

	// Addons routinely vendor libraries that ship their own descriptors;
	// only the shallowest descriptor on any directory chain is an addon.
	dirs := make(map[string]bool, len(byDir))
	for dir := range byDir {
		dirs[dir] = true
	}
	for dir := range byDir {
		for parent := filepath.Dir(dir); ; parent = filepath.Dir(parent) {
			if dirs[parent] {
				delete(byDir, dir)
				break
			}
			if parent == workDir || parent == filepath.Dir(parent) {
				break
			}
		}
	}

	folders := make([]Folder, 0, len(byDir))
	seen := make(map[string]string, len(byDir))
	for _, f := range byDir {
		if other, dup := seen[strings.ToLower(f.Name)]; dup {
			return nil, fmt.Errorf("addon %q declared in both %s and %s", f.Name, other, f.Dir)
		}
		seen[strings.ToLower(f.Name)] = f.Dir
		folders = append(folders, f)
	}
	sort.Slice(folders, func(i, j int) bool { return folders[i].Name < folders[j].Name })
	return folders, nil
}

// readInterfaceVersion extracts the "## Interface:" header from a .toc file.
// The second return is false when the file carries no such header.
func readInterfaceVersion(path string) (int, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read descriptor %s: %w", path, err)
	}

	match := interfacePattern.FindSubmatch(data)
	if match == nil {
		return 0, false, nil
	}
	version, err := strconv.Atoi(string(match[1]))
	if err != nil {
		return 0, false, nil
	}
	return version, true, nil
}
