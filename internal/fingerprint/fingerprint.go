// Package fingerprint computes content checksums over addon folder sets.
//
// A fingerprint depends only on relative interior paths and file bytes.
// Enumeration order, timestamps, permissions, the folder's own name and
// version-control metadata never affect it, so a fresh checkout of identical
// content always reproduces the checksum captured at install time.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// vcsDirs are version-control metadata directories excluded from checksums.
var vcsDirs = map[string]bool{
	".git": true,
	".svn": true,
	".hg":  true,
}

// Folders computes the checksum of a set of folders under root. The result is
// order-independent over the set: per-folder digests are sorted before being
// combined, so the same folders always combine to the same value.
func Folders(root string, folders []string) (string, error) {
	digests := make([]string, 0, len(folders))
	for _, name := range folders {
		digest, err := Folder(filepath.Join(root, name))
		if err != nil {
			return "", err
		}
		digests = append(digests, digest)
	}
	sort.Strings(digests)

	h := sha256.New()
	for _, digest := range digests {
		io.WriteString(h, digest)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Folder computes the checksum of a single directory tree. Paths are hashed
// relative to dir, so renaming dir itself does not change the result.
func Folder(dir string) (string, error) {
	type entry struct {
		rel  string
		path string
	}

	var files []entry
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if vcsDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, entry{rel: filepath.ToSlash(rel), path: path})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })

	h := sha256.New()
	for _, f := range files {
		io.WriteString(h, f.rel)
		h.Write([]byte{0})
		if err := hashFile(h, f.path); err != nil {
			return "", fmt.Errorf("failed to hash %s: %w", f.path, err)
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashFile(h io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(h, f)
	return err
}
