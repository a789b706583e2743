package installer

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// ExtractSubtree copies the files below the shallowest directory named
// subtree in the zip archive into dest and returns their relative paths.
// Entries that would land outside dest are rejected.
func ExtractSubtree(archivePath, subtree, dest string) ([]string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	prefix, ok := findSubtree(r.File, subtree)
	if !ok {
		return nil, fmt.Errorf("archive has no %s/ directory", subtree)
	}

	var files []string
	for _, f := range r.File {
		name := strings.TrimPrefix(f.Name, "./")
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rel := strings.TrimPrefix(name, prefix)
		if rel == "" {
			continue
		}
		if !filepath.IsLocal(filepath.FromSlash(rel)) {
			return nil, fmt.Errorf("archive entry %q escapes the destination", f.Name)
		}
		target := filepath.Join(dest, filepath.FromSlash(rel))

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, fmt.Errorf("create %s: %w", rel, err)
			}
			continue
		}
		if !f.Mode().IsRegular() {
			return nil, fmt.Errorf("archive entry %q is not a regular file", f.Name)
		}
		if err := extractFile(f, target); err != nil {
			return nil, err
		}
		files = append(files, path.Clean(rel))
	}
	sort.Strings(files)
	return files, nil
}

// findSubtree returns the slash terminated prefix of the shallowest
// directory called name.
func findSubtree(files []*zip.File, name string) (string, bool) {
	best := ""
	bestDepth := -1
	for _, f := range files {
		parts := strings.Split(strings.TrimPrefix(f.Name, "./"), "/")
		for i, part := range parts[:len(parts)-1] {
			if part != name {
				continue
			}
			if bestDepth < 0 || i < bestDepth {
				best = strings.Join(parts[:i+1], "/") + "/"
				bestDepth = i
			}
			break
		}
	}
	return best, bestDepth >= 0
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", f.Name, err)
	}
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return dst.Close()
}
