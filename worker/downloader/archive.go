package downloader

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
)

// ExtractAll unpacks every *.zip directly under dir into dir and returns the
// archives processed, in name order.
func ExtractAll(dir string) ([]string, error) {
	archives, err := filepath.Glob(filepath.Join(dir, "*.zip"))
	if err != nil {
		return nil, err
	}
	sort.Strings(archives)

	for _, a := range archives {
		n, err := Extract(a, dir)
		if err != nil {
			return nil, err
		}
		log.Printf("unzip: %s: %d files", filepath.Base(a), n)
	}
	return archives, nil
}

// Extract unpacks a zip archive below dst and returns the number of regular
// files written. Entries resolving outside dst are rejected before anything
// is written; symbolic links are skipped.
func Extract(archive, dst string) (int, error) {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return 0, fmt.Errorf("%s: %v", archive, err)
	}
	defer r.Close()

	root, err := filepath.Abs(dst)
	if err != nil {
		return 0, err
	}

	targets := make([]string, len(r.File))
	for i, f := range r.File {
		target := filepath.Join(root, filepath.FromSlash(f.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return 0, fmt.Errorf("%s: entry %q escapes %s", archive, f.Name, dst)
		}
		targets[i] = target
	}

	n := 0
	for i, f := range r.File {
		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(targets[i], 0755); err != nil {
				return n, err
			}
		case mode&os.ModeSymlink != 0:
			continue
		default:
			if err := extractFile(f, targets[i]); err != nil {
				return n, fmt.Errorf("%s: %s: %v", archive, f.Name, err)
			}
			n++
		}
	}
	return n, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	perm := f.Mode().Perm()
	if perm == 0 {
		perm = 0644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
