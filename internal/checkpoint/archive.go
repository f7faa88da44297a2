package checkpoint

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ExportCheckpoints bundles every checkpoint and metadata file belonging
// to episodeIDs (or the whole tree when episodeIDs is empty) into a
// single zip archive at destPath.
func (m *Manager) ExportCheckpoints(destPath string, episodeIDs []string) error {
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("checkpoint: create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	want := make(map[string]bool, len(episodeIDs))
	for _, id := range episodeIDs {
		want[id] = true
	}

	for _, sub := range []string{"episodes", "metadata", "segments"} {
		dir := filepath.Join(m.Root, sub)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("checkpoint: read %s dir: %w", sub, err)
		}
		for _, e := range entries {
			if len(want) > 0 && !matchesEpisode(e.Name(), want) {
				continue
			}
			if err := addFileToZip(zw, filepath.Join(dir, e.Name()), filepath.Join(sub, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

func matchesEpisode(filename string, want map[string]bool) bool {
	for id := range want {
		if strings.HasPrefix(filename, id+"_") {
			return true
		}
	}
	return false
}

func addFileToZip(zw *zip.Writer, srcPath, archivePath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("checkpoint: open %s: %w", srcPath, err)
	}
	defer src.Close()

	w, err := zw.Create(archivePath)
	if err != nil {
		return fmt.Errorf("checkpoint: create zip entry %s: %w", archivePath, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("checkpoint: write zip entry %s: %w", archivePath, err)
	}
	return nil
}

// ImportCheckpoints extracts an archive produced by ExportCheckpoints into
// this Manager's root, overwriting any existing files of the same name.
func (m *Manager) ImportCheckpoints(srcPath string) (int, error) {
	r, err := zip.OpenReader(srcPath)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: open archive: %w", err)
	}
	defer r.Close()

	imported := 0
	for _, f := range r.File {
		destPath := filepath.Join(m.Root, filepath.Clean(f.Name))
		if !strings.HasPrefix(destPath, filepath.Clean(m.Root)+string(os.PathSeparator)) {
			return imported, fmt.Errorf("checkpoint: archive entry %q escapes root", f.Name)
		}
		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return imported, fmt.Errorf("checkpoint: create dir for %s: %w", f.Name, err)
		}

		rc, err := f.Open()
		if err != nil {
			return imported, fmt.Errorf("checkpoint: open archive entry %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return imported, fmt.Errorf("checkpoint: read archive entry %s: %w", f.Name, err)
		}
		if err := writeAtomic(destPath, data); err != nil {
			return imported, fmt.Errorf("checkpoint: write %s: %w", destPath, err)
		}
		imported++
	}
	return imported, nil
}
