package env

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// PrepareRunFolder creates the working directory for one solver instance
// under root and seeds it with the base case and any extra files. Solvers
// write meshes and fields relative to their working directory, so each
// instance gets its own copy.
func PrepareRunFolder(root, caseDir string, extraFiles []string, index int) (string, error) {
	dir := filepath.Join(root, fmt.Sprintf("env_%02d", index))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create run folder: %w", err)
	}

	if caseDir != "" {
		if err := os.CopyFS(dir, os.DirFS(caseDir)); err != nil {
			return "", fmt.Errorf("copy base case to run folder: %w", err)
		}
	}

	for _, src := range extraFiles {
		if err := copyFile(src, filepath.Join(dir, filepath.Base(src))); err != nil {
			return "", fmt.Errorf("copy %s: %w", src, err)
		}
	}
	return dir, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
