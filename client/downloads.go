package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DownloadPath returns dir/<fileID>_<base name>. Both parts come from the
// offering peer and are reduced to a base name so the file stays in dir.
func DownloadPath(dir, fileID, name string) string {
	return filepath.Join(dir, sanitizeFilename(fileID)+"_"+sanitizeFilename(name))
}

func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := strings.TrimSpace(filepath.Base(name))
	switch base {
	case "", ".", "..", "/":
		return "download"
	}
	return base
}

func writeDownload(dir, fileID, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create downloads directory: %w", err)
	}

	path := DownloadPath(dir, fileID, name)
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", fmt.Errorf("write download: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("finalize download: %w", err)
	}
	return path, nil
}
