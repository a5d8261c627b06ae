package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// hashFile computes the SHA256 of a file, returning hex string and size.
func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// writeChecksumSidecar writes "<hash>  <name>" to path + ".sha256".
func writeChecksumSidecar(path, hash string) error {
	content := fmt.Sprintf("%s  %s\n", hash, filepath.Base(path))
	if err := os.WriteFile(path+".sha256", []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing sha256 sidecar: %w", err)
	}
	return nil
}
