package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"example.com/certgate/internal/common"
)

// VerifyDir checks every manifest item against the files under root: the
// path must stay inside root and the size and SHA-256 must match.
func VerifyDir(root string, m Manifest) error {
	if m.ShaAlgo != "sha256" {
		return fmt.Errorf("unsupported manifest algorithm %q", m.ShaAlgo)
	}
	if len(m.Items) == 0 {
		return errors.New("manifest has no items")
	}
	for _, item := range m.Items {
		if strings.TrimSpace(item.Path) == "" {
			return errors.New("manifest item missing path")
		}
		cleaned := filepath.Clean(filepath.FromSlash(item.Path))
		if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
			return fmt.Errorf("manifest item %q escapes bundle root", item.Path)
		}
		if filepath.IsAbs(cleaned) {
			return fmt.Errorf("manifest item %q is absolute", item.Path)
		}
		path := filepath.Join(root, cleaned)
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("manifest item %q: %w", item.Path, err)
		}
		if info.IsDir() {
			return fmt.Errorf("manifest item %q is a directory", item.Path)
		}
		hash, size, err := common.Sha256OfFile(path)
		if err != nil {
			return fmt.Errorf("hash %q: %w", item.Path, err)
		}
		if hash != item.Sha256 {
			return fmt.Errorf("manifest mismatch for %s", item.Path)
		}
		if size != item.Size {
			return fmt.Errorf("manifest size mismatch for %s", item.Path)
		}
	}
	return nil
}
