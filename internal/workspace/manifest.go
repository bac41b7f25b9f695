// ABOUTME: Optional per-workspace TOML manifest consulted on session creation
// ABOUTME: Supplies display-name prefix, default labels, and working directory

package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ManifestFilename is the manifest file looked up in a workspace root.
const ManifestFilename = "glasshouse.toml"

// ErrNoManifest is returned when a workspace has no manifest file.
var ErrNoManifest = errors.New("no workspace manifest")

// Manifest is the parsed glasshouse.toml of a workspace. All fields are
// optional.
type Manifest struct {
	// Name overrides the workspace display name (defaults to the directory
	// base name).
	Name string `toml:"name"`

	// Labels are applied to every new session in this workspace.
	Labels []string `toml:"labels"`

	// WorkingDir is the default working directory for new sessions,
	// relative to the workspace root.
	WorkingDir string `toml:"working_dir"`
}

// LoadManifest reads the manifest from the given workspace root. Returns
// ErrNoManifest if the file does not exist.
func LoadManifest(root string) (*Manifest, error) {
	path := filepath.Join(root, ManifestFilename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoManifest
		}
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", ManifestFilename, err)
	}
	return &m, nil
}

// DisplayName returns the workspace's display name: the manifest name if
// set, otherwise the base name of the root directory.
func DisplayName(root string, m *Manifest) string {
	if m != nil && m.Name != "" {
		return m.Name
	}
	return filepath.Base(root)
}
