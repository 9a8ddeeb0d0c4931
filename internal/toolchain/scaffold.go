package toolchain

import (
	"fmt"
	"os"
	"path/filepath"
)

// defaultManifest is used when the caller supplies no Cargo.toml.
const defaultManifest = `[package]
name = "temp_project"
version = "0.1.0"
edition = "2021"

[dependencies]
`

// scaffold is a throwaway cargo project holding one snippet.
type scaffold struct {
	Dir string
}

// newScaffold creates a project under base with code as src/main.rs. An
// empty manifest selects defaultManifest.
func newScaffold(base, code, manifest string) (*scaffold, error) {
	if base != "" {
		if err := os.MkdirAll(base, 0o755); err != nil {
			return nil, fmt.Errorf("create scratch directory: %w", err)
		}
	}
	dir, err := os.MkdirTemp(base, "rustytools-")
	if err != nil {
		return nil, fmt.Errorf("create scaffold: %w", err)
	}
	s := &scaffold{Dir: dir}

	if manifest == "" {
		manifest = defaultManifest
	}
	if err := os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte(manifest), 0o644); err != nil {
		s.Remove()
		return nil, fmt.Errorf("write Cargo.toml: %w", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "src"), 0o755); err != nil {
		s.Remove()
		return nil, fmt.Errorf("create src: %w", err)
	}
	if err := os.WriteFile(s.mainPath(), []byte(code), 0o644); err != nil {
		s.Remove()
		return nil, fmt.Errorf("write main.rs: %w", err)
	}
	return s, nil
}

func (s *scaffold) mainPath() string {
	return filepath.Join(s.Dir, "src", "main.rs")
}

// Main returns the current contents of src/main.rs.
func (s *scaffold) Main() (string, error) {
	data, err := os.ReadFile(s.mainPath())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Remove deletes the project directory.
func (s *scaffold) Remove() {
	_ = os.RemoveAll(s.Dir)
}
