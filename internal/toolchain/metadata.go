package toolchain

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const metadataTimeout = 30 * time.Second

// WorkspaceInfo summarises the cargo workspace.
type WorkspaceInfo struct {
	Root      string        `json:"workspace_root"`
	TargetDir string        `json:"target_directory"`
	Packages  []PackageInfo `json:"packages"`
}

// PackageInfo is one workspace member.
type PackageInfo struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Edition      string   `json:"edition,omitempty"`
	ManifestPath string   `json:"manifest_path"`
	Targets      []string `json:"targets,omitempty"` // "kind:name", e.g. "bin:demo"
}

// cargoMetadata holds the relevant fields of cargo metadata output.
type cargoMetadata struct {
	WorkspaceRoot   string `json:"workspace_root"`
	TargetDirectory string `json:"target_directory"`
	Packages        []struct {
		Name         string `json:"name"`
		Version      string `json:"version"`
		Edition      string `json:"edition"`
		ManifestPath string `json:"manifest_path"`
		Targets      []struct {
			Name string   `json:"name"`
			Kind []string `json:"kind"`
		} `json:"targets"`
	} `json:"packages"`
}

// Metadata describes the workspace with cargo metadata.
func (e *Engine) Metadata(ctx context.Context) (*WorkspaceInfo, error) {
	e.setup()
	if e.Workspace == "" {
		return nil, invalid("workspace", "not configured")
	}
	if _, err := os.Stat(filepath.Join(e.Workspace, "Cargo.toml")); err != nil {
		return nil, invalid("workspace", "%s has no Cargo.toml", e.Workspace)
	}

	release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	argv := []string{"cargo", "metadata", "--format-version", "1", "--no-deps"}
	res, err := e.Runner.RunWithTimeout(ctx, argv, "", metadataTimeout)
	if err != nil {
		return nil, unavailable("cargo", err)
	}
	if !res.Success {
		return nil, &CommandError{Argv: argv, ExitCode: res.ExitCode, Stderr: string(res.Stderr)}
	}

	var md cargoMetadata
	if err := json.Unmarshal(res.Stdout, &md); err != nil {
		return nil, fmt.Errorf("parse cargo metadata: %w", err)
	}

	info := &WorkspaceInfo{Root: md.WorkspaceRoot, TargetDir: md.TargetDirectory, Packages: []PackageInfo{}}
	for _, p := range md.Packages {
		pi := PackageInfo{Name: p.Name, Version: p.Version, Edition: p.Edition, ManifestPath: p.ManifestPath}
		for _, t := range p.Targets {
			for _, k := range t.Kind {
				pi.Targets = append(pi.Targets, k+":"+t.Name)
			}
		}
		sort.Strings(pi.Targets)
		info.Packages = append(info.Packages, pi)
	}
	sort.Slice(info.Packages, func(i, j int) bool { return info.Packages[i].Name < info.Packages[j].Name })
	return info, nil
}
