package mcp

import (
	"context"
	"fmt"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/rustytools/internal/toolchain"
)

type workspaceParams struct{}

func (h *handler) workspaceHandler(ctx context.Context, req *sdkmcp.CallToolRequest, _ workspaceParams) (*sdkmcp.CallToolResult, any, error) {
	info, err := h.engine().Metadata(ctx)
	if err != nil {
		return failure(err)
	}
	return textResult(formatWorkspace(info))
}

func formatWorkspace(info *toolchain.WorkspaceInfo) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Workspace: %s\n", info.Root)
	if info.TargetDir != "" {
		fmt.Fprintf(&b, "Target: %s\n", info.TargetDir)
	}
	fmt.Fprintln(&b)

	fmt.Fprintf(&b, "Packages (%d):\n", len(info.Packages))
	for _, p := range info.Packages {
		fmt.Fprintf(&b, "  %s %s", p.Name, p.Version)
		if p.Edition != "" {
			fmt.Fprintf(&b, " (edition %s)", p.Edition)
		}
		fmt.Fprintln(&b)
		fmt.Fprintf(&b, "    manifest: %s\n", p.ManifestPath)
		if len(p.Targets) > 0 {
			fmt.Fprintf(&b, "    targets: %s\n", strings.Join(p.Targets, ", "))
		}
	}
	return b.String()
}
