package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-stdio-manager-go/pkg/facade"
	"github.com/vikashloomba/mcp-stdio-manager-go/pkg/mcpmgr"
)

func newToolsCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Connect providers and list every available tool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := root.load(cmd)
			if err != nil {
				return err
			}
			defer e.shutdown()
			snapshot := e.facade.InitializeAndListTools(cmd.Context())
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), snapshot)
			}
			printCatalog(cmd.OutOrStdout(), snapshot)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the catalog as JSON")
	return cmd
}

func newServersCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Connect providers and list the connected servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := root.load(cmd)
			if err != nil {
				return err
			}
			defer e.shutdown()
			servers := e.facade.GetConnectedServersInfo(cmd.Context())
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), servers)
			}
			printServers(cmd.OutOrStdout(), servers)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the servers as JSON")
	return cmd
}

func newCallCmd(root *rootOptions) *cobra.Command {
	var rawArgs string
	cmd := &cobra.Command{
		Use:   "call <server> <tool>",
		Short: "Call a tool on a connected server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs, err := parseToolArgs(rawArgs)
			if err != nil {
				return err
			}
			e, err := root.load(cmd)
			if err != nil {
				return err
			}
			defer e.shutdown()
			res, err := e.facade.ExecuteTool(cmd.Context(), args[0], args[1], toolArgs)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			if res.IsError {
				return fmt.Errorf("tool %s reported an error", args[1])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rawArgs, "args", "", `tool arguments as a JSON object, e.g. '{"text":"hi"}'`)
	return cmd
}

func parseToolArgs(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("--args must be a JSON object: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func printCatalog(w io.Writer, snapshot facade.CatalogSnapshot) {
	if len(snapshot.Tools) == 0 {
		color.New(color.FgYellow).Fprintln(w, "no tools available")
		return
	}
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	current := ""
	for _, tool := range snapshot.Tools {
		if tool.ServerID != current {
			current = tool.ServerID
			cyan.Fprintf(w, "%s\n", current)
		}
		fmt.Fprintf(w, "  %s", tool.Name)
		if tool.Description != "" {
			gray.Fprintf(w, "  %s", tool.Description)
		}
		fmt.Fprintln(w)
	}
}

func printServers(w io.Writer, servers []mcpmgr.ServerSummary) {
	if len(servers) == 0 {
		color.New(color.FgYellow).Fprintln(w, "no servers connected")
		return
	}
	green := color.New(color.FgGreen)
	for _, s := range servers {
		green.Fprintf(w, "%s", s.ID)
		fmt.Fprintf(w, "  %s  (%d tools)", s.Name, s.ToolsCount)
		if len(s.Tags) > 0 {
			fmt.Fprintf(w, "  [%s]", strings.Join(s.Tags, ", "))
		}
		fmt.Fprintln(w)
	}
}

func printResult(w io.Writer, res *mcp.CallToolResult) {
	if res.IsError {
		color.New(color.FgRed).Fprintln(w, "tool reported an error:")
	}
	for _, content := range res.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			fmt.Fprintln(w, text.Text)
			continue
		}
		_ = writeJSON(w, content)
	}
	if res.StructuredContent != nil {
		_ = writeJSON(w, res.StructuredContent)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
