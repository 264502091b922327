// Command sequential-thinking is a stdio MCP tool provider offering a
// structured reflective-thinking tool. It is the provider registered by the
// default mcpmgr configuration.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type reflectiveInput struct {
	ProblemStatement string `json:"problem_statement" jsonschema:"A clear description of the problem to be solved or the topic for reflection."`
	InitialThoughts  string `json:"initial_thoughts,omitempty" jsonschema:"Optional initial thoughts or context from the user."`
}

type echoInput struct {
	Text string `json:"text" jsonschema:"Text to echo back."`
}

func main() {
	// stdout carries the protocol; diagnostics go to stderr.
	log.SetOutput(os.Stderr)
	log.SetPrefix("[sequential-thinking] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := newServer()
	log.Printf("serving on stdio")
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		log.Fatalf("server stopped: %v", err)
	}
}

func newServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "sequential-thinking-mcp",
		Title:   "Sequential Thinking MCP",
		Version: "0.1.0",
	}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "start_reflective_process",
		Description: "Initiates a structured thinking process to analyze a problem and generate solutions.",
	}, startReflectiveProcess)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "echo",
		Description: "Returns the given text unchanged.",
	}, echo)
	return server
}

func startReflectiveProcess(_ context.Context, _ *mcp.CallToolRequest, in reflectiveInput) (*mcp.CallToolResult, any, error) {
	return textResult(reflectiveStep(in)), nil, nil
}

func reflectiveStep(in reflectiveInput) string {
	thoughts := in.InitialThoughts
	if thoughts == "" {
		thoughts = "No initial thoughts provided."
	}
	return "Starting reflective process for: \"" + in.ProblemStatement + "\".\n" +
		"Initial thoughts: \"" + thoughts + "\".\n" +
		"Step 1: Deconstruct the problem. What are the core components? (This is a simulated step)"
}

func echo(_ context.Context, _ *mcp.CallToolRequest, in echoInput) (*mcp.CallToolResult, any, error) {
	return textResult(in.Text), nil, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}
