// Command vault-mcp exposes processPluginDataRequest as an MCP tool, so
// any MCP-speaking plugin or agent can ask the vault for a user's memories
// through the same tiered-privacy path internal/vault enforces elsewhere.
// Grounded on the teacher's cmd/mcp-manifold (stdio transport, one tool per
// capability) generalized from github.com/metoro-io/mcp-golang to the
// official github.com/modelcontextprotocol/go-sdk the rest of this repo's
// go.mod already carries.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"osqr/internal/model"
	"osqr/internal/observability"
	"osqr/internal/privacy"
	"osqr/internal/vault"
	"osqr/internal/vconfig"
	"osqr/internal/version"
)

type queryArgs struct {
	UserID       string   `json:"userId" jsonschema:"the vault user id to query"`
	RequesterID  string   `json:"requesterId" jsonschema:"the calling plugin's id"`
	Tier         string   `json:"tier" jsonschema:"requested privacy tier: minimal, contextual, or full"`
	Categories   []string `json:"categories,omitempty" jsonschema:"optional category narrowing"`
	RequireWrite bool     `json:"requireWrite,omitempty" jsonschema:"set when this request needs write-tier access"`
}

func main() {
	cfg, err := vconfig.Load()
	if err != nil {
		panic(err)
	}
	observability.InitLogger("", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	v := vault.FromConfig(ctx, cfg)

	server := mcp.NewServer(&mcp.Implementation{Name: "vault-mcp", Version: version.Version}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "query_user_memory",
		Description: "Query a vault user's semantic memories, filtered and redacted by privacy tier.",
	}, makeQueryHandler(v))

	log.Info().Msg("vault-mcp serving over stdio")
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		log.Fatal().Err(err).Msg("vault-mcp server stopped")
	}
}

func makeQueryHandler(v *vault.Vault) func(context.Context, *mcp.CallToolRequest, queryArgs) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, args queryArgs) (*mcp.CallToolResult, any, error) {
		categories := make([]model.MemoryCategory, 0, len(args.Categories))
		for _, c := range args.Categories {
			categories = append(categories, model.MemoryCategory(c))
		}
		resp, err := v.ProcessPluginDataRequest(ctx, args.UserID, privacy.Request{
			RequesterID:   args.RequesterID,
			RequesterType: model.RequesterPlugin,
			Categories:    categories,
			Tier:          privacy.Tier(args.Tier),
			RequireWrite:  args.RequireWrite,
		})
		if err != nil {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
			}, nil, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: resp.Content}},
		}, resp, nil
	}
}
