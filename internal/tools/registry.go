package tools

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailmirror/internal/config"
	"github.com/brandon/mailmirror/pkg/types"
)

// SyncEngine is the sync side the tools drive
type SyncEngine interface {
	SyncMailbox(ctx context.Context, ownerEmail string, perFolderLimit int) (*types.SyncReport, error)
	ForceResync(ctx context.Context, ownerEmail string, perFolderLimit int) (*types.SyncReport, error)
	Status() types.SyncStatus
	DefaultLimit() int
}

// Views is the bounded read side the tools query
type Views interface {
	ListInbox(ctx context.Context, owner types.Account, page, limit int, search string) (*types.MessagePage, error)
	ListSent(ctx context.Context, owner types.Account, page, limit int) (*types.MessagePage, error)
	GetMessage(ctx context.Context, owner types.Account, id int64) (*types.MirroredMessage, error)
}

// Accounts resolves local accounts
type Accounts interface {
	GetAccountByEmail(ctx context.Context, email string) (*types.Account, error)
}

// Registry manages MCP tools
type Registry struct {
	config   *config.Config
	logger   *logrus.Logger
	sync     SyncEngine
	views    Views
	accounts Accounts
	tools    map[string]Tool
}

// Tool represents an MCP tool
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, params map[string]interface{}) (interface{}, error)
}

// NewRegistry creates a new tool registry
func NewRegistry(cfg *config.Config, sync SyncEngine, views Views, accounts Accounts, logger *logrus.Logger) *Registry {
	reg := &Registry{
		config:   cfg,
		logger:   logger,
		sync:     sync,
		views:    views,
		accounts: accounts,
		tools:    make(map[string]Tool),
	}

	reg.registerTools()

	return reg
}

// registerTools registers all available tools
func (r *Registry) registerTools() {
	resolver := &accountResolver{config: r.config, accounts: r.accounts}

	toolList := []Tool{
		NewSyncMailboxTool(r.sync, resolver, r.logger),
		NewSyncStatusTool(r.sync),
		NewListMessagesTool(r.views, resolver),
		NewGetMessageTool(r.views, resolver),
	}

	for _, tool := range toolList {
		r.tools[tool.Name()] = tool
		r.logger.WithField("tool", tool.Name()).Debug("Registered tool")
	}

	r.logger.WithField("count", len(r.tools)).Info("Registered tools")
}

// GetTool returns a tool by name
func (r *Registry) GetTool(name string) (Tool, bool) {
	tool, exists := r.tools[name]
	return tool, exists
}

// ListTools returns all registered tools sorted by name
func (r *Registry) ListTools() []Tool {
	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// GetToolDefinitions returns tool definitions for MCP
func (r *Registry) GetToolDefinitions() []map[string]interface{} {
	tools := r.ListTools()
	definitions := make([]map[string]interface{}, 0, len(tools))
	for _, tool := range tools {
		definitions = append(definitions, map[string]interface{}{
			"name":        tool.Name(),
			"description": tool.Description(),
			"inputSchema": tool.InputSchema(),
		})
	}
	return definitions
}
