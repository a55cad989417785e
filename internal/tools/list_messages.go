package tools

import (
	"context"
	"fmt"

	"github.com/brandon/mailmirror/pkg/types"
)

// ListMessagesTool pages through the bounded inbox or sent view
type ListMessagesTool struct {
	views    Views
	resolver *accountResolver
}

// NewListMessagesTool creates a new list messages tool
func NewListMessagesTool(views Views, resolver *accountResolver) *ListMessagesTool {
	return &ListMessagesTool{
		views:    views,
		resolver: resolver,
	}
}

// Name returns the tool name
func (t *ListMessagesTool) Name() string {
	return "list_messages"
}

// Description returns the tool description
func (t *ListMessagesTool) Description() string {
	return "List mirrored inbox or sent messages, newest first (at most 100 per view)"
}

// InputSchema returns the JSON schema for tool inputs
func (t *ListMessagesTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account": accountSchema(),
			"category": map[string]interface{}{
				"type":        "string",
				"enum":        []string{string(types.CategoryInbox), string(types.CategorySent)},
				"description": "Which view to list",
			},
			"page": map[string]interface{}{
				"type":        "integer",
				"description": "Optional: Page number starting at 1",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Optional: Page size (default 20, max 100)",
			},
			"search": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Case-insensitive match on subject, body or sender (inbox only)",
			},
		},
		"required": []string{"category"},
	}
}

// Execute executes the tool
func (t *ListMessagesTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	category := types.Category(stringParam(params, "category"))
	if !category.Valid() {
		return nil, fmt.Errorf("category must be %q or %q", types.CategoryInbox, types.CategorySent)
	}

	page, err := intParam(params, "page", 1)
	if err != nil {
		return nil, err
	}
	limit, err := intParam(params, "limit", 0)
	if err != nil {
		return nil, err
	}

	owner, err := t.resolver.resolve(ctx, params)
	if err != nil {
		return nil, err
	}

	if category == types.CategorySent {
		return t.views.ListSent(ctx, owner, page, limit)
	}
	return t.views.ListInbox(ctx, owner, page, limit, stringParam(params, "search"))
}
