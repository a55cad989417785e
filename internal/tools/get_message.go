package tools

import (
	"context"
	"fmt"
)

// GetMessageTool retrieves one mirrored message by ID
type GetMessageTool struct {
	views    Views
	resolver *accountResolver
}

// NewGetMessageTool creates a new get message tool
func NewGetMessageTool(views Views, resolver *accountResolver) *GetMessageTool {
	return &GetMessageTool{
		views:    views,
		resolver: resolver,
	}
}

// Name returns the tool name
func (t *GetMessageTool) Name() string {
	return "get_message"
}

// Description returns the tool description
func (t *GetMessageTool) Description() string {
	return "Retrieve a full mirrored message by ID"
}

// InputSchema returns the JSON schema for tool inputs
func (t *GetMessageTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message_id": map[string]interface{}{
				"type":        "integer",
				"description": "Message ID (from list_messages results)",
			},
			"account": accountSchema(),
		},
		"required": []string{"message_id"},
	}
}

// Execute executes the tool
func (t *GetMessageTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id, err := intParam(params, "message_id", 0)
	if err != nil {
		return nil, err
	}
	if id < 1 {
		return nil, fmt.Errorf("message_id is required")
	}

	owner, err := t.resolver.resolve(ctx, params)
	if err != nil {
		return nil, err
	}

	return t.views.GetMessage(ctx, owner, int64(id))
}
