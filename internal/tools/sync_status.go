package tools

import "context"

// SyncStatusTool reports the sync engine state
type SyncStatusTool struct {
	sync SyncEngine
}

// NewSyncStatusTool creates a new sync status tool
func NewSyncStatusTool(sync SyncEngine) *SyncStatusTool {
	return &SyncStatusTool{sync: sync}
}

// Name returns the tool name
func (t *SyncStatusTool) Name() string {
	return "sync_status"
}

// Description returns the tool description
func (t *SyncStatusTool) Description() string {
	return "Report whether a sync is running and the result of the last run"
}

// InputSchema returns the JSON schema for tool inputs
func (t *SyncStatusTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

// Execute executes the tool
func (t *SyncStatusTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return t.sync.Status(), nil
}
