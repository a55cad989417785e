package tools

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// SyncMailboxTool runs a sync for one account and returns its report
type SyncMailboxTool struct {
	sync     SyncEngine
	resolver *accountResolver
	logger   *logrus.Logger
}

// NewSyncMailboxTool creates a new sync mailbox tool
func NewSyncMailboxTool(sync SyncEngine, resolver *accountResolver, logger *logrus.Logger) *SyncMailboxTool {
	return &SyncMailboxTool{
		sync:     sync,
		resolver: resolver,
		logger:   logger,
	}
}

// Name returns the tool name
func (t *SyncMailboxTool) Name() string {
	return "sync_mailbox"
}

// Description returns the tool description
func (t *SyncMailboxTool) Description() string {
	return "Mirror the most recent inbox and sent messages from IMAP into the local store"
}

// InputSchema returns the JSON schema for tool inputs
func (t *SyncMailboxTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account": accountSchema(),
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": fmt.Sprintf("Optional: Messages to fetch per folder (default %d)", t.sync.DefaultLimit()),
			},
			"force": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: Delete previously synced messages first (default account must be an admin)",
			},
		},
	}
}

// Execute executes the tool
func (t *SyncMailboxTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	owner, err := t.resolver.resolve(ctx, params)
	if err != nil {
		return nil, err
	}

	limit, err := intParam(params, "limit", 0)
	if err != nil {
		return nil, err
	}

	run := t.sync.SyncMailbox
	if boolParam(params, "force") {
		op, err := t.resolver.operator(ctx)
		if err != nil {
			return nil, err
		}
		if !op.IsAdmin() {
			return nil, fmt.Errorf("force resync requires an admin account, %s is not one", op.Email)
		}
		run = t.sync.ForceResync
	}

	report, err := run(ctx, owner.Email, limit)
	if err != nil {
		return nil, fmt.Errorf("sync failed: %w", err)
	}

	t.logger.WithFields(logrus.Fields{
		"owner":  owner.Email,
		"run_id": report.RunID,
		"saved":  report.Total.Saved,
	}).Info("Sync completed via tool")

	return report, nil
}
