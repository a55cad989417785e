package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/brandon/mailmirror/internal/config"
	"github.com/brandon/mailmirror/pkg/types"
)

// accountResolver picks the account a tool call acts for. Without an
// explicit "account" argument the configured default account is used.
type accountResolver struct {
	config   *config.Config
	accounts Accounts
}

func (r *accountResolver) resolve(ctx context.Context, params map[string]interface{}) (types.Account, error) {
	email := stringParam(params, "account")
	if email == "" {
		def := r.config.GetDefaultAccount()
		if def == nil {
			return types.Account{}, fmt.Errorf("no account configured")
		}
		email = def.Email
	}

	acc, err := r.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		return types.Account{}, fmt.Errorf("failed to resolve account: %w", err)
	}
	return *acc, nil
}

// operator resolves the default account, which stands for whoever drives
// the stdio session
func (r *accountResolver) operator(ctx context.Context) (types.Account, error) {
	return r.resolve(ctx, nil)
}

// accountSchema is the shared optional "account" argument
func accountSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Optional: Account email (defaults to the configured default account)",
	}
}

func stringParam(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return strings.TrimSpace(s)
}

func boolParam(params map[string]interface{}, key string) bool {
	switch v := params[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// intParam reads a JSON number or numeric string, falling back to def when absent
func intParam(params map[string]interface{}, key string, def int) (int, error) {
	switch v := params[key].(type) {
	case nil:
		return def, nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("invalid %s", key)
}
