package mcp

import (
	"context"
	"errors"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/pario-ai/aigate/pkg/ledger"
)

type tool struct {
	def    toolDef
	handle func(ctx context.Context, s *Server, args json.RawMessage) toolResult
}

var tools = []tool{
	{
		def: toolDef{
			Name:        "aigate_credit_balance",
			Description: "Show a user's credit buckets and total spendable balance.",
			InputSchema: objectSchema([]string{"user_id"}, map[string]any{
				"user_id": stringProp("The user id to inspect"),
			}),
		},
		handle: handleCreditBalance,
	},
	{
		def: toolDef{
			Name:        "aigate_credit_history",
			Description: "List a user's most recent credit journal entries.",
			InputSchema: objectSchema([]string{"user_id"}, map[string]any{
				"user_id": stringProp("The user id to inspect"),
				"limit":   map[string]any{"type": "integer", "description": "Maximum rows (default 20)"},
			}),
		},
		handle: handleCreditHistory,
	},
	{
		def: toolDef{
			Name:        "aigate_usage_summary",
			Description: "Show billed requests and credits grouped by user, feature and provider.",
			InputSchema: objectSchema(nil, map[string]any{
				"user_id": stringProp("Filter by user id (optional)"),
			}),
		},
		handle: handleUsageSummary,
	},
	{
		def: toolDef{
			Name:        "aigate_cache_stats",
			Description: "Show response cache entries, hits and expired entries per feature.",
			InputSchema: objectSchema(nil, map[string]any{}),
		},
		handle: handleCacheStats,
	},
	{
		def: toolDef{
			Name:        "aigate_feature_costs",
			Description: "List the stored credit price of each feature.",
			InputSchema: objectSchema(nil, map[string]any{}),
		},
		handle: handleFeatureCosts,
	},
}

var toolsByName = func() map[string]tool {
	m := make(map[string]tool, len(tools))
	for _, t := range tools {
		m[t.def.Name] = t
	}
	return m
}()

func toolDefinitions() []toolDef {
	out := make([]toolDef, len(tools))
	for i, t := range tools {
		out[i] = t.def
	}
	return out
}

func objectSchema(required []string, props map[string]any) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

type userArgs struct {
	UserID string `json:"user_id"`
	Limit  int    `json:"limit"`
}

func parseUserArgs(raw json.RawMessage, requireUser bool) (userArgs, error) {
	var args userArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return args, errors.New("invalid arguments: " + err.Error())
		}
	}
	args.UserID = strings.TrimSpace(args.UserID)
	if requireUser && args.UserID == "" {
		return args, errors.New("user_id is required")
	}
	return args, nil
}

func handleCreditBalance(ctx context.Context, s *Server, raw json.RawMessage) toolResult {
	args, err := parseUserArgs(raw, true)
	if err != nil {
		return errorResult(err.Error())
	}
	acct, err := s.accounts.Account(ctx, args.UserID)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return textResult("No credit account for " + args.UserID + ".")
	}
	if err != nil {
		return errorResult("Error fetching balance: " + err.Error())
	}
	return textResult(formatAccount(acct))
}

func handleCreditHistory(ctx context.Context, s *Server, raw json.RawMessage) toolResult {
	args, err := parseUserArgs(raw, true)
	if err != nil {
		return errorResult(err.Error())
	}
	if args.Limit <= 0 {
		args.Limit = 20
	}
	txs, err := s.accounts.Transactions(ctx, args.UserID, args.Limit)
	if err != nil {
		return errorResult("Error fetching history: " + err.Error())
	}
	return textResult(formatTransactions(txs))
}

func handleUsageSummary(ctx context.Context, s *Server, raw json.RawMessage) toolResult {
	args, err := parseUserArgs(raw, false)
	if err != nil {
		return errorResult(err.Error())
	}
	rows, err := s.usage.Summary(ctx, args.UserID)
	if err != nil {
		return errorResult("Error fetching usage: " + err.Error())
	}
	return textResult(formatUsage(rows))
}

func handleCacheStats(ctx context.Context, s *Server, _ json.RawMessage) toolResult {
	if s.cache == nil {
		return textResult("Cache is disabled.")
	}
	stats, err := s.cache.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(formatCacheStats(stats))
}

func handleFeatureCosts(ctx context.Context, s *Server, _ json.RawMessage) toolResult {
	costs, err := s.accounts.Costs(ctx)
	if err != nil {
		return errorResult("Error fetching costs: " + err.Error())
	}
	return textResult(formatCosts(costs))
}
