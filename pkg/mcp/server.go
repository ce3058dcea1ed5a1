// Package mcp serves read-only gateway reports to MCP clients over stdio.
package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"

	json "github.com/goccy/go-json"

	"github.com/pario-ai/aigate/pkg/models"
	"github.com/pario-ai/aigate/pkg/tracker"
)

// CacheStatter reports cache contents.
type CacheStatter interface {
	Stats(ctx context.Context) (models.CacheStats, error)
}

// Accounts is the read side of the credit ledger.
type Accounts interface {
	Account(ctx context.Context, userID string) (models.CreditAccount, error)
	Transactions(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error)
	Costs(ctx context.Context) ([]models.FeatureCost, error)
}

// Server answers JSON-RPC requests, one per line.
type Server struct {
	usage    tracker.Tracker
	accounts Accounts
	cache    CacheStatter
	version  string
	logger   *slog.Logger
}

// New creates a Server. cache may be nil when caching is disabled.
func New(usage tracker.Tracker, accounts Accounts, cache CacheStatter, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		usage:    usage,
		accounts: accounts,
		cache:    cache,
		version:  version,
		logger:   logger,
	}
}

// Run reads requests from r and writes responses to w until r is exhausted
// or ctx is done.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(w, rpcError(nil, CodeParseError, "parse error"))
			continue
		}
		if resp := s.dispatch(ctx, &req); resp != nil {
			s.write(w, resp)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	if req.JSONRPC != jsonRPCVersion {
		return rpcError(req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}
	switch req.Method {
	case "initialize":
		return result(req.ID, initializeResult{
			ProtocolVersion: protocolVersion,
			Server:          serverInfo{Name: "aigate", Version: s.version},
			Capabilities:    capabilities{},
		})
	case "notifications/initialized":
		return nil
	case "ping":
		return result(req.ID, map[string]any{})
	case "tools/list":
		return result(req.ID, toolList{Tools: toolDefinitions()})
	case "tools/call":
		var params toolCall
		if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
			return rpcError(req.ID, CodeInvalidParams, "invalid params")
		}
		t, ok := toolsByName[params.Name]
		if !ok {
			return result(req.ID, errorResult("unknown tool: "+params.Name))
		}
		s.logger.Debug("mcp_tool_call", "tool", params.Name)
		return result(req.ID, t.handle(ctx, s, params.Arguments))
	default:
		return rpcError(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (s *Server) write(w io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("mcp_marshal_failed", "err", err)
		return
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		s.logger.Error("mcp_write_failed", "err", err)
	}
}
