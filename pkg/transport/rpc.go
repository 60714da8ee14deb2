package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/majordomohq/majordomo/pkg/a2a"
	"github.com/majordomohq/majordomo/pkg/promptcache"
	"github.com/majordomohq/majordomo/pkg/workflow"
)

// Administrative methods of the hosting process, outside the A2A
// protocol surface.
const (
	methodCacheStats   = "cache/stats"
	methodCacheEntries = "cache/entries"
	methodCacheEvict   = "cache/evict"
)

// handleRPC is the JSON-RPC 2.0 endpoint. Every response is HTTP 200;
// failures travel in the error member of the envelope.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, nil, &a2a.JSONRPCError{Code: a2a.ErrCodeParse, Message: "failed to read request body"})
		return
	}

	var req a2a.JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, nil, &a2a.JSONRPCError{Code: a2a.ErrCodeParse, Message: "invalid JSON"})
		return
	}
	if req.JSONRPC != a2a.JSONRPCVersion {
		s.writeError(w, req.ID, &a2a.JSONRPCError{Code: a2a.ErrCodeInvalidRequest, Message: "invalid JSON-RPC version"})
		return
	}

	result, rpcErr := s.dispatch(r.Context(), &req)
	if rpcErr != nil {
		s.logger.Debug("RPC failed", "method", req.Method, "code", rpcErr.Code, "error", rpcErr.Message)
		s.writeError(w, req.ID, rpcErr)
		return
	}
	s.writeResult(w, req.ID, result)
}

func (s *Server) dispatch(ctx context.Context, req *a2a.JSONRPCRequest) (any, *a2a.JSONRPCError) {
	switch req.Method {
	case a2a.MethodMessageSend:
		return s.sendMessage(ctx, req.Params)
	case a2a.MethodTasksGet:
		return s.getTask(ctx, req.Params)
	case a2a.MethodTasksCancel:
		return s.cancelTask(ctx, req.Params)
	case methodCacheStats:
		return s.cacheStats(), nil
	case methodCacheEntries:
		return s.cacheEntries(), nil
	case methodCacheEvict:
		return s.cacheEvict(ctx, req.Params)
	default:
		return nil, &a2a.JSONRPCError{
			Code:    a2a.ErrCodeMethodNotFound,
			Message: fmt.Sprintf("method %q is not supported", req.Method),
		}
	}
}

func (s *Server) sendMessage(ctx context.Context, params json.RawMessage) (any, *a2a.JSONRPCError) {
	var p a2a.MessageSendParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err)
	}

	result, err := s.driver.Process(ctx, p.Message, p.Metadata)
	if err != nil {
		return nil, wireError(err)
	}
	return result, nil
}

func (s *Server) getTask(ctx context.Context, params json.RawMessage) (any, *a2a.JSONRPCError) {
	var p a2a.TaskQueryParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err)
	}
	if p.ID == "" {
		return nil, &a2a.JSONRPCError{Code: a2a.ErrCodeInvalidParams, Message: "task id is required"}
	}

	task, err := s.driver.GetTask(ctx, p.ID)
	if err != nil {
		return nil, wireError(err)
	}
	return task, nil
}

func (s *Server) cancelTask(ctx context.Context, params json.RawMessage) (any, *a2a.JSONRPCError) {
	var p a2a.TaskCancelParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err)
	}
	if p.ID == "" {
		return nil, &a2a.JSONRPCError{Code: a2a.ErrCodeInvalidParams, Message: "task id is required"}
	}

	task, err := s.driver.CancelTask(ctx, p.ID)
	if err != nil {
		return nil, wireError(err)
	}
	return task, nil
}

func (s *Server) cacheStats() promptcache.Stats {
	if s.cache == nil {
		return promptcache.Stats{}
	}
	return s.cache.Stats()
}

// cacheEntry is the listing shape of one cached prompt; vectors stay
// server-side.
type cacheEntry struct {
	Prompt    string               `json:"prompt"`
	Hash      string               `json:"hash"`
	Decision  promptcache.Decision `json:"decision"`
	Hits      int64                `json:"hits"`
	CreatedAt string               `json:"createdAt"`
	LastHitAt string               `json:"lastHitAt,omitempty"`
}

func (s *Server) cacheEntries() map[string]any {
	var entries []cacheEntry
	if s.cache != nil {
		for _, e := range s.cache.List() {
			entry := cacheEntry{
				Prompt:    e.Prompt,
				Hash:      e.Hash,
				Decision:  e.Decision,
				Hits:      e.Hits,
				CreatedAt: a2a.Timestamp(e.CreatedAt),
			}
			if !e.LastHitAt.IsZero() {
				entry.LastHitAt = a2a.Timestamp(e.LastHitAt)
			}
			entries = append(entries, entry)
		}
	}
	if entries == nil {
		entries = []cacheEntry{}
	}
	return map[string]any{"entries": entries, "total": len(entries)}
}

type cacheEvictParams struct {
	Hash string `json:"hash"`
}

func (s *Server) cacheEvict(ctx context.Context, params json.RawMessage) (any, *a2a.JSONRPCError) {
	var p cacheEvictParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err)
	}
	if p.Hash == "" {
		return nil, &a2a.JSONRPCError{Code: a2a.ErrCodeInvalidParams, Message: "entry hash is required"}
	}

	evicted := false
	if s.cache != nil {
		evicted = s.cache.Evict(ctx, p.Hash)
	}
	return map[string]any{"evicted": evicted}, nil
}

func invalidParams(err error) *a2a.JSONRPCError {
	return &a2a.JSONRPCError{
		Code:    a2a.ErrCodeInvalidParams,
		Message: fmt.Sprintf("invalid params: %v", err),
	}
}

// wireError converts a driver error into the A2A error shape. The
// task sentinels get their protocol codes; everything else, including
// queue rejection and cancellation, is a server error.
func wireError(err error) *a2a.JSONRPCError {
	switch {
	case errors.Is(err, workflow.ErrTaskNotFound):
		return &a2a.JSONRPCError{Code: a2a.ErrCodeTaskNotFound, Message: "Task not found", Data: err.Error()}
	case errors.Is(err, workflow.ErrTaskNotCancelable):
		return &a2a.JSONRPCError{Code: a2a.ErrCodeTaskNotCancelable, Message: "Task cannot be canceled", Data: err.Error()}
	default:
		return &a2a.JSONRPCError{Code: a2a.ErrCodeInternal, Message: err.Error()}
	}
}

func (s *Server) writeResult(w http.ResponseWriter, id any, result any) {
	resp, err := a2a.NewResponse(id, result)
	if err != nil {
		s.logger.Error("Result marshal failed", "error", err)
		s.writeError(w, id, &a2a.JSONRPCError{Code: a2a.ErrCodeInternal, Message: "failed to encode result"})
		return
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Debug("Response write failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, id any, rpcErr *a2a.JSONRPCError) {
	resp := a2a.NewErrorResponse(id, rpcErr.Code, rpcErr.Message)
	resp.Error.Data = rpcErr.Data
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Debug("Error write failed", "error", err)
	}
}
