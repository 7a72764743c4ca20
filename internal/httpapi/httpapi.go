// Package httpapi is the JSON request adapter (§6): it decodes a read
// or write request, dispatches to the Query Executor (C4) or Write
// Pipeline (C5), and renders the response envelope with CORS headers.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/tenantsqld/tenantsqld/internal/bderrors"
	"github.com/tenantsqld/tenantsqld/internal/executor"
	"github.com/tenantsqld/tenantsqld/internal/types"
	"github.com/tenantsqld/tenantsqld/internal/writepipeline"
)

// Server wires the primary executor, the standby executor, and the
// write pipeline behind the read, write and standby-read routes, plus a
// health route.
type Server struct {
	Primary  *executor.Executor
	Standby  *executor.Executor
	Pipeline *writepipeline.Pipeline
	Region   string
	Logger   *slog.Logger
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Routes registers the adapter's endpoints on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/read", s.handleRead)
	mux.HandleFunc("/write", s.handleWrite)
	mux.HandleFunc("/standby/read", s.handleStandbyRead)
	mux.HandleFunc("/health", s.handleHealth)
}

func withCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST,OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
	w.Header().Set("Content-Type", "application/json")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	withCORS(w)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	withCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	req, requestID, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	result, err := s.Primary.Execute(r.Context(), req)
	if err != nil {
		s.writeError(w, requestID, err)
		return
	}

	s.writeJSON(w, http.StatusOK, types.ReadResponse{
		Success:     true,
		Data:        result.Rows,
		RowCount:    len(result.Rows),
		StorageTier: result.StorageTier,
		DBSource:    result.DBSource,
		Region:      s.Region,
		CacheHit:    result.CacheHit,
	})
}

func (s *Server) handleStandbyRead(w http.ResponseWriter, r *http.Request) {
	withCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	req, requestID, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	result, err := s.Standby.Execute(r.Context(), req)
	if err != nil {
		s.writeError(w, requestID, err)
		return
	}

	s.writeJSON(w, http.StatusOK, types.ReadResponse{
		Success:     true,
		Data:        result.Rows,
		RowCount:    len(result.Rows),
		StorageTier: result.StorageTier,
		DBSource:    result.DBSource,
		Region:      s.Region,
		CacheHit:    false,
	})
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	withCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	req, requestID, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	result, err := s.Pipeline.Execute(r.Context(), req)
	if err != nil {
		s.writeError(w, requestID, err)
		return
	}

	s.writeJSON(w, http.StatusOK, types.WriteResponse{
		Success:         true,
		RowsAffected:    result.RowsAffected,
		SnapshotCreated: result.SnapshotCreated,
		SnapshotS3Key:   result.SnapshotS3Key,
		LastUpdatedAt:   result.LastUpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		StorageTier:     result.StorageTier,
		DBSource:        result.DBSource,
	})
}

func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (types.ReadRequest, string, bool) {
	requestID := uuid.NewString()

	var req types.ReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, requestID, bderrors.BadRequest("malformed JSON body"))
		return req, requestID, false
	}
	if req.TenantName == "" || req.APIKey == "" || req.SQLQuery == "" {
		s.writeError(w, requestID, bderrors.BadRequest("tenant_name, api_key, and sql_query are required"))
		return req, requestID, false
	}
	return req, requestID, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, requestID string, err error) {
	kind := bderrors.KindOf(err)
	status := bderrors.HTTPStatusFor(kind)

	message := http.StatusText(status)
	if bderr, ok := bderrors.As(err); ok {
		message = bderr.Message
	}

	s.logger().Error("request failed", "request_id", requestID, "kind", kind, "error", err)
	s.writeJSON(w, status, types.ErrorResponse{Error: message})
}
