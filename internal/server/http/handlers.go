package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/helixir/session-workflow-engine/internal/domain"
	"github.com/helixir/session-workflow-engine/internal/observability"
)

// Pagination and validation constants.
const (
	defaultPageSize      = 50
	maxPageSize          = 100
	defaultEventPageSize = 200
	maxEventPageSize     = 1000
	maxRequestBodySize   = 1 << 20 // 1 MB limit for request bodies
)

// submitCommand handles POST /sessions/{sessionID}/commands.
// The command is validated and dispatched; its effects arrive as events.
func (s *Server) submitCommand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := observability.SessionIDFromContext(ctx)

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req submitCommandRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	params, err := domain.DecodeCommandParams(req.Type, req.Params)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	cmd := domain.NewCommand(sessionID, params)
	if err := s.deps.Commands.Dispatch(ctx, cmd); err != nil {
		writeDomainError(w, err)
		return
	}

	s.logger.Info().
		Str("session_id", sessionID).
		Str("command_id", cmd.ID.String()).
		Str("command_type", string(cmd.Type)).
		Str("correlation_id", observability.CorrelationIDFromContext(ctx)).
		Msg("command accepted")

	writeJSON(w, http.StatusAccepted, commandToResponse(cmd))
}

// getSession handles GET /sessions/{sessionID}.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, err := s.deps.Sessions.Session(ctx, observability.SessionIDFromContext(ctx))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// listSessions handles GET /sessions with page_size/page_token pagination.
// An optional phase filter is applied before paging.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaginationParams(r)

	sessions, err := s.deps.Sessions.Sessions(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if phase := r.URL.Query().Get("phase"); phase != "" {
		filtered := sessions[:0:0]
		for _, sess := range sessions {
			if string(sess.Phase) == phase {
				filtered = append(filtered, sess)
			}
		}
		sessions = filtered
	}

	total := len(sessions)
	page := sessions[min(offset, total):min(offset+limit, total)]

	writeJSON(w, http.StatusOK, listSessionsResponse{
		Sessions:      page,
		NextPageToken: encodeHTTPPageToken(offset, limit, total),
		TotalCount:    total,
	})
}

// listSessionEvents handles GET /sessions/{sessionID}/events.
// Pages are addressed by after_seq, the last sequence number already seen.
func (s *Server) listSessionEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := observability.SessionIDFromContext(ctx)

	afterSeq, ok := parseNonNegativeInt(w, r, "after_seq")
	if !ok {
		return
	}
	limit := defaultEventPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxEventPageSize)
	}

	events, err := s.deps.Events.List(ctx, sessionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if len(events) == 0 {
		writeDomainError(w, domain.NewNotFoundError("session", sessionID))
		return
	}

	page := make([]domain.Event, 0, min(limit, len(events)))
	for _, ev := range events {
		if ev.Seq <= afterSeq {
			continue
		}
		page = append(page, ev)
		if len(page) == limit {
			break
		}
	}

	resp := listEventsResponse{Events: page}
	if n := len(page); n == limit && page[n-1].Seq < events[len(events)-1].Seq {
		resp.NextAfterSeq = page[n-1].Seq
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeDomainError maps domain errors to HTTP status codes and writes a JSON
// error response. Internal error details are not leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrUnknownCommand):
		writeError(w, http.StatusBadRequest, "unknown command type")
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "command not allowed in the current phase")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	case errors.Is(err, domain.ErrCancelled):
		writeError(w, http.StatusConflict, "operation cancelled")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseNonNegativeInt reads an optional int64 query parameter, writing a 400
// response when it is malformed.
func parseNonNegativeInt(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a non-negative integer", name))
		return 0, false
	}
	return v, true
}

// parsePaginationParams extracts page_size and page_token from query parameters.
// It applies default and maximum bounds to the page size.
func parsePaginationParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if pageSizeStr := r.URL.Query().Get("page_size"); pageSizeStr != "" {
		if parsed, err := strconv.Atoi(pageSizeStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if pageToken := r.URL.Query().Get("page_token"); pageToken != "" {
		decoded, err := base64.StdEncoding.DecodeString(pageToken)
		if err == nil {
			if parsed, parseErr := strconv.Atoi(string(decoded)); parseErr == nil && parsed > 0 {
				offset = parsed
			}
		}
	}

	return limit, offset
}

// encodeHTTPPageToken encodes the next offset as a base64 page token.
// Returns an empty string if there are no more results.
func encodeHTTPPageToken(offset, limit, totalCount int) string {
	nextOffset := offset + limit
	if nextOffset < totalCount {
		return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(nextOffset)))
	}
	return ""
}

// pathParam returns a trimmed chi URL parameter.
func pathParam(r *http.Request, name string) string {
	return strings.TrimSpace(chi.URLParam(r, name))
}
