package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/hupe1980/imgsieve"
	"github.com/hupe1980/imgsieve/codec"
)

// maxRequestBody bounds request payloads; the largest legitimate request is
// a transfer of a few thousand image ids.
const maxRequestBody = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v with the default codec. Encoding failures at this
// point are programming errors; the client gets a bare 500.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := codec.Default.Marshal(v)
	if err != nil {
		s.logger.Error("response encoding failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError maps the engine's error kinds onto HTTP statuses: unknown
// references are 404, violated preconditions 409, configuration faults and
// everything unexpected 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, imgsieve.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, imgsieve.ErrInvalidOperation):
		status = http.StatusConflict
	case errors.Is(err, imgsieve.ErrConfiguration):
		status = http.StatusInternalServerError
	}

	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// decode reads and unmarshals a request body into v. An empty body leaves v
// at its zero value.
func decode(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return codec.Default.Unmarshal(data, v)
}

type contextKey int

const sessionKey contextKey = iota

// withSession resolves the session token, enforces its rate limit and
// stashes the session in the request context.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromRequest(r)

		sess, ok := s.sessions.get(token)
		if !ok {
			s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown session"})
			return
		}

		if !sess.limiter.Allow() {
			s.writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) *session {
	sess, _ := ctx.Value(sessionKey).(*session)
	return sess
}
