package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/caresafe/caresafe/internal/platform/auth"
)

// AccessRecord captures one PHI access observed at the HTTP boundary:
// who touched what, when, from where. IP and user agent are forensic
// metadata only; they are never consulted by access-control decisions.
type AccessRecord struct {
	TenantID   string
	ActorID    string
	ActorRoles []string
	Action     string // view, create, update, delete
	Resource   string
	SubjectID  string
	Path       string
	Method     string
	IPAddress  string
	UserAgent  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// AccessRecorder persists access records. The indirection keeps this
// package decoupled from the audit ledger so tests can swap in a stub.
type AccessRecorder interface {
	RecordAccess(rec AccessRecord) error
}

// AccessRecorderFunc adapts a function to AccessRecorder.
type AccessRecorderFunc func(rec AccessRecord) error

func (f AccessRecorderFunc) RecordAccess(rec AccessRecord) error { return f(rec) }

// Audit returns middleware that records every request under /api/v1/ as
// a PHI access. The handler runs first so the response status lands in
// the record; a recorder failure is logged and never fails the request.
func Audit(logger zerolog.Logger, recorders ...AccessRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			if !strings.HasPrefix(path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			ctx := req.Context()
			rec := AccessRecord{
				Timestamp:  time.Now().UTC(),
				Path:       path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: c.Response().Status,
				ActorID:    auth.ActorIDFromContext(ctx),
				ActorRoles: auth.RolesFromContext(ctx),
				TenantID:   auth.TenantIDFromContext(ctx),
				Action:     methodToAction(req.Method),
				Resource:   resourceFromPath(path),
				SubjectID:  subjectFromPath(c),
			}
			if rid, ok := c.Get("request_id").(string); ok {
				rec.RequestID = rid
			}

			if len(recorders) > 0 && recorders[0] != nil {
				if recErr := recorders[0].RecordAccess(rec); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", rec.RequestID).
						Msg("failed to record access entry")
				}
			}

			logger.Info().
				Str("type", "phi_access").
				Str("request_id", rec.RequestID).
				Str("tenant_id", rec.TenantID).
				Str("actor_id", rec.ActorID).
				Strs("actor_roles", rec.ActorRoles).
				Str("resource", rec.Resource).
				Str("subject_id", rec.SubjectID).
				Str("action", rec.Action).
				Str("method", rec.Method).
				Str("path", rec.Path).
				Str("remote_ip", rec.IPAddress).
				Int("status", rec.StatusCode).
				Msg("phi_access")

			return err
		}
	}
}

func methodToAction(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return "view"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "view"
	}
}

// resourceFromPath takes the first path segment after /api/v1/.
func resourceFromPath(path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/api/v1/"), "/")
	if len(segments) > 0 && segments[0] != "" {
		return segments[0]
	}
	return "unknown"
}

// subjectFromPath finds the subject identifier in /api/v1/subjects/<id>
// paths or a subject_id query parameter.
func subjectFromPath(c echo.Context) string {
	path := c.Request().URL.Path
	if strings.HasPrefix(path, "/api/v1/subjects/") {
		segments := strings.Split(strings.TrimPrefix(path, "/api/v1/subjects/"), "/")
		if len(segments) > 0 {
			if _, err := uuid.Parse(segments[0]); err == nil {
				return segments[0]
			}
		}
	}
	return c.QueryParam("subject_id")
}
