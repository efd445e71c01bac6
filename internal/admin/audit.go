package admin

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// maxAuditBodyBytes caps how much of a request body lands in the audit
// record.
const maxAuditBodyBytes = 1024

// AuditMiddleware logs every mutating (POST/DELETE) admin request. A
// triggered sweep or any future mutating endpoint leaves a trail of who
// called it, with what body, and what came back.
func AuditMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	log := logger.With("component", "admin_audit")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodDelete:
		default:
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		summary := captureBody(r)
		rec := &auditResponse{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		log.Info("admin API audit",
			"audit_id", uuid.NewString(),
			"client", clientAddr(r),
			"method", r.Method,
			"path", r.URL.Path,
			"query", r.URL.RawQuery,
			"body", summary,
			"status", rec.status,
			"bytes", rec.bytes,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
}

// captureBody copies at most maxAuditBodyBytes of the request body for the
// audit record. The handler still sees the complete body: the captured head
// is stitched back in front of whatever remains unread.
func captureBody(r *http.Request) string {
	if r.Body == nil {
		return ""
	}
	head, err := io.ReadAll(io.LimitReader(r.Body, maxAuditBodyBytes+1))
	if err != nil {
		return ""
	}

	rest := r.Body
	r.Body = replayBody{Reader: io.MultiReader(bytes.NewReader(head), rest), Closer: rest}

	if len(head) > maxAuditBodyBytes {
		return string(head[:maxAuditBodyBytes]) + "...(truncated)"
	}
	return summarizeJSON(head)
}

// summarizeJSON collapses a JSON body onto one line; anything else is kept
// as-is.
func summarizeJSON(raw []byte) string {
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return string(raw)
	}
	return compact.String()
}

// replayBody hands the handler the reassembled body while keeping the
// original closer.
type replayBody struct {
	io.Reader
	io.Closer
}

// auditResponse records the status and size of the response for the audit
// record.
type auditResponse struct {
	http.ResponseWriter
	status int
	bytes  int
	wrote  bool
}

func (a *auditResponse) WriteHeader(code int) {
	if !a.wrote {
		a.status = code
		a.wrote = true
	}
	a.ResponseWriter.WriteHeader(code)
}

func (a *auditResponse) Write(b []byte) (int, error) {
	a.wrote = true
	n, err := a.ResponseWriter.Write(b)
	a.bytes += n
	return n, err
}
