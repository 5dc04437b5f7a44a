// Package audit records security-relevant events. Recording is strictly
// best-effort: the recorder exposes no error to callers, so an audit outage
// can never block a login or logout.
package audit

import (
	"context"
	"time"

	"lmsportal.org/internal/obs"
)

// EventType enumerates auditable events.
type EventType string

const (
	LoginSuccess       EventType = "LOGIN_SUCCESS"
	LoginFail          EventType = "LOGIN_FAIL"
	Logout             EventType = "LOGOUT"
	LogoutAll          EventType = "LOGOUT_ALL"
	TokenRefresh       EventType = "TOKEN_REFRESH"
	TokenReuse         EventType = "TOKEN_REUSE_DETECTED"
	NodeSwitch         EventType = "NODE_SWITCH"
	ImpersonationStart EventType = "IMPERSONATION_START"
	ImpersonationEnd   EventType = "IMPERSONATION_END"
	PasswordChange     EventType = "PASSWORD_CHANGE"
	PermissionPreview  EventType = "PERMISSION_PREVIEW"
	RateLimitExceeded  EventType = "RATE_LIMIT_EXCEEDED"
	CSRFViolation      EventType = "CSRF_VIOLATION"
	UnauthorizedAccess EventType = "UNAUTHORIZED_ACCESS"
)

// Entry is one append-only audit record.
type Entry struct {
	ID           string
	Event        EventType
	TenantID     string
	UserID       string
	TargetUserID string
	IP           string
	UserAgent    string
	Metadata     map[string]any
	CreatedAt    time.Time
}

// Sink persists entries. Implemented by the auth stores.
type Sink interface {
	Append(ctx context.Context, e *Entry) error
}

// Recorder writes entries to a sink without ever surfacing failures.
type Recorder struct {
	sink    Sink
	timeout time.Duration
	now     func() time.Time

	// async controls whether Append runs on a detached goroutine. Tests
	// disable it to observe entries deterministically.
	async bool
}

// NewRecorder builds a Recorder over sink. A nil sink degrades to log-only.
func NewRecorder(sink Sink) *Recorder {
	return &Recorder{
		sink:    sink,
		timeout: 5 * time.Second,
		now:     time.Now,
		async:   true,
	}
}

// NewSyncRecorder is NewRecorder with synchronous writes, for tests.
func NewSyncRecorder(sink Sink) *Recorder {
	r := NewRecorder(sink)
	r.async = false
	return r
}

// Record persists the entry. It never returns an error and never blocks the
// caller on the sink: failures fall back to a structured log line.
func (r *Recorder) Record(e Entry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}
	if r.sink == nil {
		r.logFallback(&e, nil)
		return
	}
	if !r.async {
		r.append(&e)
		return
	}
	go r.append(&e)
}

func (r *Recorder) append(e *Entry) {
	// Detached from the request context: the response must not wait for
	// the sink, and a cancelled request must not lose the record.
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.sink.Append(ctx, e); err != nil {
		r.logFallback(e, err)
	}
}

func (r *Recorder) logFallback(e *Entry, err error) {
	fields := map[string]any{
		"event":   string(e.Event),
		"user_id": e.UserID,
		"tenant":  e.TenantID,
	}
	if err != nil {
		fields["sink_error"] = err.Error()
	}
	obs.Warn("audit_fallback", fields)
}
