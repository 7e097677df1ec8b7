package auth

import (
	"context"
	"time"

	"github.com/platinummonkey/campus/pkg/contextkeys"
	"github.com/platinummonkey/campus/pkg/observability"
)

// AuditEvent is one security-relevant outcome
type AuditEvent struct {
	Action    string
	UserID    string
	Email     string
	SchoolID  *string
	Status    string
	Reason    string
	IPAddress string
	Timestamp time.Time
}

// AuditLogger writes security audit events as structured log lines and
// counts them in Prometheus.
type AuditLogger struct {
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewAuditLogger creates a new audit logger. metrics may be nil.
func NewAuditLogger(logger *observability.Logger, metrics *observability.Metrics) *AuditLogger {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AuditLogger{logger: logger, metrics: metrics}
}

// Record logs an audit event. Failures are logged at warn level. The client
// address defaults to the one resolved for the request carried by ctx.
func (al *AuditLogger) Record(ctx context.Context, ev AuditEvent) {
	if al == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.IPAddress == "" {
		ev.IPAddress = contextkeys.GetClientIP(ctx)
	}

	fields := map[string]interface{}{
		"audit":  true,
		"action": ev.Action,
		"status": ev.Status,
	}
	if ev.UserID != "" {
		fields["target_user_id"] = ev.UserID
	}
	if ev.Email != "" {
		fields["email"] = ev.Email
	}
	if ev.SchoolID != nil {
		fields["school_id"] = *ev.SchoolID
	}
	if ev.Reason != "" {
		fields["reason"] = ev.Reason
	}
	if ev.IPAddress != "" {
		fields["ip"] = ev.IPAddress
	}

	entry := observability.FromContextOr(ctx, al.logger).WithFields(fields)
	if ev.Status == StatusSuccess {
		entry.Info("audit event")
	} else {
		entry.Warn("audit event")
	}

	al.count(ev)
}

func (al *AuditLogger) count(ev AuditEvent) {
	if al.metrics == nil {
		return
	}
	success := ev.Status == StatusSuccess
	switch ev.Action {
	case ActionLogin:
		al.metrics.LoginsTotal.WithLabelValues(ev.Status).Inc()
		if success {
			al.metrics.TokensIssuedTotal.WithLabelValues(TokenTypeAccess).Inc()
			al.metrics.TokensIssuedTotal.WithLabelValues(TokenTypeRefresh).Inc()
		}
	case ActionRefresh:
		if success {
			al.metrics.TokensIssuedTotal.WithLabelValues(TokenTypeAccess).Inc()
		}
	}
}

// Audit actions
const (
	ActionLogin      = "auth.login"
	ActionRegister   = "auth.register"
	ActionRefresh    = "auth.refresh"
	ActionLogout     = "auth.logout"
	ActionDeactivate = "user.deactivate"
	ActionSeedAdmin  = "user.seed_admin"
)

// Status constants
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusDenied  = "denied"
)
