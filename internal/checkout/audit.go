package checkout

import (
	"context"
	"log/slog"

	dErrors "storefront/pkg/domain-errors"
	audit "storefront/pkg/platform/audit"
)

// AuditEmitter accepts audit events. Satisfied by publisher.Publisher.
type AuditEmitter interface {
	Emit(ctx context.Context, event audit.Event) error
}

// AuditObserver records orchestrator events in the audit trail.
type AuditObserver struct {
	emitter AuditEmitter
	logger  *slog.Logger
}

func NewAuditObserver(emitter AuditEmitter, logger *slog.Logger) *AuditObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditObserver{emitter: emitter, logger: logger}
}

func (a *AuditObserver) Notify(ctx context.Context, e Event) {
	eventType, ok := auditTypeFor(e)
	if !ok {
		return
	}
	err := a.emitter.Emit(ctx, audit.Event{
		Type:      eventType,
		Timestamp: e.At,
		SessionID: e.SessionID,
		RequestID: e.RequestID,
		State:     string(e.State),
		Reason:    e.Reason,
		OrderID:   e.OrderID,
		Verified:  e.Verified,
	})
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to emit audit event",
			"session_id", e.SessionID.String(),
			"event_type", string(eventType),
			"error", err,
		)
	}
}

func auditTypeFor(e Event) (audit.EventType, bool) {
	switch e.Type {
	case EventCartChanged:
		return audit.EventCartChanged, true
	case EventVerificationStarted:
		return audit.EventVerificationStarted, true
	case EventVerificationChanged:
		return audit.EventVerificationChanged, true
	case EventCheckoutBlocked:
		if e.Reason == string(dErrors.CodeVerificationDenied) {
			return audit.EventVerificationDenied, true
		}
		return audit.EventCheckoutBlocked, true
	case EventCheckoutCompleted:
		return audit.EventCheckoutCompleted, true
	case EventCheckoutAcknowledged:
		return audit.EventCheckoutAcknowledged, true
	case EventVerificationReset:
		return audit.EventVerificationReset, true
	}
	return "", false
}
