package toystory

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventLoginSuccess    = "login_success"
	auditEventLoginFailure    = "login_failure"
	auditEventLoginRejected   = "login_rejected_in_flight"
	auditEventLogout          = "logout"
	auditEventRemoteLogout    = "remote_logout"
	auditEventCrossTabRefresh = "cross_tab_refresh"
	auditEventProfileFailure  = "profile_fetch_failure"
	auditEventStorageFailure  = "storage_unavailable"
)

// AuditErrorCode is the stable error label written to [AuditEvent.Error].
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrValidation         AuditErrorCode = "validation"
	auditErrNetwork            AuditErrorCode = "network"
	auditErrProfile            AuditErrorCode = "profile_fetch"
	auditErrBusy               AuditErrorCode = "login_in_progress"
	auditErrStorage            AuditErrorCode = "storage_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	role Role,
	accountID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		TabID:     e.tabID,
		AccountID: accountID,
		Role:      string(role),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrLoginInProgress):
		return auditErrBusy
	case errors.Is(err, ErrProfileFetch):
		return auditErrProfile
	case errors.Is(err, ErrStorageUnavailable):
		return auditErrStorage
	case errors.Is(err, ErrNetwork):
		return auditErrNetwork
	default:
		return auditErrInternal
	}
}
