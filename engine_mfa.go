package identity

import (
	"context"
	"errors"
	"fmt"
)

// SetupMFA generates a new secret for userID and stores it as pending
// enrollment, replacing any secret that is not yet enabled. An enabled
// second factor is never replaced; ErrMFAAlreadyEnabled is returned instead.
func (e *Engine) SetupMFA(ctx context.Context, userID int64) (*MFASetup, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return nil, storeError(err)
	}

	record, err := e.mfaRecord(ctx, userID)
	if err != nil {
		return nil, err
	}
	if record.State() == MFAEnabled {
		e.emitAudit(ctx, auditEventMFASetup, false, userID, user.Email, ErrMFAAlreadyEnabled, nil)
		return nil, ErrMFAAlreadyEnabled
	}

	secret, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	uri, err := e.totp.EnrollmentURI(secret, user.Email, e.config.TOTP.Issuer)
	if err != nil {
		return nil, err
	}
	qr, err := e.totp.QRCode(uri)
	if err != nil {
		return nil, err
	}

	if err := e.mfa.SavePending(ctx, userID, secret, e.now()); err != nil {
		if errors.Is(err, ErrMFAAlreadyEnabled) {
			e.emitAudit(ctx, auditEventMFASetup, false, userID, user.Email, ErrMFAAlreadyEnabled, nil)
			return nil, ErrMFAAlreadyEnabled
		}
		return nil, storeError(err)
	}

	e.metricInc(MetricMFASetup)
	e.emitAudit(ctx, auditEventMFASetup, true, userID, user.Email, nil, nil)
	return &MFASetup{Secret: secret, URI: uri, QRCode: qr}, nil
}

// EnableMFA turns the second factor on after code verifies against the
// stored secret. A failed code leaves the record unchanged. When the secret
// was replaced between verification and the write, ErrConflict is returned
// and nothing is enabled.
func (e *Engine) EnableMFA(ctx context.Context, userID int64, code string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	record, err := e.mfaRecord(ctx, userID)
	if err != nil {
		return err
	}
	if record == nil || record.Secret == "" {
		return ErrMFANotConfigured
	}
	if record.State() == MFAEnabled {
		return nil
	}

	if !e.totp.VerifyCode(record.Secret, code, e.now()) {
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAEnabled, false, userID, "", ErrInvalidCode, nil)
		return ErrInvalidCode
	}

	if err := e.mfa.SetEnabled(ctx, userID, record.Secret, true, e.now()); err != nil {
		if errors.Is(err, ErrConflict) {
			e.emitAudit(ctx, auditEventMFAEnabled, false, userID, "", ErrConflict, nil)
		}
		return storeError(err)
	}

	e.metricInc(MetricMFAEnabled)
	e.emitAudit(ctx, auditEventMFAEnabled, true, userID, "", nil, nil)
	return nil
}

// DisableMFA turns the second factor off and keeps the secret so that a later
// EnableMFA does not need a new enrollment. It is a no-op without an enabled
// record.
func (e *Engine) DisableMFA(ctx context.Context, userID int64) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	record, err := e.mfaRecord(ctx, userID)
	if err != nil {
		return err
	}
	if record.State() != MFAEnabled {
		return nil
	}

	// A conflict means the secret was replaced, which only happens to a
	// record that is no longer enabled.
	if err := e.mfa.SetEnabled(ctx, userID, record.Secret, false, e.now()); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil
		}
		return storeError(err)
	}

	e.metricInc(MetricMFADisabled)
	e.emitAudit(ctx, auditEventMFADisabled, true, userID, "", nil, nil)
	return nil
}

// MFAEnabled reports whether userID has an enabled second factor.
func (e *Engine) MFAEnabled(ctx context.Context, userID int64) (bool, error) {
	state, err := e.MFAStatus(ctx, userID)
	if err != nil {
		return false, err
	}
	return state == MFAEnabled, nil
}

// MFAStatus returns the enrollment state of userID.
func (e *Engine) MFAStatus(ctx context.Context, userID int64) (MFAState, error) {
	if !e.ready() {
		return MFANoRecord, ErrEngineNotReady
	}
	record, err := e.mfaRecord(ctx, userID)
	if err != nil {
		return MFANoRecord, err
	}
	return record.State(), nil
}

// MFASecret returns the stored secret of userID, if any.
func (e *Engine) MFASecret(ctx context.Context, userID int64) (string, bool, error) {
	if !e.ready() {
		return "", false, ErrEngineNotReady
	}
	record, err := e.mfaRecord(ctx, userID)
	if err != nil {
		return "", false, err
	}
	if record == nil || record.Secret == "" {
		return "", false, nil
	}
	return record.Secret, true, nil
}

// mfaRecord returns nil without error when userID has no record.
func (e *Engine) mfaRecord(ctx context.Context, userID int64) (*MFARecord, error) {
	record, err := e.mfa.FindByUser(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load mfa record: %w", storeError(err))
	}
	return record, nil
}
