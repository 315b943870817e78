package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// Register creates a CLIENT identity.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*User, error) {
	return e.createAccount(ctx, in, RoleClient)
}

// RegisterAdmin creates an ADMIN identity.
func (e *Engine) RegisterAdmin(ctx context.Context, in RegisterInput) (*User, error) {
	return e.createAccount(ctx, in, RoleAdmin)
}

func (e *Engine) createAccount(ctx context.Context, in RegisterInput, role Role) (*User, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	email := strings.TrimSpace(in.Email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		e.emitAudit(ctx, auditEventAccountCreated, false, 0, email, ErrInvalidInput, func() map[string]string {
			return map[string]string{"reason": "invalid_email"}
		})
		return nil, fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	if err := e.checkPasswordPolicy(in.Password); err != nil {
		e.emitAudit(ctx, auditEventAccountCreated, false, 0, email, err, nil)
		return nil, err
	}

	exists, err := e.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, storeError(err)
	}
	if exists {
		e.metricInc(MetricAccountDuplicate)
		e.emitAudit(ctx, auditEventAccountCreated, false, 0, email, ErrEmailInUse, nil)
		return nil, ErrEmailInUse
	}

	hash, err := e.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := e.now()
	user := &User{
		Email:        email,
		PasswordHash: hash,
		Roles:        []Role{role},
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PhoneNumber:  in.PhoneNumber,
		Address:      in.Address,
		Birthday:     in.Birthday,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	// the store's unique constraint settles concurrent registrations
	if err := e.users.Save(ctx, user); err != nil {
		if errors.Is(err, ErrEmailInUse) {
			e.metricInc(MetricAccountDuplicate)
			return nil, ErrEmailInUse
		}
		return nil, storeError(err)
	}

	e.metricInc(MetricAccountCreated)
	e.emitAudit(ctx, auditEventAccountCreated, true, user.ID, user.Email, nil, func() map[string]string {
		return map[string]string{"role": string(role)}
	})
	return user, nil
}

// ChangePassword replaces the password of userID after verifying current.
func (e *Engine) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return storeError(err)
	}

	ok, err := e.hasher.Verify(current, user.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChange, false, userID, user.Email, ErrAuthenticationFailed, nil)
		return ErrAuthenticationFailed
	}
	if err := e.checkPasswordPolicy(next); err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChange, false, userID, user.Email, err, nil)
		return err
	}

	hash, err := e.hasher.Hash(next)
	if err != nil {
		return err
	}
	// The swap only succeeds against the hash current was verified with, so
	// a concurrent reset is never silently undone.
	if err := e.users.UpdatePasswordHash(ctx, userID, user.PasswordHash, hash, e.now()); err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		err = storeError(err)
		e.emitAudit(ctx, auditEventPasswordChange, false, userID, user.Email, err, nil)
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChange, true, userID, user.Email, nil, nil)
	return nil
}

// Profile returns the self-view of userID.
func (e *Engine) Profile(ctx context.Context, userID int64) (*Profile, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return nil, storeError(err)
	}
	enabled, err := e.MFAEnabled(ctx, userID)
	if err != nil {
		return nil, err
	}

	p := &Profile{User: *user, MFAEnabled: enabled}
	p.User.PasswordHash = ""
	return p, nil
}

// UpdateProfile applies the non-nil fields of upd.
func (e *Engine) UpdateProfile(ctx context.Context, userID int64, upd ProfileUpdate) (*Profile, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return nil, storeError(err)
	}

	if upd.FirstName != nil {
		user.FirstName = strings.TrimSpace(*upd.FirstName)
	}
	if upd.LastName != nil {
		user.LastName = strings.TrimSpace(*upd.LastName)
	}
	if upd.PhoneNumber != nil {
		user.PhoneNumber = strings.TrimSpace(*upd.PhoneNumber)
	}
	if upd.Address != nil {
		user.Address = strings.TrimSpace(*upd.Address)
	}
	user.UpdatedAt = e.now()

	if err := e.users.Save(ctx, user); err != nil {
		return nil, storeError(err)
	}
	return e.Profile(ctx, userID)
}
