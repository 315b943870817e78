package internaldefs

import (
	"github.com/MrEthical07/identity"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   identity.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for exporters.
type HistogramDef struct {
	ID   identity.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in rendering order.
var CounterDefs = []CounterDef{
	{ID: identity.MetricLoginSuccess, Name: "identity_login_success_total", Help: "Logins that issued a token."},
	{ID: identity.MetricLoginFailure, Name: "identity_login_failure_total", Help: "Rejected login attempts."},
	{ID: identity.MetricMFARequired, Name: "identity_mfa_required_total", Help: "Logins that stopped at the second factor."},
	{ID: identity.MetricMFASuccess, Name: "identity_mfa_success_total", Help: "Successful second-factor verifications."},
	{ID: identity.MetricMFAFailure, Name: "identity_mfa_failure_total", Help: "Failed second-factor verifications."},
	{ID: identity.MetricMFASetup, Name: "identity_mfa_setup_total", Help: "Generated MFA secrets."},
	{ID: identity.MetricMFAEnabled, Name: "identity_mfa_enabled_total", Help: "MFA enable operations."},
	{ID: identity.MetricMFADisabled, Name: "identity_mfa_disabled_total", Help: "MFA disable operations."},
	{ID: identity.MetricRefreshSuccess, Name: "identity_refresh_success_total", Help: "Successful token refreshes."},
	{ID: identity.MetricRefreshFailure, Name: "identity_refresh_failure_total", Help: "Rejected token refreshes."},
	{ID: identity.MetricLongLivedTokenIssued, Name: "identity_long_lived_token_issued_total", Help: "Issued long-lived tokens."},
	{ID: identity.MetricFilterAuthenticated, Name: "identity_filter_authenticated_total", Help: "Requests with a verified bearer token."},
	{ID: identity.MetricFilterAnonymous, Name: "identity_filter_anonymous_total", Help: "Protected requests without a bearer token."},
	{ID: identity.MetricFilterTokenRejected, Name: "identity_filter_token_rejected_total", Help: "Protected requests whose bearer token failed verification."},
	{ID: identity.MetricPasswordResetRequest, Name: "identity_password_reset_request_total", Help: "Password reset requests."},
	{ID: identity.MetricPasswordResetDeliveryFailure, Name: "identity_password_reset_delivery_failure_total", Help: "Reset emails that could not be delivered."},
	{ID: identity.MetricPasswordResetConfirmSuccess, Name: "identity_password_reset_confirm_success_total", Help: "Completed password resets."},
	{ID: identity.MetricPasswordResetConfirmFailure, Name: "identity_password_reset_confirm_failure_total", Help: "Rejected password reset confirmations."},
	{ID: identity.MetricResetTokensPurged, Name: "identity_reset_tokens_purged_total", Help: "Expired reset tokens removed by garbage collection."},
	{ID: identity.MetricPasswordChangeSuccess, Name: "identity_password_change_success_total", Help: "Successful password changes."},
	{ID: identity.MetricPasswordChangeFailure, Name: "identity_password_change_failure_total", Help: "Rejected password changes."},
	{ID: identity.MetricAccountCreated, Name: "identity_account_created_total", Help: "Registered identities."},
	{ID: identity.MetricAccountDuplicate, Name: "identity_account_duplicate_total", Help: "Registrations rejected for a taken email."},
	{ID: identity.MetricRateLimitHit, Name: "identity_rate_limit_hit_total", Help: "Attempts denied by the failed-attempt limiter."},
}

// HistogramDefs lists the exported latency histograms.
var HistogramDefs = []HistogramDef{
	{ID: identity.MetricLoginLatency, Name: "identity_login_latency_seconds", Help: "Login and second-factor verification latency."},
}

// HistogramBounds are the bucket upper bounds in seconds, matching the engine buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
