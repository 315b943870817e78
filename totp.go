package identity

import (
	"bytes"
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

var b32NoPadding = base32.StdEncoding.WithPadding(base32.NoPadding)

// totpEngine derives and checks time-based codes. It holds no mutable state.
type totpEngine struct {
	config TOTPConfig
}

func newTOTPEngine(cfg TOTPConfig) *totpEngine {
	return &totpEngine{config: cfg}
}

func (m *totpEngine) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    m.config.Period,
		Skew:      m.config.Skew,
		Digits:    otp.Digits(m.config.Digits),
		Algorithm: otp.AlgorithmSHA1,
	}
}

// GenerateSecret returns a fresh base32 secret without padding. The default
// 20 random bytes encode to 32 characters.
func (m *totpEngine) GenerateSecret() (string, error) {
	if m == nil {
		return "", ErrEngineNotReady
	}
	raw := make([]byte, m.config.SecretSize)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return b32NoPadding.EncodeToString(raw), nil
}

// EnrollmentURI builds the otpauth:// provisioning URI for secret. The result
// depends only on its inputs.
func (m *totpEngine) EnrollmentURI(secret, account, issuer string) (string, error) {
	key, err := m.enrollmentKey(secret, account, issuer)
	if err != nil {
		return "", err
	}
	return key.URL(), nil
}

func (m *totpEngine) enrollmentKey(secret, account, issuer string) (*otp.Key, error) {
	raw, err := decodeSecret(secret)
	if err != nil {
		return nil, err
	}
	if issuer == "" {
		issuer = m.config.Issuer
	}
	return totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      m.config.Period,
		Digits:      otp.Digits(m.config.Digits),
		Algorithm:   otp.AlgorithmSHA1,
		Secret:      raw,
	})
}

// QRCode renders the enrollment URI as a PNG data URI.
func (m *totpEngine) QRCode(uri string) (string, error) {
	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return "", err
	}
	img, err := key.Image(m.config.QRSize, m.config.QRSize)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// VerifyCode accepts code if it matches the step of now or one of the
// configured adjacent steps. Wrong-length and non-numeric input is rejected
// without error.
func (m *totpEngine) VerifyCode(secret, code string, now time.Time) bool {
	if m == nil || secret == "" {
		return false
	}
	code = strings.TrimSpace(code)
	if len(code) != m.config.Digits || !isNumericString(code) {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, now.UTC(), m.validateOpts())
	if err != nil {
		return false
	}
	return ok
}

// GenerateCode computes the code of secret for the step containing t.
func (m *totpEngine) GenerateCode(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t.UTC(), m.validateOpts())
}

func decodeSecret(secret string) ([]byte, error) {
	s := strings.ToUpper(strings.TrimRight(strings.TrimSpace(secret), "="))
	if s == "" {
		return nil, errors.New("empty totp secret")
	}
	return b32NoPadding.DecodeString(s)
}

func isNumericString(v string) bool {
	if v == "" {
		return false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return true
}
