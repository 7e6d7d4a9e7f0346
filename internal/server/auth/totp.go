package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"github.com/pquerna/otp/totp"
)

const (
	TotpDigits          = 6
	TotpPeriod          = 30 * time.Second
	DefaultSecretLength = 32
)

var ErrEmptySecret = errors.New("totp secret decodes to no key material")

// TotpService generates and checks RFC 6238 codes (SHA1, 6 digits, 30s step).
type TotpService struct {
	tolerance int
	now       func() time.Time
}

// NewTotpService accepts codes up to tolerance steps before or after the
// current one.
func NewTotpService(tolerance int) *TotpService {
	if tolerance < 0 {
		tolerance = 0
	}
	return &TotpService{tolerance: tolerance, now: time.Now}
}

// GenerateSecret returns length random characters of the base32 alphabet.
func (s *TotpService) GenerateSecret(length int) (string, error) {
	if length <= 0 {
		length = DefaultSecretLength
	}
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		// 32 divides 256, so masking keeps the distribution uniform
		b[i] = base32Alphabet[b[i]&31]
	}
	return string(b), nil
}

// Code returns the 6-digit code of secret for the time step containing t.
func (s *TotpService) Code(secret string, t time.Time) (string, error) {
	key, err := normalizeSecret(secret)
	if err != nil {
		return "", err
	}
	return codeAt(key, counterAt(t))
}

// Verify checks candidate against the current time.
func (s *TotpService) Verify(secret, candidate string) bool {
	return s.VerifyAt(secret, candidate, s.now())
}

// VerifyAt checks candidate against every step within the tolerance window
// around t. Each comparison is constant time.
func (s *TotpService) VerifyAt(secret, candidate string, t time.Time) bool {
	if len(candidate) != TotpDigits {
		return false
	}
	key, err := normalizeSecret(secret)
	if err != nil {
		return false
	}

	ok := 0
	for k := -s.tolerance; k <= s.tolerance; k++ {
		code, err := codeAt(key, counterAt(t.Add(time.Duration(k)*TotpPeriod)))
		if err != nil {
			return false
		}
		ok |= subtle.ConstantTimeCompare([]byte(code), []byte(candidate))
	}
	return ok == 1
}

// KeyURI builds the otpauth:// provisioning URI shown as a QR code during
// enrollment.
func (s *TotpService) KeyURI(issuer, account, secret string) (string, error) {
	raw := DecodeBase32(secret)
	if len(raw) == 0 {
		return "", ErrEmptySecret
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      uint(TotpPeriod / time.Second),
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
		Secret:      raw,
	})
	if err != nil {
		return "", fmt.Errorf("totp key: %w", err)
	}
	return key.URL(), nil
}

// normalizeSecret runs the lenient decoder and re-encodes the key in the
// canonical unpadded form the HOTP implementation expects.
func normalizeSecret(secret string) (string, error) {
	raw := DecodeBase32(secret)
	if len(raw) == 0 {
		return "", ErrEmptySecret
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), nil
}

func counterAt(t time.Time) uint64 {
	unix := t.Unix()
	if unix < 0 {
		return 0
	}
	return uint64(unix) / uint64(TotpPeriod/time.Second)
}

func codeAt(key string, counter uint64) (string, error) {
	return hotp.GenerateCodeCustom(key, counter, hotp.ValidateOpts{
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}
