package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/storeauth/internal/flagx"
	"github.com/dmitrijs2005/storeauth/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration so both "15m" and integer nanoseconds are accepted.
// Fields left out of the file keep their current value.
type JsonConfig struct {
	EndpointAddrGRPC string `json:"endpoint_addr_grpc"`
	DatabaseDSN      string `json:"database_dsn"`
	SecretKey        string `json:"secret_key"`
	LogFormat        string `json:"log_format"`

	OtpPepper         string         `json:"otp_pepper"`
	OtpTTL            timex.Duration `json:"otp_ttl"`
	OtpResendInterval timex.Duration `json:"otp_resend_interval"`
	OtpResendBurst    int            `json:"otp_resend_burst"`

	LoginMaxAttempts       int            `json:"login_max_attempts"`
	LoginWindow            timex.Duration `json:"login_window"`
	IPLoginMaxAttempts     int            `json:"ip_login_max_attempts"`
	OtpMaxAttempts         int            `json:"otp_max_attempts"`
	OtpWindow              timex.Duration `json:"otp_window"`
	RateLimitFailurePolicy string         `json:"rate_limit_failure_policy"`

	SessionTTL        timex.Duration `json:"session_ttl"`
	SessionCookieName string         `json:"session_cookie_name"`
	HandleCookieName  string         `json:"handle_cookie_name"`
	CookieSameSite    string         `json:"cookie_samesite"`

	TotpTolerance *int   `json:"totp_tolerance"`
	TotpIssuer    string `json:"totp_issuer"`
	BcryptCost    int    `json:"bcrypt_cost"`

	AttemptRetention  timex.Duration `json:"attempt_retention"`
	AuditRetention    timex.Duration `json:"audit_retention"`
	RetentionInterval timex.Duration `json:"retention_interval"`

	S3RootUser     string `json:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`
}

// parseJson loads the file named by -c/-config, if any, into config.
// An unreadable file or invalid JSON panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.LogFormat, c.LogFormat)

	setString(&config.OtpPepper, c.OtpPepper)
	setDuration(&config.OtpTTL, c.OtpTTL)
	setDuration(&config.OtpResendInterval, c.OtpResendInterval)
	setInt(&config.OtpResendBurst, c.OtpResendBurst)

	setInt(&config.LoginMaxAttempts, c.LoginMaxAttempts)
	setDuration(&config.LoginWindow, c.LoginWindow)
	setInt(&config.IPLoginMaxAttempts, c.IPLoginMaxAttempts)
	setInt(&config.OtpMaxAttempts, c.OtpMaxAttempts)
	setDuration(&config.OtpWindow, c.OtpWindow)
	setString(&config.RateLimitFailurePolicy, c.RateLimitFailurePolicy)

	setDuration(&config.SessionTTL, c.SessionTTL)
	setString(&config.SessionCookieName, c.SessionCookieName)
	setString(&config.HandleCookieName, c.HandleCookieName)
	setString(&config.CookieSameSite, c.CookieSameSite)

	// zero tolerance is meaningful, so it is a pointer
	if c.TotpTolerance != nil {
		config.TotpTolerance = *c.TotpTolerance
	}
	setString(&config.TotpIssuer, c.TotpIssuer)
	setInt(&config.BcryptCost, c.BcryptCost)

	setDuration(&config.AttemptRetention, c.AttemptRetention)
	setDuration(&config.AuditRetention, c.AuditRetention)
	setDuration(&config.RetentionInterval, c.RetentionInterval)

	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
