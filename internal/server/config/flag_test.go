package config

import (
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		initial     *Config
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{
			name: "all flags",
			args: []string{"cmd",
				"-a", "127.0.0.1:9090", "-d", "db", "-s", "secret", "-k", "pepper", "-l", "console", "-i", "60",
				"-u", "user", "-p", "password", "-b", "bucket", "-g", "us-west-1", "-e", "http://endpoint",
			},
			expected: &Config{
				EndpointAddrGRPC:  "127.0.0.1:9090",
				DatabaseDSN:       "db",
				SecretKey:         "secret",
				OtpPepper:         "pepper",
				LogFormat:         "console",
				RetentionInterval: time.Hour,
				S3RootUser:        "user",
				S3RootPassword:    "password",
				S3Bucket:          "bucket",
				S3Region:          "us-west-1",
				S3BaseEndpoint:    "http://endpoint",
			},
		},
		{
			name:     "foreign flags are ignored",
			args:     []string{"cmd", "-x", "1", "-a=:7000", "migrate"},
			expected: &Config{EndpointAddrGRPC: ":7000"},
		},
		{
			name:     "retention interval kept when -i is absent",
			args:     []string{"cmd", "-l", "console"},
			initial:  &Config{RetentionInterval: 30 * time.Second},
			expected: &Config{LogFormat: "console", RetentionInterval: 30 * time.Second},
		},
		{
			name:     "explicit -i 0 disables the job",
			args:     []string{"cmd", "-i", "0"},
			initial:  &Config{RetentionInterval: 90 * time.Second},
			expected: &Config{},
		},
		{
			name:        "bad int panics",
			args:        []string{"cmd", "-i", "soon"},
			expectPanic: true,
		},
	}

	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Args = tt.args
			config := &Config{}
			if tt.initial != nil {
				config = tt.initial
			}

			if tt.expectPanic {
				require.Panics(t, func() { parseFlags(config) })
				return
			}
			require.NotPanics(t, func() { parseFlags(config) })
			assert.Empty(t, cmp.Diff(tt.expected, config))
		})
	}
}
