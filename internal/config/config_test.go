package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: sqlite
  url: file:invitations.db
jwt_secret: secret
token_key: fingerprint-key
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "8080", cfg.ServerPort)
	require.Equal(t, 14*24*time.Hour, cfg.Invitation.DefaultValidity)
	require.Equal(t, 587, cfg.Email.SMTPPort)
	require.False(t, cfg.Email.Enabled())
	require.Equal(t, 10, cfg.RateLimit.Requests)
	require.Equal(t, time.Minute, cfg.RateLimit.Window)
	require.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
}

func TestLoadFileValues(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/invitations
server_port: "9090"
jwt_secret: secret
token_key: fingerprint-key
invitation:
  default_validity: 72h
  accept_url_template: https://lms.example.com/invite/%s
email:
  from: noreply@example.com
  smtp_host: smtp.example.com
  audit_recipients:
    - audit@example.com
rate_limit:
  requests: 3
  window: 30s
  burst: 1
  trusted_proxies:
    - 10.0.0.0/8
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "9090", cfg.ServerPort)
	require.Equal(t, 72*time.Hour, cfg.Invitation.DefaultValidity)
	require.True(t, cfg.Email.Enabled())
	require.Equal(t, []string{"audit@example.com"}, cfg.Email.AuditRecipients)
	require.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	require.Equal(t, []string{"10.0.0.0/8"}, cfg.RateLimit.TrustedProxies)
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/invitations
jwt_secret: secret
token_key: fingerprint-key
`)
	t.Setenv("INVITATION_SERVER_PORT", "7070")
	t.Setenv("INVITATION_EMAIL_SMTP_HOST", "relay.internal")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "7070", cfg.ServerPort)
	require.Equal(t, "relay.internal", cfg.Email.SMTPHost)
}

func TestValidation(t *testing.T) {
	cases := map[string]string{
		"missing database url": "jwt_secret: s\ntoken_key: k\n",
		"missing jwt secret":   "database:\n  url: x\ntoken_key: k\n",
		"missing token key":    "database:\n  url: x\njwt_secret: s\n",
		"token key too long":   "database:\n  url: x\njwt_secret: s\ntoken_key: k0123456789012345678901234567890123456789012345678901234567890123456789\n",
		"bad url template":     "database:\n  url: x\njwt_secret: s\ntoken_key: k\ninvitation:\n  accept_url_template: https://example.com\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}
