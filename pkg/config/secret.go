package config

import (
	"os"
	"strings"

	"github.com/ajitpratap0/nebula-sheets/pkg/errors"
)

const (
	secretEnvPrefix  = "env:"
	secretFilePrefix = "file:"
	redacted         = "[REDACTED]"
)

// Secret is a configuration value that must not be logged. It holds either a
// literal, an env:NAME reference, or a file:/path reference, and is resolved
// on demand rather than at load time so rotated secrets are picked up by the
// next connect attempt.
type Secret string

// String redacts the value for fmt and zap.Stringer.
func (s Secret) String() string {
	if s.IsZero() {
		return ""
	}
	return redacted
}

// IsZero reports whether no value is configured.
func (s Secret) IsZero() bool {
	return strings.TrimSpace(string(s)) == ""
}

// Resolve returns the secret's current value.
func (s Secret) Resolve() (string, error) {
	raw := strings.TrimSpace(string(s))
	var value string

	switch {
	case strings.HasPrefix(raw, secretEnvPrefix):
		name := strings.TrimPrefix(raw, secretEnvPrefix)
		v, ok := os.LookupEnv(name)
		if !ok {
			return "", errors.Newf(errors.ErrorTypeConfig, "secret env var %s is not set", name)
		}
		value = v
	case strings.HasPrefix(raw, secretFilePrefix):
		path := strings.TrimPrefix(raw, secretFilePrefix)
		data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from operator config
		if err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeConfig, "failed to read secret file")
		}
		value = strings.TrimSpace(string(data))
	default:
		value = raw
	}

	if value == "" {
		return "", errors.New(errors.ErrorTypeConfig, "secret resolved to an empty value")
	}
	return value, nil
}

// Credentials are the resolved service-account secrets for one connect attempt.
type Credentials struct {
	PrivateKey  []byte
	ClientEmail string
	TokenURL    string
}

// ResolveCredentials resolves all three sheets secrets. Escaped newlines in
// the private key (as found in JSON key files pasted into env vars) are
// turned back into real newlines.
func (s *SheetsConfig) ResolveCredentials() (*Credentials, error) {
	key, err := s.GooglePrivateKey.Resolve()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "google_private_key")
	}
	email, err := s.GoogleClientEmail.Resolve()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "google_client_email")
	}
	tokenURL, err := s.GoogleTokenURL.Resolve()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "google_token_url")
	}

	return &Credentials{
		PrivateKey:  []byte(strings.ReplaceAll(key, `\n`, "\n")),
		ClientEmail: email,
		TokenURL:    tokenURL,
	}, nil
}
