package secrets

import (
	"net/url"
	"regexp"
)

// kvPassword matches password=... in keyword/value connection strings,
// quoted or not.
var kvPassword = regexp.MustCompile(`(?i)(password\s*=\s*)('(?:[^'\\]|\\.)*'|\S+)`)

// Mask shortens a secret for logging: the first 4 characters followed by
// "..." when longer than 8, otherwise "***".
func Mask(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 8:
		return "***"
	default:
		return secret[:4] + "..."
	}
}

// MaskDSN redacts the password of a connection string. Both URL form
// (postgres://user:pw@host/db) and keyword/value form
// (host=db password=pw) are handled; anything else is returned unchanged.
func MaskDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
		if _, ok := u.User.Password(); ok {
			return u.Redacted()
		}
		return dsn
	}
	return kvPassword.ReplaceAllString(dsn, "${1}xxxxx")
}
