package cliutil

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[redacted]"

var (
	templateVarPattern = regexp.MustCompile(`\$\{[^}]+\}`)
	secretKeyPattern   = regexp.MustCompile(`(?i)\b(` + strings.Join(secretKeys(), "|") + `)\b(\s*[:=]\s*)(["']?)([^"'\s]+)(["']?)`)
	secretFlagPattern  = regexp.MustCompile(`(?i)(--?(?:password|passwd|token|secret|api-key))([= ])(\S+)`)
)

func secretKeys() []string {
	keys := []string{
		"AWS_ACCESS_KEY_ID",
		"AWS_SECRET_ACCESS_KEY",
		"AWS_SESSION_TOKEN",
		"DATABASE_PASSWORD",
		"DB_PASSWORD",
		"PGPASSWORD",
		"MYSQL_PWD",
		"API_KEY",
		"ACCESS_TOKEN",
		"CLIENT_SECRET",
	}
	escaped := make([]string, len(keys))
	for i, key := range keys {
		escaped[i] = regexp.QuoteMeta(key)
	}
	return escaped
}

// RedactSecrets masks credentials in a command line before it is shown by
// ps or recorded in a wait status: ${VAR} references, well-known secret
// environment assignments and password or token flags.
func RedactSecrets(command string) string {
	if command == "" {
		return command
	}
	redacted := templateVarPattern.ReplaceAllString(command, "${"+redactedPlaceholder+"}")
	redacted = secretKeyPattern.ReplaceAllString(redacted, "$1$2$3"+redactedPlaceholder+"$5")
	return secretFlagPattern.ReplaceAllString(redacted, "$1$2"+redactedPlaceholder)
}
