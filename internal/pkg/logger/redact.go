package logger

import "strings"

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// RedactPhone keeps the last four characters of a phone number or recipient
// identifier: "+6281234567890" → "***7890". Values of four characters or
// fewer are fully masked.
func RedactPhone(v string) string {
	v = strings.TrimSpace(v)
	if len(v) <= 4 {
		return "***"
	}
	return "***" + v[len(v)-4:]
}
