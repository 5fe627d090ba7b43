package secrets

import "regexp"

// Pattern is a named credential shape.
type Pattern struct {
	Name  string
	Regex *regexp.Regexp
}

func pattern(name, expr string) Pattern {
	return Pattern{Name: name, Regex: regexp.MustCompile(expr)}
}

// Anything matching these would be stored by the upstream vendor once sent,
// so the list favours precision: each shape has a fixed prefix.
var builtin = []Pattern{
	pattern("AWS Access Key", `AKIA[0-9A-Z]{16}`),
	pattern("OpenAI API Key", `\bsk-(?:proj-)?[A-Za-z0-9_-]{32,}`),
	pattern("Google API Key", `\bAIza[0-9A-Za-z_-]{35}\b`),
	pattern("GCP Service Account Key", `"private_key":\s*"-----BEGIN`),
	pattern("GitHub Token", `gh[pousr]_[A-Za-z0-9_]{36,}`),
	pattern("Slack Token", `\bxox[abprs]-[A-Za-z0-9-]{10,}`),
	pattern("Stripe Secret Key", `sk_live_[A-Za-z0-9]{24,}`),
	pattern("Private Key", `-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
	pattern("Connection String", `(?:postgres|mysql|mongodb|redis)://[^\s]+`),
	pattern("JWT Token", `eyJ[A-Za-z0-9\-_]+\.eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+`),
}

// DefaultPatterns returns a copy of the built-in patterns.
func DefaultPatterns() []Pattern {
	return append([]Pattern(nil), builtin...)
}
