package credprovider

import "strings"

// sensitiveHeaders names the header keys (case-insensitive) whose values
// RedactHeaders masks before they reach a log line.
var sensitiveHeaders = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"cookie":        true,
	"set-cookie":    true,
}

// RedactHeaders returns a copy of headers with sensitive values masked,
// grounded on the teacher's internal/logs/sanitizer.go token-masking
// convention (keep a short prefix/suffix, blank out the middle) applied at
// the header-map level instead of via a log-core regex scan, since here the
// sensitive keys are already known statically.
func RedactHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return headers
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if sensitiveHeaders[strings.ToLower(k)] {
			out[k] = maskValue(v)
			continue
		}
		out[k] = v
	}
	return out
}

func maskValue(v string) string {
	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + "***" + v[len(v)-2:]
}
