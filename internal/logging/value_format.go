package logging

import (
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const redacted = "[redacted]"

var secretKeys = map[string]bool{
	"token":         true,
	"api_token":     true,
	"authorization": true,
	"secret":        true,
}

// redact hides bearer secrets and the signed query of presigned URLs.
func redact(key string, v slog.Value) slog.Value {
	if secretKeys[strings.ToLower(key)] {
		return slog.StringValue(redacted)
	}
	if v.Kind() != slog.KindString {
		return v
	}
	s := v.String()
	if !strings.Contains(s, "X-Amz-Signature=") && !strings.Contains(s, "X-Amz-Credential=") {
		return v
	}
	u, err := url.Parse(s)
	if err != nil {
		return slog.StringValue(redacted)
	}
	u.RawQuery = ""
	return slog.StringValue(u.String() + "?" + redacted)
}

// plainValue renders v without quoting, for the console prefix fields.
func plainValue(v slog.Value) string {
	return renderValue(v, false)
}

// renderValue formats v for console output. With quote set, strings holding
// spaces, '=' or '"' are quoted so key=value pairs stay splittable.
func renderValue(v slog.Value, quote bool) string {
	var s string
	switch v = v.Resolve(); v.Kind() {
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			s = err.Error()
		} else {
			s = fmt.Sprint(v.Any())
		}
	default:
		s = v.String()
	}
	if quote && (s == "" || strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' })) {
		return strconv.Quote(s)
	}
	return s
}
