package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Logger is a sugared zap logger that scrubs sensitive values before they
// reach a sink. Keys-and-values calls mirror zap's *w methods.
type Logger struct {
	sugar *zap.SugaredLogger
}

func New(mode string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{sugar: z.Sugar()}, nil
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, activeRedactor().scrubPairs(keysAndValues)...)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, activeRedactor().scrubPairs(keysAndValues)...)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, activeRedactor().scrubPairs(keysAndValues)...)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, activeRedactor().scrubPairs(keysAndValues)...)
}

func (l *Logger) Fatal(msg string, keysAndValues ...interface{}) {
	l.sugar.Fatalw(msg, activeRedactor().scrubPairs(keysAndValues)...)
}

func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{sugar: l.sugar.With(activeRedactor().scrubPairs(keysAndValues)...)}
}

func (l *Logger) Sync() {
	_ = l.sugar.Sync()
}

// redactor rewrites log fields: secret-bearing keys are blanked, identity
// keys are replaced with a salted hash, and any string shaped like a JWT is
// blanked regardless of its key. LOG_REDACTION_ENABLED=false turns the whole
// pass off for local debugging.
type redactor struct {
	enabled bool
	salt    string
}

var (
	redactorOnce sync.Once
	redactorInst redactor
)

func activeRedactor() redactor {
	redactorOnce.Do(func() {
		v := strings.TrimSpace(strings.ToLower(os.Getenv("LOG_REDACTION_ENABLED")))
		redactorInst = redactor{
			enabled: v != "0" && v != "false" && v != "no" && v != "off",
			salt:    strings.TrimSpace(os.Getenv("LOG_HASH_SALT")),
		}
	})
	return redactorInst
}

const blanked = "[REDACTED]"

// secretKeyFragments marks keys whose values never belong in a log line.
// Matching is substring-based so bearer_token, id_token and api_key_v2 all
// hit without enumeration.
var secretKeyFragments = []string{
	"token", "authorization", "secret", "cookie", "api_key", "apikey", "email",
}

// hashedKeyFragments carries identifiers that stay correlatable but not
// readable.
var hashedKeyFragments = []string{"user_id"}

func (r redactor) scrubPairs(kv []interface{}) []interface{} {
	if !r.enabled || len(kv) == 0 {
		return kv
	}
	out := make([]interface{}, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		key := stringify(kv[i])
		out = append(out, key, r.scrub(normalizeKey(key), kv[i+1]))
	}
	if len(kv)%2 == 1 {
		out = append(out, kv[len(kv)-1])
	}
	return out
}

func (r redactor) scrub(key string, val interface{}) interface{} {
	if key != "" {
		for _, frag := range secretKeyFragments {
			if strings.Contains(key, frag) {
				return blanked
			}
		}
		for _, frag := range hashedKeyFragments {
			if strings.Contains(key, frag) {
				return r.hash(val)
			}
		}
	}
	switch v := val.(type) {
	case map[string]interface{}:
		return r.scrubMap(v)
	case []interface{}:
		return r.scrubSlice(v)
	case string:
		if looksLikeJWT(v) {
			return blanked
		}
	}
	return val
}

func (r redactor) scrubMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = r.scrub(normalizeKey(k), v)
	}
	return out
}

func (r redactor) scrubSlice(s []interface{}) []interface{} {
	if s == nil {
		return nil
	}
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = r.scrub("", v)
	}
	return out
}

func (r redactor) hash(val interface{}) string {
	raw := stringify(val)
	if raw == "" {
		return ""
	}
	h := sha256.Sum256([]byte(r.salt + raw))
	return "hash:" + hex.EncodeToString(h[:])[:12]
}

func looksLikeJWT(s string) bool {
	parts := strings.Split(s, ".")
	return len(parts) == 3 && len(parts[0]) > 10 && len(parts[1]) > 10
}

func normalizeKey(k string) string {
	return strings.TrimSpace(strings.ToLower(k))
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
