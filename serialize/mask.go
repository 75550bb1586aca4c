package serialize

import "strings"

// SensitiveKeys holds keys considered sensitive for masking.
var SensitiveKeys = map[string]struct{}{
	"password": {}, "pwd": {}, "pass": {}, "passwd": {},
	"token": {}, "jwt": {}, "auth_token": {}, "access_token": {}, "refresh_token": {},
	"key": {}, "api_key": {}, "secret": {}, "client_secret": {}, "private_key": {},
	"auth": {}, "credential": {}, "apikey": {},
	"bearer": {}, "authorization": {},
}

// MaskString replaces every character of s with an asterisk.
func MaskString(s string) string {
	return strings.Repeat("*", len(s))
}

func isSensitiveKey(key string) bool {
	if key == "" {
		return false
	}
	key = strings.ToLower(key)
	if _, ok := SensitiveKeys[key]; ok {
		return true
	}
	for k := range SensitiveKeys {
		if strings.Contains(key, k) {
			return true
		}
	}
	return false
}

// MaskSensitive walks an already-serialized tree and masks string values
// whose immediate key matches a sensitive key. Serialized trees are
// acyclic, so the walk always terminates.
func MaskSensitive(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			if isSensitiveKey(k) {
				if sv, ok := vv.(string); ok {
					out[k] = MaskString(sv)
					continue
				}
			}
			out[k] = MaskSensitive(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = MaskSensitive(vv)
		}
		return out
	default:
		return v
	}
}
