// Package masking redacts processor references before they reach the audit trail.
package masking

import "strings"

const maskToken = "****"

// sensitiveKeys name metadata fields that carry customer or payout account references.
var sensitiveKeys = map[string]struct{}{
	"customer_ref":    {},
	"destination_ref": {},
	"email":           {},
	"webhook_url":     {},
}

// MaskRef keeps the processor prefix ("cus_", "acct_") and the last four characters.
func MaskRef(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix, remainder := splitPrefix(trimmed)
	if len(remainder) <= 4 {
		return prefix + maskToken
	}
	return prefix + maskToken + remainder[len(remainder)-4:]
}

// MaskMetadata returns a copy of input with sensitive string fields masked,
// descending into nested maps and lists.
func MaskMetadata(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	out := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		if _, ok := sensitiveKeys[strings.ToLower(trimmedKey)]; ok {
			if s, isString := value.(string); isString {
				out[trimmedKey] = MaskRef(s)
				continue
			}
		}
		out[trimmedKey] = maskNested(value)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func maskNested(value any) any {
	switch cast := value.(type) {
	case map[string]any:
		return MaskMetadata(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskNested(item))
		}
		return out
	default:
		return value
	}
}

func splitPrefix(value string) (string, string) {
	idx := strings.Index(value, "_")
	if idx == -1 || idx == len(value)-1 {
		return "", value
	}
	return value[:idx+1], value[idx+1:]
}
