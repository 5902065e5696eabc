package inference

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// Fingerprint derives the prediction-cache key from model identity and the
// normalized feature map. Pure: the same normalized inputs always hash to the
// same key. Field names sort lexically; floats render with 6 significant
// digits; booleans were already normalized to 0/1 upstream.
func Fingerprint(modelName, modelVersion string, normalized map[string]interface{}) string {
	names := make([]string, 0, len(normalized))
	for name := range normalized {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(modelName)
	b.WriteByte('|')
	b.WriteString(modelVersion)
	for _, name := range names {
		b.WriteByte('|')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(canonicalValue(normalized[name]))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func canonicalValue(v interface{}) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'g', 6, 64)
	case string:
		return x
	case bool:
		if x {
			return "1"
		}
		return "0"
	default:
		return ""
	}
}
