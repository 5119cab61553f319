package evaluator

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/spigell/biz-matcher/internal/ai"
)

var (
	fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	requiredKeys = []string{"answer", "Yes/No", "Reason"}
)

// ParseVerdict decodes model output into a Verdict. Every required key must be present and non-null.
func ParseVerdict(raw string) (*ai.Verdict, error) {
	malformed := func(err error) error {
		return &ai.MalformedResponseError{Raw: raw, Err: err}
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(extractJSON(raw)), &data); err != nil {
		return nil, malformed(fmt.Errorf("decode json object: %w", err))
	}
	if data == nil {
		return nil, malformed(errors.New("expected a json object"))
	}

	fields := make(map[string]any, len(requiredKeys))
	for _, key := range requiredKeys {
		v, ok := data[key]
		if !ok {
			return nil, malformed(fmt.Errorf("missing key %q", key))
		}
		if v == nil {
			return nil, malformed(fmt.Errorf("key %q is null", key))
		}
		fields[key] = coerceString(v)
	}

	var (
		verdict ai.Verdict
		md      mapstructure.Metadata
	)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:   &verdict,
		Metadata: &md,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(fields); err != nil {
		return nil, malformed(err)
	}
	for _, key := range md.Unset {
		if slices.Contains(requiredKeys, key) {
			return nil, malformed(fmt.Errorf("field %q was not decoded", key))
		}
	}

	verdict.Raw = raw
	return &verdict, nil
}

// extractJSON returns the body of the first code fence, or the outermost braces of raw.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if m := fencePattern.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	raw = strings.Trim(raw, "`")
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		raw = raw[start : end+1]
	}
	return strings.TrimSpace(raw)
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		if val {
			return "Yes"
		}
		return "No"
	default:
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}
