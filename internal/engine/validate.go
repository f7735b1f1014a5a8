package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/istefan/ahoi-api/internal/metadata"
)

// CoerceRecord validates and converts a client payload against the
// structure's fields. Unknown keys and engine-managed columns are
// silently dropped. On create (partial=false) every required field
// without a default must be present; on update only submitted keys are
// checked.
func CoerceRecord(s *metadata.Structure, body map[string]any, partial bool) (map[string]any, []ErrorDetail) {
	var details []ErrorDetail
	record := make(map[string]any)

	for i := range s.Fields {
		f := &s.Fields[i]
		raw, present := body[f.Slug]

		if !present {
			if !partial && f.Required && f.DefaultValue == nil {
				details = append(details, ErrorDetail{Field: f.Slug, Message: "is required"})
			}
			continue
		}

		if raw == nil {
			if f.Required {
				details = append(details, ErrorDetail{Field: f.Slug, Message: "must not be null"})
				continue
			}
			record[f.Slug] = nil
			continue
		}

		val, err := coerceFieldValue(f, raw)
		if err != nil {
			details = append(details, ErrorDetail{Field: f.Slug, Message: err.Error()})
			continue
		}
		record[f.Slug] = val
	}

	return record, details
}

func coerceFieldValue(f *metadata.Field, raw any) (any, error) {
	switch f.Type {
	case metadata.TypeTextShort:
		s := stripTags(stringify(raw))
		s = strings.TrimSpace(s)
		if len(s) > 255 {
			return nil, fmt.Errorf("must be at most 255 characters")
		}
		return s, nil

	case metadata.TypeTextLong:
		return stripTags(stringify(raw)), nil

	case metadata.TypeNumberInt:
		return coerceInt(raw)

	case metadata.TypeNumberDecimal:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		case string:
			n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("must be a number")
			}
			return n, nil
		}
		return nil, fmt.Errorf("must be a number")

	case metadata.TypeBoolean:
		return coerceBool(raw)

	case metadata.TypeDatetime, metadata.TypeDate:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("must be a string")
		}
		return s, nil

	case metadata.TypeRelationship:
		n, err := coerceInt(raw)
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, fmt.Errorf("must be a non-negative id")
		}
		return n, nil

	case metadata.TypeJSON:
		if s, ok := raw.(string); ok {
			if !json.Valid([]byte(s)) {
				return nil, fmt.Errorf("must be valid JSON")
			}
			return s, nil
		}
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("must be valid JSON")
		}
		return string(b), nil

	default:
		s := stripTags(stringify(raw))
		if len(s) > 255 {
			return nil, fmt.Errorf("must be at most 255 characters")
		}
		return s, nil
	}
}

func coerceInt(raw any) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f), nil
		}
		return 0, fmt.Errorf("must be an integer")
	}
	return 0, fmt.Errorf("must be an integer")
}

func coerceBool(raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case float64:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "on", "yes":
			return true, nil
		case "0", "false", "off", "no", "":
			return false, nil
		}
		return false, fmt.Errorf("must be a boolean")
	}
	return false, fmt.Errorf("must be a boolean")
}

func stringify(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// stripTags removes anything between < and > from the input. Text
// fields store plain text only.
func stripTags(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	depth := 0
	for _, r := range s {
		switch {
		case r == '<':
			depth++
		case r == '>' && depth > 0:
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
