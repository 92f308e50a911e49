package insights

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	fence          = "```"
	maxExcerptSize = 200
)

// ExtractInsight isolates the first complete JSON object in model output
// and validates it as an Insight. Anything after that object is ignored.
func ExtractInsight(raw string) (Insight, error) {
	text := stripFences(strings.TrimSpace(raw))

	obj, err := firstObject(text)
	if err != nil {
		return Insight{}, err
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(obj)))
	dec.UseNumber()
	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return Insight{}, fmt.Errorf("%w: %v: %q", ErrMalformedOutput, err, excerpt(obj))
	}

	return insightFromFields(fields)
}

// stripFences drops a leading fence line and a trailing closing fence
func stripFences(text string) string {
	if !strings.HasPrefix(text, fence) {
		return text
	}
	nl := strings.IndexByte(text, '\n')
	if nl < 0 {
		return ""
	}
	text = text[nl+1:]

	lines := strings.Split(text, "\n")
	last := len(lines) - 1
	for last >= 0 && strings.TrimSpace(lines[last]) == "" {
		last--
	}
	if last >= 0 && strings.HasPrefix(strings.TrimSpace(lines[last]), fence) {
		lines = lines[:last]
	}
	return strings.Join(lines, "\n")
}

// firstObject scans from the first '{' to its matching '}', honoring JSON
// string literals and backslash escapes inside them
func firstObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", fmt.Errorf("%w: no JSON object found: %q", ErrMalformedOutput, excerpt(text))
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("%w: unterminated JSON object: %q", ErrMalformedOutput, excerpt(text[start:]))
}

func insightFromFields(fields map[string]interface{}) (Insight, error) {
	var in Insight

	summary, ok := fields["summary"].(string)
	if !ok {
		return Insight{}, fmt.Errorf("%w: summary must be a string, got %s", ErrMalformedOutput, kindOf(fields["summary"]))
	}
	if strings.TrimSpace(summary) == "" {
		return Insight{}, fmt.Errorf("%w: summary is empty", ErrMalformedOutput)
	}
	in.Summary = summary

	num, ok := fields["comfortScore"].(json.Number)
	if !ok {
		return Insight{}, fmt.Errorf("%w: comfortScore must be a number, got %s", ErrMalformedOutput, kindOf(fields["comfortScore"]))
	}
	score, err := num.Float64()
	if err != nil {
		return Insight{}, fmt.Errorf("%w: comfortScore %q: %v", ErrMalformedOutput, num.String(), err)
	}
	in.ComfortScore = clampScore(score)

	in.Trends = stringList(fields["trends"])
	in.Recommendations = stringList(fields["recommendations"])
	in.Alerts = alertList(fields["alerts"])

	if v, present := fields["generatedAt"]; present && v != nil {
		s, ok := v.(string)
		if !ok {
			return Insight{}, fmt.Errorf("%w: generatedAt must be a string, got %s", ErrMalformedOutput, kindOf(v))
		}
		// Unparseable timestamps are stamped by the caller instead
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			in.GeneratedAt = t
		}
	}

	return in, nil
}

// stringList keeps the string elements of an array. Anything that is not an
// array becomes empty.
func stringList(v interface{}) []string {
	out := []string{}
	items, ok := v.([]interface{})
	if !ok {
		return out
	}
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func alertList(v interface{}) []Alert {
	out := []Alert{}
	items, ok := v.([]interface{})
	if !ok {
		return out
	}
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		msg, ok := obj["message"].(string)
		if !ok || strings.TrimSpace(msg) == "" {
			continue
		}
		alertType := AlertInfo
		if t, ok := obj["type"].(string); ok && AlertType(strings.ToLower(strings.TrimSpace(t))) == AlertWarning {
			alertType = AlertWarning
		}
		out = append(out, Alert{Type: alertType, Message: msg})
	}
	return out
}

// clampScore rounds into the integer range [0,100]
func clampScore(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Round(clamp(v, 0, 100)))
}

func kindOf(v interface{}) string {
	switch v.(type) {
	case nil:
		return "nothing"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "bool"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// excerpt bounds text for error messages and logs
func excerpt(s string) string {
	if len(s) <= maxExcerptSize {
		return s
	}
	return strings.ToValidUTF8(s[:maxExcerptSize-3], "") + "..."
}
