package research

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strings"

	"github.com/Laisky/errors/v2"
	"go.uber.org/zap"

	"lumen/backend/internal/lumen"
)

var (
	errEmptyExtraction   = errors.New("extraction response is empty")
	errTrailingExtracted = errors.New("extraction response has trailing content")
)

// Extract yields (nil, false) on any failure.
func (e *Engine) Extract(ctx context.Context, text string, schema Schema) (any, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	data, err := e.extract(ctx, text, schema)
	if err != nil {
		e.logger.Debug("extraction failed", zap.Error(err))
		return nil, false
	}
	return data, true
}

func (e *Engine) extract(ctx context.Context, text string, schema Schema) (any, error) {
	if schema == nil {
		return nil, errors.New("schema is required")
	}
	prompt, err := buildExtractionPrompt(text, schema, e.cfg.ExtractionInputRunes)
	if err != nil {
		return nil, err
	}

	if err := lumen.Sleep(ctx, e.cfg.InterRequestDelay); err != nil {
		return nil, errors.Wrap(err, "wait before extraction")
	}

	req := e.newRequest(prompt)
	if e.cfg.ForwardOutputSchema {
		req.OutputSchema = map[string]any(schema)
	}
	resp, err := e.query(ctx, req)
	if err != nil {
		return nil, err
	}
	return parseExtraction(resp.Response, schema)
}

func parseExtraction(raw string, schema Schema) (any, error) {
	payload := UnwrapCodeFence(raw)
	if payload == "" {
		return nil, errEmptyExtraction
	}

	value, err := decodeStrictJSON(payload)
	if err != nil {
		block := extractJSONBlock(payload)
		if block == "" || block == payload {
			return nil, err
		}
		if value, err = decodeStrictJSON(block); err != nil {
			return nil, err
		}
	}

	if err := schema.Validate(value); err != nil {
		return nil, err
	}
	return value, nil
}

func decodeStrictJSON(payload string) (any, error) {
	decoder := json.NewDecoder(strings.NewReader(payload))
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, errors.Wrap(err, "decode extraction json")
	}
	if decoder.More() {
		return nil, errTrailingExtracted
	}
	return value, nil
}

// UnwrapCodeFence strips one markdown code fence from raw.
//
// Without a ``` marker the trimmed input is returned unchanged. Otherwise the
// content starts after the first marker and runs to the next marker or, if
// the fence is never closed, to the end. An info string such as "json" is
// dropped only when it is alone on the opening line, so "```true```" keeps
// its content. The result is trimmed.
func UnwrapCodeFence(raw string) string {
	value := strings.TrimSpace(raw)
	start := strings.Index(value, "```")
	if start == -1 {
		return value
	}

	rest := value[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl != -1 && isInfoString(strings.TrimSpace(rest[:nl])) {
		rest = rest[nl+1:]
	}

	if end := strings.Index(rest, "```"); end != -1 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

func isInfoString(line string) bool {
	for i := 0; i < len(line); i++ {
		if !isInfoStringByte(line[i]) {
			return false
		}
	}
	return true
}

func isInfoStringByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_' || c == '+' || c == '.':
		return true
	}
	return false
}

func extractJSONBlock(raw string) string {
	value := strings.TrimSpace(raw)
	start := strings.Index(value, "{")
	end := strings.LastIndex(value, "}")
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return strings.TrimSpace(value[start : end+1])
}

// Validate checks value against the top level of the schema: its type, its
// required keys, and additionalProperties:false. Nested schemas are not
// checked.
func (s Schema) Validate(value any) error {
	typ, _ := s["type"].(string)
	switch typ {
	case "":
		return nil
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return errors.Errorf("expected object, got %s", jsonKind(value))
		}
		for _, key := range stringList(s["required"]) {
			if _, ok := obj[key]; !ok {
				return errors.Errorf("missing required property %q", key)
			}
		}
		if allowed, ok := s["additionalProperties"].(bool); ok && !allowed {
			props, _ := s["properties"].(map[string]any)
			if props == nil {
				if typed, ok := s["properties"].(Schema); ok {
					props = typed
				}
			}
			var extra []string
			for key := range obj {
				if _, ok := props[key]; !ok {
					extra = append(extra, key)
				}
			}
			if len(extra) > 0 {
				sort.Strings(extra)
				return errors.Errorf("unexpected properties %s", strings.Join(extra, ", "))
			}
		}
		return nil
	case "array":
		if _, ok := value.([]any); !ok {
			return errors.Errorf("expected array, got %s", jsonKind(value))
		}
	case "string":
		if _, ok := value.(string); !ok {
			return errors.Errorf("expected string, got %s", jsonKind(value))
		}
	case "number":
		if _, ok := value.(float64); !ok {
			return errors.Errorf("expected number, got %s", jsonKind(value))
		}
	case "integer":
		n, ok := value.(float64)
		if !ok || n != math.Trunc(n) {
			return errors.Errorf("expected integer, got %s", jsonKind(value))
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return errors.Errorf("expected boolean, got %s", jsonKind(value))
		}
	case "null":
		if value != nil {
			return errors.Errorf("expected null, got %s", jsonKind(value))
		}
	default:
		return errors.Errorf("unsupported schema type %q", typ)
	}
	return nil
}

func stringList(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func jsonKind(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	}
	return "unknown"
}
