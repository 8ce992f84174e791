package annotate

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"horse.fit/newsai/internal/provider"
)

//go:embed annotation.schema.json
var annotationSchemaJSON string

const schemaName = "news_annotation"

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error

	requestSchemaOnce sync.Once
	requestSchema     json.RawMessage
)

// RequestSchema is the annotation schema in the subset accepted by strict
// structured-output endpoints (no $schema, $id, title or size keywords).
func RequestSchema() json.RawMessage {
	requestSchemaOnce.Do(func() {
		var doc map[string]any
		if err := json.Unmarshal([]byte(annotationSchemaJSON), &doc); err != nil {
			panic(fmt.Sprintf("annotation schema is not valid JSON: %v", err))
		}
		stripSchemaKeywords(doc)
		encoded, err := json.Marshal(doc)
		if err != nil {
			panic(fmt.Sprintf("encode request schema: %v", err))
		}
		requestSchema = encoded
	})
	return requestSchema
}

func stripSchemaKeywords(node map[string]any) {
	for _, key := range []string{"$schema", "$id", "title", "maxItems", "minItems"} {
		delete(node, key)
	}
	for _, value := range node {
		switch typed := value.(type) {
		case map[string]any:
			stripSchemaKeywords(typed)
		case []any:
			for _, item := range typed {
				if child, ok := item.(map[string]any); ok {
					stripSchemaKeywords(child)
				}
			}
		}
	}
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020

		if err := compiler.AddResource("annotation.schema.json", strings.NewReader(annotationSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile("annotation.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}
		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

// ParseResult turns completion text into a Result. Structured modes require a
// JSON object that validates against the annotation schema; FormatOff also
// accepts labelled free text. Every failure wraps provider.ErrParse.
func ParseResult(text string, format provider.FormatMode) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, fmt.Errorf("%w: empty completion", provider.ErrParse)
	}

	result, jsonErr := parseJSONResult(text)
	if jsonErr == nil {
		return result, nil
	}
	if format.Structured() {
		return Result{}, fmt.Errorf("%w: %v", provider.ErrParse, jsonErr)
	}

	result = parseSections(text)
	if result.Summary == "" && len(result.Highlights) == 0 {
		return Result{}, fmt.Errorf("%w: no summary or highlights in free-text completion", provider.ErrParse)
	}
	return result, nil
}

func parseJSONResult(text string) (Result, error) {
	raw, ok := extractJSONObject(text)
	if !ok {
		return Result{}, fmt.Errorf("no JSON object in completion")
	}
	value, err := decodeStrictJSON([]byte(raw))
	if err != nil {
		return Result{}, fmt.Errorf("decode completion JSON: %w", err)
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return Result{}, fmt.Errorf("completion JSON is not an object")
	}
	prepared := prepareObject(obj)

	schema, err := loadSchema()
	if err != nil {
		return Result{}, fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(prepared); err != nil {
		return Result{}, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(prepared)
	if err != nil {
		return Result{}, fmt.Errorf("normalize completion JSON: %w", err)
	}
	var result Result
	if err := json.Unmarshal(normalized, &result); err != nil {
		return Result{}, fmt.Errorf("unmarshal completion: %w", err)
	}
	return result.Normalized(), nil
}

// prepareObject keeps the known fields and maps known risk synonyms onto
// the canonical enum before schema validation.
func prepareObject(obj map[string]any) map[string]any {
	out := make(map[string]any, 4)
	for _, key := range []string{"summary", "highlights", "keywords"} {
		if value, exists := obj[key]; exists {
			out[key] = value
		}
	}
	if keywords, ok := out["keywords"].(string); ok {
		out["keywords"] = stringsToAny(splitKeywords(keywords))
	}
	if highlights, ok := out["highlights"].(string); ok {
		out["highlights"] = stringsToAny(listItems(highlights))
	}

	// Unrecognised or non-string levels are left for the schema to reject.
	if value, exists := obj["risk_level"]; exists {
		out["risk_level"] = value
		if raw, ok := value.(string); ok {
			if risk, known := ParseRiskLevel(raw); known {
				out["risk_level"] = string(risk)
			}
		}
	}
	return out
}

func stringsToAny(values []string) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}

var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

func extractJSONObject(text string) (string, bool) {
	candidate := strings.TrimSpace(text)
	if match := fencePattern.FindStringSubmatch(candidate); len(match) == 2 {
		candidate = strings.TrimSpace(match[1])
	}
	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return candidate[start : end+1], true
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}
	return value, nil
}

type section int

const (
	sectionNone section = iota
	sectionSummary
	sectionHighlights
	sectionKeywords
	sectionRisk
)

var headingPattern = regexp.MustCompile(`(?i)^\s*(?:#{1,6}\s*)?(?:\*\*)?\s*(summary|摘要|概要|highlights|key points|要点|亮点|keywords|tags|关键词|关键字|risk[ _]level|risk|风险等级|风险)\s*(?:\*\*)?\s*(?:[:：]\s*(?:\*\*)?\s*(.*)|$)`)

var bulletPattern = regexp.MustCompile(`^\s*(?:[-*•·]|\d+[.)、]|[（(]?\d+[)）])\s*`)

func headingSection(label string) section {
	switch strings.ToLower(label) {
	case "summary", "摘要", "概要":
		return sectionSummary
	case "highlights", "key points", "要点", "亮点":
		return sectionHighlights
	case "keywords", "tags", "关键词", "关键字":
		return sectionKeywords
	default:
		return sectionRisk
	}
}

// parseSections reads "Summary: ...", "Highlights:" bullet lists and similar
// labelled blocks in English or Chinese.
func parseSections(text string) Result {
	var (
		current    = sectionNone
		summary    []string
		highlights []string
		keywords   []string
		riskText   string
	)

	add := func(s section, line string) {
		line = strings.TrimSpace(line)
		if line == "" {
			return
		}
		switch s {
		case sectionSummary:
			summary = append(summary, line)
		case sectionHighlights:
			if item := strings.TrimSpace(bulletPattern.ReplaceAllString(line, "")); item != "" {
				highlights = append(highlights, item)
			}
		case sectionKeywords:
			keywords = append(keywords, splitKeywords(bulletPattern.ReplaceAllString(line, ""))...)
		case sectionRisk:
			if riskText == "" {
				riskText = line
			}
		}
	}

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if match := headingPattern.FindStringSubmatch(line); match != nil {
			current = headingSection(match[1])
			add(current, strings.Trim(match[2], "* "))
			continue
		}
		add(current, line)
	}

	risk := RiskUnknown
	if riskText != "" {
		word := strings.Fields(strings.Trim(riskText, "*`\"' "))
		if len(word) > 0 {
			risk, _ = ParseRiskLevel(strings.Trim(word[0], ".,，。*"))
		}
	}

	return Result{
		Summary:    strings.Join(summary, " "),
		Highlights: highlights,
		Keywords:   keywords,
		RiskLevel:  risk,
	}.Normalized()
}

var keywordSplitPattern = regexp.MustCompile(`[,，、;；|/]+`)

func splitKeywords(line string) []string {
	parts := keywordSplitPattern.Split(line, -1)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func listItems(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if item := strings.TrimSpace(bulletPattern.ReplaceAllString(line, "")); item != "" {
			out = append(out, item)
		}
	}
	return out
}
