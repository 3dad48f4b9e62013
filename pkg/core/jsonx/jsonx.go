// Package jsonx parses LLM replies into structured data. Every agent in
// pkg/core/{collateral,temporal,currency} routes its raw LLM text through
// here before touching it as JSON. Grounded on
// pkg/core/utils/json_validator.go (teacher) and original_source's
// BaseNormalizerAgent._call_claude fence-stripping regex.
package jsonx

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	hjson "github.com/hjson/hjson-go/v4"
)

var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// StripFences removes a single outer ```json ... ``` or ``` ... ``` fence,
// tolerating trailing prose after the closing fence, matching the Python
// source's markdown_pattern regex behavior.
func StripFences(text string) string {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return text
}

// ValidateJSON checks a decoded schema for zero-value required fields —
// the "Instructor pattern" used throughout the teacher's agent code.
func ValidateJSON(jsonData string, schema interface{}) error {
	if err := json.Unmarshal([]byte(jsonData), schema); err != nil {
		return fmt.Errorf("JSON_STRUCTURAL_ERROR: %w", err)
	}

	v := reflect.ValueOf(schema)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() == reflect.Struct {
		for i := 0; i < v.NumField(); i++ {
			if v.Field(i).IsZero() {
				return fmt.Errorf("JSON_SCHEMA_VIOLATION: required field '%s' is missing or zero", v.Type().Field(i).Name)
			}
		}
	}
	return nil
}

// RepairJSON fixes common LLM JSON mistakes (unquoted keys, trailing
// commas, single quotes, TRUE/FALSE literals).
func RepairJSON(malformed string) (string, error) {
	repaired, err := jsonrepair.RepairJSON(malformed)
	if err != nil {
		return "", fmt.Errorf("JSON_REPAIR_FAILED: %w", err)
	}
	return repaired, nil
}

// ParseHJSON parses the lenient Hjson dialect and re-serializes it as
// standard JSON.
func ParseHJSON(hjsonData string) (string, error) {
	var result interface{}
	if err := hjson.Unmarshal([]byte(hjsonData), &result); err != nil {
		return "", fmt.Errorf("HJSON_PARSE_ERROR: %w", err)
	}
	out, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("JSON_MARSHAL_ERROR: %w", err)
	}
	return string(out), nil
}

// SmartParse is the agent reply decoding cascade spec.md §4.2 requires:
// strip fences, try raw JSON, then json-repair, then Hjson. The first
// strategy that unmarshals cleanly into schema wins.
func SmartParse(input string, schema interface{}) (string, error) {
	input = StripFences(input)

	if err := json.Unmarshal([]byte(input), schema); err == nil {
		return input, nil
	}

	if repaired, err := RepairJSON(input); err == nil {
		if err := json.Unmarshal([]byte(repaired), schema); err == nil {
			return repaired, nil
		}
	}

	if asHjson, err := ParseHJSON(input); err == nil {
		if err := json.Unmarshal([]byte(asHjson), schema); err == nil {
			return asHjson, nil
		}
	}

	return "", fmt.Errorf("SMART_PARSE_FAILED: all parsing strategies failed for input")
}

// ParseLoose decodes input into an untyped map using the same cascade as
// SmartParse, for call sites that don't have a concrete schema struct
// (mirrors the Python source's raw_text/parsed=False fallback wrapper).
func ParseLoose(input string) map[string]interface{} {
	var out map[string]interface{}
	if _, err := SmartParse(input, &out); err == nil {
		return out
	}
	return map[string]interface{}{"raw_text": input, "parsed": false}
}
