// Package schema is the structural validation registry (C1): two
// compiled JSON schemas, Job (strict, rejects unknown top-level fields)
// and Response (shape validation for the outbound envelope), following
// the compile-once-cache-forever pattern the gateway's WS frame
// validator and the plugin SDK's config validator both use.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/agentengine/pkg/models"
)

// FieldError is one offending-field entry in a structured validation
// failure.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationErrors is a non-empty-when-invalid list of FieldError.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("%s: %s", v[0].Path, v[0].Message)
}

const jobSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["userId", "prompt", "correlationId", "maxDepth", "currentDepth", "contextWindowLimit"],
  "properties": {
    "userId": {"type": "string", "minLength": 1},
    "prompt": {"type": "string", "minLength": 1},
    "correlationId": {"type": "string", "minLength": 1},
    "maxDepth": {"type": "integer", "minimum": 1, "maximum": 20},
    "currentDepth": {"type": "integer", "minimum": 0},
    "contextWindowLimit": {"type": "integer", "minimum": 100, "maximum": 128000},
    "previousContext": {"type": "string"},
    "toolResults": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["toolName"],
        "properties": {
          "toolName": {
            "type": "string",
            "enum": ["workflow_orchestrator", "google_search", "code_executor", "submit_parallel_job", "retrieve_context"]
          },
          "result": {},
          "executionTime": {},
          "cost": {"type": "number"},
          "error": {"type": "string"}
        }
      }
    },
    "metadata": {"type": "object"}
  }
}`

const responseSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["correlationId", "jobSignature", "status", "phaseResult", "fromCache", "decisions", "toolCalls", "startedAt", "completedAt"],
  "properties": {
    "correlationId": {"type": "string"},
    "jobSignature": {"type": "string"},
    "status": {"type": "string", "enum": ["COMPLETE", "ERROR"]},
    "result": {"type": "string"},
    "error": {
      "type": "object",
      "required": ["code", "message"],
      "properties": {
        "code": {"type": "string"},
        "message": {"type": "string"},
        "details": {"type": "object"}
      }
    },
    "phaseResult": {"type": "string", "enum": ["CONTINUE", "CACHE_HIT", "POLICY_VIOLATION", "ERROR"]},
    "fromCache": {"type": "boolean"},
    "executionTime": {},
    "tokensUsed": {"type": "integer", "minimum": 0},
    "totalCost": {"type": "number", "minimum": 0},
    "decisions": {"type": "array"},
    "toolCalls": {"type": "array"},
    "startedAt": {"type": "string"},
    "completedAt": {"type": "string"}
  }
}`

type registry struct {
	once     sync.Once
	initErr  error
	job      *jsonschema.Schema
	response *jsonschema.Schema
}

var reg registry

func compile() error {
	reg.once.Do(func() {
		jobSchema, err := jsonschema.CompileString("job.schema.json", jobSchemaJSON)
		if err != nil {
			reg.initErr = fmt.Errorf("compile job schema: %w", err)
			return
		}
		reg.job = jobSchema

		respSchema, err := jsonschema.CompileString("response.schema.json", responseSchemaJSON)
		if err != nil {
			reg.initErr = fmt.Errorf("compile response schema: %w", err)
			return
		}
		reg.response = respSchema
	})
	return reg.initErr
}

// flatten walks a jsonschema.ValidationError's cause tree and returns one
// FieldError per leaf cause (a node with no further causes), which is
// where the actual keyword failure is reported.
func flatten(err error) ValidationErrors {
	var out ValidationErrors
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if e == nil {
			return
		}
		if len(e.Causes) == 0 {
			out = append(out, FieldError{
				Path:    e.InstanceLocation,
				Message: e.Message,
				Code:    keywordOf(e.KeywordLocation),
			})
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	if ve, ok := err.(*jsonschema.ValidationError); ok {
		walk(ve)
	} else {
		out = append(out, FieldError{Path: "", Message: err.Error(), Code: "SCHEMA_ERROR"})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func keywordOf(location string) string {
	if location == "" {
		return "SCHEMA_VIOLATION"
	}
	for i := len(location) - 1; i >= 0; i-- {
		if location[i] == '/' {
			return location[i+1:]
		}
	}
	return location
}

// normalizeJobDefaults fills the §3 defaults for fields a caller omitted,
// before bounds validation runs — an omitted maxDepth is not the same as
// an out-of-range one.
func normalizeJobDefaults(payload map[string]any) {
	if _, ok := payload["maxDepth"]; !ok {
		payload["maxDepth"] = models.DefaultMaxDepth
	}
	if _, ok := payload["currentDepth"]; !ok {
		payload["currentDepth"] = 0
	}
	if _, ok := payload["contextWindowLimit"]; !ok {
		payload["contextWindowLimit"] = models.DefaultContextWindowLimit
	}
}

// ValidateJob decodes and strictly validates a raw Job payload. A
// structural failure is returned as ValidationErrors (not a Go error);
// decode-level failures (malformed JSON) are returned as an error.
func ValidateJob(raw []byte) (models.Job, ValidationErrors, error) {
	if err := compile(); err != nil {
		return models.Job{}, nil, err
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return models.Job{}, nil, fmt.Errorf("malformed job payload: %w", err)
	}
	normalizeJobDefaults(payload)

	normalized, err := json.Marshal(payload)
	if err != nil {
		return models.Job{}, nil, err
	}

	var decoded any
	if err := json.Unmarshal(normalized, &decoded); err != nil {
		return models.Job{}, nil, err
	}
	if verr := reg.job.Validate(decoded); verr != nil {
		return models.Job{}, flatten(verr), nil
	}

	var job models.Job
	if err := json.Unmarshal(normalized, &job); err != nil {
		return models.Job{}, nil, err
	}
	return job, nil, nil
}

// ValidateResponse schema-checks a Response's shape, returning a
// non-empty ValidationErrors on any violation.
func ValidateResponse(resp models.Response) ValidationErrors {
	if err := compile(); err != nil {
		return ValidationErrors{{Path: "", Message: err.Error(), Code: "SCHEMA_INIT_FAILED"}}
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return ValidationErrors{{Path: "", Message: err.Error(), Code: "ENCODE_FAILED"}}
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return ValidationErrors{{Path: "", Message: err.Error(), Code: "DECODE_FAILED"}}
	}
	if verr := reg.response.Validate(decoded); verr != nil {
		return flatten(verr)
	}
	return nil
}

// DeserializeResponse parses raw JSON into a Response and schema-validates
// the result, matching C15's deserialize contract.
func DeserializeResponse(raw []byte) (models.Response, ValidationErrors, error) {
	var resp models.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return models.Response{}, nil, fmt.Errorf("malformed response payload: %w", err)
	}
	if errs := ValidateResponse(resp); len(errs) > 0 {
		return models.Response{}, errs, nil
	}
	return resp, nil, nil
}
