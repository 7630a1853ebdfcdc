/*
PURPOSE:
  Validates parsed benchmark results against the minimal JSON schema the
  sweep depends on.

REQUIREMENTS:
  Implementation-discovered:
  - "completed" must be a non-negative integer; other fields pass through.
  - A non-finite "completed" is encoded as a string and fails validation.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine/executor.go (readResult)
  - Uses: github.com/xeipuuv/gojsonschema

ERROR HANDLING:
  - Returns one error listing every schema violation.

IMPLEMENTATION RULES:
  - The schema is compiled once at package init.

USAGE:
  if err := engine.ValidateResult(res); err != nil { ... }

SELF-HEALING INSTRUCTIONS:
  - If acceptance starts depending on another field, add it to resultSchema.

RELATED FILES:
  - internal/model/result.go

MAINTENANCE:
  - None.
*/

package engine

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/daryltucker/bench-sweep/internal/model"
)

// resultSchema is the part of a benchmark result file the sweep relies on.
// Everything else is carried through to the CSV untouched.
const resultSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["completed"],
  "properties": {
    "completed": {"type": "integer", "minimum": 0}
  }
}`

var compiledResultSchema = mustSchema(resultSchema)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile result schema: %v", err))
	}
	return s
}

// ValidateResult checks a parsed result payload against the result schema.
func ValidateResult(res *model.Result) error {
	doc, err := res.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	result, err := compiledResultSchema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	issues := make([]string, 0, len(result.Errors()))
	for _, issue := range result.Errors() {
		issues = append(issues, issue.String())
	}
	return fmt.Errorf("result failed schema validation: %s", strings.Join(issues, "; "))
}
