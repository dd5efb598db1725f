package content

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrEmpty      = errors.New("step content is empty")
	ErrUnparsable = errors.New("step content is not valid JSON")
)

// ValidationError lists the schema violations found in step content.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "step content does not match schema: " + strings.Join(e.Problems, "; ")
}

const stepContentSchema = `{
  "definitions": {
    "activity": {
      "type": "object",
      "required": ["activityId", "type"],
      "properties": {
        "activityId": {"type": "string", "minLength": 1},
        "type": {"type": "string", "minLength": 1},
        "skillId": {"type": ["string", "null"]},
        "payload": {
          "type": "object",
          "properties": {
            "experiencePoints": {"type": ["number", "string"]},
            "title": {"type": "string"},
            "topic": {"type": "string"}
          }
        }
      }
    },
    "activities": {
      "type": "array",
      "items": {"$ref": "#/definitions/activity"}
    }
  },
  "anyOf": [
    {"$ref": "#/definitions/activities"},
    {
      "type": "object",
      "required": ["activities"],
      "properties": {"activities": {"$ref": "#/definitions/activities"}}
    }
  ]
}`

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(stepContentSchema))
})

// Validate checks content against the canonical step content schema. It is a
// lint for authored content: ExtractActivities tolerates anything Validate
// rejects, including non-canonical key casing.
func Validate(content any) error {
	if content == nil {
		return ErrEmpty
	}
	tree := Normalize(content)
	if tree == nil {
		if s, ok := content.(string); ok && strings.TrimSpace(s) == "" {
			return ErrEmpty
		}
		return ErrUnparsable
	}

	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile step content schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(tree))
	if err != nil {
		return fmt.Errorf("validate step content: %w", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return &ValidationError{Problems: problems}
}
