// Package content reads the activity list out of loosely-typed quest step
// content. Step content is authored outside the engine, so every reader here
// degrades to an empty result instead of failing.
package content

import (
	"bytes"
	"encoding/json"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// Activity is the smallest completable unit inside a step.
type Activity struct {
	ID               string
	Type             string
	SkillID          string
	ExperiencePoints int
	Title            string
}

// IsQuiz reports whether completing the activity completes its step.
func (a Activity) IsQuiz() bool {
	return strings.EqualFold(a.Type, "quiz")
}

// Normalize converts content into a decoded JSON tree (map[string]any, []any
// or a scalar). Empty or unparsable input yields nil.
func Normalize(content any) any {
	return normalize(content, 0)
}

func normalize(content any, depth int) any {
	switch v := content.(type) {
	case nil:
		return nil
	case map[string]any, []any:
		return v
	case json.RawMessage:
		return decode(v, depth)
	case []byte:
		return decode(v, depth)
	case string:
		return decode([]byte(v), depth)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return decode(b, depth)
	}
}

func decode(raw []byte, depth int) any {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil
	}
	// Content stored as a JSON string holding JSON is unwrapped once.
	if s, ok := tree.(string); ok && depth == 0 {
		return normalize(s, depth+1)
	}
	return tree
}

// ExtractActivities returns the activities in content in authored order.
// A root array is the activity list itself; a root object carries it in its
// "activities" field. Keys are matched without regard to case.
func ExtractActivities(content any) []Activity {
	list := activityList(Normalize(content))
	out := make([]Activity, 0, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, parseActivity(obj))
	}
	return out
}

// CountActivities returns the number of activities in content.
func CountActivities(content any) int {
	return len(ExtractActivities(content))
}

// FindActivity returns the activity whose id equals activityID exactly.
func FindActivity(content any, activityID string) (Activity, bool) {
	for _, a := range ExtractActivities(content) {
		if a.ID == activityID {
			return a, true
		}
	}
	return Activity{}, false
}

func activityList(tree any) []any {
	switch v := tree.(type) {
	case []any:
		return v
	case map[string]any:
		list, _ := lookup(v, "activities").([]any)
		return list
	default:
		return nil
	}
}

func parseActivity(obj map[string]any) Activity {
	a := Activity{
		ID:      text(lookup(obj, "activityId")),
		Type:    text(lookup(obj, "type")),
		SkillID: text(lookup(obj, "skillId")),
	}
	payload, _ := lookup(obj, "payload").(map[string]any)
	if payload == nil {
		return a
	}
	a.ExperiencePoints = points(lookup(payload, "experiencePoints"))
	a.Title = text(lookup(payload, "title"))
	if a.Title == "" {
		a.Title = text(lookup(payload, "topic"))
	}
	return a
}

// lookup returns obj[key], falling back to a case-folded match. When several
// keys fold to the same name, the one that sorts first wins.
func lookup(obj map[string]any, key string) any {
	if v, ok := obj[key]; ok {
		return v
	}
	caser := cases.Fold()
	want := caser.String(key)
	for _, k := range slices.Sorted(maps.Keys(obj)) {
		if caser.String(k) == want {
			return obj[k]
		}
	}
	return nil
}

func text(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func points(v any) int {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0
	}
	return int(math.Round(f))
}
