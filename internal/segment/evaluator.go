// Package segment evaluates segment conditions in-process. The sweep uses it
// to resolve merged per-user state into a membership value, journeys use it
// to evaluate keyed conditions against the events seen for one key.
package segment

import (
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
)

// NormalizePath turns a "$.a.b" style path into the dotted form gjson expects.
func NormalizePath(path string) string {
	path = strings.TrimPrefix(path, "$")
	return strings.TrimPrefix(path, ".")
}

// PathKeys splits a path into its object keys.
func PathKeys(path string) []string {
	normalized := NormalizePath(path)
	if normalized == "" {
		return nil
	}
	return strings.Split(normalized, ".")
}

// MatchProperty reports whether the value at path in a JSON object satisfies op.
func MatchProperty(properties []byte, path string, op domain.Operator) bool {
	return MatchValue(gjson.GetBytes(properties, NormalizePath(path)), op)
}

// MatchRaw reports whether a raw JSON scalar satisfies op. An empty string is
// a missing value.
func MatchRaw(raw string, op domain.Operator) bool {
	if raw == "" {
		return MatchValue(gjson.Result{}, op)
	}
	return MatchValue(gjson.Parse(raw), op)
}

// MatchValue applies op to an extracted value. Unsupported operators never
// match.
func MatchValue(value gjson.Result, op domain.Operator) bool {
	switch op.Type {
	case domain.OperatorEquals:
		return value.Exists() && value.Type != gjson.Null && value.String() == op.Value
	case domain.OperatorNotEquals:
		return !(value.Exists() && value.Type != gjson.Null && value.String() == op.Value)
	case domain.OperatorExists:
		return present(value)
	case domain.OperatorNotExists:
		return !present(value)
	case domain.OperatorLessThan:
		n, ok := number(value)
		return ok && n < op.Number
	case domain.OperatorGreaterThanOrEqual:
		n, ok := number(value)
		return ok && n >= op.Number
	default:
		return false
	}
}

// null, "" and missing values count as absent
func present(value gjson.Result) bool {
	if !value.Exists() || value.Type == gjson.Null {
		return false
	}
	return !(value.Type == gjson.String && value.Str == "")
}

func number(value gjson.Result) (float64, bool) {
	switch value.Type {
	case gjson.Number:
		return value.Num, true
	case gjson.String:
		n, err := strconv.ParseFloat(strings.TrimSpace(value.Str), 64)
		if err != nil || math.IsNaN(n) {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// CompareCount applies a times operator to a count.
func CompareCount(count int, op domain.TimesOperator, times int) bool {
	switch op {
	case domain.TimesLessThan:
		return count < times
	case domain.TimesEquals:
		return count == times
	default:
		return count >= times
	}
}

// EvaluateKeyed decides whether events satisfy a performed condition for one
// key value. Events are filtered by name and by the value at keyPath; each
// remaining event counts only if every property condition holds.
func EvaluateKeyed(events []domain.TrackEvent, keyPath, keyValue string, condition domain.PerformedSegmentNode) bool {
	keyPath = NormalizePath(keyPath)
	count := 0
	for _, event := range events {
		if event.Event != condition.Event {
			continue
		}
		key := gjson.GetBytes(event.Properties, keyPath)
		if !key.Exists() || key.String() != keyValue {
			continue
		}
		if !matchesAll(event.Properties, condition.Properties) {
			continue
		}
		count++
	}

	op, times := condition.Threshold()
	return CompareCount(count, op, times)
}

func matchesAll(properties []byte, conditions []domain.PropertyCondition) bool {
	for _, c := range conditions {
		if !MatchProperty(properties, c.Path, c.Operator) {
			return false
		}
	}
	return true
}

// Evaluate resolves a segment's boolean expression. leaf supplies the value
// of each Trait and Performed node.
func Evaluate(def *domain.SegmentDefinition, leaf func(domain.SegmentNode) bool) bool {
	var eval func(n domain.SegmentNode) bool
	eval = func(n domain.SegmentNode) bool {
		switch node := n.(type) {
		case domain.AndSegmentNode:
			for _, id := range node.Children {
				child, ok := def.Node(id)
				if !ok || !eval(child) {
					return false
				}
			}
			return len(node.Children) > 0
		case domain.OrSegmentNode:
			for _, id := range node.Children {
				if child, ok := def.Node(id); ok && eval(child) {
					return true
				}
			}
			return false
		default:
			return leaf(n)
		}
	}
	return eval(def.Entry)
}
