package policy

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// maxCachedPatterns bounds the compiled-pattern cache. The cache is
// cleared when full.
const maxCachedPatterns = 1024

// patterns caches compiled regex condition values. A nil entry records a
// pattern that failed to compile.
var patterns = &patternCache{compiled: make(map[string]*regexp.Regexp)}

type patternCache struct {
	mu       sync.RWMutex
	compiled map[string]*regexp.Regexp
}

// get returns the compiled pattern, or nil when it does not compile.
func (c *patternCache) get(pattern string) *regexp.Regexp {
	c.mu.RLock()
	re, ok := c.compiled[pattern]
	c.mu.RUnlock()
	if ok {
		return re
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		re = nil
	}
	c.mu.Lock()
	if len(c.compiled) >= maxCachedPatterns {
		clear(c.compiled)
	}
	c.compiled[pattern] = re
	c.mu.Unlock()
	return re
}

func (c *patternCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.compiled)
}

// EvaluateCondition reports whether cond holds for the given call arguments
// and request context. It never fails: missing keys, type mismatches and
// malformed patterns all evaluate to false.
func EvaluateCondition(cond Condition, args map[string]interface{}, evalCtx EvaluationContext) bool {
	if strings.HasPrefix(cond.Key, ContextPrefix) {
		return evaluateContextCondition(cond, evalCtx)
	}

	v, ok := lookupPath(args, cond.Key)
	if !ok {
		return false
	}

	switch val := v.(type) {
	case []interface{}:
		return matchArray(cond, val)
	case map[string]interface{}:
		return false
	default:
		s, ok := scalarString(val)
		if !ok {
			return false
		}
		return matchScalar(cond.Operator, s, cond.Value)
	}
}

// matchesAll reports whether every condition holds. An empty slice matches.
func matchesAll(conds []Condition, args map[string]interface{}, evalCtx EvaluationContext) bool {
	for _, c := range conds {
		if !EvaluateCondition(c, args, evalCtx) {
			return false
		}
	}
	return true
}

func evaluateContextCondition(cond Condition, evalCtx EvaluationContext) bool {
	switch cond.Key {
	case KeyExternalAgent:
		if evalCtx.ExternalAgentID == "" {
			return false
		}
		switch cond.Operator {
		case OpEqual:
			return evalCtx.ExternalAgentID == cond.Value
		case OpNotEqual:
			return evalCtx.ExternalAgentID != cond.Value
		}
	case KeyContextTeamIDs:
		switch cond.Operator {
		case OpContains:
			return containsString(evalCtx.TeamIDs, cond.Value)
		case OpNotContains:
			return !containsString(evalCtx.TeamIDs, cond.Value)
		}
	}
	return false
}

func matchScalar(op Operator, actual, expected string) bool {
	switch op {
	case OpEqual:
		return actual == expected
	case OpNotEqual:
		return actual != expected
	case OpContains:
		return strings.Contains(actual, expected)
	case OpNotContains:
		return !strings.Contains(actual, expected)
	case OpStartsWith:
		return strings.HasPrefix(actual, expected)
	case OpEndsWith:
		return strings.HasSuffix(actual, expected)
	case OpRegex:
		re := patterns.get(expected)
		if re == nil {
			return false
		}
		return re.MatchString(actual)
	default:
		return false
	}
}

// matchArray supports element membership only.
func matchArray(cond Condition, elems []interface{}) bool {
	found := false
	for _, e := range elems {
		if s, ok := scalarString(e); ok && s == cond.Value {
			found = true
			break
		}
	}
	switch cond.Operator {
	case OpContains:
		return found
	case OpNotContains:
		return !found
	default:
		return false
	}
}

// lookupPath resolves a dotted key. A literal top-level key wins over path
// traversal so arguments named "a.b" stay addressable.
func lookupPath(args map[string]interface{}, key string) (interface{}, bool) {
	if args == nil || key == "" {
		return nil, false
	}
	if v, ok := args[key]; ok {
		return v, v != nil
	}

	var cur interface{} = args
	for _, seg := range strings.Split(key, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []interface{}:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

func scalarString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case json.Number:
		return val.String(), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	default:
		return "", false
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
