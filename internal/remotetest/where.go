package remotetest

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// matches evaluates a where clause against a row.
func matches(row Row, where map[string]any) bool {
	for field, cond := range where {
		switch field {
		case "and":
			for _, sub := range clauses(cond) {
				if !matches(row, sub) {
					return false
				}
			}
		case "or":
			hit := false
			for _, sub := range clauses(cond) {
				if matches(row, sub) {
					hit = true
					break
				}
			}
			if !hit {
				return false
			}
		default:
			if !matchValue(row[field], cond) {
				return false
			}
		}
	}
	return true
}

func clauses(v any) []map[string]any {
	list, _ := v.([]any)
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func matchValue(actual, cond any) bool {
	ops, ok := cond.(map[string]any)
	if !ok {
		return equal(actual, cond)
	}
	for op, operand := range ops {
		if !matchOperator(actual, op, operand) {
			return false
		}
	}
	return true
}

func matchOperator(actual any, op string, operand any) bool {
	switch op {
	case "eq":
		return equal(actual, operand)
	case "neq":
		return !equal(actual, operand)
	case "gt":
		c, ok := compare(actual, operand)
		return ok && c > 0
	case "gte":
		c, ok := compare(actual, operand)
		return ok && c >= 0
	case "lt":
		c, ok := compare(actual, operand)
		return ok && c < 0
	case "lte":
		c, ok := compare(actual, operand)
		return ok && c <= 0
	case "between":
		bounds, _ := operand.([]any)
		if len(bounds) != 2 {
			return false
		}
		lo, ok1 := compare(actual, bounds[0])
		hi, ok2 := compare(actual, bounds[1])
		return ok1 && ok2 && lo >= 0 && hi <= 0
	case "inq":
		return contains(operand, actual)
	case "nin":
		return !contains(operand, actual)
	case "like", "nlike":
		s, ok := actual.(string)
		if !ok {
			return op == "nlike"
		}
		pattern, _ := operand.(string)
		return likePattern(pattern).MatchString(s) == (op == "like")
	}
	return false
}

func contains(list, v any) bool {
	items, _ := list.([]any)
	for _, item := range items {
		if equal(v, item) {
			return true
		}
	}
	return false
}

func likePattern(p string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range p {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func compare(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	sa, ok1 := a.(string)
	sb, ok2 := b.(string)
	if !ok1 || !ok2 {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}

// sortRows applies LoopBack-style order clauses such as "age DESC".
func sortRows(rows []Row, order []string) {
	if len(order) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, clause := range order {
			parts := strings.Fields(clause)
			if len(parts) == 0 {
				continue
			}
			c, ok := compare(rows[i][parts[0]], rows[j][parts[0]])
			if !ok || c == 0 {
				continue
			}
			if len(parts) > 1 && strings.EqualFold(parts[1], "DESC") {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}
