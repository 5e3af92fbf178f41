package domain

import (
	"fmt"
	"sort"
)

// Validate checks params against the shape and returns one message per
// violation. A nil map is always rejected.
func (s InputShape) Validate(params map[string]interface{}) []string {
	if params == nil {
		return []string{"parameters must be a structured object"}
	}

	var problems []string
	for _, name := range s.Required {
		if _, ok := params[name]; !ok {
			problems = append(problems, fmt.Sprintf("missing required parameter %q", name))
		}
	}

	if len(s.Properties) == 0 {
		return problems
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		kind, declared := s.Properties[name]
		if !declared {
			if !s.AllowAdditional {
				problems = append(problems, fmt.Sprintf("unexpected parameter %q", name))
			}
			continue
		}
		if !kind.Accepts(params[name]) {
			problems = append(problems, fmt.Sprintf("parameter %q must be %s", name, kind))
		}
	}
	return problems
}

func (k ParamKind) Accepts(v interface{}) bool {
	switch k {
	case ParamAny, "":
		return true
	case ParamString:
		_, ok := v.(string)
		return ok
	case ParamBool:
		_, ok := v.(bool)
		return ok
	case ParamNumber:
		switch v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			return true
		}
		return false
	case ParamObject:
		_, ok := v.(map[string]interface{})
		return ok
	case ParamArray:
		_, ok := v.([]interface{})
		return ok
	default:
		return false
	}
}
