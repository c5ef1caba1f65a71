package condition

import (
	"fmt"
	"strconv"
	"time"
)

type DataType string

const (
	TypeString   DataType = "string"
	TypeNumber   DataType = "number"
	TypeBoolean  DataType = "boolean"
	TypeArray    DataType = "array"
	TypeObject   DataType = "object"
	TypeDateTime DataType = "dateTime"
)

// Field names the piece of a prior step's result a template variable
// reads.
type Field string

const (
	FieldOutput   Field = "output"
	FieldStatus   Field = "status"
	FieldResponse Field = "response"
)

type ValueSource string

const (
	SourceTemplate ValueSource = "template"
	SourceStatic   ValueSource = "static"
)

// Value is a tagged union: either a template variable referencing a
// prior step, or a static literal with a declared data type.
type Value struct {
	Source ValueSource `yaml:"source" json:"source"`

	// template variable fields
	StepID string `yaml:"step_id,omitempty" json:"stepId,omitempty"`
	Field  Field  `yaml:"field,omitempty" json:"field,omitempty"`

	// static value fields
	DataType DataType `yaml:"data_type,omitempty" json:"dataType,omitempty"`
	Value    any      `yaml:"value,omitempty" json:"value,omitempty"`
}

// TemplateValue constructs a validated template-variable Value.
func TemplateValue(stepID string, field Field) (Value, error) {
	v := Value{Source: SourceTemplate, StepID: stepID, Field: field}
	if err := v.Validate(); err != nil {
		return Value{}, err
	}
	return v, nil
}

// StaticValue constructs a validated static Value, coercing the literal
// to its declared data type up front so malformed conditions fail at
// build time rather than at evaluation time.
func StaticValue(dataType DataType, raw any) (Value, error) {
	v := Value{Source: SourceStatic, DataType: dataType, Value: raw}
	if err := v.Validate(); err != nil {
		return Value{}, err
	}
	return v, nil
}

// Validate checks the union is well-formed for its source.
func (v *Value) Validate() error {
	switch v.Source {
	case SourceTemplate:
		if v.StepID == "" {
			return fmt.Errorf("template value: missing step id")
		}
		switch v.Field {
		case FieldOutput, FieldStatus, FieldResponse:
			return nil
		default:
			return fmt.Errorf("template value: unknown field %q", v.Field)
		}
	case SourceStatic:
		_, err := coerce(v.DataType, v.Value)
		return err
	default:
		return fmt.Errorf("value: unknown source %q", v.Source)
	}
}

// coerce converts a raw literal to the canonical Go representation of
// its declared data type: string, float64, bool, []any, map[string]any
// or time.Time.
func coerce(dataType DataType, raw any) (any, error) {
	switch dataType {
	case TypeString:
		switch x := raw.(type) {
		case string:
			return x, nil
		case nil:
			return "", nil
		default:
			return fmt.Sprintf("%v", x), nil
		}
	case TypeNumber:
		switch x := raw.(type) {
		case float64:
			return x, nil
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case string:
			f, err := strconv.ParseFloat(x, 64)
			if err != nil {
				return nil, fmt.Errorf("static value %q is not a number", x)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("static value %v is not a number", raw)
		}
	case TypeBoolean:
		switch x := raw.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return nil, fmt.Errorf("static value %q is not a boolean", x)
			}
			return b, nil
		default:
			return nil, fmt.Errorf("static value %v is not a boolean", raw)
		}
	case TypeArray:
		switch x := raw.(type) {
		case []any:
			return x, nil
		case []string:
			arr := make([]any, len(x))
			for i, s := range x {
				arr[i] = s
			}
			return arr, nil
		case nil:
			return []any(nil), nil
		default:
			return nil, fmt.Errorf("static value %v is not an array", raw)
		}
	case TypeObject:
		switch x := raw.(type) {
		case map[string]any:
			return x, nil
		case nil:
			return map[string]any(nil), nil
		default:
			return nil, fmt.Errorf("static value %v is not an object", raw)
		}
	case TypeDateTime:
		switch x := raw.(type) {
		case time.Time:
			return x, nil
		case string:
			t, err := time.Parse(time.RFC3339, x)
			if err != nil {
				return nil, fmt.Errorf("static value %q is not an RFC3339 timestamp", x)
			}
			return t, nil
		default:
			return nil, fmt.Errorf("static value %v is not a timestamp", raw)
		}
	default:
		return nil, fmt.Errorf("unknown data type %q", dataType)
	}
}
