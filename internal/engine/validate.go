package engine

// shapeValidator is the per-commandType payload/result check. The checks are
// deliberately shape-only: domain workers own their field schemas, the core
// only refuses input it cannot store as a key/value object. New domains
// register here without touching the lifecycle operations.
type shapeValidator struct {
	Check       func(v any) bool
	PayloadCode string
	ResultCode  string
}

var shapeValidators = map[string]shapeValidator{
	"finance.domain": {
		Check:       isKeyValueObject,
		PayloadCode: "invalid_finance_command_payload",
		ResultCode:  "invalid_finance_result",
	},
}

func validatorFor(commandType string) (shapeValidator, bool) {
	v, ok := shapeValidators[commandType]
	return v, ok
}

func isKeyValueObject(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}

// asObject normalizes a caller supplied value into a key/value map, or nil
// when no value was supplied.
func asObject(v any) (map[string]any, bool) {
	if v == nil {
		return nil, true
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return m, true
}
