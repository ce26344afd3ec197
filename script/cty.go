package script

import (
	"fmt"

	"github.com/vogtb/go-spreadsheet/packages/formula"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// fromCty converts a decoded HCL value into an engine value. only
// primitives map onto a cell; strings are kept as text even when they look
// like numbers, and a string starting with '#' that names an error code
// becomes that error.
func fromCty(v cty.Value) (formula.Value, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsKnown() {
		return nil, fmt.Errorf("value is not known")
	}

	switch ty := v.Type(); ty {
	case cty.String:
		s := v.AsString()
		if code, ok := formula.ParseErrorCode(s); ok {
			return formula.NewFormulaError(code, ""), nil
		}
		return s, nil
	case cty.Number:
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, fmt.Errorf("could not convert number: %w", err)
		}
		return f, nil
	case cty.Bool:
		return v.True(), nil
	default:
		return nil, fmt.Errorf("unsupported value type %s", ty.FriendlyName())
	}
}
