package formula

import (
	"fmt"
	"slices"
	"strings"
)

// ParamType declares how an argument is coerced before a function sees it.
type ParamType uint8

const (
	ParamAny ParamType = iota
	ParamNumber
	ParamText
	ParamBoolean
	// ParamSequence keeps ranges intact; a scalar arrives as a 1x1 sequence.
	ParamSequence
)

// Param describes one parameter slot of a function.
type Param struct {
	Name     string
	Type     ParamType
	Optional bool
	// Repeating marks the last slot as accepting any number of further
	// arguments.
	Repeating bool
}

// Thunk evaluates one argument of a lazy function on demand. arguments that
// are never forced never show up in the read set.
type Thunk func() Value

// Function is a registered spreadsheet function. exactly one of Call and
// CallLazy is set.
type Function struct {
	Name   string
	Params []Param
	// AcceptsErrors lets error values through as ordinary arguments instead
	// of short-circuiting the call.
	AcceptsErrors bool
	// Volatile functions are re-evaluated on every recalculation pass.
	Volatile bool
	Call     func(args []Value) Value
	CallLazy func(args []Thunk) Value
}

// arity returns the minimum and maximum argument count; max is -1 when the
// last parameter repeats.
func (f *Function) arity() (int, int) {
	required := 0
	for _, p := range f.Params {
		if !p.Optional {
			required++
		}
	}
	if n := len(f.Params); n > 0 && f.Params[n-1].Repeating {
		return required, -1
	}
	return required, len(f.Params)
}

// param returns the declaration that governs argument i.
func (f *Function) param(i int) Param {
	if i < len(f.Params) {
		return f.Params[i]
	}
	return f.Params[len(f.Params)-1]
}

// FunctionRegistry maps lower case function names to implementations.
type FunctionRegistry struct {
	functions map[string]*Function
}

func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{functions: make(map[string]*Function)}
}

// Register adds or replaces a function. the declaration is checked so that
// arity errors surface at registration rather than at call time.
func (r *FunctionRegistry) Register(fn *Function) error {
	if fn == nil || fn.Name == "" {
		return wrapError(InvalidArgument, ErrInvalidFunction, "function has no name")
	}
	for _, ch := range fn.Name {
		if !isNameChar(ch) {
			return wrapError(InvalidArgument, ErrInvalidFunction, "invalid function name '%s'", fn.Name)
		}
	}
	if (fn.Call == nil) == (fn.CallLazy == nil) {
		return wrapError(InvalidArgument, ErrInvalidFunction, "%s: exactly one of Call and CallLazy must be set", fn.Name)
	}
	optional := false
	for i, p := range fn.Params {
		if p.Repeating && i != len(fn.Params)-1 {
			return wrapError(InvalidArgument, ErrInvalidFunction, "%s: only the last parameter may repeat", fn.Name)
		}
		if p.Optional {
			optional = true
		} else if optional && !p.Repeating {
			return wrapError(InvalidArgument, ErrInvalidFunction, "%s: required parameter '%s' follows an optional one", fn.Name, p.Name)
		}
	}
	r.functions[strings.ToLower(fn.Name)] = fn
	return nil
}

// MustRegister is Register for built-in tables that are known to be valid.
func (r *FunctionRegistry) MustRegister(fns ...*Function) {
	for _, fn := range fns {
		if err := r.Register(fn); err != nil {
			panic(err)
		}
	}
}

// Lookup finds a function by name, ignoring case.
func (r *FunctionRegistry) Lookup(name string) (*Function, bool) {
	if r == nil {
		return nil, false
	}
	fn, ok := r.functions[strings.ToLower(name)]
	return fn, ok
}

// Names returns every registered name in upper case, sorted.
func (r *FunctionRegistry) Names() []string {
	names := make([]string, 0, len(r.functions))
	for _, fn := range r.functions {
		names = append(names, strings.ToUpper(fn.Name))
	}
	slices.Sort(names)
	return names
}

// call dispatches a function call node. unknown names give #NAME?, a wrong
// argument count gives #N/A.
func (ev *Evaluation) call(n *FunctionCallNode) Value {
	fn, ok := ev.functions.Lookup(n.Name)
	if !ok {
		return NewFormulaError(ErrorCodeName, fmt.Sprintf("unknown function '%s'", n.Name))
	}
	lo, hi := fn.arity()
	if len(n.Args) < lo || (hi >= 0 && len(n.Args) > hi) {
		return NewFormulaError(ErrorCodeNA, fmt.Sprintf("wrong number of arguments to %s", strings.ToUpper(fn.Name)))
	}
	if fn.Volatile {
		ev.reads.Volatile = true
	}

	if fn.CallLazy != nil {
		thunks := make([]Thunk, len(n.Args))
		for i, arg := range n.Args {
			p := fn.param(i)
			thunks[i] = func() Value {
				return coerceArg(arg.Eval(ev), p.Type)
			}
		}
		return fn.CallLazy(thunks)
	}

	args := make([]Value, len(n.Args))
	for i, arg := range n.Args {
		v := coerceArg(arg.Eval(ev), fn.param(i).Type)
		if err, ok := v.(*FormulaError); ok && !fn.AcceptsErrors {
			return err
		}
		args[i] = v
	}
	return fn.Call(args)
}

// coerceArg converts an evaluated argument to its declared type. conversion
// failures come back as error values.
func coerceArg(v Value, t ParamType) Value {
	switch t {
	case ParamSequence:
		if _, ok := v.(*Sequence); ok {
			return v
		}
		if IsError(v) {
			return v
		}
		return SequenceOf(1, 1, v)
	case ParamNumber:
		n, err := toNumber(v)
		if err != nil {
			return err
		}
		return n
	case ParamText:
		s, err := toText(v)
		if err != nil {
			return err
		}
		return s
	case ParamBoolean:
		b, err := toBoolean(v)
		if err != nil {
			return err
		}
		return b
	}
	return v
}
