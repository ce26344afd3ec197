package formula

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NodePosition is the rune span [Start, End) a node was parsed from.
type NodePosition struct {
	Start int
	End   int
}

// ASTNode is a parsed formula expression. nodes are immutable once built;
// structural edits produce new trees by reparsing rewritten text.
type ASTNode interface {
	Eval(ev *Evaluation) Value
	GetPosition() NodePosition
	ToString() string
}

// Reference is a single cell reference as written in a formula.
type Reference struct {
	Sheet SheetID
	// Prefix is the sheet qualifier exactly as written, e.g. "'My Sheet'!",
	// or empty for an unqualified reference.
	Prefix string
	Row    int
	Col    int
	RowAbs bool
	ColAbs bool
	// Lower records that the column letters were written in lower case.
	Lower bool
}

func (r Reference) Address() Address {
	return Address{Sheet: r.Sheet, Row: r.Row, Col: r.Col}
}

// render writes the reference without its sheet prefix.
func (r Reference) render() string {
	var b strings.Builder
	if r.ColAbs {
		b.WriteByte('$')
	}
	col := ColumnName(r.Col)
	if r.Lower {
		col = strings.ToLower(col)
	}
	b.WriteString(col)
	if r.RowAbs {
		b.WriteByte('$')
	}
	b.WriteString(strconv.Itoa(r.Row + 1))
	return b.String()
}

func (r Reference) String() string {
	return r.Prefix + r.render()
}

// StringNode represents a string literal
type StringNode struct {
	Value    string
	Position NodePosition
}

func (n *StringNode) Eval(ev *Evaluation) Value {
	return n.Value
}

func (n *StringNode) GetPosition() NodePosition {
	return n.Position
}

func (n *StringNode) ToString() string {
	escaped := strings.ReplaceAll(n.Value, "\"", "\"\"")
	return fmt.Sprintf("\"%s\"", escaped)
}

// NumberNode represents a numeric literal
type NumberNode struct {
	Value    float64
	Position NodePosition
}

func (n *NumberNode) Eval(ev *Evaluation) Value {
	return n.Value
}

func (n *NumberNode) GetPosition() NodePosition {
	return n.Position
}

func (n *NumberNode) ToString() string {
	return formatNumber(n.Value)
}

// BooleanNode represents a boolean literal
type BooleanNode struct {
	Value    bool
	Position NodePosition
}

func (n *BooleanNode) Eval(ev *Evaluation) Value {
	return n.Value
}

func (n *BooleanNode) GetPosition() NodePosition {
	return n.Position
}

func (n *BooleanNode) ToString() string {
	if n.Value {
		return "TRUE"
	}
	return "FALSE"
}

// ErrorNode represents an error literal such as #N/A
type ErrorNode struct {
	Code     ErrorCode
	Position NodePosition
}

func (n *ErrorNode) Eval(ev *Evaluation) Value {
	return NewFormulaError(n.Code, "")
}

func (n *ErrorNode) GetPosition() NodePosition {
	return n.Position
}

func (n *ErrorNode) ToString() string {
	return ErrorMapper[n.Code]
}

// CellRefNode represents a single cell reference
type CellRefNode struct {
	Ref      Reference
	Position NodePosition
}

func (n *CellRefNode) Eval(ev *Evaluation) Value {
	addr := n.Ref.Address()
	ev.reads.AddCell(addr)
	if !ev.env.SheetDefined(addr.Sheet) {
		return NewFormulaError(ErrorCodeRef, "sheet does not exist")
	}
	return ev.env.CellValue(addr)
}

func (n *CellRefNode) GetPosition() NodePosition {
	return n.Position
}

func (n *CellRefNode) ToString() string {
	return n.Ref.String()
}

// RangeNode represents a rectangular range. End carries no prefix of its
// own; both corners live on Start's sheet.
type RangeNode struct {
	Start    Reference
	End      Reference
	Position NodePosition
}

func (n *RangeNode) Region() Region {
	return NewRegion(n.Start.Sheet, n.Start.Row, n.Start.Col, n.End.Row, n.End.Col)
}

func (n *RangeNode) Eval(ev *Evaluation) Value {
	region := n.Region()
	ev.reads.AddRegion(region)
	if !ev.env.SheetDefined(region.Sheet) {
		return NewFormulaError(ErrorCodeRef, "sheet does not exist")
	}
	return ev.env.RegionValues(region)
}

func (n *RangeNode) GetPosition() NodePosition {
	return n.Position
}

func (n *RangeNode) ToString() string {
	return n.Start.String() + ":" + n.End.render()
}

// VariableNode represents a reference to a workbook variable. names are
// case-insensitive.
type VariableNode struct {
	Name     string
	Position NodePosition
}

func (n *VariableNode) Eval(ev *Evaluation) Value {
	name := strings.ToLower(n.Name)
	ev.reads.AddVariable(name)
	v, ok := ev.env.VariableValue(name)
	if !ok {
		return NewFormulaError(ErrorCodeName, fmt.Sprintf("unknown name '%s'", n.Name))
	}
	return v
}

func (n *VariableNode) GetPosition() NodePosition {
	return n.Position
}

func (n *VariableNode) ToString() string {
	return n.Name
}

// ArrayNode represents an array literal {1,2;3,4}. every row has the same
// number of literal elements.
type ArrayNode struct {
	Rows     [][]ASTNode
	Position NodePosition
}

func (n *ArrayNode) Eval(ev *Evaluation) Value {
	seq := NewSequence(len(n.Rows), len(n.Rows[0]))
	for r, row := range n.Rows {
		for c, el := range row {
			seq.Set(r, c, el.Eval(ev))
		}
	}
	return seq
}

func (n *ArrayNode) GetPosition() NodePosition {
	return n.Position
}

func (n *ArrayNode) ToString() string {
	rows := make([]string, len(n.Rows))
	for i, row := range n.Rows {
		cells := make([]string, len(row))
		for j, el := range row {
			cells[j] = el.ToString()
		}
		rows[i] = strings.Join(cells, ",")
	}
	return "{" + strings.Join(rows, ";") + "}"
}

// BinaryOpNode represents a binary operation
type BinaryOpNode struct {
	Op       BinaryOp
	Left     ASTNode
	Right    ASTNode
	Position NodePosition
}

// Eval evaluates both operands left to right. an error on the left wins over
// an error on the right.
func (n *BinaryOpNode) Eval(ev *Evaluation) Value {
	left := scalar(n.Left.Eval(ev))
	right := scalar(n.Right.Eval(ev))
	if err, ok := left.(*FormulaError); ok {
		return err
	}
	if err, ok := right.(*FormulaError); ok {
		return err
	}

	switch n.Op {
	case BinOpConcat:
		l, _ := toText(left)
		r, _ := toText(right)
		return l + r
	case BinOpEqual, BinOpNotEqual, BinOpLess, BinOpLessEqual, BinOpGreater, BinOpGreaterEqual:
		cmp, err := compareValues(left, right)
		if err != nil {
			return err
		}
		return compareResult(n.Op, cmp)
	}

	l, err := toNumber(left)
	if err != nil {
		return err
	}
	r, err := toNumber(right)
	if err != nil {
		return err
	}

	switch n.Op {
	case BinOpAdd:
		return numberResult(l + r)
	case BinOpSubtract:
		return numberResult(l - r)
	case BinOpMultiply:
		return numberResult(l * r)
	case BinOpDivide:
		if r == 0 {
			return NewFormulaError(ErrorCodeDiv0, "division by zero")
		}
		return numberResult(l / r)
	case BinOpPower:
		if l == 0 && r < 0 {
			return NewFormulaError(ErrorCodeDiv0, "zero raised to a negative power")
		}
		return numberResult(math.Pow(l, r))
	}
	return NewFormulaError(ErrorCodeValue, "unknown operator")
}

func compareResult(op BinaryOp, cmp int) bool {
	switch op {
	case BinOpEqual:
		return cmp == 0
	case BinOpNotEqual:
		return cmp != 0
	case BinOpLess:
		return cmp < 0
	case BinOpLessEqual:
		return cmp <= 0
	case BinOpGreater:
		return cmp > 0
	}
	return cmp >= 0
}

func (n *BinaryOpNode) GetPosition() NodePosition {
	return n.Position
}

var binaryOpText = map[BinaryOp]string{
	BinOpAdd:          "+",
	BinOpSubtract:     "-",
	BinOpMultiply:     "*",
	BinOpDivide:       "/",
	BinOpPower:        "^",
	BinOpConcat:       "&",
	BinOpEqual:        "=",
	BinOpNotEqual:     "<>",
	BinOpLess:         "<",
	BinOpLessEqual:    "<=",
	BinOpGreater:      ">",
	BinOpGreaterEqual: ">=",
}

func (n *BinaryOpNode) ToString() string {
	return fmt.Sprintf("(%s%s%s)", n.Left.ToString(), binaryOpText[n.Op], n.Right.ToString())
}

// UnaryOpNode represents a unary operation
type UnaryOpNode struct {
	Op       UnaryOp
	Operand  ASTNode
	Position NodePosition
}

func (n *UnaryOpNode) Eval(ev *Evaluation) Value {
	num, err := toNumber(n.Operand.Eval(ev))
	if err != nil {
		return err
	}
	switch n.Op {
	case UnaryOpMinus:
		return -num
	case UnaryOpPercent:
		return num / 100.0
	}
	return num
}

func (n *UnaryOpNode) GetPosition() NodePosition {
	return n.Position
}

func (n *UnaryOpNode) ToString() string {
	switch n.Op {
	case UnaryOpMinus:
		return "-" + n.Operand.ToString()
	case UnaryOpPercent:
		return fmt.Sprintf("(%s%%)", n.Operand.ToString())
	}
	return "+" + n.Operand.ToString()
}

// FunctionCallNode represents a function call. Name is upper case; lookup
// is case-insensitive.
type FunctionCallNode struct {
	Name     string
	Args     []ASTNode
	Position NodePosition
}

func (n *FunctionCallNode) Eval(ev *Evaluation) Value {
	return ev.call(n)
}

func (n *FunctionCallNode) GetPosition() NodePosition {
	return n.Position
}

func (n *FunctionCallNode) ToString() string {
	args := make([]string, len(n.Args))
	for i, arg := range n.Args {
		args[i] = arg.ToString()
	}
	return fmt.Sprintf("%s(%s)", n.Name, strings.Join(args, ","))
}

// Walk visits every node depth-first, parents before children.
func Walk(node ASTNode, visit func(ASTNode)) {
	visit(node)
	switch n := node.(type) {
	case *BinaryOpNode:
		Walk(n.Left, visit)
		Walk(n.Right, visit)
	case *UnaryOpNode:
		Walk(n.Operand, visit)
	case *FunctionCallNode:
		for _, arg := range n.Args {
			Walk(arg, visit)
		}
	case *ArrayNode:
		for _, row := range n.Rows {
			for _, el := range row {
				Walk(el, visit)
			}
		}
	}
}

// containsVolatile reports whether any call in the tree names a volatile
// function.
func containsVolatile(node ASTNode, functions *FunctionRegistry) bool {
	volatile := false
	Walk(node, func(n ASTNode) {
		if call, ok := n.(*FunctionCallNode); ok {
			if fn, ok := functions.Lookup(call.Name); ok && fn.Volatile {
				volatile = true
			}
		}
	})
	return volatile
}
