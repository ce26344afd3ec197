package formula

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseError reports malformed formula text. Pos is a rune offset into the
// text.
type ParseError struct {
	Pos    int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %d: %s", e.Pos, e.Reason)
}

// ParserContext provides the sheet a formula lives on and resolves sheet
// names used in qualified references.
type ParserContext struct {
	Sheet SheetID
	// ResolveSheet maps a sheet name to its ID. it may hand out IDs for
	// sheets that do not exist yet; 0 means the name is rejected.
	ResolveSheet func(name string) SheetID
}

// Parser parses tokens into an AST
type Parser struct {
	tokens  []Token
	pos     int
	context *ParserContext
}

// IsFormula reports whether raw cell input is a formula rather than data.
func IsFormula(text string) bool {
	return strings.HasPrefix(text, "=")
}

// Parse tokenizes and parses formula text. the text must start with '='.
func Parse(text string, context *ParserContext) (ASTNode, error) {
	tokens, err := NewLexer(text).Tokenize()
	if err != nil {
		return nil, err
	}
	return NewParser(tokens, context).Parse()
}

// NewParser creates a new parser with the given tokens and context
func NewParser(tokens []Token, context *ParserContext) *Parser {
	if context == nil {
		context = &ParserContext{}
	}
	return &Parser{
		tokens:  tokens,
		context: context,
	}
}

// NewParserWithContext creates a parser with just context, for parsing
// individual references and literals
func NewParserWithContext(context *ParserContext) *Parser {
	return NewParser(nil, context)
}

func (p *Parser) errorf(pos int, format string, args ...any) error {
	return &ParseError{Pos: pos, Reason: fmt.Sprintf(format, args...)}
}

func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos]
}

// Parse parses the tokens into an AST
func (p *Parser) Parse() (ASTNode, error) {
	if len(p.tokens) == 0 {
		return nil, p.errorf(0, "no tokens to parse")
	}
	if p.tokens[0].Type != TokenEquals {
		return nil, p.errorf(0, "formula must start with '='")
	}
	p.pos = 1

	if p.peek().Type == TokenEOF {
		return nil, p.errorf(p.peek().Pos, "empty formula")
	}

	node, err := p.parseComparison()
	if err != nil {
		return nil, err
	}

	if tok := p.peek(); tok.Type != TokenEOF {
		return nil, p.errorf(tok.Pos, "unexpected token after expression: %s", tok.Value)
	}
	return node, nil
}

func binary(op BinaryOp, left, right ASTNode) ASTNode {
	return &BinaryOpNode{
		Op:       op,
		Left:     left,
		Right:    right,
		Position: NodePosition{Start: left.GetPosition().Start, End: right.GetPosition().End},
	}
}

var comparisonOps = map[string]BinaryOp{
	"=":  BinOpEqual,
	"<>": BinOpNotEqual,
	"!=": BinOpNotEqual,
	"<":  BinOpLess,
	"<=": BinOpLessEqual,
	">":  BinOpGreater,
	">=": BinOpGreaterEqual,
}

// parseComparison handles comparison operators (lowest precedence)
func (p *Parser) parseComparison() (ASTNode, error) {
	left, err := p.parseConcatenation()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		op, ok := comparisonOps[tok.Value]
		if tok.Type != TokenBinaryOp || !ok {
			return left, nil
		}
		p.pos++
		right, err := p.parseConcatenation()
		if err != nil {
			return nil, err
		}
		left = binary(op, left, right)
	}
}

// parseConcatenation handles string concatenation operator
func (p *Parser) parseConcatenation() (ASTNode, error) {
	left, err := p.parseAddition()
	if err != nil {
		return nil, err
	}

	for p.peek().Type == TokenBinaryOp && p.peek().Value == "&" {
		p.pos++
		right, err := p.parseAddition()
		if err != nil {
			return nil, err
		}
		left = binary(BinOpConcat, left, right)
	}
	return left, nil
}

// parseAddition handles addition and subtraction
func (p *Parser) parseAddition() (ASTNode, error) {
	left, err := p.parseMultiplication()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		if tok.Type != TokenBinaryOp {
			return left, nil
		}
		var op BinaryOp
		switch tok.Value {
		case "+":
			op = BinOpAdd
		case "-":
			op = BinOpSubtract
		default:
			return left, nil
		}
		p.pos++
		right, err := p.parseMultiplication()
		if err != nil {
			return nil, err
		}
		left = binary(op, left, right)
	}
}

// parseMultiplication handles multiplication and division
func (p *Parser) parseMultiplication() (ASTNode, error) {
	left, err := p.parsePower()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		if tok.Type != TokenBinaryOp {
			return left, nil
		}
		var op BinaryOp
		switch tok.Value {
		case "*":
			op = BinOpMultiply
		case "/":
			op = BinOpDivide
		default:
			return left, nil
		}
		p.pos++
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		left = binary(op, left, right)
	}
}

// parsePower handles exponentiation, which is right-associative
func (p *Parser) parsePower() (ASTNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	if tok := p.peek(); tok.Type == TokenBinaryOp && tok.Value == "^" {
		p.pos++
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		return binary(BinOpPower, left, right), nil
	}
	return left, nil
}

// parseUnary handles prefix + and -. they bind tighter than ^, so -2^2 is 4.
func (p *Parser) parseUnary() (ASTNode, error) {
	tok := p.peek()
	if tok.Type != TokenUnaryPrefixOp {
		return p.parsePostfix()
	}

	op := UnaryOpPlus
	if tok.Value == "-" {
		op = UnaryOpMinus
	}
	p.pos++
	operand, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return &UnaryOpNode{
		Op:       op,
		Operand:  operand,
		Position: NodePosition{Start: tok.Pos, End: operand.GetPosition().End},
	}, nil
}

// parsePostfix handles postfix percent, which may repeat
func (p *Parser) parsePostfix() (ASTNode, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for p.peek().Type == TokenUnaryPostfixOp {
		tok := p.peek()
		p.pos++
		node = &UnaryOpNode{
			Op:       UnaryOpPercent,
			Operand:  node,
			Position: NodePosition{Start: node.GetPosition().Start, End: tok.End},
		}
	}
	return node, nil
}

// parsePrimary handles literals, references, functions, arrays and
// parenthesised expressions
func (p *Parser) parsePrimary() (ASTNode, error) {
	tok := p.peek()
	pos := NodePosition{Start: tok.Pos, End: tok.End}

	switch tok.Type {
	case TokenNumber:
		p.pos++
		val, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, p.errorf(tok.Pos, "invalid number: %s", tok.Value)
		}
		return &NumberNode{Value: val, Position: pos}, nil

	case TokenString:
		p.pos++
		return &StringNode{Value: tok.Value, Position: pos}, nil

	case TokenBoolean:
		p.pos++
		return &BooleanNode{Value: tok.Value == "TRUE", Position: pos}, nil

	case TokenErrorLiteral:
		p.pos++
		code, _ := ParseErrorCode(tok.Value)
		return &ErrorNode{Code: code, Position: pos}, nil

	case TokenCell:
		p.pos++
		return p.parseCellReference(tok)

	case TokenRange:
		p.pos++
		return p.parseRange(tok)

	case TokenIdentifier:
		p.pos++
		return &VariableNode{Name: tok.Value, Position: pos}, nil

	case TokenFunction:
		return p.parseFunctionCall()

	case TokenLeftBrace:
		return p.parseArray()

	case TokenLeftParen:
		p.pos++
		node, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		if p.peek().Type != TokenRightParen {
			return nil, p.errorf(p.peek().Pos, "expected closing parenthesis")
		}
		p.pos++
		return node, nil

	case TokenEOF:
		return nil, p.errorf(tok.Pos, "unexpected end of expression")
	}
	return nil, p.errorf(tok.Pos, "unexpected token: %s", tok.Value)
}

// parseFunctionCall parses NAME(arg, ...). the name is only checked for
// shape here; whether the function exists is decided at evaluation.
func (p *Parser) parseFunctionCall() (ASTNode, error) {
	funcTok := p.peek()
	p.pos++

	if p.peek().Type != TokenLeftParen {
		return nil, p.errorf(p.peek().Pos, "expected '(' after function name")
	}
	p.pos++

	args := []ASTNode{}
	if p.peek().Type == TokenRightParen {
		end := p.peek().End
		p.pos++
		return &FunctionCallNode{
			Name:     funcTok.Value,
			Args:     args,
			Position: NodePosition{Start: funcTok.Pos, End: end},
		}, nil
	}

	for {
		arg, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)

		tok := p.peek()
		if tok.Type == TokenRightParen {
			p.pos++
			return &FunctionCallNode{
				Name:     funcTok.Value,
				Args:     args,
				Position: NodePosition{Start: funcTok.Pos, End: tok.End},
			}, nil
		}
		if tok.Type != TokenComma {
			return nil, p.errorf(tok.Pos, "expected ',' or ')' in function arguments")
		}
		p.pos++
	}
}

// parseArray parses {a,b;c,d}. elements must be literals, optionally
// negated numbers, and all rows must have the same width.
func (p *Parser) parseArray() (ASTNode, error) {
	open := p.peek()
	p.pos++

	rows := [][]ASTNode{{}}
	for {
		el, err := p.parseArrayElement()
		if err != nil {
			return nil, err
		}
		last := len(rows) - 1
		rows[last] = append(rows[last], el)

		tok := p.peek()
		p.pos++
		switch tok.Type {
		case TokenComma:
			continue
		case TokenSemicolon:
			if len(rows[last]) != len(rows[0]) {
				return nil, p.errorf(tok.Pos, "array rows must have the same length")
			}
			rows = append(rows, []ASTNode{})
			continue
		case TokenRightBrace:
			if len(rows[last]) != len(rows[0]) {
				return nil, p.errorf(tok.Pos, "array rows must have the same length")
			}
			return &ArrayNode{Rows: rows, Position: NodePosition{Start: open.Pos, End: tok.End}}, nil
		}
		return nil, p.errorf(tok.Pos, "expected ',', ';' or '}' in array literal")
	}
}

func (p *Parser) parseArrayElement() (ASTNode, error) {
	tok := p.peek()
	switch tok.Type {
	case TokenNumber, TokenString, TokenBoolean, TokenErrorLiteral:
		return p.parsePrimary()
	case TokenUnaryPrefixOp:
		p.pos++
		if p.peek().Type != TokenNumber {
			return nil, p.errorf(tok.Pos, "array literals may only contain constants")
		}
		num, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		op := UnaryOpPlus
		if tok.Value == "-" {
			op = UnaryOpMinus
		}
		return &UnaryOpNode{Op: op, Operand: num, Position: NodePosition{Start: tok.Pos, End: num.GetPosition().End}}, nil
	}
	return nil, p.errorf(tok.Pos, "array literals may only contain constants")
}

// splitSheetPrefix separates "Sheet1!A1" into the raw prefix "Sheet1!" and
// the cell part.
func splitSheetPrefix(ref string) (prefix, rest string) {
	if idx := strings.LastIndex(ref, "!"); idx != -1 {
		return ref[:idx+1], ref[idx+1:]
	}
	return "", ref
}

// sheetNameFromPrefix strips the '!' and any quoting from a raw prefix.
func sheetNameFromPrefix(prefix string) string {
	name := strings.TrimSuffix(prefix, "!")
	if strings.HasPrefix(name, "'") && strings.HasSuffix(name, "'") && len(name) >= 2 {
		name = strings.ReplaceAll(name[1:len(name)-1], "''", "'")
	}
	return name
}

// QuoteSheetName renders a sheet qualifier, quoting names that are not
// plain identifiers.
func QuoteSheetName(name string) string {
	plain := name != ""
	for i, ch := range name {
		if !isNameChar(ch) || (i == 0 && isDigit(ch)) {
			plain = false
			break
		}
	}
	if plain {
		return name + "!"
	}
	return "'" + strings.ReplaceAll(name, "'", "''") + "'!"
}

// resolvePrefix maps a raw prefix to a sheet ID, defaulting to the context
// sheet.
func (p *Parser) resolvePrefix(prefix string, pos int) (SheetID, error) {
	if prefix == "" {
		return p.context.Sheet, nil
	}
	name := sheetNameFromPrefix(prefix)
	if p.context.ResolveSheet == nil {
		return 0, p.errorf(pos, "sheet references are not allowed here: %s", name)
	}
	id := p.context.ResolveSheet(name)
	if id == 0 {
		return 0, p.errorf(pos, "unknown sheet: %s", name)
	}
	return id, nil
}

// parseCellText parses "$a$1" style text into a Reference without a sheet.
func parseCellText(s string) (Reference, bool) {
	row, col, ok := parseA1(s)
	if !ok {
		return Reference{}, false
	}
	ref := Reference{Row: row, Col: col}
	ref.ColAbs = strings.HasPrefix(s, "$")
	ref.RowAbs = strings.Contains(strings.TrimPrefix(s, "$"), "$")
	for _, ch := range s {
		if isAlpha(ch) {
			ref.Lower = ch >= 'a' && ch <= 'z'
			break
		}
	}
	return ref, true
}

// parseCellReference parses a cell token into a CellRefNode
func (p *Parser) parseCellReference(tok Token) (ASTNode, error) {
	prefix, cell := splitSheetPrefix(tok.Value)
	sheet, err := p.resolvePrefix(prefix, tok.Pos)
	if err != nil {
		return nil, err
	}
	ref, ok := parseCellText(cell)
	if !ok {
		return nil, p.errorf(tok.Pos, "cell reference out of range: %s", tok.Value)
	}
	ref.Sheet = sheet
	ref.Prefix = prefix
	return &CellRefNode{Ref: ref, Position: NodePosition{Start: tok.Pos, End: tok.End}}, nil
}

// parseRange parses a range token into a RangeNode
func (p *Parser) parseRange(tok Token) (ASTNode, error) {
	prefix, body := splitSheetPrefix(tok.Value)
	sheet, err := p.resolvePrefix(prefix, tok.Pos)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(body, ":")
	if len(parts) != 2 {
		return nil, p.errorf(tok.Pos, "invalid range format: %s", tok.Value)
	}
	start, ok := parseCellText(parts[0])
	if !ok {
		return nil, p.errorf(tok.Pos, "invalid start cell in range: %s", parts[0])
	}
	end, ok := parseCellText(parts[1])
	if !ok {
		return nil, p.errorf(tok.Pos, "invalid end cell in range: %s", parts[1])
	}
	start.Sheet, start.Prefix = sheet, prefix
	end.Sheet = sheet
	return &RangeNode{Start: start, End: end, Position: NodePosition{Start: tok.Pos, End: tok.End}}, nil
}

// ParseRef parses a cell reference or range such as "B2" or
// "'My Sheet'!A1:C3". returns either a CellRefNode or a RangeNode.
func (p *Parser) ParseRef(input string) (ASTNode, error) {
	tokens, err := NewLexerForReference(input).Tokenize()
	if err != nil {
		return nil, err
	}
	if len(tokens) != 2 {
		return nil, p.errorf(0, "input is not a single cell reference or range: %s", input)
	}
	switch tok := tokens[0]; tok.Type {
	case TokenCell:
		return p.parseCellReference(tok)
	case TokenRange:
		return p.parseRange(tok)
	}
	return nil, p.errorf(0, "input is not a valid cell reference or range: %s", input)
}

// ParseRegion parses an address or range into a Region.
func ParseRegion(input string, context *ParserContext) (Region, error) {
	node, err := NewParserWithContext(context).ParseRef(strings.TrimSpace(input))
	if err != nil {
		return Region{}, err
	}
	switch n := node.(type) {
	case *CellRefNode:
		return n.Ref.Address().Region(), nil
	case *RangeNode:
		return n.Region(), nil
	}
	return Region{}, &ParseError{Reason: "not a reference"}
}

// ParseNumber parses an optionally signed number such as "-1.5e3"
func (p *Parser) ParseNumber(input string) (ASTNode, error) {
	tokens, err := NewLexerForNumber(input).Tokenize()
	if err != nil {
		return nil, err
	}

	sign := 1.0
	i := 0
	if tokens[0].Type == TokenUnaryPrefixOp {
		if tokens[0].Value == "-" {
			sign = -1.0
		}
		i = 1
	}
	if len(tokens) != i+2 || tokens[i].Type != TokenNumber {
		return nil, p.errorf(0, "input is not a valid number: %s", input)
	}

	tok := tokens[i]
	val, perr := strconv.ParseFloat(tok.Value, 64)
	if perr != nil {
		return nil, p.errorf(tok.Pos, "invalid number format: %s", tok.Value)
	}
	return &NumberNode{
		Value:    sign * val,
		Position: NodePosition{Start: tokens[0].Pos, End: tok.End},
	}, nil
}

// ParseLiteral parses a lone boolean or error literal such as "true" or
// "#N/A"
func (p *Parser) ParseLiteral(input string) (ASTNode, error) {
	tokens, err := NewLexerForLiteral(input).Tokenize()
	if err != nil {
		return nil, err
	}
	if len(tokens) != 2 {
		return nil, p.errorf(0, "input is not a single literal: %s", input)
	}
	tok := tokens[0]
	pos := NodePosition{Start: tok.Pos, End: tok.End}
	if tok.Type == TokenBoolean {
		return &BooleanNode{Value: tok.Value == "TRUE", Position: pos}, nil
	}
	code, _ := ParseErrorCode(tok.Value)
	return &ErrorNode{Code: code, Position: pos}, nil
}

// ParseInput converts raw, non-formula cell input into a value: numbers,
// booleans and error tags are recognised, everything else is text. empty
// input is an empty cell.
func ParseInput(text string) Value {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		if text == "" {
			return nil
		}
		return text
	}
	p := NewParserWithContext(nil)
	if node, err := p.ParseNumber(trimmed); err == nil {
		return node.(*NumberNode).Value
	}
	if node, err := p.ParseLiteral(trimmed); err == nil {
		switch n := node.(type) {
		case *BooleanNode:
			return n.Value
		case *ErrorNode:
			return NewFormulaError(n.Code, "")
		}
	}
	return text
}
