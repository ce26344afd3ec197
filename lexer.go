package formula

import "strings"

// TokenType represents different types of tokens in formulas
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenEquals
	TokenNumber
	TokenString
	TokenBoolean
	TokenErrorLiteral
	TokenCell
	TokenRange
	TokenFunction
	TokenUnaryPrefixOp
	TokenUnaryPostfixOp
	TokenBinaryOp
	TokenComma
	TokenSemicolon
	TokenLeftParen
	TokenRightParen
	TokenLeftBrace
	TokenRightBrace
	TokenIdentifier
	TokenWhitespace
	TokenError
)

// BinaryOp represents binary operators in AST nodes
type BinaryOp int

const (
	BinOpAdd BinaryOp = iota
	BinOpSubtract
	BinOpMultiply
	BinOpDivide
	BinOpPower
	BinOpConcat
	BinOpEqual
	BinOpNotEqual
	BinOpLess
	BinOpLessEqual
	BinOpGreater
	BinOpGreaterEqual
)

// UnaryOp represents unary operators in AST nodes
type UnaryOp int

const (
	UnaryOpPlus UnaryOp = iota
	UnaryOpMinus
	UnaryOpPercent
)

// character classification constants. slightly easier to read.
const (
	charNull       = 0
	charTab        = '\t'
	charNewline    = '\n'
	charReturn     = '\r'
	charSpace      = ' '
	charQuote      = '"'
	charApostrophe = '\''
	charPercent    = '%'
	charAmpersand  = '&'
	charLParen     = '('
	charRParen     = ')'
	charLBrace     = '{'
	charRBrace     = '}'
	charAsterisk   = '*'
	charPlus       = '+'
	charComma      = ','
	charSemicolon  = ';'
	charMinus      = '-'
	charPeriod     = '.'
	charSlash      = '/'
	charColon      = ':'
	charLess       = '<'
	charEqual      = '='
	charGreater    = '>'
	charCaret      = '^'
	charUnderscore = '_'
	charExclaim    = '!'
	charDollar     = '$'
	charHash       = '#'
)

// tokens that can start an operand
var operandTokens = []TokenType{
	TokenNumber,
	TokenString,
	TokenBoolean,
	TokenErrorLiteral,
	TokenCell,
	TokenRange,
	TokenFunction,
	TokenIdentifier,
	TokenLeftParen,
	TokenLeftBrace,
	TokenUnaryPrefixOp,
}

func withOperands(extra ...TokenType) map[TokenType]bool {
	m := make(map[TokenType]bool, len(operandTokens)+len(extra))
	for _, t := range operandTokens {
		m[t] = true
	}
	for _, t := range extra {
		m[t] = true
	}
	return m
}

// tokenTransitions maps the current state to valid next token types
var tokenTransitions = map[TokenState]map[TokenType]bool{
	StateStart:         withOperands(TokenEquals),
	StateAfterEquals:   withOperands(),
	StateAfterOperator: withOperands(),
	StateAfterValue: { // after number, string, cell, range, closing brace
		TokenBinaryOp:       true,
		TokenUnaryPostfixOp: true, // for %
		TokenRightParen:     true,
		TokenRightBrace:     true, // end of array literal
		TokenComma:          true, // only if in function or array
		TokenSemicolon:      true, // array row break
		TokenEOF:            true,
	},
	StateAfterLeftParen: withOperands(TokenRightParen), // empty parens for arg-less functions like PI()
	StateAfterRightParen: {
		TokenBinaryOp:       true,
		TokenUnaryPostfixOp: true, // for %
		TokenRightParen:     true, // if nested
		TokenRightBrace:     true,
		TokenComma:          true, // if in function
		TokenSemicolon:      true,
		TokenEOF:            true,
	},
	StateAfterComma:     withOperands(),
	StateAfterSemicolon: withOperands(),
	StateAfterLeftBrace: withOperands(),
	StateAfterIdentifier: {
		TokenLeftParen:      true, // function call
		TokenBinaryOp:       true, // variable used as value
		TokenUnaryPostfixOp: true, // for %
		TokenRightParen:     true, // if in parens
		TokenRightBrace:     true,
		TokenComma:          true, // if in function args
		TokenSemicolon:      true,
		TokenEOF:            true,
	},
}

// Token represents a lexical token covering runes [Pos, End) of the input
type Token struct {
	Type  TokenType
	Value string
	Pos   int
	End   int
}

// TokenState represents the lexer state for validation
type TokenState int

const (
	StateStart TokenState = iota
	StateAfterEquals
	StateAfterValue
	StateAfterOperator
	StateAfterLeftParen
	StateAfterRightParen
	StateAfterComma
	StateAfterSemicolon
	StateAfterLeftBrace
	StateAfterIdentifier
)

// Lexer tokenizes spreadsheet formula expressions
type Lexer struct {
	input      string
	runes      []rune // UTF-8 aware representation
	pos        int
	state      TokenState
	parenDepth int
	braceDepth int
	tokens     []Token
	context    *LexerContext
}

// LexerContext defines the context for lexing
type LexerContext struct {
	InitialState   TokenState
	ExpectedTokens map[TokenType]bool
	AllowEOF       bool
}

// NewLexer creates a lexer for a full formula, which must start with '='
func NewLexer(input string) *Lexer {
	return NewLexerWithContext(input, &LexerContext{
		InitialState:   StateStart,
		ExpectedTokens: nil, // allow all tokens
		AllowEOF:       false,
	})
}

// NewLexerWithContext creates a new lexer with specific context
func NewLexerWithContext(input string, context *LexerContext) *Lexer {
	return &Lexer{
		input:   input,
		runes:   []rune(input),
		state:   context.InitialState,
		context: context,
	}
}

// NewLexerForReference creates a lexer specifically for parsing cell
// references or ranges
func NewLexerForReference(input string) *Lexer {
	return NewLexerWithContext(input, &LexerContext{
		InitialState: StateStart,
		ExpectedTokens: map[TokenType]bool{
			TokenCell:  true,
			TokenRange: true,
		},
		AllowEOF: true,
	})
}

// NewLexerForNumber creates a lexer specifically for parsing numbers
func NewLexerForNumber(input string) *Lexer {
	return NewLexerWithContext(input, &LexerContext{
		InitialState: StateStart,
		ExpectedTokens: map[TokenType]bool{
			TokenUnaryPrefixOp: true, // for unary +/-
			TokenNumber:        true,
		},
		AllowEOF: true,
	})
}

// NewLexerForLiteral creates a lexer for a single boolean or error literal
func NewLexerForLiteral(input string) *Lexer {
	return NewLexerWithContext(input, &LexerContext{
		InitialState: StateStart,
		ExpectedTokens: map[TokenType]bool{
			TokenBoolean:      true,
			TokenErrorLiteral: true,
		},
		AllowEOF: true,
	})
}

func (l *Lexer) fail(pos int, reason string) error {
	return &ParseError{Pos: pos, Reason: reason}
}

// Tokenize tokenizes the entire input. failures are returned as *ParseError.
func (l *Lexer) Tokenize() ([]Token, error) {
	specialized := l.context != nil && l.context.ExpectedTokens != nil
	if !specialized && (len(l.runes) == 0 || l.runes[0] != charEqual) {
		return nil, l.fail(0, "formula must start with '='")
	}

	for {
		l.skipWhitespace()
		if l.pos >= len(l.runes) {
			break
		}
		tok := l.nextToken()
		if tok.Type == TokenError {
			return nil, l.fail(tok.Pos, tok.Value)
		}
		if !l.validateTransition(tok.Type) {
			return nil, l.fail(tok.Pos, "unexpected "+describeToken(tok))
		}
		l.tokens = append(l.tokens, tok)
		l.updateState(tok.Type)
	}

	if l.parenDepth > 0 {
		return nil, l.fail(l.pos, "unbalanced parentheses: missing closing parenthesis")
	}
	if l.braceDepth > 0 {
		return nil, l.fail(l.pos, "unclosed array literal")
	}
	if !specialized && !tokenTransitions[l.state][TokenEOF] {
		return nil, l.fail(l.pos, "unexpected end of formula")
	}

	l.tokens = append(l.tokens, Token{Type: TokenEOF, Pos: l.pos, End: l.pos})
	return l.tokens, nil
}

func describeToken(tok Token) string {
	if tok.Type == TokenEOF {
		return "end of formula"
	}
	return "'" + tok.Value + "'"
}

// validateTransition checks if the token type is valid in current state
func (l *Lexer) validateTransition(tokenType TokenType) bool {
	// for specialized lexers the expected set replaces the state machine
	if l.context != nil && len(l.context.ExpectedTokens) > 0 {
		return l.context.ExpectedTokens[tokenType]
	}

	validTokens, exists := tokenTransitions[l.state]
	if !exists {
		return false
	}
	return validTokens[tokenType]
}

// updateState updates the lexer state based on the token type
func (l *Lexer) updateState(tokenType TokenType) {
	switch tokenType {
	case TokenEquals:
		l.state = StateAfterEquals
	case TokenNumber, TokenString, TokenBoolean, TokenErrorLiteral, TokenCell, TokenRange, TokenRightBrace:
		l.state = StateAfterValue
	case TokenUnaryPrefixOp, TokenBinaryOp:
		l.state = StateAfterOperator
	case TokenUnaryPostfixOp:
		// postfix operators leave the state alone
	case TokenLeftParen:
		l.state = StateAfterLeftParen
	case TokenRightParen:
		l.state = StateAfterRightParen
	case TokenComma:
		l.state = StateAfterComma
	case TokenSemicolon:
		l.state = StateAfterSemicolon
	case TokenLeftBrace:
		l.state = StateAfterLeftBrace
	case TokenIdentifier, TokenFunction:
		l.state = StateAfterIdentifier
	}
}

func (l *Lexer) token(t TokenType, value string, start int) Token {
	return Token{Type: t, Value: value, Pos: start, End: l.pos}
}

func (l *Lexer) errorToken(reason string, start int) Token {
	return Token{Type: TokenError, Value: reason, Pos: start, End: l.pos}
}

// nextToken returns the next token from the input
func (l *Lexer) nextToken() Token {
	startPos := l.pos
	ch := l.current()

	if ch == charQuote {
		return l.scanString()
	}
	if ch == charApostrophe {
		return l.scanQuotedSheetRef()
	}
	if ch == charHash {
		return l.scanErrorLiteral()
	}
	if isDigit(ch) || (ch == charPeriod && isDigit(l.peek(1))) {
		return l.scanNumber()
	}

	switch ch {
	case charLParen:
		l.pos++
		l.parenDepth++
		return l.token(TokenLeftParen, "(", startPos)
	case charRParen:
		l.pos++
		l.parenDepth--
		if l.parenDepth < 0 {
			return l.errorToken("unexpected closing parenthesis", startPos)
		}
		return l.token(TokenRightParen, ")", startPos)
	case charLBrace:
		l.pos++
		l.braceDepth++
		if l.braceDepth > 1 {
			return l.errorToken("nested array literal", startPos)
		}
		return l.token(TokenLeftBrace, "{", startPos)
	case charRBrace:
		l.pos++
		l.braceDepth--
		if l.braceDepth < 0 {
			return l.errorToken("unexpected closing brace", startPos)
		}
		return l.token(TokenRightBrace, "}", startPos)
	case charComma:
		l.pos++
		return l.token(TokenComma, ",", startPos)
	case charSemicolon:
		l.pos++
		return l.token(TokenSemicolon, ";", startPos)
	case charPlus, charMinus:
		return l.scanUnaryPrefixOrBinaryOp()
	case charAsterisk, charSlash, charCaret, charAmpersand, charLess, charGreater, charExclaim:
		return l.scanBinaryOp()
	case charPercent:
		l.pos++
		return l.token(TokenUnaryPostfixOp, "%", startPos)
	case charEqual:
		l.pos++
		// the first '=' is the formula prefix, every later one a comparison
		if startPos == 0 {
			return l.token(TokenEquals, "=", startPos)
		}
		return l.token(TokenBinaryOp, "=", startPos)
	}

	if isAlpha(ch) || ch == charUnderscore || ch == charDollar {
		return l.scanIdentifierOrCell()
	}

	l.pos++
	return l.errorToken("unexpected character: "+string(ch), startPos)
}

// helper methods for character navigation and classification

// substring returns a substring of the original input based on rune positions
func (l *Lexer) substring(start, end int) string {
	if start < 0 || end > len(l.runes) || start > end {
		return ""
	}
	return string(l.runes[start:end])
}

func (l *Lexer) current() rune {
	return l.at(l.pos)
}

func (l *Lexer) peek(offset int) rune {
	return l.at(l.pos + offset)
}

func (l *Lexer) at(pos int) rune {
	if pos >= len(l.runes) || pos < 0 {
		return charNull
	}
	return l.runes[pos]
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.runes) {
		switch l.current() {
		case charSpace, charTab, charNewline, charReturn:
			l.pos++
		default:
			return
		}
	}
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func isAlpha(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isAlphaNumeric(ch rune) bool {
	return isAlpha(ch) || isDigit(ch)
}

// isNameChar reports characters allowed inside function, variable and bare
// sheet names
func isNameChar(ch rune) bool {
	return isAlphaNumeric(ch) || ch == charUnderscore || ch == charPeriod
}

// scanNumber scans a number token including decimals and scientific notation
func (l *Lexer) scanNumber() Token {
	startPos := l.pos

	for isDigit(l.current()) {
		l.pos++
	}

	if l.current() == charPeriod {
		l.pos++
		for isDigit(l.current()) {
			l.pos++
		}
	}

	if l.current() == 'e' || l.current() == 'E' {
		savedPos := l.pos
		l.pos++
		if l.current() == charPlus || l.current() == charMinus {
			l.pos++
		}
		if !isDigit(l.current()) {
			l.pos = savedPos
		} else {
			for isDigit(l.current()) {
				l.pos++
			}
		}
	}

	if isNameChar(l.current()) {
		return l.errorToken("invalid number", startPos)
	}
	return l.token(TokenNumber, l.substring(startPos, l.pos), startPos)
}

// scanString scans a string literal with support for double-quote escapes
func (l *Lexer) scanString() Token {
	startPos := l.pos
	l.pos++ // opening quote

	var result []rune
	for l.pos < len(l.runes) {
		ch := l.current()
		if ch != charQuote {
			result = append(result, ch)
			l.pos++
			continue
		}
		if l.peek(1) == charQuote {
			result = append(result, charQuote)
			l.pos += 2
			continue
		}
		l.pos++ // closing quote
		return l.token(TokenString, string(result), startPos)
	}
	return l.errorToken("unclosed string literal", startPos)
}

// scanErrorLiteral matches the longest known error tag, case-insensitively
func (l *Lexer) scanErrorLiteral() Token {
	startPos := l.pos
	rest := strings.ToUpper(l.substring(l.pos, len(l.runes)))
	best := ""
	for _, tag := range ErrorMapper {
		if strings.HasPrefix(rest, tag) && len(tag) > len(best) {
			best = tag
		}
	}
	if best == "" {
		l.pos++
		return l.errorToken("unknown error literal", startPos)
	}
	l.pos += len([]rune(best))
	return l.token(TokenErrorLiteral, best, startPos)
}

// matchCell tries to read an A1 style reference ("A1", "$A$1", "a$10")
// starting at pos. it only matches when the reference is not the prefix of a
// longer name, a sheet name or a call.
func (l *Lexer) matchCell(pos int) (int, bool) {
	i := pos
	if l.at(i) == charDollar {
		i++
	}
	letters := i
	for isAlpha(l.at(i)) {
		i++
	}
	if i == letters || i-letters > 3 {
		return 0, false
	}
	if l.at(i) == charDollar {
		i++
	}
	digits := i
	for isDigit(l.at(i)) {
		i++
	}
	if i == digits {
		return 0, false
	}
	switch next := l.at(i); {
	case isNameChar(next), next == charLParen, next == charExclaim, next == charDollar:
		return 0, false
	}
	return i, true
}

// scanCellOrRange reads a cell or range reference at the current position.
// the token value spans from start, so it includes any sheet prefix.
func (l *Lexer) scanCellOrRange(start int) Token {
	end, ok := l.matchCell(l.pos)
	if !ok {
		l.pos++
		return l.errorToken("invalid cell reference", start)
	}
	l.pos = end
	if l.current() != charColon {
		return l.token(TokenCell, l.substring(start, l.pos), start)
	}
	end, ok = l.matchCell(l.pos + 1)
	if !ok {
		l.pos++
		return l.errorToken("invalid range reference", start)
	}
	l.pos = end
	return l.token(TokenRange, l.substring(start, l.pos), start)
}

// scanIdentifierOrCell scans identifiers, functions, cells, ranges, and
// booleans. a name directly followed by '(' is always a function, so LOG10(
// is a call and not a cell.
func (l *Lexer) scanIdentifierOrCell() Token {
	startPos := l.pos

	if _, ok := l.matchCell(l.pos); ok {
		return l.scanCellOrRange(startPos)
	}
	if l.current() == charDollar {
		l.pos++
		return l.errorToken("invalid cell reference", startPos)
	}

	for isNameChar(l.current()) {
		l.pos++
	}
	value := l.substring(startPos, l.pos)

	switch l.current() {
	case charExclaim:
		l.pos++ // sheet prefix
		return l.scanCellOrRange(startPos)
	case charLParen:
		return l.token(TokenFunction, strings.ToUpper(value), startPos)
	}

	if upper := strings.ToUpper(value); upper == "TRUE" || upper == "FALSE" {
		return l.token(TokenBoolean, upper, startPos)
	}
	return l.token(TokenIdentifier, value, startPos)
}

// scanQuotedSheetRef scans 'Sheet Name'!A1 style references. '' inside the
// quotes is an escaped apostrophe.
func (l *Lexer) scanQuotedSheetRef() Token {
	startPos := l.pos
	l.pos++ // opening quote

	for {
		if l.pos >= len(l.runes) {
			return l.errorToken("unclosed sheet name", startPos)
		}
		if l.current() == charApostrophe {
			if l.peek(1) == charApostrophe {
				l.pos += 2
				continue
			}
			l.pos++
			break
		}
		l.pos++
	}
	if l.pos-startPos <= 2 {
		return l.errorToken("empty sheet name", startPos)
	}
	if l.current() != charExclaim {
		return l.errorToken("expected '!' after sheet name", startPos)
	}
	l.pos++
	return l.scanCellOrRange(startPos)
}

// scanUnaryPrefixOrBinaryOp scans + and - which can be either unary
// prefix or binary
func (l *Lexer) scanUnaryPrefixOrBinaryOp() Token {
	startPos := l.pos
	ch := l.current()
	l.pos++

	if l.isUnaryContext() {
		return l.token(TokenUnaryPrefixOp, string(ch), startPos)
	}
	return l.token(TokenBinaryOp, string(ch), startPos)
}

// scanBinaryOp scans binary operators
func (l *Lexer) scanBinaryOp() Token {
	startPos := l.pos
	ch := l.current()
	l.pos++

	switch ch {
	case charLess:
		switch l.current() {
		case charEqual:
			l.pos++
			return l.token(TokenBinaryOp, "<=", startPos)
		case charGreater:
			l.pos++
			return l.token(TokenBinaryOp, "<>", startPos)
		}
		return l.token(TokenBinaryOp, "<", startPos)
	case charGreater:
		if l.current() == charEqual {
			l.pos++
			return l.token(TokenBinaryOp, ">=", startPos)
		}
		return l.token(TokenBinaryOp, ">", startPos)
	case charExclaim:
		// != is accepted as a synonym for <>
		if l.current() == charEqual {
			l.pos++
			return l.token(TokenBinaryOp, "!=", startPos)
		}
		return l.errorToken("unexpected '!'", startPos)
	case charAsterisk, charSlash, charCaret, charAmpersand:
		return l.token(TokenBinaryOp, string(ch), startPos)
	}
	return l.errorToken("unknown operator", startPos)
}

// isUnaryContext checks if the current context allows for unary operators
func (l *Lexer) isUnaryContext() bool {
	switch l.state {
	case StateStart, StateAfterEquals, StateAfterOperator, StateAfterLeftParen,
		StateAfterComma, StateAfterSemicolon, StateAfterLeftBrace:
		return true
	default:
		return false
	}
}
