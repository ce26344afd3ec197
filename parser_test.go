package formula

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParserContext() *ParserContext {
	return &ParserContext{
		Sheet: 1,
		ResolveSheet: func(name string) SheetID {
			switch name {
			case "Sheet1":
				return 1
			case "Sheet2":
				return 2
			case "My Sheet":
				return 3
			default:
				return 0
			}
		},
	}
}

func TestParserBasicFormulas(t *testing.T) {
	validFormulas := []string{
		"=1+2",
		"=A1",
		"=a1",
		"=$A$1+A$2+$B3",
		"=SUM(A1:A10)",
		"=Sheet2!A1",
		"=Sheet2!A1:B2",
		"=SUM(Sheet2!A1:A10)",
		"=Sheet2!A1 + 'My Sheet'!B1",
		"=SUM(B2:A1)",
		"=SUM(A1:A1)",
		"=SUM(A1:Z1000)",
		"=price * qty",
		"={1,2;3,4}",
		"=#REF!+1",
		"=10%",
		`="Hello 世界"`,
		`="Test 😀 emoji"`,
		`=CONCATENATE("Hello ", "世界")`,
		`="say ""hi"""`,
		"=IF(A1>=0, TRUE, FALSE)",
		"=PI()",
	}

	for _, formula := range validFormulas {
		t.Run(formula, func(t *testing.T) {
			_, err := Parse(formula, testParserContext())
			assert.NoError(t, err)
		})
	}
}

func TestParserInvalidFormulas(t *testing.T) {
	invalidFormulas := []string{
		"",
		"1+2",
		"=",
		"=SUM(",
		"=A1:",
		`="hello`,
		"=1+*2",
		"=(1+2",
		"=1+2)",
		"=Nowhere!A1",
		"={1,A1}",
		"=#WHAT?",
	}

	for _, formula := range invalidFormulas {
		t.Run(formula, func(t *testing.T) {
			_, err := Parse(formula, testParserContext())
			var parseErr *ParseError
			assert.ErrorAs(t, err, &parseErr)
		})
	}
}

func TestParserPrecedence(t *testing.T) {
	tests := []struct {
		formula string
		want    string
	}{
		{"=1+2*3", "(1+(2*3))"},
		{"=(1+2)*3", "((1+2)*3)"},
		{"=2^3^2", "(2^(3^2))"},
		{"=-2^2", "(-2^2)"},
		{"=1-2-3", "((1-2)-3)"},
		{`=A1&B1=C1`, "((A1&B1)=C1)"},
		{"=1+2&3", "((1+2)&3)"},
		{"=50%*2", "((50%)*2)"},
		{"=sum(1, a1:b2)", "SUM(1,a1:b2)"},
		{"=Sheet2!A1:B2", "Sheet2!A1:B2"},
		{`="a""b"`, `"a""b"`},
		{"={1,-2;3,4}", "{1,-2;3,4}"},
	}
	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			node, err := Parse(tt.formula, testParserContext())
			require.NoError(t, err)
			assert.Equal(t, tt.want, node.ToString())
		})
	}
}

func TestParserReferences(t *testing.T) {
	node, err := Parse("=SUM(A1, 'My Sheet'!$B$2:c3)", testParserContext())
	require.NoError(t, err)
	call, ok := node.(*FunctionCallNode)
	require.True(t, ok)
	require.Len(t, call.Args, 2)

	cell := call.Args[0].(*CellRefNode)
	assert.Equal(t, Reference{Sheet: 1, Row: 0, Col: 0}, cell.Ref)
	assert.Equal(t, NodePosition{Start: 5, End: 7}, cell.Position)

	rng := call.Args[1].(*RangeNode)
	want := Region{Sheet: 3, Top: 1, Left: 1, Bottom: 2, Right: 2}
	if diff := cmp.Diff(want, rng.Region()); diff != "" {
		t.Errorf("range region (-want +got):\n%s", diff)
	}
	assert.Equal(t, "'My Sheet'!", rng.Start.Prefix)
	assert.True(t, rng.Start.RowAbs && rng.Start.ColAbs)
	assert.True(t, rng.End.Lower)
	assert.Equal(t, "'My Sheet'!$B$2:c3", rng.ToString())
}

func TestParserPositionsCountRunes(t *testing.T) {
	node, err := Parse(`="é"&A1`, testParserContext())
	require.NoError(t, err)
	var refs []NodePosition
	Walk(node, func(n ASTNode) {
		if ref, ok := n.(*CellRefNode); ok {
			refs = append(refs, ref.Position)
		}
	})
	assert.Equal(t, []NodePosition{{Start: 5, End: 7}}, refs)
}

func TestParserVariables(t *testing.T) {
	node, err := Parse("=Tax_Rate*2", testParserContext())
	require.NoError(t, err)
	bin := node.(*BinaryOpNode)
	v, ok := bin.Left.(*VariableNode)
	require.True(t, ok)
	assert.Equal(t, "Tax_Rate", v.Name)
}

func TestParseRegion(t *testing.T) {
	tests := []struct {
		input string
		want  Region
	}{
		{"B2", Region{Sheet: 1, Top: 1, Left: 1, Bottom: 1, Right: 1}},
		{"A1:C3", Region{Sheet: 1, Top: 0, Left: 0, Bottom: 2, Right: 2}},
		{"C3:A1", Region{Sheet: 1, Top: 0, Left: 0, Bottom: 2, Right: 2}},
		{" Sheet2!$D$4 ", Region{Sheet: 2, Top: 3, Left: 3, Bottom: 3, Right: 3}},
		{"'My Sheet'!A1:B2", Region{Sheet: 3, Top: 0, Left: 0, Bottom: 1, Right: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseRegion(tt.input, testParserContext())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, input := range []string{"", "A1+1", "=A1", "Nowhere!A1", "A0"} {
		_, err := ParseRegion(input, testParserContext())
		assert.Error(t, err, input)
	}
}

func TestQuoteSheetName(t *testing.T) {
	assert.Equal(t, "Sheet1!", QuoteSheetName("Sheet1"))
	assert.Equal(t, "'My Sheet'!", QuoteSheetName("My Sheet"))
	assert.Equal(t, "'O''Neil'!", QuoteSheetName("O'Neil"))
	assert.Equal(t, "'2024'!", QuoteSheetName("2024"))
}

func TestParseInput(t *testing.T) {
	tests := []struct {
		input string
		want  Value
	}{
		{"", nil},
		{"  ", "  "},
		{"42", 42.0},
		{" -1.5e3 ", -1500.0},
		{"true", true},
		{"FALSE", false},
		{"hello", "hello"},
		{"12abc", "12abc"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseInput(tt.input), "%q", tt.input)
	}
	fe, ok := ParseInput("#n/a").(*FormulaError)
	require.True(t, ok)
	assert.Equal(t, ErrorCodeNA, fe.Code)
}

func TestIsFormula(t *testing.T) {
	assert.True(t, IsFormula("=1"))
	assert.False(t, IsFormula(" =1"))
	assert.False(t, IsFormula("1"))
}

func TestContainsVolatile(t *testing.T) {
	functions := NewBuiltinRegistry(nil, nil)
	for text, want := range map[string]bool{
		"=1+2":              false,
		"=RAND()":           true,
		"=IF(A1, 1, now())": true,
		"=SUM(A1:A3)":       false,
	} {
		node, err := Parse(text, testParserContext())
		require.NoError(t, err)
		assert.Equal(t, want, containsVolatile(node, functions), text)
	}
}
