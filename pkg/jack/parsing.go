package jack

import (
	"bytes"
	"fmt"
	"io"

	"its-hmny.dev/nand2tetris/pkg/utils"
)

// ----------------------------------------------------------------------------
// Jack Parser

// The Parser is a single-pass recursive-descent compiler frontend: it consumes the
// Token stream produced by a Tokenizer and builds the 'jack.Class' AST, one grammar
// construct at a time. It does not resolve scopes or emit Vm code, that's the job
// of the ScopeTable/Lowerer downstream, this stage only has to get the shape right.
type Parser struct {
	reader io.Reader

	tokens []Token
	pos    int

	className string
}

// Initializes and returns to the caller a brand new 'Parser' struct.
// Requires the argument io.Reader 'r' to be valid and usable.
func NewParser(r io.Reader) Parser {
	return Parser{reader: r}
}

// Parser entrypoint, tokenizes the whole input and then compiles the resulting
// Token stream into a single 'jack.Class' (one translation unit = one class, per
// the language's own convention of 'one file, one class').
func (p *Parser) Parse() (Class, error) {
	content, err := io.ReadAll(p.reader)
	if err != nil {
		return Class{}, fmt.Errorf("cannot read from 'io.Reader': %w", err)
	}

	tokens, err := NewTokenizer().TokenizeAll(bytes.NewReader(content))
	if err != nil {
		return Class{}, fmt.Errorf("error tokenizing input: %w", err)
	}
	if len(tokens) == 0 {
		return Class{}, fmt.Errorf("input contains no tokens")
	}

	p.tokens, p.pos = tokens, 0
	return p.parseClass()
}

// ----------------------------------------------------------------------------
// Token stream helpers

func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{}
	}
	return p.tokens[p.pos]
}

func (p *Parser) peekAt(offset int) Token {
	idx := p.pos + offset
	if idx >= len(p.tokens) {
		return Token{}
	}
	return p.tokens[idx]
}

func (p *Parser) advance() Token {
	tok := p.peek()
	p.pos++
	return tok
}

func (p *Parser) checkKeyword(kw string) bool {
	tok := p.peek()
	return tok.Kind == Keyword && tok.Lexeme == kw
}

func (p *Parser) checkSymbol(sym string) bool {
	tok := p.peek()
	return tok.Kind == Symbol && tok.Lexeme == sym
}

func (p *Parser) expectKeyword(kw string) (Token, error) {
	tok := p.advance()
	if tok.Kind != Keyword || tok.Lexeme != kw {
		return tok, p.errorf(tok, "expected keyword '%s', got '%s'", kw, tok.Lexeme)
	}
	return tok, nil
}

func (p *Parser) expectSymbol(sym string) (Token, error) {
	tok := p.advance()
	if tok.Kind != Symbol || tok.Lexeme != sym {
		return tok, p.errorf(tok, "expected symbol '%s', got '%s'", sym, tok.Lexeme)
	}
	return tok, nil
}

func (p *Parser) expectKind(kind TokenKind) (Token, error) {
	tok := p.advance()
	if tok.Kind != kind {
		return tok, p.errorf(tok, "expected %s, got '%s'", kind, tok.Lexeme)
	}
	return tok, nil
}

func (p *Parser) errorf(tok Token, format string, args ...any) error {
	return fmt.Errorf("line %d: %s", tok.Line, fmt.Sprintf(format, args...))
}

// ----------------------------------------------------------------------------
// Grammar entry points

var primitiveTypes = map[string]DataType{"int": Int, "char": Char, "boolean": Bool}

// Consumes a '(int|char|boolean|ID)' type token and returns the resolved DataType,
// plus the class name when the type is an object (empty string otherwise).
func (p *Parser) parseType() (DataType, string, error) {
	tok := p.advance()
	if tok.Kind == Keyword {
		if dt, ok := primitiveTypes[tok.Lexeme]; ok {
			return dt, "", nil
		}
	}
	if tok.Kind == Identifier {
		return Object, tok.Lexeme, nil
	}
	return "", "", p.errorf(tok, "expected a type (int, char, boolean or a class name), got '%s'", tok.Lexeme)
}

// *class*: `class ID { classVarDec* subroutineDec* }`
func (p *Parser) parseClass() (Class, error) {
	if _, err := p.expectKeyword("class"); err != nil {
		return Class{}, fmt.Errorf("a Jack translation unit must start with a class declaration: %w", err)
	}

	nameTok, err := p.expectKind(Identifier)
	if err != nil {
		return Class{}, fmt.Errorf("invalid class name: %w", err)
	}
	p.className = nameTok.Lexeme

	if _, err := p.expectSymbol("{"); err != nil {
		return Class{}, err
	}

	class := Class{
		Name:        p.className,
		Fields:      utils.OrderedMap[string, Variable]{},
		Subroutines: utils.OrderedMap[string, Subroutine]{},
	}

	declared := map[string]bool{} // class table: 'static' and 'field' share one namespace
	for p.checkKeyword("static") || p.checkKeyword("field") {
		if err := p.parseClassVarDec(&class, declared); err != nil {
			return Class{}, err
		}
	}

	for p.checkKeyword("constructor") || p.checkKeyword("function") || p.checkKeyword("method") {
		subroutine, err := p.parseSubroutineDec()
		if err != nil {
			return Class{}, err
		}
		class.Subroutines.Set(subroutine.Name, subroutine)
	}

	if _, err := p.expectSymbol("}"); err != nil {
		return Class{}, fmt.Errorf("missing '}' at the end of class '%s': %w", p.className, err)
	}

	return class, nil
}

// *classVarDec*: `(static|field) type name(, name)* ;`
func (p *Parser) parseClassVarDec(class *Class, declared map[string]bool) error {
	kindTok := p.advance() // 'static' or 'field', already peeked by the caller
	varType := Field
	if kindTok.Lexeme == "static" {
		varType = Static
	}

	dataType, className, err := p.parseType()
	if err != nil {
		return fmt.Errorf("invalid class variable type: %w", err)
	}

	for {
		nameTok, err := p.expectKind(Identifier)
		if err != nil {
			return fmt.Errorf("invalid class variable name: %w", err)
		}

		// Per-kind index counters advance on define; redefining an existing name
		// is silently ignored, the first definition wins.
		if !declared[nameTok.Lexeme] {
			declared[nameTok.Lexeme] = true
			class.Fields.Set(nameTok.Lexeme, Variable{Name: nameTok.Lexeme, Type: varType, DataType: dataType, ClassName: className})
		}

		if p.checkSymbol(",") {
			p.advance()
			continue
		}
		break
	}

	_, err = p.expectSymbol(";")
	return err
}

var subroutineKinds = map[string]SubroutineType{
	"constructor": Constructor, "function": Function, "method": Method,
}

// *subroutineDec*: `(constructor|function|method) (void|type) name ( paramList ) subroutineBody`
func (p *Parser) parseSubroutineDec() (Subroutine, error) {
	kindTok := p.advance()
	subType := subroutineKinds[kindTok.Lexeme]

	var returnType DataType
	if p.checkKeyword("void") {
		p.advance()
		returnType = Void
	} else {
		dt, _, err := p.parseType()
		if err != nil {
			return Subroutine{}, fmt.Errorf("invalid return type: %w", err)
		}
		returnType = dt
	}

	nameTok, err := p.expectKind(Identifier)
	if err != nil {
		return Subroutine{}, fmt.Errorf("invalid subroutine name: %w", err)
	}

	if _, err := p.expectSymbol("("); err != nil {
		return Subroutine{}, err
	}

	declared := map[string]bool{} // subroutine table: 'arg' and 'local' share one namespace
	args := utils.OrderedMap[string, Variable]{}
	if err := p.parseParameterList(&args, declared); err != nil {
		return Subroutine{}, err
	}

	if _, err := p.expectSymbol(")"); err != nil {
		return Subroutine{}, err
	}

	statements, err := p.parseSubroutineBody(declared)
	if err != nil {
		return Subroutine{}, fmt.Errorf("error parsing body of '%s': %w", nameTok.Lexeme, err)
	}

	return Subroutine{Name: nameTok.Lexeme, Type: subType, Return: returnType, Arguments: args, Statements: statements}, nil
}

// *parameterList*: zero or more `type name` separated by `,`.
func (p *Parser) parseParameterList(args *utils.OrderedMap[string, Variable], declared map[string]bool) error {
	if p.checkSymbol(")") {
		return nil
	}

	for {
		dataType, className, err := p.parseType()
		if err != nil {
			return fmt.Errorf("invalid parameter type: %w", err)
		}

		nameTok, err := p.expectKind(Identifier)
		if err != nil {
			return fmt.Errorf("invalid parameter name: %w", err)
		}

		if !declared[nameTok.Lexeme] {
			declared[nameTok.Lexeme] = true
			args.Set(nameTok.Lexeme, Variable{Name: nameTok.Lexeme, Type: Parameter, DataType: dataType, ClassName: className})
		}

		if p.checkSymbol(",") {
			p.advance()
			continue
		}
		return nil
	}
}

// *subroutineBody*: `{ varDec* statements }`
func (p *Parser) parseSubroutineBody(declared map[string]bool) ([]Statement, error) {
	if _, err := p.expectSymbol("{"); err != nil {
		return nil, err
	}

	statements := []Statement{}
	for p.checkKeyword("var") {
		varStmt, err := p.parseVarDec(declared)
		if err != nil {
			return nil, err
		}
		statements = append(statements, varStmt)
	}

	stmts, err := p.parseStatements()
	if err != nil {
		return nil, err
	}
	statements = append(statements, stmts...)

	if _, err := p.expectSymbol("}"); err != nil {
		return nil, err
	}
	return statements, nil
}

// *varDec*: `var type name(, name)* ;`
func (p *Parser) parseVarDec(declared map[string]bool) (VarStmt, error) {
	p.advance() // 'var'

	dataType, className, err := p.parseType()
	if err != nil {
		return VarStmt{}, fmt.Errorf("invalid local variable type: %w", err)
	}

	vars := []Variable{}
	for {
		nameTok, err := p.expectKind(Identifier)
		if err != nil {
			return VarStmt{}, fmt.Errorf("invalid local variable name: %w", err)
		}

		if !declared[nameTok.Lexeme] {
			declared[nameTok.Lexeme] = true
			vars = append(vars, Variable{Name: nameTok.Lexeme, Type: Local, DataType: dataType, ClassName: className})
		}

		if p.checkSymbol(",") {
			p.advance()
			continue
		}
		break
	}

	if _, err := p.expectSymbol(";"); err != nil {
		return VarStmt{}, err
	}
	return VarStmt{Vars: vars}, nil
}

// *statements*: zero or more of let/if/while/do/return, stops at the first token
// that doesn't start one of those (expected to be the enclosing block's '}').
func (p *Parser) parseStatements() ([]Statement, error) {
	statements := []Statement{}

	for {
		var (
			stmt Statement
			err  error
		)

		switch {
		case p.checkKeyword("let"):
			stmt, err = p.parseLetStatement()
		case p.checkKeyword("if"):
			stmt, err = p.parseIfStatement()
		case p.checkKeyword("while"):
			stmt, err = p.parseWhileStatement()
		case p.checkKeyword("do"):
			stmt, err = p.parseDoStatement()
		case p.checkKeyword("return"):
			stmt, err = p.parseReturnStatement()
		default:
			return statements, nil
		}

		if err != nil {
			return nil, err
		}
		statements = append(statements, stmt)
	}
}

// *let*: `let (ID | ID[expr]) = expr ;`
func (p *Parser) parseLetStatement() (LetStmt, error) {
	p.advance() // 'let'

	nameTok, err := p.expectKind(Identifier)
	if err != nil {
		return LetStmt{}, fmt.Errorf("invalid assignment target: %w", err)
	}

	var lhs Expression = VarExpr{Var: nameTok.Lexeme}
	if p.checkSymbol("[") {
		p.advance()
		index, err := p.parseExpression()
		if err != nil {
			return LetStmt{}, err
		}
		if _, err := p.expectSymbol("]"); err != nil {
			return LetStmt{}, err
		}
		lhs = ArrayExpr{Var: nameTok.Lexeme, Index: index}
	}

	if _, err := p.expectSymbol("="); err != nil {
		return LetStmt{}, err
	}

	rhs, err := p.parseExpression()
	if err != nil {
		return LetStmt{}, err
	}

	if _, err := p.expectSymbol(";"); err != nil {
		return LetStmt{}, err
	}

	return LetStmt{Lhs: lhs, Rhs: rhs}, nil
}

// *if*: `if ( expr ) { statements } (else { statements })?`
func (p *Parser) parseIfStatement() (IfStmt, error) {
	p.advance() // 'if'

	if _, err := p.expectSymbol("("); err != nil {
		return IfStmt{}, err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return IfStmt{}, err
	}
	if _, err := p.expectSymbol(")"); err != nil {
		return IfStmt{}, err
	}

	if _, err := p.expectSymbol("{"); err != nil {
		return IfStmt{}, err
	}
	thenBlock, err := p.parseStatements()
	if err != nil {
		return IfStmt{}, err
	}
	if _, err := p.expectSymbol("}"); err != nil {
		return IfStmt{}, err
	}

	var elseBlock []Statement
	if p.checkKeyword("else") {
		p.advance()
		if _, err := p.expectSymbol("{"); err != nil {
			return IfStmt{}, err
		}
		if elseBlock, err = p.parseStatements(); err != nil {
			return IfStmt{}, err
		}
		if _, err := p.expectSymbol("}"); err != nil {
			return IfStmt{}, err
		}
	}

	return IfStmt{Condition: cond, ThenBlock: thenBlock, ElseBlock: elseBlock}, nil
}

// *while*: `while ( expr ) { statements }`
func (p *Parser) parseWhileStatement() (WhileStmt, error) {
	p.advance() // 'while'

	if _, err := p.expectSymbol("("); err != nil {
		return WhileStmt{}, err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return WhileStmt{}, err
	}
	if _, err := p.expectSymbol(")"); err != nil {
		return WhileStmt{}, err
	}

	if _, err := p.expectSymbol("{"); err != nil {
		return WhileStmt{}, err
	}
	block, err := p.parseStatements()
	if err != nil {
		return WhileStmt{}, err
	}
	if _, err := p.expectSymbol("}"); err != nil {
		return WhileStmt{}, err
	}

	return WhileStmt{Condition: cond, Block: block}, nil
}

// *do*: `do subroutineCall ;`
func (p *Parser) parseDoStatement() (DoStmt, error) {
	p.advance() // 'do'

	call, err := p.parseSubroutineCall()
	if err != nil {
		return DoStmt{}, err
	}
	if _, err := p.expectSymbol(";"); err != nil {
		return DoStmt{}, err
	}

	return DoStmt{FuncCall: call}, nil
}

// *return*: `return expr? ;`
func (p *Parser) parseReturnStatement() (ReturnStmt, error) {
	p.advance() // 'return'

	if p.checkSymbol(";") {
		p.advance()
		return ReturnStmt{}, nil
	}

	expr, err := p.parseExpression()
	if err != nil {
		return ReturnStmt{}, err
	}
	if _, err := p.expectSymbol(";"); err != nil {
		return ReturnStmt{}, err
	}

	return ReturnStmt{Expr: expr}, nil
}

// Maps an operator Symbol's (already XML-escaped) lexeme to its ExprType. Every
// operator is left-associative with no precedence, the table is only consulted
// one 'term' at a time inside parseExpression.
var binaryOperators = map[string]ExprType{
	"+": Plus, "-": Minus, "*": Multiply, "/": Divide,
	"&amp;": BoolAnd, "|": BoolOr, "&lt;": LessThan, "&gt;": GreatThan, "=": Equal,
}

// *expression*: a term followed by zero or more (op term) pairs.
func (p *Parser) parseExpression() (Expression, error) {
	lhs, err := p.parseTerm()
	if err != nil {
		return nil, err
	}

	for {
		opTok := p.peek()
		opType, isOperator := binaryOperators[opTok.Lexeme]
		if opTok.Kind != Symbol || !isOperator {
			return lhs, nil
		}
		p.advance()

		rhs, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		lhs = BinaryExpr{Type: opType, Lhs: lhs, Rhs: rhs}
	}
}

// *term*: dispatches on the next token, see spec for the exact lookahead rules
// used to disambiguate a bare identifier from a call, an array read or a plain
// variable read.
func (p *Parser) parseTerm() (Expression, error) {
	tok := p.peek()

	switch {
	case tok.Kind == IntegerConstant:
		p.advance()
		return LiteralExpr{Type: Int, Value: tok.Lexeme}, nil

	case tok.Kind == StringConstant:
		p.advance()
		return LiteralExpr{Type: String, Value: tok.Lexeme}, nil

	case tok.Kind == Keyword && (tok.Lexeme == "true" || tok.Lexeme == "false" || tok.Lexeme == "null"):
		p.advance()
		dataType := Bool
		if tok.Lexeme == "null" {
			dataType = Null
		}
		return LiteralExpr{Type: dataType, Value: tok.Lexeme}, nil

	case tok.Kind == Keyword && tok.Lexeme == "this":
		p.advance()
		return VarExpr{Var: "this"}, nil

	case tok.Kind == Symbol && tok.Lexeme == "(":
		p.advance()
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return expr, nil

	case tok.Kind == Symbol && tok.Lexeme == "-":
		p.advance()
		rhs, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		return UnaryExpr{Type: Minus, Rhs: rhs}, nil

	case tok.Kind == Symbol && tok.Lexeme == "~":
		p.advance()
		rhs, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		return UnaryExpr{Type: BoolNot, Rhs: rhs}, nil

	case tok.Kind == Identifier:
		lookahead := p.peekAt(1)
		switch {
		case lookahead.Kind == Symbol && (lookahead.Lexeme == "(" || lookahead.Lexeme == "."):
			return p.parseSubroutineCall()

		case lookahead.Kind == Symbol && lookahead.Lexeme == "[":
			p.advance() // identifier
			p.advance() // '['
			index, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expectSymbol("]"); err != nil {
				return nil, err
			}
			return ArrayExpr{Var: tok.Lexeme, Index: index}, nil

		default:
			p.advance()
			return VarExpr{Var: tok.Lexeme}, nil
		}

	default:
		return nil, p.errorf(tok, "unexpected token '%s' in expression", tok.Lexeme)
	}
}

// *subroutineCall*: `ID(args)` or `Qual.ID(args)`.
func (p *Parser) parseSubroutineCall() (FuncCallExpr, error) {
	firstTok, err := p.expectKind(Identifier)
	if err != nil {
		return FuncCallExpr{}, fmt.Errorf("invalid subroutine call: %w", err)
	}

	call := FuncCallExpr{}
	if p.checkSymbol(".") {
		p.advance()
		methodTok, err := p.expectKind(Identifier)
		if err != nil {
			return FuncCallExpr{}, fmt.Errorf("invalid subroutine name: %w", err)
		}
		call.IsExtCall, call.Var, call.FuncName = true, firstTok.Lexeme, methodTok.Lexeme
	} else {
		call.FuncName = firstTok.Lexeme
	}

	if _, err := p.expectSymbol("("); err != nil {
		return FuncCallExpr{}, err
	}

	if !p.checkSymbol(")") {
		for {
			arg, err := p.parseExpression()
			if err != nil {
				return FuncCallExpr{}, err
			}
			call.Arguments = append(call.Arguments, arg)

			if p.checkSymbol(",") {
				p.advance()
				continue
			}
			break
		}
	}

	if _, err := p.expectSymbol(")"); err != nil {
		return FuncCallExpr{}, err
	}

	return call, nil
}
