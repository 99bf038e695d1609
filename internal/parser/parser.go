// Package parser implements EMBER's single-pass Pratt parser with inline
// type checking (spec §4.E): identifiers, upvalues, and imports are
// resolved as they're parsed, and every expression node receives its
// resolved Type before the parser moves on.
//
// Grounded on sentra-language-sentra/internal/parser's prefix/infix
// parselet-table shape, generalized with a type-checking pass threaded
// through every parselet (the teacher's own parser is for a dynamically
// typed language and has no such pass to copy verbatim).
package parser

import (
	"fmt"

	"ember/internal/ast"
	"ember/internal/errors"
	"ember/internal/lexer"
	"ember/internal/token"
	"ember/internal/types"
)

// Import mirrors ast.ImportStmt's resolved form, shared uniformly by
// explicit imports and the prelude auto-import (SPEC_FULL supplement:
// same backing list, not a separate table).
type Import struct {
	Name string
	Type *types.Type
}

// Module is one parsed compilation unit.
type Module struct {
	Name    string
	Stmts   []ast.Stmt
	Imports []*Import
}

// Prelude supplies names available without an explicit import, injected
// into Module.Imports on first mention (§4.E step 5).
type Prelude map[string]*types.Type

// Parser is not safe for concurrent use; one Parser parses one module.
type Parser struct {
	lex  *lexer.Lexer
	sink errors.Sink
	file string

	fn *funcScope

	typeEnv         map[string]*types.Type
	forwardTypeRefs []*types.Type

	prelude Prelude

	imports   []*Import
	importIdx map[string]int

	loopDepth int

	// pendingMetas accumulates @name meta-method declarations seen while
	// parsing the shape body of the type decl currently in progress;
	// parseTypeDecl drains it into the TypeDeclStmt it produces.
	pendingMetas []ast.MetaMethod
}

func New(source, file string, sink errors.Sink, prelude Prelude) *Parser {
	if prelude == nil {
		prelude = Prelude{}
	}
	return &Parser{
		lex:       lexer.New(source, file, sink),
		sink:      sink,
		file:      file,
		fn:        newFuncScope(nil),
		typeEnv:   map[string]*types.Type{},
		prelude:   prelude,
		importIdx: map[string]int{},
	}
}

// RegisterType seeds a named type into the parser's type environment before
// parsing starts, the same map `type` declarations and forward references
// populate (lookupNamedType) — the host's register_type wiring point (§6).
func (p *Parser) RegisterType(name string, t *types.Type) {
	p.typeEnv[name] = t
}

func (p *Parser) errorAt(t token.Token, format string, args ...interface{}) {
	if p.sink != nil {
		p.sink.OnError(errors.Parse, p.file, fmt.Sprintf(format, args...), t.Line, t.Col)
	}
}

// ParseModule parses an entire source file (§4.E top level: a sequence of
// statements, import/export/type/fn/let/var forms and expression
// statements).
func (p *Parser) ParseModule(name string) *Module {
	var stmts []ast.Stmt
	for p.lex.Peek().Kind != token.EOF {
		stmts = append(stmts, p.parseStmt())
	}
	p.resolveForwardTypes()
	return &Module{Name: name, Stmts: stmts, Imports: p.imports}
}

func (p *Parser) resolveForwardTypes() {
	for _, alias := range p.forwardTypeRefs {
		if real, ok := p.typeEnv[alias.AliasName]; ok {
			alias.Aliased = real
		}
	}
}

// --- statements ---------------------------------------------------------

func (p *Parser) parseStmt() ast.Stmt {
	tok := p.lex.Peek()
	switch tok.Kind {
	case token.LET:
		return p.parseLet()
	case token.VAR:
		return p.parseVar()
	case token.RETURN:
		return p.parseReturn()
	case token.FN, token.METHOD:
		return p.parseFn()
	case token.IF:
		return p.parseIf()
	case token.FOR:
		return p.parseFor()
	case token.BREAK:
		p.lex.Next()
		p.semiOpt()
		return &ast.BreakStmt{StmtBase: ast.NewStmtBase(tok.Line, tok.Col)}
	case token.CONTINUE:
		p.lex.Next()
		p.semiOpt()
		return &ast.ContinueStmt{StmtBase: ast.NewStmtBase(tok.Line, tok.Col)}
	case token.TYPE:
		return p.parseTypeDecl()
	case token.IMPORT:
		return p.parseImport()
	case token.EXPORT:
		return p.parseExport()
	default:
		e := p.parseAssignExpr()
		p.semiOpt()
		return &ast.ExprStmt{StmtBase: ast.NewStmtBase(tok.Line, tok.Col), Expr: e}
	}
}

func (p *Parser) semiOpt() {
	if p.lex.Peek().Kind == token.SEMI {
		p.lex.Next()
	}
}

func (p *Parser) parseLet() ast.Stmt {
	tok := p.lex.Next() // let
	isConst := false
	if p.lex.Peek().Kind == token.CONST {
		p.lex.Next()
		isConst = true
	}
	name := p.lex.Expect(token.IDENT).Text
	var declared *types.Type
	if p.lex.Peek().Kind == token.COLON {
		p.lex.Next()
		declared = p.parseType()
	}
	var value ast.Expr
	if p.lex.Peek().Kind == token.ASSIGN {
		p.lex.Next()
		value = p.parseAssignExpr()
	}
	valT := declared
	if value != nil {
		if declared != nil && !types.Satisfies(value.Type(), declared) {
			p.errorAt(tok, "cannot assign %s to let %s of type %s", value.Type(), name, declared)
		}
		if declared == nil {
			valT = value.Type()
		}
	}
	slot := p.fn.declare(name, valT, false)
	p.semiOpt()
	return &ast.LetStmt{StmtBase: ast.NewStmtBase(tok.Line, tok.Col), Name: name, Const: isConst, Declared: valT, Value: value, Slot: slot}
}

func (p *Parser) parseVar() ast.Stmt {
	tok := p.lex.Next() // var
	isConst := false
	if p.lex.Peek().Kind == token.CONST {
		p.lex.Next()
		isConst = true
	}
	name := p.lex.Expect(token.IDENT).Text
	var value ast.Expr
	if p.lex.Peek().Kind == token.ASSIGN {
		p.lex.Next()
		value = p.parseAssignExpr()
	}
	slot := p.fn.declare(name, types.Any(), true)
	p.semiOpt()
	return &ast.VarStmt{StmtBase: ast.NewStmtBase(tok.Line, tok.Col), Name: name, Const: isConst, Value: value, Slot: slot}
}

func (p *Parser) parseReturn() ast.Stmt {
	tok := p.lex.Next()
	var v ast.Expr
	if p.lex.Peek().Kind != token.SEMI && p.lex.Peek().Kind != token.RBRACE && p.lex.Peek().Kind != token.EOF {
		v = p.parseAssignExpr()
	}
	p.semiOpt()
	return &ast.ReturnStmt{StmtBase: ast.NewStmtBase(tok.Line, tok.Col), Value: v}
}

func (p *Parser) parseFn() ast.Stmt {
	tok := p.lex.Next() // fn or method
	isMethod := tok.Kind == token.METHOD

	var receiver *types.Type
	name := p.lex.Expect(token.IDENT).Text
	if p.lex.Peek().Kind == token.DOT {
		p.lex.Next()
		receiver = p.lookupNamedType(name)
		name = p.lex.Expect(token.IDENT).Text
	}

	p.lex.Expect(token.LPAREN)
	parent := p.fn
	p.fn = newFuncScope(parent)
	if receiver != nil || isMethod {
		selfT := receiver
		if selfT == nil {
			selfT = types.Any()
		}
		p.fn.declare("self", selfT, false)
	}
	var params []ast.Param
	variadic := false
	for p.lex.Peek().Kind != token.RPAREN {
		pname := p.lex.Expect(token.IDENT).Text
		p.lex.Expect(token.COLON)
		if p.lex.Peek().Kind == token.DOTDOT {
			p.lex.Next()
			variadic = true
		}
		pt := p.parseType()
		params = append(params, ast.Param{Name: pname, Type: pt})
		p.fn.declare(pname, pt, false)
		if p.lex.Peek().Kind == token.COMMA {
			p.lex.Next()
		} else {
			break
		}
	}
	p.lex.Expect(token.RPAREN)

	var declaredRet *types.Type
	if p.lex.Peek().Kind == token.COLON {
		p.lex.Next()
		declaredRet = p.parseType()
	}

	body, inferredRet := p.parseFnBody()
	ret := declaredRet
	if ret == nil {
		ret = inferredRet
	}

	argTypes := make([]*types.Type, len(params))
	for i, pr := range params {
		argTypes[i] = pr.Type
	}
	sig := types.MakeSignature(argTypes, ret)
	sig.IsMethod = isMethod || receiver != nil
	if variadic && len(argTypes) > 0 {
		types.MakeVararg(sig, argTypes[len(argTypes)-1])
		sig.Args = argTypes[:len(argTypes)-1]
	}

	upvalues := p.fn.upvalues
	p.fn = parent
	p.fn.declare(name, types.SignatureType(sig), false)

	return &ast.FnStmt{
		StmtBase:   ast.NewStmtBase(tok.Line, tok.Col),
		Name:       name,
		ReceiverOf: receiver,
		Params:     params,
		Variadic:   variadic,
		Declared:   declaredRet,
		Body:       body,
		Sig:        sig,
		Upvalues:   upvalues,
	}
}

// parseFnBody parses either a `{ stmts }` block or a `=> expr` arrow body,
// returning the inferred return type as the union of every `return`
// expression's type found directly in the body (§4.E return-type
// inference).
func (p *Parser) parseFnBody() ([]ast.Stmt, *types.Type) {
	if p.lex.Peek().Kind == token.ARROW {
		tok := p.lex.Next()
		e := p.parseAssignExpr()
		p.semiOpt()
		ret := &ast.ReturnStmt{StmtBase: ast.NewStmtBase(tok.Line, tok.Col), Value: e}
		return []ast.Stmt{ret}, e.Type()
	}
	body := p.parseBlock()
	var rets []*types.Type
	collectReturns(body, &rets)
	var inferred *types.Type
	if len(rets) > 0 {
		inferred = types.Union(rets...)
	}
	return body, inferred
}

func collectReturns(body []ast.Stmt, out *[]*types.Type) {
	for _, s := range body {
		switch n := s.(type) {
		case *ast.ReturnStmt:
			if n.Value != nil {
				*out = append(*out, n.Value.Type())
			}
		case *ast.IfStmt:
			collectReturns(n.Then, out)
			collectReturns(n.Else, out)
		case *ast.NumForStmt:
			collectReturns(n.Body, out)
		case *ast.IterForStmt:
			collectReturns(n.Body, out)
		}
	}
}

func (p *Parser) parseBlock() []ast.Stmt {
	p.lex.Expect(token.LBRACE)
	p.fn.pushBlock()
	var stmts []ast.Stmt
	for p.lex.Peek().Kind != token.RBRACE && p.lex.Peek().Kind != token.EOF {
		stmts = append(stmts, p.parseStmt())
	}
	p.lex.Expect(token.RBRACE)
	p.fn.popBlock()
	return stmts
}

func (p *Parser) parseIf() ast.Stmt {
	tok := p.lex.Next()
	letName := ""
	p.fn.pushBlock()
	var cond ast.Expr
	if p.lex.Peek().Kind == token.LET {
		p.lex.Next()
		letName = p.lex.Expect(token.IDENT).Text
		p.lex.Expect(token.ASSIGN)
		cond = p.parseAssignExpr()
		// if-let binds a narrowed, non-null local for the `then` branch.
		p.fn.declare(letName, types.RemoveNullable(cond.Type()), false)
	} else {
		cond = p.parseAssignExpr()
	}
	then := p.parseBlock()
	var els []ast.Stmt
	if p.lex.Peek().Kind == token.ELSE {
		p.lex.Next()
		if p.lex.Peek().Kind == token.IF {
			els = []ast.Stmt{p.parseIf()}
		} else {
			els = p.parseBlock()
		}
	}
	p.fn.popBlock()
	return &ast.IfStmt{StmtBase: ast.NewStmtBase(tok.Line, tok.Col), LetName: letName, Cond: cond, Then: then, Else: els}
}

func (p *Parser) parseFor() ast.Stmt {
	tok := p.lex.Next()
	name := p.lex.Expect(token.IDENT).Text
	p.lex.Expect(token.IN)
	first := p.parseAssignExpr()

	p.fn.pushBlock()
	p.loopDepth++
	defer func() { p.loopDepth--; p.fn.popBlock() }()

	if p.lex.Peek().Kind == token.TO {
		p.lex.Next()
		stop := p.parseAssignExpr()
		var step ast.Expr
		if p.lex.Peek().Kind == token.BY {
			p.lex.Next()
			step = p.parseAssignExpr()
		}
		p.fn.declare(name, types.Number(), false)
		body := p.parseBlock()
		return &ast.NumForStmt{StmtBase: ast.NewStmtBase(tok.Line, tok.Col), Name: name, Start: first, Stop: stop, Step: step, Body: body}
	}
	elemT := iterElemType(first.Type())
	p.fn.declare(name, elemT, false)
	body := p.parseBlock()
	return &ast.IterForStmt{StmtBase: ast.NewStmtBase(tok.Line, tok.Col), Name: name, Iter: first, Body: body}
}

// iterElemType: an array iterates its element type, anything else (a
// user-defined iterator/generator) yields `any` absent a richer generator
// protocol in the type system (§4.D has no dedicated Iterator type kind).
func iterElemType(t *types.Type) *types.Type {
	dt := types.Dealias(t)
	if dt != nil && dt.Kind == types.KArray {
		return dt.Elem
	}
	return types.Any()
}

func (p *Parser) parseTypeDecl() ast.Stmt {
	tok := p.lex.Next()
	name := p.lex.Expect(token.IDENT).Text
	p.lex.Expect(token.ASSIGN)
	metaStart := len(p.pendingMetas)
	decl := p.parseComposableType()
	metas := append([]ast.MetaMethod(nil), p.pendingMetas[metaStart:]...)
	p.pendingMetas = p.pendingMetas[:metaStart]
	p.typeEnv[name] = types.Alias(name, decl)
	p.semiOpt()
	return &ast.TypeDeclStmt{StmtBase: ast.NewStmtBase(tok.Line, tok.Col), Name: name, Decl: decl, Metas: metas}
}

// parseComposableType extends parseType with the `+` tableshape
// composition operator (§3 Compose, SPEC_FULL supplement: recursive
// parent-chain merge).
func (p *Parser) parseComposableType() *types.Type {
	t := p.parseType()
	for p.lex.Peek().Kind == token.PLUS {
		tok := p.lex.Next()
		rhs := p.parseType()
		lt, rt := types.Dealias(t), types.Dealias(rhs)
		if lt.Kind != types.KTableShape || rt.Kind != types.KTableShape {
			p.errorAt(tok, "'+' composes two tableshapes, got %s + %s", t, rhs)
			continue
		}
		composed, ok := types.Compose(lt.Shape, rt.Shape)
		if !ok {
			p.errorAt(tok, "conflicting field types composing %s + %s", t, rhs)
			continue
		}
		t = types.TableShapeType(composed)
	}
	return t
}

func (p *Parser) lookupNamedType(name string) *types.Type {
	if t, ok := p.typeEnv[name]; ok {
		return t
	}
	alias := types.Alias(name, types.Any())
	p.forwardTypeRefs = append(p.forwardTypeRefs, alias)
	return alias
}

func (p *Parser) parseImport() ast.Stmt {
	tok := p.lex.Next()
	if p.lex.Peek().Kind == token.STAR {
		p.lex.Next()
		p.lex.Expect(token.FROM)
		mod := p.lex.Expect(token.IDENT).Text
		p.semiOpt()
		return &ast.ImportStmt{StmtBase: ast.NewStmtBase(tok.Line, tok.Col), Module: mod, Star: true}
	}
	first := p.lex.Expect(token.IDENT).Text
	if p.lex.Peek().Kind == token.AS {
		p.lex.Next()
		alias := p.lex.Expect(token.IDENT).Text
		p.registerImport(alias, types.Any())
		p.semiOpt()
		return &ast.ImportStmt{StmtBase: ast.NewStmtBase(tok.Line, tok.Col), Module: first, Alias: alias}
	}
	names := []string{first}
	for p.lex.Peek().Kind == token.COMMA {
		p.lex.Next()
		names = append(names, p.lex.Expect(token.IDENT).Text)
	}
	p.lex.Expect(token.FROM)
	mod := p.lex.Expect(token.IDENT).Text
	for _, n := range names {
		p.registerImport(n, types.Any())
	}
	p.semiOpt()
	return &ast.ImportStmt{StmtBase: ast.NewStmtBase(tok.Line, tok.Col), Module: mod, Names: names}
}

func (p *Parser) parseExport() ast.Stmt {
	tok := p.lex.Next()
	decl := p.parseStmt()
	if fn, ok := decl.(*ast.FnStmt); ok {
		fn.Exported = true
	}
	return &ast.ExportStmt{StmtBase: ast.NewStmtBase(tok.Line, tok.Col), Decl: decl}
}

// registerImport pushes a name into the shared import list exactly once,
// whether it arrived via an explicit `import` statement or a first
// prelude mention (§4.E step 5, SPEC_FULL supplement).
func (p *Parser) registerImport(name string, t *types.Type) int {
	if idx, ok := p.importIdx[name]; ok {
		return idx
	}
	idx := len(p.imports)
	p.imports = append(p.imports, &Import{Name: name, Type: t})
	p.importIdx[name] = idx
	return idx
}
