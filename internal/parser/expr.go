package parser

import (
	"ember/internal/ast"
	"ember/internal/token"
	"ember/internal/types"
)

// precedence gives each infix operator's binding power; 0 means "not an
// infix operator" and ends the climb. Ordered low-to-high per §4.E:
// or, and, equality, comparison, coalesce, type-test (is/as/satisfies),
// additive (including `..` string concatenation), multiplicative.
func precedence(k token.Kind) int {
	switch k {
	case token.OR:
		return 1
	case token.AND:
		return 2
	case token.EQ, token.NEQ:
		return 3
	case token.LT, token.LTE, token.GT, token.GTE:
		return 4
	case token.QQUESTION:
		return 5
	case token.IS, token.AS, token.SATISFIES:
		return 6
	case token.PLUS, token.MINUS, token.DOTDOT:
		return 7
	case token.STAR, token.SLASH:
		return 8
	}
	return 0
}

// parseAssignExpr is the parser's true expression entry point: it parses
// one binary-precedence expression, then — if an assignment operator
// follows — treats that expression as an assignment target (§4.E
// Assignment, right-associative).
func (p *Parser) parseAssignExpr() ast.Expr {
	left := p.parseBinary(1)
	op := ""
	switch p.lex.Peek().Kind {
	case token.ASSIGN:
		op = "="
	case token.PLUS_EQ:
		op = "+="
	case token.MINUS_EQ:
		op = "-="
	case token.STAR_EQ:
		op = "*="
	case token.SLASH_EQ:
		op = "/="
	default:
		return left
	}
	tok := p.lex.Next()
	value := p.parseAssignExpr()
	if !types.Satisfies(value.Type(), left.Type()) {
		p.errorAt(tok, "cannot assign %s to target of type %s", value.Type(), left.Type())
	}
	n := &ast.Assign{ExprBase: ast.NewExprBase(tok.Line, tok.Col), Op: op, Target: left, Value: value}
	n.SetType(left.Type())
	return n
}

func (p *Parser) parseBinary(minPrec int) ast.Expr {
	left := p.parseUnary()
	for {
		tok := p.lex.Peek()
		prec := precedence(tok.Kind)
		if prec == 0 || prec < minPrec {
			return left
		}
		p.lex.Next()

		switch tok.Kind {
		case token.IS, token.AS, token.SATISFIES:
			target := p.parseType()
			left = p.makeTypeTest(tok, left, target)
		case token.QQUESTION:
			right := p.parseBinary(prec + 1)
			left = p.makeCoalesce(tok, left, right)
		default:
			right := p.parseBinary(prec + 1)
			left = p.makeBinary(tok, left, right)
		}
	}
}

func (p *Parser) makeTypeTest(tok token.Token, e ast.Expr, target *types.Type) ast.Expr {
	n := &ast.TypeTest{ExprBase: ast.NewExprBase(tok.Line, tok.Col), Op: tok.Kind.String(), Expr: e, Target: target}
	switch tok.Kind {
	case token.IS, token.SATISFIES:
		n.SetType(types.Bool())
	case token.AS:
		n.SetType(target)
	}
	return n
}

func (p *Parser) makeCoalesce(tok token.Token, left, right ast.Expr) ast.Expr {
	n := &ast.Coalesce{ExprBase: ast.NewExprBase(tok.Line, tok.Col), Left: left, Right: right}
	n.SetType(types.Union(types.RemoveNullable(left.Type()), right.Type()))
	return n
}

func (p *Parser) makeBinary(tok token.Token, left, right ast.Expr) ast.Expr {
	n := &ast.Binary{ExprBase: ast.NewExprBase(tok.Line, tok.Col), Op: tok.Kind.String(), Left: left, Right: right}
	lt, rt := types.Dealias(left.Type()), types.Dealias(right.Type())
	switch tok.Kind {
	case token.PLUS, token.MINUS, token.STAR, token.SLASH:
		n.SetType(types.Number())
		if lt.Kind == types.KNumber && rt.Kind == types.KNumber {
			n.Accelerated = true
		} else if lt.Kind == types.KAny || rt.Kind == types.KAny || lt.Kind == types.KTableShape {
			// generic path: resolved at run time, including metamethods
			n.SetType(types.Any())
		} else {
			p.errorAt(tok, "arithmetic operator %s requires number operands, got %s and %s", tok.Text, left.Type(), right.Type())
		}
	case token.DOTDOT:
		if lt.Kind == types.KString && rt.Kind == types.KString {
			n.Accelerated = true
		} else if lt.Kind != types.KString || rt.Kind != types.KString {
			p.errorAt(tok, "'..' requires string operands, got %s and %s", left.Type(), right.Type())
		}
		n.SetType(types.Str())
	case token.LT, token.LTE, token.GT, token.GTE:
		if lt.Kind != types.KNumber || rt.Kind != types.KNumber {
			p.errorAt(tok, "comparison operator %s requires number operands, got %s and %s", tok.Text, left.Type(), right.Type())
		} else {
			n.Accelerated = true
		}
		n.SetType(types.Bool())
	case token.EQ, token.NEQ:
		n.SetType(types.Bool())
	case token.AND, token.OR:
		if lt.Kind != types.KBool || rt.Kind != types.KBool {
			p.errorAt(tok, "logical operator %s requires bool operands, got %s and %s", tok.Text, left.Type(), right.Type())
		}
		n.SetType(types.Bool())
	default:
		n.SetType(types.Any())
	}
	return n
}

func (p *Parser) parseUnary() ast.Expr {
	tok := p.lex.Peek()
	switch tok.Kind {
	case token.MINUS, token.PLUS, token.NOT:
		p.lex.Next()
		operand := p.parseUnary()
		op := tok.Kind.String()
		if tok.Kind == token.NOT {
			op = "not"
		}
		n := &ast.Unary{ExprBase: ast.NewExprBase(tok.Line, tok.Col), Op: op, Expr: operand}
		if tok.Kind == token.NOT {
			if types.Dealias(operand.Type()).Kind != types.KBool {
				p.errorAt(tok, "'not' requires a bool operand, got %s", operand.Type())
			}
			n.SetType(types.Bool())
		} else {
			if types.Dealias(operand.Type()).Kind != types.KNumber {
				p.errorAt(tok, "unary %s requires a number operand, got %s", tok.Text, operand.Type())
			}
			n.SetType(types.Number())
		}
		return n
	case token.TYPEOF:
		p.lex.Next()
		operand := p.parseUnary()
		n := &ast.TypeOf{ExprBase: ast.NewExprBase(tok.Line, tok.Col), Expr: operand}
		n.SetType(types.TypeOfType())
		return n
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() ast.Expr {
	e := p.parsePrimary()
	for {
		tok := p.lex.Peek()
		switch tok.Kind {
		case token.DOT:
			p.lex.Next()
			name := p.lex.Expect(token.IDENT).Text
			field := p.makeField(tok, e, name)
			if p.lex.Peek().Kind == token.LPAREN {
				e = p.parseCall(field, e)
			} else {
				e = field
			}
		case token.LBRACKET:
			p.lex.Next()
			key := p.parseAssignExpr()
			p.lex.Expect(token.RBRACKET)
			n := &ast.Index{ExprBase: ast.NewExprBase(tok.Line, tok.Col), Object: e, Key: key}
			n.SetType(indexedType(e.Type()))
			e = n
		case token.LPAREN:
			e = p.parseCall(e, nil)
		case token.BANG:
			p.lex.Next()
			n := &ast.Postfix{ExprBase: ast.NewExprBase(tok.Line, tok.Col), Op: "!", Expr: e}
			n.SetType(types.RemoveNullable(e.Type()))
			e = n
		case token.QUESTION:
			p.lex.Next()
			n := &ast.Postfix{ExprBase: ast.NewExprBase(tok.Line, tok.Col), Op: "?", Expr: e}
			n.SetType(types.Bool())
			e = n
		default:
			return e
		}
	}
}

func indexedType(t *types.Type) *types.Type {
	dt := types.Dealias(t)
	if dt != nil && dt.Kind == types.KArray {
		return dt.Elem
	}
	return types.Any()
}

// makeField resolves `obj.name` against obj's structural type when known,
// additionally marking the access Hoistable when the tableshape is
// final+sealed (§9 Dot-access accelerator: a constant field offset may be
// compiled directly rather than looked up by key at runtime).
func (p *Parser) makeField(tok token.Token, obj ast.Expr, name string) *ast.Field {
	n := &ast.Field{ExprBase: ast.NewExprBase(tok.Line, tok.Col), Object: obj, Name: name}
	ft := types.Any()
	ot := types.Dealias(obj.Type())
	if ot != nil && ot.Kind == types.KTableShape {
		for i, f := range ot.Shape.Fields {
			if f.Name == name {
				ft = f.Type
				if ot.Shape.Final && ot.Shape.Sealed {
					n.Hoistable = true
					n.HoistIndex = i
				}
				break
			}
		}
	}
	n.SetType(ft)
	return n
}

// parseCall parses `(args...)` against callee. When obj is non-nil this is
// method-sugar: `obj.method(args)` prepends obj as an implicit first
// argument (§4.E Method sugar). Polymorphic signatures are retried without
// the implicit self argument if their applicator rejects the full list
// (§4.E Polymorphic call resolution: "retry without implicit self on nil
// applicator result").
func (p *Parser) parseCall(callee ast.Expr, obj ast.Expr) ast.Expr {
	open := p.lex.Expect(token.LPAREN)
	var args []ast.Expr
	for p.lex.Peek().Kind != token.RPAREN {
		args = append(args, p.parseAssignExpr())
		if p.lex.Peek().Kind == token.COMMA {
			p.lex.Next()
		} else {
			break
		}
	}
	p.lex.Expect(token.RPAREN)

	n := &ast.Call{ExprBase: ast.NewExprBase(open.Line, open.Col), Callee: callee, Args: args}

	sig := calleeSignature(callee.Type())
	if sig == nil {
		p.errorAt(open, "%s is not callable", callee.Type())
		n.SetType(types.Any())
		return n
	}

	if obj != nil {
		full := append([]ast.Expr{obj}, args...)
		if sig.IsPolymorphic() {
			argTypes := exprTypes(full)
			if resolved := sig.Applicator(argTypes); resolved != nil {
				n.ImplicitSelf = obj
				n.Args = full
				n.SetType(resolved.Return)
				return n
			}
			// Retry without the implicit self argument.
			argTypes = exprTypes(args)
			if resolved := sig.Applicator(argTypes); resolved != nil {
				n.SetType(resolved.Return)
				return n
			}
			p.errorAt(open, "no applicable signature for polymorphic call")
			n.SetType(types.Any())
			return n
		}
		if len(sig.Args) > 0 && types.Satisfies(obj.Type(), sig.Args[0]) {
			n.ImplicitSelf = obj
			n.Args = full
		}
	} else if sig.IsPolymorphic() {
		if resolved := sig.Applicator(exprTypes(args)); resolved != nil {
			n.SetType(resolved.Return)
			return n
		}
		p.errorAt(open, "no applicable signature for polymorphic call")
		n.SetType(types.Any())
		return n
	}

	ret := sig.Return
	if ret == nil {
		ret = types.Null()
	}
	n.SetType(ret)
	return n
}

func exprTypes(es []ast.Expr) []*types.Type {
	out := make([]*types.Type, len(es))
	for i, e := range es {
		out[i] = e.Type()
	}
	return out
}

func calleeSignature(t *types.Type) *types.Signature {
	dt := types.Dealias(t)
	if dt == nil || dt.Kind != types.KSignature {
		return nil
	}
	return dt.Sig
}

func (p *Parser) parsePrimary() ast.Expr {
	tok := p.lex.Next()
	switch tok.Kind {
	case token.NUMBER:
		n := &ast.NumberLit{ExprBase: ast.NewExprBase(tok.Line, tok.Col), Value: p.lex.NumberLiterals[tok.Literal]}
		n.SetType(types.Number())
		return n
	case token.STRING:
		n := &ast.StringLit{ExprBase: ast.NewExprBase(tok.Line, tok.Col), Value: p.lex.StringLiterals[tok.Literal]}
		n.SetType(types.Str())
		return n
	case token.TRUE, token.FALSE:
		n := &ast.BoolLit{ExprBase: ast.NewExprBase(tok.Line, tok.Col), Value: tok.Kind == token.TRUE}
		n.SetType(types.Bool())
		return n
	case token.NULL:
		n := &ast.NullLit{ExprBase: ast.NewExprBase(tok.Line, tok.Col)}
		n.SetType(types.Null())
		return n
	case token.IDENT:
		return p.resolveIdent(tok)
	case token.LPAREN:
		e := p.parseAssignExpr()
		p.lex.Expect(token.RPAREN)
		return e
	case token.LBRACKET:
		return p.parseArrayLit(tok)
	case token.LBRACE:
		return p.parseTableLit(tok)
	case token.FN:
		return p.parseLambda(tok)
	default:
		p.errorAt(tok, "unexpected token %s in expression", tok.Kind)
		n := &ast.NullLit{ExprBase: ast.NewExprBase(tok.Line, tok.Col)}
		n.SetType(types.Any())
		return n
	}
}

// resolveIdent implements §4.E's six-step identifier resolution order.
func (p *Parser) resolveIdent(tok token.Token) *ast.Ident {
	name := tok.Text
	n := &ast.Ident{ExprBase: ast.NewExprBase(tok.Line, tok.Col), Name: name}

	if b, ok := p.fn.findLocal(name); ok {
		n.Kind, n.Index = ast.BindLocal, b.slot
		n.SetType(b.typ)
		return n
	}
	if idx, typ, ok := p.fn.findUpvalue(name); ok {
		n.Kind, n.Index = ast.BindUpvalue, idx
		n.SetType(typ)
		return n
	}
	if idx, typ, ok := p.fn.resolveAcrossBoundary(name); ok {
		n.Kind, n.Index = ast.BindUpvalue, idx
		n.SetType(typ)
		return n
	}
	if idx, ok := p.importIdx[name]; ok {
		n.Kind, n.Index = ast.BindImport, idx
		n.SetType(p.imports[idx].Type)
		return n
	}
	if preludeT, ok := p.prelude[name]; ok {
		idx := p.registerImport(name, preludeT)
		n.Kind, n.Index = ast.BindImport, idx
		n.SetType(preludeT)
		return n
	}

	p.errorAt(tok, "undefined identifier %q", name)
	n.Kind = ast.BindUnresolved
	n.SetType(types.Any())
	return n
}

func (p *Parser) parseArrayLit(tok token.Token) ast.Expr {
	var elems []ast.Expr
	for p.lex.Peek().Kind != token.RBRACKET {
		elems = append(elems, p.parseAssignExpr())
		if p.lex.Peek().Kind == token.COMMA {
			p.lex.Next()
		} else {
			break
		}
	}
	p.lex.Expect(token.RBRACKET)
	n := &ast.ArrayLit{ExprBase: ast.NewExprBase(tok.Line, tok.Col), Elements: elems}
	elemT := types.Any()
	if len(elems) > 0 {
		ts := make([]*types.Type, len(elems))
		for i, e := range elems {
			ts[i] = e.Type()
		}
		elemT = types.Union(ts...)
	}
	n.SetType(types.Array(elemT))
	return n
}

func (p *Parser) parseTableLit(tok token.Token) ast.Expr {
	var keys []string
	var values []ast.Expr
	for p.lex.Peek().Kind != token.RBRACE {
		key := p.lex.Next()
		var keyName string
		switch key.Kind {
		case token.IDENT:
			keyName = key.Text
		case token.STRING:
			keyName = p.lex.StringLiterals[key.Literal]
		default:
			p.errorAt(key, "expected a table key")
		}
		p.lex.Expect(token.COLON)
		v := p.parseAssignExpr()
		keys = append(keys, keyName)
		values = append(values, v)
		if p.lex.Peek().Kind == token.COMMA {
			p.lex.Next()
		} else {
			break
		}
	}
	p.lex.Expect(token.RBRACE)
	n := &ast.TableLit{ExprBase: ast.NewExprBase(tok.Line, tok.Col), Keys: keys, Values: values}
	shape := &types.TableShape{Sealed: false, Final: false}
	for i, k := range keys {
		shape.Fields = append(shape.Fields, types.Field{Name: k, Type: values[i].Type()})
	}
	n.SetType(types.TableShapeType(shape))
	return n
}

func (p *Parser) parseLambda(tok token.Token) ast.Expr {
	p.lex.Expect(token.LPAREN)
	parent := p.fn
	p.fn = newFuncScope(parent)
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
	if variadic && len(argTypes) > 0 {
		types.MakeVararg(sig, argTypes[len(argTypes)-1])
		sig.Args = argTypes[:len(argTypes)-1]
	}

	upvalues := p.fn.upvalues
	p.fn = parent

	n := &ast.Lambda{ExprBase: ast.NewExprBase(tok.Line, tok.Col), Params: params, Variadic: variadic, Body: body, Upvalues: upvalues}
	n.SetType(types.SignatureType(sig))
	return n
}
