package parser

import (
	"ember/internal/ast"
	"ember/internal/token"
	"ember/internal/types"
)

// parseType parses a type expression per spec §3/§4.D: primitives by name,
// `[T]` arrays, `{ name: T, ... }` tableshapes (optionally `final`/
// `unsealed`), `fn(T, T): T` signatures, `enum { A, B }` enums, `T | T`
// unions, and a trailing `?` as nullable sugar for `T | null`.
func (p *Parser) parseType() *types.Type {
	t := p.parsePostfixType()
	for p.lex.Peek().Kind == token.PIPE {
		p.lex.Next()
		t = types.Union(t, p.parsePostfixType())
	}
	return t
}

func (p *Parser) parsePostfixType() *types.Type {
	t := p.parsePrimaryType()
	for p.lex.Peek().Kind == token.QUESTION {
		p.lex.Next()
		t = types.MakeNullable(t)
	}
	return t
}

func (p *Parser) parsePrimaryType() *types.Type {
	tok := p.lex.Peek()
	switch tok.Kind {
	case token.LBRACKET:
		p.lex.Next()
		elem := p.parseType()
		p.lex.Expect(token.RBRACKET)
		return types.Array(elem)
	case token.FN:
		p.lex.Next()
		p.lex.Expect(token.LPAREN)
		var args []*types.Type
		for p.lex.Peek().Kind != token.RPAREN {
			args = append(args, p.parseType())
			if p.lex.Peek().Kind == token.COMMA {
				p.lex.Next()
			} else {
				break
			}
		}
		p.lex.Expect(token.RPAREN)
		var ret *types.Type
		if p.lex.Peek().Kind == token.COLON {
			p.lex.Next()
			ret = p.parseType()
		}
		return types.SignatureType(types.MakeSignature(args, ret))
	case token.ENUM:
		p.lex.Next()
		p.lex.Expect(token.LBRACE)
		var options []string
		for p.lex.Peek().Kind != token.RBRACE {
			options = append(options, p.lex.Expect(token.IDENT).Text)
			if p.lex.Peek().Kind == token.COMMA {
				p.lex.Next()
			} else {
				break
			}
		}
		p.lex.Expect(token.RBRACE)
		return types.EnumType(&types.Enum{Options: options})
	case token.FINAL, token.UNSEALED:
		final := tok.Kind == token.FINAL
		p.lex.Next()
		shape := p.parseTableShapeBody()
		shape.Final = final
		shape.Sealed = final || shape.Sealed
		return types.TableShapeType(shape)
	case token.LBRACE:
		shape := p.parseTableShapeBody()
		return types.TableShapeType(shape)
	case token.IDENT:
		p.lex.Next()
		switch tok.Text {
		case "number":
			return types.Number()
		case "bool":
			return types.Bool()
		case "string":
			return types.Str()
		case "null":
			return types.Null()
		case "any":
			return types.Any()
		case "type":
			return types.TypeOfType()
		}
		if decl, ok := p.typeEnv[tok.Text]; ok {
			return decl
		}
		// Forward reference to a type declared later in the module; record
		// a placeholder alias resolved in a post-pass once all `type`
		// statements have been seen (handled by Parser.resolveForwardTypes).
		alias := types.Alias(tok.Text, types.Any())
		p.forwardTypeRefs = append(p.forwardTypeRefs, alias)
		return alias
	default:
		p.errorAt(tok, "expected a type")
		p.lex.Next()
		return types.Any()
	}
}

// parseTableShapeBody parses `{ name: T, name: T, @meta: fn(...) {...}, ... }`,
// sealed by default (§3 Tableshape: sealed unless `unsealed` was given by the
// caller). A field led by a META token (`@add`, `@eq`, ...) declares a
// meta-method instead of a data field: its value is a lambda literal, parsed
// and accumulated onto p.pendingMetas for parseTypeDecl to pick up, rather
// than recorded as a types.Field (the static field set stays data-only).
func (p *Parser) parseTableShapeBody() *types.TableShape {
	p.lex.Expect(token.LBRACE)
	shape := &types.TableShape{Sealed: true}
	for p.lex.Peek().Kind != token.RBRACE && p.lex.Peek().Kind != token.EOF {
		if meta := p.lex.Peek(); meta.Kind == token.META {
			p.lex.Next()
			p.lex.Expect(token.COLON)
			fnTok := p.lex.Expect(token.FN)
			lambda, ok := p.parseLambda(fnTok).(*ast.Lambda)
			if !ok {
				p.errorAt(fnTok, "meta-method %s must be a function literal", meta.Text)
			} else {
				p.pendingMetas = append(p.pendingMetas, ast.MetaMethod{Name: meta.Text, Fn: lambda})
			}
			if p.lex.Peek().Kind == token.COMMA {
				p.lex.Next()
			} else {
				break
			}
			continue
		}
		name := p.lex.Expect(token.IDENT).Text
		p.lex.Expect(token.COLON)
		ft := p.parseType()
		shape.Fields = append(shape.Fields, types.Field{Name: name, Type: ft})
		if p.lex.Peek().Kind == token.COMMA {
			p.lex.Next()
		} else {
			break
		}
	}
	p.lex.Expect(token.RBRACE)
	return shape
}
