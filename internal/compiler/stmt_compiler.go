package compiler

import (
	"ember/internal/ast"
	"ember/internal/bytecode"
	"ember/internal/types"
	"ember/internal/value"
)

func (c *Compiler) compileStmt(stmt ast.Stmt) {
	switch s := stmt.(type) {
	case *ast.LetStmt:
		c.compileLetStmt(s)
	case *ast.VarStmt:
		c.compileVarStmt(s)
	case *ast.ExprStmt:
		r := c.compileExpr(s.Expr)
		c.fn.allocator.Free(r)
	case *ast.ReturnStmt:
		c.compileReturnStmt(s)
	case *ast.FnStmt:
		c.compileFnStmt(s)
	case *ast.IfStmt:
		c.compileIfStmt(s)
	case *ast.NumForStmt:
		c.compileNumForStmt(s)
	case *ast.IterForStmt:
		c.compileIterForStmt(s)
	case *ast.BreakStmt:
		c.compileBreakStmt()
	case *ast.ContinueStmt:
		c.compileContinueStmt()
	case *ast.TypeDeclStmt:
		c.compileTypeDeclStmt(s)
	case *ast.ImportStmt:
		// resolved entirely at parse time into the shared import list.
	case *ast.ExportStmt:
		c.compileExportStmt(s)
	default:
		c.errorf("compiler: unhandled statement node %T", stmt)
	}
}

// compileTypeDeclStmt has no runtime representation of its own for the
// declared type itself (it's already folded into every expression that uses
// it), but each @name meta-method it carries (§3 meta-name, §8 scenario 5)
// must be attached to the type's canonical prototype at runtime, so a later
// `as` cast picks it up: load the raw (pre-alias) type and the meta-name as
// constants, compile the meta-fn body like any other lambda, and emit
// SETMETA to bind them together.
func (c *Compiler) compileTypeDeclStmt(s *ast.TypeDeclStmt) {
	for _, meta := range s.Metas {
		typeReg := c.fn.allocator.Alloc()
		c.emit(bytecode.ABx(bytecode.LOAD, uint8(typeReg), c.addTypeConstant(s.Decl)))

		nameReg := c.fn.allocator.Alloc()
		c.emit(bytecode.ABx(bytecode.LOAD, uint8(nameReg), c.addStringConstant(meta.Name)))

		fnReg := c.compileExpr(meta.Fn)

		c.emit(bytecode.ABC(bytecode.SETMETA, uint8(typeReg), uint8(nameReg), uint8(fnReg)))

		c.fn.allocator.Free(typeReg)
		c.fn.allocator.Free(nameReg)
		c.fn.allocator.Free(fnReg)
	}
}

func (c *Compiler) compileLetStmt(s *ast.LetStmt) {
	if s.Value == nil {
		reg := c.defineLocal(s.Name)
		c.emit(bytecode.ABC(bytecode.LOAD_NULL, uint8(reg), 0, 0))
		return
	}
	// Compile the initializer before defining the local: the init
	// expression must not be able to see its own not-yet-declared name.
	valReg := c.compileExpr(s.Value)
	reg := c.defineLocal(s.Name)
	if valReg != reg {
		c.emit(bytecode.ABC(bytecode.MOVE, uint8(reg), uint8(valReg), 0))
		c.fn.allocator.Free(valReg)
	}
}

func (c *Compiler) compileVarStmt(s *ast.VarStmt) {
	if s.Value == nil {
		reg := c.defineLocal(s.Name)
		c.emit(bytecode.ABC(bytecode.LOAD_NULL, uint8(reg), 0, 0))
		return
	}
	valReg := c.compileExpr(s.Value)
	reg := c.defineLocal(s.Name)
	if valReg != reg {
		c.emit(bytecode.ABC(bytecode.MOVE, uint8(reg), uint8(valReg), 0))
		c.fn.allocator.Free(valReg)
	}
}

func (c *Compiler) compileReturnStmt(s *ast.ReturnStmt) {
	if s.Value == nil {
		c.emit(bytecode.ABC(bytecode.RETURN, 0, 1, 0))
		return
	}
	reg := c.compileExpr(s.Value)
	c.emit(bytecode.ABC(bytecode.RETURN, uint8(reg), 2, 0))
	c.fn.allocator.Free(reg)
}

// compileFnStmt compiles a named function declaration, defining its name
// as a local bound to the resulting closure value (module-level functions
// live in the module entry function's own register file, read back by
// name like any other local since EMBER has no separate global table).
func (c *Compiler) compileFnStmt(s *ast.FnStmt) {
	fn := c.compileClosureFunction(s.Sig, s.Params, s.Body, s.Name, s.Upvalues)
	reg := c.defineLocal(s.Name)
	c.emit(bytecode.ABx(bytecode.LOAD, uint8(reg), c.addConstant(value.BoxFn(fn))))
}

func (c *Compiler) compileIfStmt(s *ast.IfStmt) {
	c.pushBlock()
	var condReg int
	if s.LetName != "" {
		condReg = c.compileExpr(s.Cond)
		letReg := c.defineLocal(s.LetName)
		if letReg != condReg {
			c.emit(bytecode.ABC(bytecode.MOVE, uint8(letReg), uint8(condReg), 0))
		}
		existsReg := c.fn.allocator.Alloc()
		c.emit(bytecode.ABC(bytecode.EXISTS, uint8(existsReg), uint8(letReg), 0))
		condReg = existsReg
	} else {
		condReg = c.compileExpr(s.Cond)
	}

	skipThen := c.emit(bytecode.AsBx(bytecode.JMPF, uint8(condReg), 0))
	c.fn.allocator.Free(condReg)

	for _, st := range s.Then {
		c.compileStmt(st)
	}

	var skipElse int
	hasElse := len(s.Else) > 0
	if hasElse {
		skipElse = c.emit(bytecode.AsBx(bytecode.JMP, 0, 0))
	}
	c.patchJump(skipThen)

	if hasElse {
		for _, st := range s.Else {
			c.compileStmt(st)
		}
		c.patchJump(skipElse)
	}
	c.popBlock()
}

// compileNumForStmt lowers `for x in start to stop [by step]` the way Lua
// lowers a numeric for: four consecutive registers hold the counter, limit,
// step and visible loop variable, an initial jump skips forward to the
// NUMFOR check, and NUMFOR itself plays FORLOOP's role (increment, compare,
// jump back into the body) since no separate FORPREP opcode exists here.
func (c *Compiler) compileNumForStmt(s *ast.NumForStmt) {
	c.pushBlock()

	base := c.allocConsecutive(4)
	counterReg, limitReg, stepReg, varReg := base, base+1, base+2, base+3

	startReg := c.compileExpr(s.Start)
	c.emit(bytecode.ABC(bytecode.MOVE, uint8(counterReg), uint8(startReg), 0))
	c.fn.allocator.Free(startReg)

	stopReg := c.compileExpr(s.Stop)
	c.emit(bytecode.ABC(bytecode.MOVE, uint8(limitReg), uint8(stopReg), 0))
	c.fn.allocator.Free(stopReg)

	if s.Step != nil {
		stepVal := c.compileExpr(s.Step)
		c.emit(bytecode.ABC(bytecode.MOVE, uint8(stepReg), uint8(stepVal), 0))
		c.fn.allocator.Free(stepVal)
	} else {
		c.emit(bytecode.AsBx(bytecode.LOAD_SMALL, uint8(stepReg), 1))
	}

	// Pre-subtract the step once: NUMFOR adds it back before its first
	// comparison, same as Lua's FORPREP.
	c.emit(bytecode.ABC(bytecode.SUB.Accelerated(), uint8(counterReg), uint8(counterReg), uint8(stepReg)))

	skipToCheck := c.emit(bytecode.AsBx(bytecode.JMP, 0, 0))

	c.fn.loopStack = append(c.fn.loopStack, loopInfo{})
	c.fn.scope.locals = append(c.fn.scope.locals, local{name: s.Name, reg: varReg})
	c.fn.allocator.Lock(varReg)

	bodyStart := len(c.fn.code)
	for _, st := range s.Body {
		c.compileStmt(st)
	}

	c.patchJump(skipToCheck)
	numforPC := c.emit(bytecode.AsBx(bytecode.NUMFOR, uint8(base), int32(bodyStart-len(c.fn.code)-1)))

	li := c.fn.loopStack[len(c.fn.loopStack)-1]
	c.fn.loopStack = c.fn.loopStack[:len(c.fn.loopStack)-1]
	for _, cj := range li.continueJumps {
		c.patchJumpTo(cj, numforPC)
	}
	afterPC := len(c.fn.code)
	for _, bj := range li.breakJumps {
		c.patchJumpTo(bj, afterPC)
	}

	c.fn.allocator.Free(counterReg)
	c.fn.allocator.Free(limitReg)
	c.fn.allocator.Free(stepReg)
	c.popBlock()
}

// compileIterForStmt lowers `for x in iterable` the same way: three
// consecutive registers hold the iterable, a hidden cursor, and the visible
// loop variable; ITERFOR advances the cursor, writes the next element, and
// jumps back into the body, falling through once the iterable is exhausted.
func (c *Compiler) compileIterForStmt(s *ast.IterForStmt) {
	c.pushBlock()

	base := c.allocConsecutive(3)
	iterReg, idxReg, varReg := base, base+1, base+2

	itReg := c.compileExpr(s.Iter)
	c.emit(bytecode.ABC(bytecode.MOVE, uint8(iterReg), uint8(itReg), 0))
	c.fn.allocator.Free(itReg)
	c.emit(bytecode.AsBx(bytecode.LOAD_SMALL, uint8(idxReg), -1))

	skipToCheck := c.emit(bytecode.AsBx(bytecode.JMP, 0, 0))

	c.fn.loopStack = append(c.fn.loopStack, loopInfo{})
	c.fn.scope.locals = append(c.fn.scope.locals, local{name: s.Name, reg: varReg})
	c.fn.allocator.Lock(varReg)

	bodyStart := len(c.fn.code)
	for _, st := range s.Body {
		c.compileStmt(st)
	}

	c.patchJump(skipToCheck)
	iterforPC := c.emit(bytecode.AsBx(bytecode.ITERFOR, uint8(base), int32(bodyStart-len(c.fn.code)-1)))

	li := c.fn.loopStack[len(c.fn.loopStack)-1]
	c.fn.loopStack = c.fn.loopStack[:len(c.fn.loopStack)-1]
	for _, cj := range li.continueJumps {
		c.patchJumpTo(cj, iterforPC)
	}
	afterPC := len(c.fn.code)
	for _, bj := range li.breakJumps {
		c.patchJumpTo(bj, afterPC)
	}

	c.fn.allocator.Free(iterReg)
	c.fn.allocator.Free(idxReg)
	c.popBlock()
}

func (c *Compiler) patchJumpTo(pos, target int) {
	instr := c.fn.code[pos]
	c.fn.code[pos] = bytecode.AsBx(instr.Op(), instr.A(), int32(target-pos-1))
}

func (c *Compiler) compileBreakStmt() {
	if len(c.fn.loopStack) == 0 {
		c.errorf("compiler: break outside a loop")
		return
	}
	top := len(c.fn.loopStack) - 1
	jmp := c.emit(bytecode.AsBx(bytecode.JMP, 0, 0))
	c.fn.loopStack[top].breakJumps = append(c.fn.loopStack[top].breakJumps, jmp)
}

func (c *Compiler) compileContinueStmt() {
	if len(c.fn.loopStack) == 0 {
		c.errorf("compiler: continue outside a loop")
		return
	}
	top := len(c.fn.loopStack) - 1
	jmp := c.emit(bytecode.AsBx(bytecode.JMP, 0, 0))
	c.fn.loopStack[top].continueJumps = append(c.fn.loopStack[top].continueJumps, jmp)
}

// compileExportStmt compiles the wrapped declaration normally, then emits
// the EXPORT_KEY/EXPORT_VAL/EXPORT_TYPE triple that records the binding
// into the module's exports table (§4.E export forms).
func (c *Compiler) compileExportStmt(s *ast.ExportStmt) {
	c.compileStmt(s.Decl)

	name, reg, typ, ok := exportedBinding(s.Decl, c)
	if !ok {
		c.errorf("compiler: unsupported export target %T", s.Decl)
		return
	}

	keyIdx := c.addStringConstant(name)
	c.emit(bytecode.ABx(bytecode.EXPORT_KEY, 0, keyIdx))
	c.emit(bytecode.ABC(bytecode.EXPORT_VAL, uint8(reg), 0, 0))

	typeIdx := c.addTypeConstant(typ)
	typeReg := c.fn.allocator.Alloc()
	c.emit(bytecode.ABx(bytecode.LOAD, uint8(typeReg), typeIdx))
	c.emit(bytecode.ABC(bytecode.EXPORT_TYPE, uint8(typeReg), 0, 0))
	c.fn.allocator.Free(typeReg)
}

func exportedBinding(decl ast.Stmt, c *Compiler) (string, int, *types.Type, bool) {
	switch d := decl.(type) {
	case *ast.LetStmt:
		reg, ok := c.resolveLocal(d.Name)
		return d.Name, reg, d.Declared, ok
	case *ast.VarStmt:
		reg, ok := c.resolveLocal(d.Name)
		return d.Name, reg, types.Any(), ok
	case *ast.FnStmt:
		reg, ok := c.resolveLocal(d.Name)
		return d.Name, reg, fnStmtType(d), ok
	}
	return "", 0, nil, false
}

func fnStmtType(d *ast.FnStmt) *types.Type {
	if d.Sig != nil {
		return types.SignatureType(d.Sig)
	}
	return types.Any()
}
