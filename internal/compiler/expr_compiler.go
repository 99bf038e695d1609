package compiler

import (
	"ember/internal/ast"
	"ember/internal/bytecode"
	"ember/internal/types"
	"ember/internal/value"
)

// compileExpr compiles e and returns the register holding its value. For a
// bare local reference the local's own register is returned directly;
// freeing it is a no-op (RegisterAllocator.Free skips locked registers, and
// every local register is locked when it is declared). Callers that read a
// local without mutating it should still call Free so temporaries computed
// from it are reclaimed correctly.
func (c *Compiler) compileExpr(e ast.Expr) int {
	switch n := e.(type) {
	case *ast.NumberLit:
		return c.compileNumberLit(n)
	case *ast.StringLit:
		r := c.fn.allocator.Alloc()
		c.emit(bytecode.ABx(bytecode.LOAD, uint8(r), c.addStringConstant(n.Value)))
		return r
	case *ast.BoolLit:
		r := c.fn.allocator.Alloc()
		b := uint8(0)
		if n.Value {
			b = 1
		}
		c.emit(bytecode.ABC(bytecode.LOAD_BOOL, uint8(r), b, 0))
		return r
	case *ast.NullLit:
		r := c.fn.allocator.Alloc()
		c.emit(bytecode.ABC(bytecode.LOAD_NULL, uint8(r), 0, 0))
		return r
	case *ast.Ident:
		return c.compileIdent(n)
	case *ast.Unary:
		return c.compileUnary(n)
	case *ast.Postfix:
		return c.compilePostfix(n)
	case *ast.Binary:
		return c.compileBinary(n)
	case *ast.Assign:
		return c.compileAssign(n)
	case *ast.Index:
		obj := c.compileExpr(n.Object)
		key := c.compileExpr(n.Key)
		dst := c.fn.allocator.Alloc()
		c.emit(bytecode.ABC(bytecode.LOAD_IDX, uint8(dst), uint8(obj), uint8(key)))
		c.fn.allocator.Free(obj)
		c.fn.allocator.Free(key)
		return dst
	case *ast.Field:
		return c.compileField(n)
	case *ast.Call:
		return c.compileCall(n)
	case *ast.ArrayLit:
		return c.compileArrayLit(n)
	case *ast.TableLit:
		return c.compileTableLit(n)
	case *ast.Lambda:
		return c.compileLambda(n)
	case *ast.TypeTest:
		return c.compileTypeTest(n)
	case *ast.Coalesce:
		return c.compileCoalesce(n)
	case *ast.TypeOf:
		operand := c.compileExpr(n.Expr)
		dst := c.fn.allocator.Alloc()
		c.emit(bytecode.ABC(bytecode.TCHECK, uint8(dst), uint8(operand), 0))
		c.fn.allocator.Free(operand)
		return dst
	default:
		c.errorf("compiler: unhandled expression node %T", e)
		r := c.fn.allocator.Alloc()
		c.emit(bytecode.ABC(bytecode.LOAD_NULL, uint8(r), 0, 0))
		return r
	}
}

// compileNumberLit prefers LOAD_SMALL's inline sBx operand for small
// integers so common loop counters and indices skip the constant pool
// entirely (§9 accelerated literal loads).
func (c *Compiler) compileNumberLit(n *ast.NumberLit) int {
	r := c.fn.allocator.Alloc()
	if iv := int64(n.Value); float64(iv) == n.Value && iv >= -32768 && iv <= 32767 {
		c.emit(bytecode.AsBx(bytecode.LOAD_SMALL, uint8(r), int32(iv)))
		return r
	}
	c.emit(bytecode.ABx(bytecode.LOAD, uint8(r), c.addNumberConstant(n.Value)))
	return r
}

func (c *Compiler) compileIdent(n *ast.Ident) int {
	switch n.Kind {
	case ast.BindLocal:
		if reg, ok := c.resolveLocal(n.Name); ok {
			return reg
		}
		c.errorf("compiler: local %q not found in register table", n.Name)
		fallthrough
	case ast.BindUnresolved:
		r := c.fn.allocator.Alloc()
		c.emit(bytecode.ABC(bytecode.LOAD_NULL, uint8(r), 0, 0))
		return r
	case ast.BindUpvalue:
		r := c.fn.allocator.Alloc()
		c.emit(bytecode.ABx(bytecode.LOADUP, uint8(r), uint16(n.Index)))
		return r
	case ast.BindImport:
		r := c.fn.allocator.Alloc()
		c.emit(bytecode.ABx(bytecode.LOAD_IMPORT, uint8(r), uint16(n.Index)))
		return r
	default:
		r := c.fn.allocator.Alloc()
		c.emit(bytecode.ABC(bytecode.LOAD_NULL, uint8(r), 0, 0))
		return r
	}
}

func (c *Compiler) compileUnary(n *ast.Unary) int {
	operand := c.compileExpr(n.Expr)
	dst := c.fn.allocator.Alloc()
	switch n.Op {
	case "not":
		c.emit(bytecode.ABC(bytecode.NOT, uint8(dst), uint8(operand), 0))
	default: // "-" or "+"; parser already required a number operand
		if n.Op == "-" {
			c.emit(bytecode.ABC(bytecode.NEG.Accelerated(), uint8(dst), uint8(operand), 0))
		} else {
			c.emit(bytecode.ABC(bytecode.MOVE, uint8(dst), uint8(operand), 0))
		}
	}
	c.fn.allocator.Free(operand)
	return dst
}

func (c *Compiler) compilePostfix(n *ast.Postfix) int {
	operand := c.compileExpr(n.Expr)
	dst := c.fn.allocator.Alloc()
	switch n.Op {
	case "!":
		c.emit(bytecode.ABC(bytecode.EXPECT, uint8(dst), uint8(operand), 0))
	case "?":
		c.emit(bytecode.ABC(bytecode.EXISTS, uint8(dst), uint8(operand), 0))
	}
	c.fn.allocator.Free(operand)
	return dst
}

func binaryOp(op string) (bytecode.Op, bool) {
	switch op {
	case "+":
		return bytecode.ADD, true
	case "..":
		return bytecode.ADD, false
	case "-":
		return bytecode.SUB, true
	case "*":
		return bytecode.MUL, true
	case "/":
		return bytecode.DIV, true
	case "==":
		return bytecode.EQ, false
	case "!=":
		return bytecode.NEQ, false
	case "<":
		return bytecode.LT, true
	case "<=":
		return bytecode.LTE, true
	}
	return 0, false
}

// compileBinary emits the accelerated opcode form when the parser already
// proved both operands are number — see ast.Binary's Accelerated flag, set
// once at parse time so the compiler never re-derives it from scratch (§9
// accelerated arithmetic). `..` always takes the generic ADD form, which is
// the one that concatenates strings.
func (c *Compiler) compileBinary(n *ast.Binary) int {
	switch n.Op {
	case "and":
		return c.compileShortCircuit(n, true)
	case "or":
		return c.compileShortCircuit(n, false)
	case ">":
		return c.compileSwapped(n, "<")
	case ">=":
		return c.compileSwapped(n, "<=")
	}

	left := c.compileExpr(n.Left)
	right := c.compileExpr(n.Right)
	dst := c.fn.allocator.Alloc()

	op, canAccelerate := binaryOp(n.Op)
	if canAccelerate && n.Accelerated {
		op = op.Accelerated()
	}
	c.emit(bytecode.ABC(op, uint8(dst), uint8(left), uint8(right)))

	c.fn.allocator.Free(left)
	c.fn.allocator.Free(right)
	return dst
}

// compileSwapped lowers `a > b` / `a >= b` to `b < a` / `b <= a`, the only
// two comparison opcodes the instruction set carries (§4.F).
func (c *Compiler) compileSwapped(n *ast.Binary, loweredOp string) int {
	swapped := &ast.Binary{ExprBase: n.ExprBase, Op: loweredOp, Left: n.Right, Right: n.Left}
	return c.compileBinary(swapped)
}

// compileShortCircuit implements `and`/`or` with real short-circuit
// evaluation: the right operand is only compiled along the branch where it
// can actually affect the result.
func (c *Compiler) compileShortCircuit(n *ast.Binary, isAnd bool) int {
	left := c.compileExpr(n.Left)
	dst := c.fn.allocator.Alloc()
	c.emit(bytecode.ABC(bytecode.MOVE, uint8(dst), uint8(left), 0))
	c.fn.allocator.Free(left)

	var branchJump int
	if isAnd {
		// false short-circuits: if dst is false, skip evaluating the right.
		branchJump = c.emit(bytecode.AsBx(bytecode.JMPF, uint8(dst), 0))
	} else {
		// true short-circuits `or`: test !dst and jump over the right side
		// when dst is already true. JMPF only jumps on false, so negate
		// first into a scratch register.
		notDst := c.fn.allocator.Alloc()
		c.emit(bytecode.ABC(bytecode.NOT, uint8(notDst), uint8(dst), 0))
		branchJump = c.emit(bytecode.AsBx(bytecode.JMPF, uint8(notDst), 0))
		c.fn.allocator.Free(notDst)
	}

	right := c.compileExpr(n.Right)
	c.emit(bytecode.ABC(bytecode.MOVE, uint8(dst), uint8(right), 0))
	c.fn.allocator.Free(right)

	c.patchJump(branchJump)
	return dst
}

func (c *Compiler) compileAssign(n *ast.Assign) int {
	switch target := n.Target.(type) {
	case *ast.Ident:
		return c.compileAssignIdent(n, target)
	case *ast.Index:
		return c.compileAssignIndex(n, target)
	case *ast.Field:
		return c.compileAssignField(n, target)
	default:
		c.errorf("compiler: invalid assignment target %T", n.Target)
		return c.compileExpr(n.Value)
	}
}

// compileCompound folds `target op= value` into `target = target op value`
// at the point of use, returning the register holding the combined value
// (caller stores it into the target).
func (c *Compiler) compileCompound(n *ast.Assign, curReg int) int {
	if n.Op == "=" {
		return c.compileExpr(n.Value)
	}
	right := c.compileExpr(n.Value)
	dst := c.fn.allocator.Alloc()
	op, _ := binaryOp(compoundBaseOp(n.Op))
	c.emit(bytecode.ABC(op.Accelerated(), uint8(dst), uint8(curReg), uint8(right)))
	c.fn.allocator.Free(right)
	return dst
}

func compoundBaseOp(op string) string {
	switch op {
	case "+=":
		return "+"
	case "-=":
		return "-"
	case "*=":
		return "*"
	case "/=":
		return "/"
	}
	return ""
}

func (c *Compiler) compileAssignIdent(n *ast.Assign, target *ast.Ident) int {
	switch target.Kind {
	case ast.BindLocal:
		reg, ok := c.resolveLocal(target.Name)
		if !ok {
			c.errorf("compiler: local %q not found in register table", target.Name)
			return c.compileExpr(n.Value)
		}
		val := c.compileCompound(n, reg)
		if val != reg {
			c.emit(bytecode.ABC(bytecode.MOVE, uint8(reg), uint8(val), 0))
			c.fn.allocator.Free(val)
		}
		return reg
	case ast.BindUpvalue:
		cur := c.fn.allocator.Alloc()
		c.emit(bytecode.ABx(bytecode.LOADUP, uint8(cur), uint16(target.Index)))
		val := c.compileCompound(n, cur)
		c.emit(bytecode.ABx(bytecode.STOREUP, uint8(val), uint16(target.Index)))
		c.fn.allocator.Free(cur)
		if val != cur {
			c.fn.allocator.Free(val)
		}
		return val
	default:
		c.errorf("compiler: cannot assign to %s", target.Name)
		return c.compileExpr(n.Value)
	}
}

func (c *Compiler) compileAssignIndex(n *ast.Assign, target *ast.Index) int {
	obj := c.compileExpr(target.Object)
	key := c.compileExpr(target.Key)
	var cur int
	if n.Op != "=" {
		cur = c.fn.allocator.Alloc()
		c.emit(bytecode.ABC(bytecode.LOAD_IDX, uint8(cur), uint8(obj), uint8(key)))
	}
	val := c.compileCompound(n, cur)
	c.emit(bytecode.ABC(bytecode.STORE_IDX, uint8(obj), uint8(key), uint8(val)))
	c.fn.allocator.Free(obj)
	c.fn.allocator.Free(key)
	if n.Op != "=" {
		c.fn.allocator.Free(cur)
	}
	return val
}

func (c *Compiler) compileAssignField(n *ast.Assign, target *ast.Field) int {
	obj := c.compileExpr(target.Object)
	nameIdx := c.addStringConstant(target.Name)
	var cur int
	if n.Op != "=" {
		cur = c.fn.allocator.Alloc()
		c.emit(bytecode.ABC(bytecode.LOAD_IDX_K, uint8(cur), uint8(obj), uint8(nameIdx)))
	}
	val := c.compileCompound(n, cur)
	c.emit(bytecode.ABC(bytecode.STORE_IDX_K, uint8(obj), uint8(val), uint8(nameIdx)))
	c.fn.allocator.Free(obj)
	if n.Op != "=" {
		c.fn.allocator.Free(cur)
	}
	return val
}

// compileField resolves a dot-access; a Hoistable field still goes through
// the constant-keyed LOAD_IDX_K path (the VM decides whether to use the
// statically known HoistIndex instead of a hashed lookup).
func (c *Compiler) compileField(n *ast.Field) int {
	obj := c.compileExpr(n.Object)
	nameIdx := c.addStringConstant(n.Name)
	dst := c.fn.allocator.Alloc()
	c.emit(bytecode.ABC(bytecode.LOAD_IDX_K, uint8(dst), uint8(obj), uint8(nameIdx)))
	c.fn.allocator.Free(obj)
	return dst
}

// allocConsecutive hands out n back-to-back fresh registers for call
// arguments / array elements, which must land in contiguous slots for the
// VM's CALL/ARRAY instructions (grounded on the teacher's
// findConsecutiveRegisters, simplified since locals never free their
// registers here so a plain bump always produces contiguous space).
func (c *Compiler) allocConsecutive(n int) int {
	if n == 0 {
		return c.fn.allocator.Alloc()
	}
	base := c.fn.allocator.AllocFresh()
	for i := 1; i < n; i++ {
		c.fn.allocator.AllocFresh()
	}
	return base
}

func (c *Compiler) compileCall(n *ast.Call) int {
	calleeReg := c.compileExpr(n.Callee)
	// CALL writes its result over the callee register, so a local callee
	// is first copied into a temporary.
	if id, ok := n.Callee.(*ast.Ident); ok && id.Kind == ast.BindLocal {
		tmp := c.fn.allocator.Alloc()
		c.emit(bytecode.ABC(bytecode.MOVE, uint8(tmp), uint8(calleeReg), 0))
		calleeReg = tmp
	}
	base := c.allocConsecutive(len(n.Args))
	for i, a := range n.Args {
		r := c.compileExpr(a)
		if r != base+i {
			c.emit(bytecode.ABC(bytecode.MOVE, uint8(base+i), uint8(r), 0))
			c.fn.allocator.Free(r)
		}
	}
	c.emit(bytecode.ABC(bytecode.CALL, uint8(calleeReg), uint8(base), uint8(len(n.Args))))
	return calleeReg
}

func (c *Compiler) compileArrayLit(n *ast.ArrayLit) int {
	base := c.allocConsecutive(len(n.Elements))
	for i, el := range n.Elements {
		r := c.compileExpr(el)
		if r != base+i {
			c.emit(bytecode.ABC(bytecode.MOVE, uint8(base+i), uint8(r), 0))
			c.fn.allocator.Free(r)
		}
	}
	dst := c.fn.allocator.Alloc()
	c.emit(bytecode.ABC(bytecode.ARRAY, uint8(dst), uint8(base), uint8(len(n.Elements))))
	return dst
}

func (c *Compiler) compileTableLit(n *ast.TableLit) int {
	dst := c.fn.allocator.Alloc()
	c.emit(bytecode.ABC(bytecode.TABLE, uint8(dst), 0, 0))
	for i, key := range n.Keys {
		valReg := c.compileExpr(n.Values[i])
		nameIdx := c.addStringConstant(key)
		c.emit(bytecode.ABC(bytecode.STORE_IDX_K, uint8(dst), uint8(valReg), uint8(nameIdx)))
		c.fn.allocator.Free(valReg)
	}
	return dst
}

// compileLambda compiles the nested body, boxes the resulting Fn as a
// constant, and loads it. A Fn with a non-empty Upvalues descriptor list
// is turned into a ClosureObj by the VM at LOAD time, reading straight out
// of the *currently executing* frame (see value.ClosureObj).
func (c *Compiler) compileLambda(n *ast.Lambda) int {
	argTypes := paramTypes(n.Params)
	sig := types.MakeSignature(argTypes, returnTypeOf(n.Type()))
	fn := c.compileClosureFunction(sig, n.Params, n.Body, "<lambda>", n.Upvalues)
	dst := c.fn.allocator.Alloc()
	c.emit(bytecode.ABx(bytecode.LOAD, uint8(dst), c.addConstant(value.BoxFn(fn))))
	return dst
}

func paramTypes(params []ast.Param) []*types.Type {
	out := make([]*types.Type, len(params))
	for i, p := range params {
		out[i] = p.Type
	}
	return out
}

func returnTypeOf(t *types.Type) *types.Type {
	dt := types.Dealias(t)
	if dt != nil && dt.Kind == types.KSignature {
		return dt.Sig.Return
	}
	return types.Any()
}

func (c *Compiler) compileTypeTest(n *ast.TypeTest) int {
	operand := c.compileExpr(n.Expr)
	typeIdx := c.addTypeConstant(n.Target)
	typeReg := c.fn.allocator.Alloc()
	c.emit(bytecode.ABx(bytecode.LOAD, uint8(typeReg), typeIdx))

	dst := c.fn.allocator.Alloc()
	switch n.Op {
	case "is":
		c.emit(bytecode.ABC(bytecode.TCHECK, uint8(dst), uint8(operand), uint8(typeReg)))
	case "satisfies":
		c.emit(bytecode.ABC(bytecode.TSATIS, uint8(dst), uint8(operand), uint8(typeReg)))
	case "as":
		c.emit(bytecode.ABC(bytecode.TCAST, uint8(dst), uint8(operand), uint8(typeReg)))
	}
	c.fn.allocator.Free(operand)
	c.fn.allocator.Free(typeReg)
	return dst
}

func (c *Compiler) compileCoalesce(n *ast.Coalesce) int {
	left := c.compileExpr(n.Left)
	dst := c.fn.allocator.Alloc()
	c.emit(bytecode.ABC(bytecode.MOVE, uint8(dst), uint8(left), 0))
	c.fn.allocator.Free(left)

	existsReg := c.fn.allocator.Alloc()
	c.emit(bytecode.ABC(bytecode.EXISTS, uint8(existsReg), uint8(dst), 0))
	notExists := c.fn.allocator.Alloc()
	c.emit(bytecode.ABC(bytecode.NOT, uint8(notExists), uint8(existsReg), 0))
	jump := c.emit(bytecode.AsBx(bytecode.JMPF, uint8(notExists), 0))
	c.fn.allocator.Free(existsReg)
	c.fn.allocator.Free(notExists)

	right := c.compileExpr(n.Right)
	c.emit(bytecode.ABC(bytecode.MOVE, uint8(dst), uint8(right), 0))
	c.fn.allocator.Free(right)

	c.patchJump(jump)
	return dst
}
