// Package compiler walks the parser's typed AST and emits register-window
// bytecode (spec §4.F, §6 "Bytecode compilation"): one value.FnObj per
// function body, a deduplicated constant pool, accelerated-opcode selection
// at operand types already known from parsing, hoistable dot-access
// constant folding, and a lazily populated per-instruction DebugMap.
//
// Grounded on sentra-language-sentra/internal/compregister's
// RegisterAllocator (stack-slot bump allocator with a free list and a
// locked set so live locals are never reused) and Scope (parent-linked
// name->register map, popped on block exit). EMBER's compiler generalizes
// that shape to a statically-typed AST where the expression's resolved
// Type picks the opcode (accelerated arithmetic/comparison, TCHECK/TSATIS/
// TCAST for the type-test operators, hoisted field offsets) instead of
// always emitting the generic path.
package compiler

import (
	"fmt"

	"ember/internal/ast"
	"ember/internal/bytecode"
	"ember/internal/parser"
	"ember/internal/types"
	"ember/internal/value"
)

// RegisterAllocator hands out register slots within one function body.
type RegisterAllocator struct {
	nextReg  int
	maxReg   int
	freeRegs []int
	locked   map[int]bool
}

func NewRegisterAllocator() *RegisterAllocator {
	return &RegisterAllocator{locked: map[int]bool{}}
}

func (ra *RegisterAllocator) Alloc() int {
	if n := len(ra.freeRegs); n > 0 {
		reg := ra.freeRegs[n-1]
		ra.freeRegs = ra.freeRegs[:n-1]
		return reg
	}
	return ra.bump()
}

func (ra *RegisterAllocator) bump() int {
	reg := ra.nextReg
	ra.nextReg++
	if ra.nextReg > ra.maxReg {
		ra.maxReg = ra.nextReg
	}
	return reg
}

// AllocFresh always hands out a brand new register, bypassing the free
// list. Locals use this exclusively (and are locked once declared), so a
// local's register is never handed to anything else within the function.
// Local registers do not follow the parser's slot numbering, since
// temporaries draw from the same counter; compileClosureFunction maps each
// captured parent local to its register by name.
func (ra *RegisterAllocator) AllocFresh() int { return ra.bump() }

func (ra *RegisterAllocator) Free(reg int) {
	if !ra.locked[reg] {
		ra.freeRegs = append(ra.freeRegs, reg)
	}
}

func (ra *RegisterAllocator) Lock(reg int)   { ra.locked[reg] = true }
func (ra *RegisterAllocator) Unlock(reg int) { delete(ra.locked, reg) }

// local is one name bound to a register in the current function. Local
// registers are never freed back to the allocator (see AllocFresh).
type local struct {
	name string
	reg  int
}

// blockScope is one nested block within a function; popping it only drops
// its names from visibility, and the registers it declared stay reserved
// (see popBlock).
type blockScope struct {
	parent *blockScope
	locals []local
}

// loopInfo tracks one open loop's pending break/continue jumps: both are
// only patched once the loop's NUMFOR/ITERFOR check instruction (continue
// target) and its fallthrough address (break target) are known, which
// happens only after the body has already been compiled.
type loopInfo struct {
	continueJumps []int
	breakJumps    []int
}

// fnState is one function body's code generation state; saved/restored
// around nested function/lambda compilation the way the teacher's compiler
// swaps `code`/`constants`/`allocator` for each FunctionStmt.
type fnState struct {
	parent    *fnState
	code      []bytecode.Instruction
	constants []value.Value
	debug     *bytecode.DebugMap
	allocator *RegisterAllocator
	scope     *blockScope
	loopStack []loopInfo
	upvalues  []value.UpvalueDesc
}

// Compiler turns one parsed Module into a value.ModuleObj tree.
type Compiler struct {
	fn     *fnState
	errors []error
}

func New() *Compiler { return &Compiler{} }

func (c *Compiler) errorf(format string, args ...interface{}) {
	c.errors = append(c.errors, fmt.Errorf(format, args...))
}

// Errors returns every compile error accumulated so far.
func (c *Compiler) Errors() []error { return c.errors }

// CompileModule compiles a parsed Module into a runtime ModuleObj whose
// Entry is the top-level statement sequence compiled as a zero-argument Fn.
func (c *Compiler) CompileModule(mod *parser.Module) (*value.ModuleObj, error) {
	entry := c.compileFunction(nil, nil, mod.Stmts, "<module>")

	m := &value.ModuleObj{
		Object:  value.Object{Tag: value.TagModule},
		Name:    mod.Name,
		Entry:   entry,
		Exports: value.NewTable(),
	}
	for _, imp := range mod.Imports {
		m.Imports = append(m.Imports, &value.ImportObj{
			Object: value.Object{Tag: value.TagImport},
			Name:   imp.Name,
			Type:   imp.Type,
		})
	}
	entry.Module = m

	if len(c.errors) > 0 {
		return nil, c.errors[0]
	}
	return m, nil
}

// compileFunction compiles one function body (module-level or nested) into
// a fresh value.FnObj, pushing a new fnState and restoring the parent's on
// return (mirrors the teacher's save/restore of code/constants/allocator).
func (c *Compiler) compileFunction(sig *types.Signature, params []ast.Param, body []ast.Stmt, name string) *value.FnObj {
	return c.compileClosureFunction(sig, params, body, name, nil)
}

// compileClosureFunction additionally seeds the new fnState's upvalue
// descriptor list from the resolver's capture chain (ast.UpvalueCapture),
// so LOADUP/STOREUP inside the body reference the upvalue index fixed at
// parse time. A capture of a parent local is pointed at that local's
// register in the parent, looked up by name here.
func (c *Compiler) compileClosureFunction(sig *types.Signature, params []ast.Param, body []ast.Stmt, name string, captures []ast.UpvalueCapture) *value.FnObj {
	parent := c.fn
	var upvalues []value.UpvalueDesc
	for _, cap := range captures {
		idx := cap.Index
		if cap.FromParentLocal {
			if reg, ok := c.resolveLocal(cap.Name); ok {
				idx = reg
			}
		}
		upvalues = append(upvalues, value.UpvalueDesc{
			IsLocal: cap.FromParentLocal,
			Index:   uint8(idx),
		})
	}
	c.fn = &fnState{
		parent:    parent,
		allocator: NewRegisterAllocator(),
		debug:     &bytecode.DebugMap{},
		scope:     &blockScope{},
		upvalues:  upvalues,
	}

	// Parameters occupy the first registers in arrival order; the VM's call
	// convention copies argv directly into registers 0..len(params).
	for _, p := range params {
		c.defineLocal(p.Name)
	}

	for _, stmt := range body {
		c.compileStmt(stmt)
	}
	c.emit(bytecode.ABC(bytecode.RETURN, 0, 1, 0))

	isMethod := sig != nil && sig.IsMethod
	fn := &value.FnObj{
		Object:    value.Object{Tag: value.TagFn},
		Name:      name,
		Sig:       sig,
		Constants: c.fn.constants,
		Code:      c.fn.code,
		StackSize: c.fn.allocator.maxReg,
		Upvalues:  c.fn.upvalues,
		Debug:     c.fn.debug,
		IsMethod:  isMethod,
	}

	c.fn = parent
	return fn
}

func (c *Compiler) emit(instr bytecode.Instruction) int {
	pos := len(c.fn.code)
	c.fn.code = append(c.fn.code, instr)
	return pos
}

func (c *Compiler) patchJump(pos int) {
	instr := c.fn.code[pos]
	op := instr.Op()
	target := len(c.fn.code)
	c.fn.code[pos] = bytecode.AsBx(op, instr.A(), int32(target-pos-1))
}

func (c *Compiler) addConstant(v value.Value) uint16 {
	for i, existing := range c.fn.constants {
		if value.Equal(existing, v) {
			return uint16(i)
		}
	}
	idx := len(c.fn.constants)
	c.fn.constants = append(c.fn.constants, v)
	return uint16(idx)
}

func (c *Compiler) addStringConstant(s string) uint16 { return c.addConstant(value.BoxString(s)) }

func (c *Compiler) addNumberConstant(n float64) uint16 { return c.addConstant(value.Number(n)) }

func (c *Compiler) addTypeConstant(t *types.Type) uint16 { return c.addConstant(value.BoxType(t)) }

func (c *Compiler) defineLocal(name string) int {
	reg := c.fn.allocator.AllocFresh()
	c.fn.allocator.Lock(reg)
	c.fn.scope.locals = append(c.fn.scope.locals, local{name: name, reg: reg})
	return reg
}

func (c *Compiler) resolveLocal(name string) (int, bool) {
	for blk := c.fn.scope; blk != nil; blk = blk.parent {
		for i := len(blk.locals) - 1; i >= 0; i-- {
			if blk.locals[i].name == name {
				return blk.locals[i].reg, true
			}
		}
	}
	return 0, false
}

func (c *Compiler) pushBlock() {
	c.fn.scope = &blockScope{parent: c.fn.scope}
}

// popBlock only drops the block's names from visibility; their registers
// stay reserved for the rest of the function (see AllocFresh) so an
// upvalue capture recorded against one stays valid for the function's
// whole lifetime.
func (c *Compiler) popBlock() {
	c.fn.scope = c.fn.scope.parent
}
