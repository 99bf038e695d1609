package parser

import (
	"ember/internal/ast"
	"ember/internal/types"
)

// binding is one name bound in a block: a local slot or a parameter.
type binding struct {
	name  string
	typ   *types.Type
	slot  int
	isVar bool
}

// funcScope tracks one function body's nested blocks and the upvalues it
// has already recorded, per §4.E's six-step identifier resolution order:
// local in the innermost-to-outermost block chain of *this* function, then
// an already-recorded upvalue, then a capture across a function boundary,
// then the import list, then the prelude, then a resolution error.
type funcScope struct {
	parent       *funcScope
	blocks       [][]binding
	upvalues     []ast.UpvalueCapture
	upvalueTypes []*types.Type
	nextSlot     int
}

func newFuncScope(parent *funcScope) *funcScope {
	return &funcScope{parent: parent, blocks: [][]binding{{}}}
}

func (f *funcScope) pushBlock() { f.blocks = append(f.blocks, []binding{}) }

func (f *funcScope) popBlock() int {
	n := len(f.blocks[len(f.blocks)-1])
	f.blocks = f.blocks[:len(f.blocks)-1]
	return n
}

func (f *funcScope) declare(name string, typ *types.Type, isVar bool) int {
	slot := f.nextSlot
	f.nextSlot++
	top := len(f.blocks) - 1
	f.blocks[top] = append(f.blocks[top], binding{name: name, typ: typ, slot: slot, isVar: isVar})
	return slot
}

// findLocal searches this function's own blocks, innermost first.
func (f *funcScope) findLocal(name string) (binding, bool) {
	for i := len(f.blocks) - 1; i >= 0; i-- {
		blk := f.blocks[i]
		for j := len(blk) - 1; j >= 0; j-- {
			if blk[j].name == name {
				return blk[j], true
			}
		}
	}
	return binding{}, false
}

// findUpvalue searches this function's already-recorded upvalue list.
func (f *funcScope) findUpvalue(name string) (int, *types.Type, bool) {
	for i, u := range f.upvalues {
		if u.Name == name {
			return i, f.upvalueTypes[i], true
		}
	}
	return 0, nil, false
}

// resolveAcrossBoundary implements the cross-function-boundary capture
// step: walk up the funcScope chain looking for a local, threading an
// UpvalueCapture through every intermediate function so a capture two or
// more levels deep is expressed as a chain of single-hop captures (the
// same scheme sentra's own closure lowering uses, generalized here since
// the teacher has no static parse-time resolver to copy this step from
// directly).
func (f *funcScope) resolveAcrossBoundary(name string) (int, *types.Type, bool) {
	if f.parent == nil {
		return 0, nil, false
	}
	if b, ok := f.parent.findLocal(name); ok {
		idx := f.addUpvalue(ast.UpvalueCapture{Name: name, FromParentLocal: true, Index: b.slot}, b.typ)
		return idx, b.typ, true
	}
	if idx, typ, ok := f.parent.findUpvalue(name); ok {
		nidx := f.addUpvalue(ast.UpvalueCapture{Name: name, FromParentLocal: false, Index: idx}, typ)
		return nidx, typ, true
	}
	if idx, typ, ok := f.parent.resolveAcrossBoundary(name); ok {
		nidx := f.addUpvalue(ast.UpvalueCapture{Name: name, FromParentLocal: false, Index: idx}, typ)
		return nidx, typ, true
	}
	return 0, nil, false
}

func (f *funcScope) addUpvalue(c ast.UpvalueCapture, typ *types.Type) int {
	f.upvalues = append(f.upvalues, c)
	f.upvalueTypes = append(f.upvalueTypes, typ)
	return len(f.upvalues) - 1
}
