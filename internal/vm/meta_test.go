package vm

import (
	"testing"

	"ember/internal/value"
)

// TestTryMetaAdd exercises the @add metamethod dispatch path directly
// (execArith's generic fallback goes through the same tryMeta call): a
// table whose prototype-position entry "@add" is bound to a native
// function computing a component-wise sum, invoked the way ADD falls back
// to it when both operands are non-numeric tables.
func TestTryMetaAdd(t *testing.T) {
	thread := NewThread(nil)

	addFn := func(args []value.Value) (value.Value, error) {
		a := value.AsTable(args[0])
		b := value.AsTable(args[1])
		ax, _ := a.Get(value.BoxString("x"))
		ay, _ := a.Get(value.BoxString("y"))
		bx, _ := b.Get(value.BoxString("x"))
		by, _ := b.Get(value.BoxString("y"))
		sum := value.NewTable()
		sum.Set(value.BoxString("x"), value.Number(value.AsNumber(ax)+value.AsNumber(bx)))
		sum.Set(value.BoxString("y"), value.Number(value.AsNumber(ay)+value.AsNumber(by)))
		return value.BoxTable(sum), nil
	}

	lhs := value.NewTable()
	lhs.Set(value.BoxString("x"), value.Number(1))
	lhs.Set(value.BoxString("y"), value.Number(2))
	lhs.Set(value.BoxString(value.MetaNames.Add), value.BoxNativeFn(&value.NativeFnObj{
		Object: value.Object{Tag: value.TagNativeFn},
		Name:   "@add",
		Fn:     addFn,
	}))

	rhs := value.NewTable()
	rhs.Set(value.BoxString("x"), value.Number(3))
	rhs.Set(value.BoxString("y"), value.Number(4))

	result, ok, err := thread.tryMeta(value.MetaNames.Add, value.BoxTable(lhs), value.BoxTable(rhs))
	if err != nil {
		t.Fatalf("tryMeta returned error: %v", err)
	}
	if !ok {
		t.Fatalf("tryMeta reported no metamethod found")
	}

	sum := value.AsTable(result)
	cx, _ := sum.Get(value.BoxString("x"))
	cy, _ := sum.Get(value.BoxString("y"))
	if got := value.AsNumber(cx) + value.AsNumber(cy); got != 10 {
		t.Fatalf("c.x + c.y = %v, want 10", got)
	}
}

// TestTryMetaAbsent confirms a table with no matching meta-name entry is
// correctly reported as "no metamethod", the generic arithmetic path's
// signal to fall through to a runtime error instead of calling anything.
func TestTryMetaAbsent(t *testing.T) {
	thread := NewThread(nil)
	lhs := value.NewTable()
	lhs.Set(value.BoxString("x"), value.Number(1))

	_, ok, err := thread.tryMeta(value.MetaNames.Add, value.BoxTable(lhs), value.Number(2))
	if err != nil {
		t.Fatalf("tryMeta returned error: %v", err)
	}
	if ok {
		t.Fatalf("tryMeta reported a metamethod where none was set")
	}
}

// TestTryMetaNonTable confirms tryMeta never dereferences a non-table lhs.
func TestTryMetaNonTable(t *testing.T) {
	thread := NewThread(nil)
	_, ok, err := thread.tryMeta(value.MetaNames.Add, value.Number(1), value.Number(2))
	if err != nil {
		t.Fatalf("tryMeta returned error: %v", err)
	}
	if ok {
		t.Fatalf("tryMeta reported a metamethod for a number operand")
	}
}
