// Package gc implements the incremental tri-color mark-sweep collector
// described in spec §4.B.
//
// Grounded on original_source/bt_gc.c's grey-stack design (sentra's own
// vmregister has no real collector — it anchors every object in a Go slice
// and lets the host's GC reclaim once the process exits, which does not
// satisfy §8's "GC reclaims unreferenced tables" property). bt_gc.c's
// mark/sweep/root-enumeration shape is followed; `github.com/dustin/go-
// humanize` formats the byte-count stats this package exposes, matching
// the teacher's own fondness for humanized operational counters.
package gc

import (
	"unsafe"

	"github.com/dustin/go-humanize"

	"ember/internal/value"
)

// RootProvider supplies the collector's non-object roots: primitive type
// references, meta-name strings, the type registry, the prelude, the
// loaded-modules table, and — if a thread is active — its stack slots,
// call chain, and last-error string (§4.B step 1).
type RootProvider interface {
	GCRoots() []value.Value
}

// Collector is the grey-stack tri-color mark-and-sweep collector.
type Collector struct {
	head   *value.Object // sentinel heading the intrusive object list
	grey   []*value.Object
	temp   []value.Value // temporary-root stack, pins multi-step allocations
	paused bool

	bytesAllocated int64
	nextCycle      int64
	minSize        int64
	growthPct      int64
	maxCollect     int // 0 = unbounded

	roots RootProvider

	finalizers map[*value.Object]func(*value.UserdataObj)
}

const defaultMinSize = 1 << 20 // 1MiB floor, matches common Lua-derived defaults
const defaultGrowthPct = 150

func New(roots RootProvider) *Collector {
	sentinel := &value.Object{Tag: value.TagNone}
	return &Collector{
		head:       sentinel,
		minSize:    defaultMinSize,
		growthPct:  defaultGrowthPct,
		nextCycle:  defaultMinSize,
		roots:      roots,
		finalizers: make(map[*value.Object]func(*value.UserdataObj)),
	}
}

// SetTuning overrides min_size/growth_pct (spec §4.B state).
func (c *Collector) SetTuning(minSize, growthPct int64) {
	c.minSize = minSize
	c.growthPct = growthPct
	if c.nextCycle < minSize {
		c.nextCycle = minSize
	}
}

// Pause/Resume bracket sections that construct object graphs without fear
// of mid-construction collection (§4.B Cancellation/timing).
func (c *Collector) Pause()  { c.paused = true }
func (c *Collector) Resume() { c.paused = false }

// PinTemp pushes v onto the temporary-root stack to survive a multi-step
// allocation (§4.B write-barrier model, §9 Temporary-root pinning).
func (c *Collector) PinTemp(v value.Value) { c.temp = append(c.temp, v) }

// PopTemp pops the most recently pinned temporary root.
func (c *Collector) PopTemp() {
	if len(c.temp) > 0 {
		c.temp = c.temp[:len(c.temp)-1]
	}
}

// Track links a newly allocated object into the global list and accounts
// its size (§4.A make_<kind> -> central allocate()).
func (c *Collector) Track(o *value.Object, size int64) {
	o.Next = c.head.Next
	c.head.Next = o
	c.bytesAllocated += size
	if !c.paused && c.bytesAllocated >= c.nextCycle {
		c.Collect()
	}
}

// RegisterFinalizer records a userdata finalizer invoked during sweep
// before the underlying object is dropped (§4.B Finalizers).
func (c *Collector) RegisterFinalizer(o *value.Object, fn func(*value.UserdataObj)) {
	c.finalizers[o] = fn
}

// Stats is the introspection surface behind the host's gc()/mem_size ops.
type Stats struct {
	BytesAllocated int64
	NextCycle      int64
}

func (s Stats) String() string {
	return humanize.Bytes(uint64(s.BytesAllocated)) + " allocated, next cycle at " + humanize.Bytes(uint64(s.NextCycle))
}

func (c *Collector) Stats() Stats { return Stats{BytesAllocated: c.bytesAllocated, NextCycle: c.nextCycle} }

// Collect runs one full mark-sweep cycle (§4.B Algorithm). maxCollect
// bounds the sweep pass for incrementality when set via SetMaxCollect;
// zero means unbounded (a full stop-the-world pass, as §4.B's "no write
// barrier" model assumes between interpreter steps).
func (c *Collector) Collect() {
	if c.paused {
		return
	}
	c.mark()
	c.sweep()
	c.nextCycle = c.bytesAllocated * c.growthPct / 100
	if c.nextCycle < c.minSize {
		c.nextCycle = c.minSize
	}
}

func (c *Collector) SetMaxCollect(n int) { c.maxCollect = n }

func (c *Collector) mark() {
	c.grey = c.grey[:0]
	seed := func(v value.Value) {
		if o := objectOf(v); o != nil && !o.Marked {
			o.Marked = true
			c.grey = append(c.grey, o)
		}
	}
	if c.roots != nil {
		for _, r := range c.roots.GCRoots() {
			seed(r)
		}
	}
	for _, t := range c.temp {
		seed(t)
	}
	for len(c.grey) > 0 {
		o := c.grey[len(c.grey)-1]
		c.grey = c.grey[:len(c.grey)-1]
		blacken(o, seed)
	}
}

func (c *Collector) sweep() {
	prev := c.head
	cur := c.head.Next
	n := 0
	for cur != nil {
		next := cur.Next
		if cur.Marked {
			cur.Marked = false
			prev = cur
		} else {
			prev.Next = next
			c.destroy(cur)
		}
		cur = next
		n++
		if c.maxCollect > 0 && n >= c.maxCollect {
			break
		}
	}
}

func (c *Collector) destroy(o *value.Object) {
	if o.Tag == value.TagUserdata {
		if fn, ok := c.finalizers[o]; ok {
			fn((*value.UserdataObj)(unsafe.Pointer(o)))
			delete(c.finalizers, o)
		}
	}
	size := EstimateSize(o)
	c.bytesAllocated -= size
	if c.bytesAllocated < 0 {
		c.bytesAllocated = 0
	}
}

func objectOf(v value.Value) *value.Object {
	if !value.IsPtr(v) {
		return nil
	}
	return value.AsObject(v)
}

// blacken greys every value-pointer field of o (§4.B step 2): table pairs
// and prototype, array elements, function constants and module, closure
// function and upvalues, bound-method receiver and function, module entry,
// exports and imports, import values, annotation values. Strings, native
// functions, types and userdata are treated as leaves.
func blacken(o *value.Object, seed func(value.Value)) {
	switch o.Tag {
	case value.TagTable:
		t := (*value.TableObj)(unsafe.Pointer(o))
		t.Each(func(k, v value.Value) { seed(k); seed(v) })
		if t.Proto != nil {
			seed(value.BoxTable(t.Proto))
		}
	case value.TagArray:
		a := (*value.ArrayObj)(unsafe.Pointer(o))
		for _, e := range a.Elems {
			seed(e)
		}
	case value.TagFn:
		f := (*value.FnObj)(unsafe.Pointer(o))
		for _, k := range f.Constants {
			seed(k)
		}
		if f.Module != nil {
			seed(value.BoxModule(f.Module))
		}
	case value.TagClosure:
		cl := (*value.ClosureObj)(unsafe.Pointer(o))
		if cl.Fn != nil {
			seed(value.BoxFn(cl.Fn))
		}
		for _, u := range cl.Upvalues {
			if u != nil {
				seed(*u)
			}
		}
	case value.TagMethod:
		m := (*value.MethodObj)(unsafe.Pointer(o))
		seed(m.Receiver)
		seed(m.Fn)
	case value.TagModule:
		m := (*value.ModuleObj)(unsafe.Pointer(o))
		if m.Entry != nil {
			seed(value.BoxFn(m.Entry))
		}
		if m.Exports != nil {
			seed(value.BoxTable(m.Exports))
		}
		for _, imp := range m.Imports {
			seed(value.BoxImport(imp))
		}
	case value.TagImport:
		i := (*value.ImportObj)(unsafe.Pointer(o))
		seed(i.Val)
	case value.TagAnnotation:
		a := (*value.AnnotationObj)(unsafe.Pointer(o))
		for _, v := range a.Values {
			seed(v)
		}
		if a.Next != nil {
			seed(value.BoxAnnotation(a.Next))
		}
	case value.TagUserdata, value.TagString, value.TagNativeFn, value.TagType, value.TagNone:
		// leaf objects: no outgoing pointer fields to grey.
	}
}

// EstimateSize is a coarse per-kind accounting figure; exactness is not load
// bearing for the collector's correctness, only its cadence. Exported so
// callers constructing heap objects outside this package (the interpreter's
// opcode handlers) can account Track/destroy against the same figure.
func EstimateSize(o *value.Object) int64 {
	switch o.Tag {
	case value.TagString:
		return int64(len((*value.StringObj)(unsafe.Pointer(o)).Str)) + 32
	case value.TagArray:
		return int64(len((*value.ArrayObj)(unsafe.Pointer(o)).Elems))*8 + 32
	case value.TagTable:
		return int64((*value.TableObj)(unsafe.Pointer(o)).Len())*16 + 32
	default:
		return 48
	}
}
