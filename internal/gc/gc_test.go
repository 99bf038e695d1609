package gc

import (
	"testing"

	"ember/internal/value"
)

type fakeRoots struct{ vs []value.Value }

func (f fakeRoots) GCRoots() []value.Value { return f.vs }

func TestCollectReclaimsUnreferencedTable(t *testing.T) {
	roots := &fakeRoots{}
	c := New(roots)

	kept := value.NewTable()
	c.Track(&kept.Object, 64)
	roots.vs = []value.Value{value.BoxTable(kept)}

	dropped := value.NewTable()
	c.Track(&dropped.Object, 64)

	before := c.Stats().BytesAllocated
	c.Collect()
	after := c.Stats().BytesAllocated

	if after >= before {
		t.Fatalf("expected bytes_allocated to shrink after collecting unreferenced table, got %d -> %d", before, after)
	}

	cur := c.head.Next
	found := false
	for cur != nil {
		if cur == &kept.Object {
			found = true
		}
		if cur == &dropped.Object {
			t.Fatalf("dropped table survived sweep")
		}
		cur = cur.Next
	}
	if !found {
		t.Fatalf("kept table did not survive sweep")
	}
}

func TestTempRootPinsDuringCollect(t *testing.T) {
	roots := &fakeRoots{}
	c := New(roots)

	pinned := value.NewTable()
	c.Track(&pinned.Object, 32)
	c.PinTemp(value.BoxTable(pinned))

	c.Collect()

	cur := c.head.Next
	found := false
	for cur != nil {
		if cur == &pinned.Object {
			found = true
		}
		cur = cur.Next
	}
	if !found {
		t.Fatalf("temp-pinned table was collected")
	}

	c.PopTemp()
}

func TestNextCycleGrowsByGrowthPct(t *testing.T) {
	roots := &fakeRoots{}
	c := New(roots)
	c.SetTuning(100, 200)

	tbl := value.NewTable()
	c.Track(&tbl.Object, 150)
	roots.vs = []value.Value{value.BoxTable(tbl)}

	c.Collect()
	if c.Stats().NextCycle != 300 {
		t.Fatalf("expected next_cycle = bytes_allocated * growth_pct/100 = 300, got %d", c.Stats().NextCycle)
	}
}
