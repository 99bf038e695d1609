package types

import "testing"

func TestSatisfierReflexivity(t *testing.T) {
	cases := []*Type{
		Number(), Bool(), Str(), Null(), Any(),
		Array(Number()),
		Union(Number(), Str()),
	}
	for _, tc := range cases {
		if !Satisfies(tc, tc) {
			t.Errorf("%s does not satisfy itself", tc)
		}
	}
}

func TestNullableIdempotence(t *testing.T) {
	n1 := MakeNullable(Number())
	n2 := MakeNullable(n1)
	if !Equal(n1, n2) {
		t.Fatalf("make_nullable not idempotent: %s vs %s", n1, n2)
	}
}

func TestUnionContainment(t *testing.T) {
	u := Union(Number(), Str(), Bool())
	for _, member := range []*Type{Number(), Str(), Bool()} {
		if !Satisfies(member, u) {
			t.Errorf("union %s does not satisfy for member %s", u, member)
		}
	}
}

func TestArrayDepth(t *testing.T) {
	a := Array(Number())
	b := Array(Number())
	if !Satisfies(a, b) {
		t.Fatal("[number] should satisfy [number]")
	}
	c := Array(Str())
	if Satisfies(a, c) {
		t.Fatal("[number] should not satisfy [string]")
	}
}

func TestSignatureContravariance(t *testing.T) {
	// fn(number):number should satisfy fn(any):number is WRONG direction;
	// check the actual rule: fn(A1..An):R1 satisfies fn(B1..Bn):R2 iff
	// each Bi satisfies Ai (contravariant) and R1 satisfies R2 (covariant).
	from := SignatureType(MakeSignature([]*Type{Any()}, Number()))
	to := SignatureType(MakeSignature([]*Type{Number()}, Number()))
	if !Satisfies(from, to) {
		t.Fatal("fn(any):number should satisfy fn(number):number (contravariant arg)")
	}
	if Satisfies(to, from) {
		t.Fatal("fn(number):number should not satisfy fn(any):number")
	}
}

func TestRemoveNullableSurvivor(t *testing.T) {
	n := MakeNullable(Str())
	r := RemoveNullable(n)
	if !Equal(r, Str()) {
		t.Fatalf("remove_nullable should yield string, got %s", r)
	}
}

func TestTableShapeSatisfiesSealedCardinality(t *testing.T) {
	small := &TableShape{Sealed: true, Final: true, Fields: []Field{{Name: "x", Type: Number()}}}
	big := &TableShape{Sealed: true, Final: true, Fields: []Field{{Name: "x", Type: Number()}, {Name: "y", Type: Number()}}}
	if Satisfies(TableShapeType(big), TableShapeType(small)) {
		t.Fatal("sealed shapes require equal cardinality")
	}
	unsealedSmall := &TableShape{Sealed: false, Fields: small.Fields}
	if !Satisfies(TableShapeType(big), TableShapeType(unsealedSmall)) {
		t.Fatal("unsealed target shape should accept a superset")
	}
}

func TestComposeOverlapConflict(t *testing.T) {
	a := &TableShape{Fields: []Field{{Name: "x", Type: Number()}}}
	b := &TableShape{Fields: []Field{{Name: "x", Type: Str()}}}
	if _, ok := Compose(a, b); ok {
		t.Fatal("composing conflicting field types should fail")
	}
	c := &TableShape{Fields: []Field{{Name: "y", Type: Bool()}}}
	merged, ok := Compose(a, c)
	if !ok || len(merged.Fields) != 2 {
		t.Fatalf("expected non-conflicting composition to merge, got %+v ok=%v", merged, ok)
	}
}
