package types

import (
	"testing"

	"github.com/kr/pretty"
)

// assertEqualTypes fails with a structural diff (kr/pretty, the same
// diffing style larger services in the pack reach for over plain %+v dumps)
// when two types aren't Equal.
func assertEqualTypes(t *testing.T, got, want *Type, msg string) {
	t.Helper()
	if !Equal(got, want) {
		t.Fatalf("%s:\n%v", msg, pretty.Diff(got, want))
	}
}

// TestInvariantSatisfierReflexivity: every type satisfies itself.
func TestInvariantSatisfierReflexivity(t *testing.T) {
	for _, ty := range []*Type{Number(), Bool(), Str(), Null(), Any(), Array(Number())} {
		if !Satisfies(ty, ty) {
			t.Fatalf("%s does not satisfy itself", ty)
		}
	}
}

// TestInvariantNullableIdempotence: make_nullable(make_nullable(T)) = make_nullable(T).
func TestInvariantNullableIdempotence(t *testing.T) {
	once := MakeNullable(Number())
	twice := MakeNullable(once)
	assertEqualTypes(t, twice, once, "double-nullable did not collapse to single-nullable")
}

// TestInvariantUnionContainment: if T is a variant of union U, a value of
// type T satisfies U.
func TestInvariantUnionContainment(t *testing.T) {
	u := Union(Number(), Str())
	if !Satisfies(Number(), u) {
		t.Fatalf("Number does not satisfy union %s despite being a variant", u)
	}
	if !Satisfies(Str(), u) {
		t.Fatalf("Str does not satisfy union %s despite being a variant", u)
	}
}

// TestInvariantArrayDepth: for A=[T], B=[T], A satisfies B iff T satisfies
// T (always true for any T, since Satisfies is reflexive).
func TestInvariantArrayDepth(t *testing.T) {
	a := Array(Number())
	b := Array(Number())
	if !Satisfies(a, b) {
		t.Fatalf("%s does not satisfy %s despite equal element types", a, b)
	}
}

// TestInvariantSignatureContravariance: fn(A1..An):R1 satisfies
// fn(B1..Bn):R2 iff each Bi satisfies Ai and R1 satisfies R2 (argument
// types contravariant, return type covariant).
func TestInvariantSignatureContravariance(t *testing.T) {
	wide := Union(Number(), Str())
	from := SignatureType(MakeSignature([]*Type{wide}, Number()))
	to := SignatureType(MakeSignature([]*Type{Number()}, Union(Number(), Null())))

	if !Satisfies(from, to) {
		t.Fatalf("fn(%s):number does not satisfy fn(number):%s", wide, to.Sig.Return)
	}

	narrow := SignatureType(MakeSignature([]*Type{Number()}, Number()))
	broadArg := SignatureType(MakeSignature([]*Type{wide}, Number()))
	if Satisfies(narrow, broadArg) {
		t.Fatalf("fn(number):number wrongly satisfies fn(%s):number", wide)
	}
}
