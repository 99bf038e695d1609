package value

import "fmt"

// MetaNames are the interned meta-name strings (GLOSSARY: Meta-name) used
// as prototype keys to locate a metamethod (§4.G).
var MetaNames = struct {
	Add, Sub, Mul, Div, Lt, Lte, Eq, Neq, Format, Collect string
}{
	Add: "@add", Sub: "@sub", Mul: "@mul", Div: "@div",
	Lt: "@lt", Lte: "@lte", Eq: "@eq", Neq: "@neq",
	Format: "@format", Collect: "@collect",
}

// Get is the generic property-access dispatch (§4.A): Table does
// prototype-chained lookup, Array indexes numerically, Userdata resolves
// fields via its type (left to the vm package, which has the type
// registry); here we cover Table/Array/String, the cases requiring no
// type-registry context.
func Get(obj Value, key Value) (Value, bool) {
	switch TagOf(obj) {
	case TagTable:
		return AsTable(obj).Get(key)
	case TagArray:
		if IsNumber(key) {
			arr := AsArray(obj)
			idx := int(AsNumber(key))
			if idx >= 0 && idx < len(arr.Elems) {
				return arr.Elems[idx], true
			}
		}
	case TagString:
		if IsNumber(key) {
			s := AsString(obj)
			idx := int(AsNumber(key))
			if idx >= 0 && idx < len(s.Str) {
				return BoxString(string(s.Str[idx])), true
			}
		}
	case TagModule:
		return AsModule(obj).Exports.Get(key)
	}
	return Null(), false
}

// Set is the generic property-assignment dispatch, mirroring Get.
func Set(obj Value, key, val Value) bool {
	switch TagOf(obj) {
	case TagTable:
		AsTable(obj).Set(key, val)
		return true
	case TagArray:
		if IsNumber(key) {
			arr := AsArray(obj)
			idx := int(AsNumber(key))
			if idx >= 0 && idx < len(arr.Elems) {
				arr.Elems[idx] = val
				return true
			}
		}
	}
	return false
}

// ToString is the total function producing a display String (§4.A).
func ToString(v Value) string {
	switch {
	case IsNull(v):
		return "null"
	case IsBool(v):
		if AsBool(v) {
			return "true"
		}
		return "false"
	case IsNumber(v):
		n := AsNumber(v)
		if n == float64(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
		return fmt.Sprintf("%g", n)
	case IsEnum(v):
		return fmt.Sprintf("<enum %d>", AsEnum(v))
	}
	switch TagOf(v) {
	case TagString:
		return AsString(v).Str
	case TagArray:
		arr := AsArray(v)
		s := "["
		for i, e := range arr.Elems {
			if i > 0 {
				s += ", "
			}
			s += ToString(e)
		}
		return s + "]"
	case TagTable:
		t := AsTable(v)
		s := "{"
		i := 0
		t.pairs(func(_ int, p *Pair) bool {
			if i > 0 {
				s += ", "
			}
			s += ToString(p.Key) + ": " + ToString(p.Value)
			i++
			return true
		})
		return s + "}"
	case TagFn, TagClosure, TagNativeFn, TagMethod:
		return "<function>"
	case TagModule:
		return "<module " + AsModule(v).Name + ">"
	case TagUserdata:
		return "<userdata>"
	}
	return "<object>"
}
