package omnicache

import "strconv"

// TimeTag identifies which variant of T a cache, and every T it accepts or
// returns, is tagged with. A cache is either float-timed or integer-timed
// for its whole lifetime; mixing tags across a single operation is a
// programmer error.
type TimeTag uint8

const (
	// TimeFloat marks a T holding a floating-point instant.
	TimeFloat TimeTag = iota
	// TimeInt marks a T holding an integer tick.
	TimeInt
)

func (tag TimeTag) String() string {
	switch tag {
	case TimeFloat:
		return "float"
	case TimeInt:
		return "int"
	default:
		return "unknown"
	}
}

// T is a tagged time scalar, carrying either a floating-point instant or an
// integer tick. All binary operators require both operands to share a tag;
// a mismatch is a programmer error (panic), never a recoverable error,
// matching the source's fatal-assertion behavior for this class of misuse.
type T struct {
	tag TimeTag
	f   float64
	u   uint32
}

// Float constructs a float-tagged T.
func Float(v float64) T { return T{tag: TimeFloat, f: v} }

// Int constructs an int-tagged T.
func Int(v uint32) T { return T{tag: TimeInt, u: v} }

// Tag reports which variant t holds.
func (t T) Tag() TimeTag { return t.tag }

func (t T) String() string {
	if t.tag == TimeFloat {
		return strconv.FormatFloat(t.f, 'g', -1, 64)
	}
	return strconv.FormatUint(uint64(t.u), 10)
}

// AsFloat32 converts t to a float32, regardless of tag.
func (t T) AsFloat32() float32 {
	if t.tag == TimeFloat {
		return float32(t.f)
	}
	return float32(t.u)
}

// AsUint32 converts t to a uint32, regardless of tag. Float values are
// truncated toward zero.
func (t T) AsUint32() uint32 {
	if t.tag == TimeFloat {
		return uint32(t.f)
	}
	return t.u
}

func (t T) requireSameTag(o T, op string) {
	if t.tag != o.tag {
		panicf("timeval: %s: mismatched time tags (%s vs %s)", op, t.tag, o.tag)
	}
}

// Add returns t+o. Panics if the operands' tags differ.
func (t T) Add(o T) T {
	t.requireSameTag(o, "add")
	if t.tag == TimeFloat {
		return Float(t.f + o.f)
	}
	return Int(t.u + o.u)
}

// Sub returns t-o. Panics if the operands' tags differ.
func (t T) Sub(o T) T {
	t.requireSameTag(o, "sub")
	if t.tag == TimeFloat {
		return Float(t.f - o.f)
	}
	return Int(t.u - o.u)
}

// Mul returns t*o. Panics if the operands' tags differ.
func (t T) Mul(o T) T {
	t.requireSameTag(o, "mul")
	if t.tag == TimeFloat {
		return Float(t.f * o.f)
	}
	return Int(t.u * o.u)
}

// Div returns t/o. Panics if the operands' tags differ, or if o is zero
// (division by zero is a programmer error, not a recoverable condition).
func (t T) Div(o T) T {
	t.requireSameTag(o, "div")
	if t.tag == TimeFloat {
		if o.f == 0 {
			panicf("timeval: div: division by zero")
		}
		return Float(t.f / o.f)
	}
	if o.u == 0 {
		panicf("timeval: div: division by zero")
	}
	return Int(t.u / o.u)
}

// Mod returns the truncated remainder of t/o, for both tags. Panics if the
// operands' tags differ, or if o is zero.
func (t T) Mod(o T) T {
	t.requireSameTag(o, "mod")
	if t.tag == TimeFloat {
		if o.f == 0 {
			panicf("timeval: mod: division by zero")
		}
		// truncated remainder, matching C's fmod semantics
		q := float64(int64(t.f / o.f))
		return Float(t.f - q*o.f)
	}
	if o.u == 0 {
		panicf("timeval: mod: division by zero")
	}
	return Int(t.u % o.u)
}

// Lt reports t < o. Panics if the operands' tags differ.
func (t T) Lt(o T) bool {
	t.requireSameTag(o, "lt")
	if t.tag == TimeFloat {
		return t.f < o.f
	}
	return t.u < o.u
}

// Le reports t <= o. Panics if the operands' tags differ.
func (t T) Le(o T) bool {
	t.requireSameTag(o, "le")
	if t.tag == TimeFloat {
		return t.f <= o.f
	}
	return t.u <= o.u
}

// Eq reports t == o. Panics if the operands' tags differ.
func (t T) Eq(o T) bool {
	t.requireSameTag(o, "eq")
	if t.tag == TimeFloat {
		return t.f == o.f
	}
	return t.u == o.u
}

// Ge reports t >= o. Panics if the operands' tags differ.
func (t T) Ge(o T) bool { return o.Le(t) }

// Gt reports t > o. Panics if the operands' tags differ.
func (t T) Gt(o T) bool { return o.Lt(t) }

// LtFloat reports t < v, treating v as a float literal regardless of t's
// tag (an int-tagged t is converted to float64 and compared with v; v is
// not truncated).
func (t T) LtFloat(v float64) bool {
	if t.tag == TimeFloat {
		return t.f < v
	}
	return float64(t.u) < v
}

// EqFloat reports t == v, per the same tag-transparent rule as LtFloat.
func (t T) EqFloat(v float64) bool {
	if t.tag == TimeFloat {
		return t.f == v
	}
	return float64(t.u) == v
}
