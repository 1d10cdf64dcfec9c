package omnicache

import (
	"strings"

	"golang.org/x/exp/slices"
)

// MaxName is the maximum length, in bytes, of a cache or block id, and the
// fixed width of the null-padded id field in the serialized layout (§6.3).
const MaxName = 64

// DType enumerates the built-in block data types. Non-generic types have a
// fixed element size looked up via dtypeElementSize; Generic carries a
// user-supplied size instead, and Meta's table entry is 0.
type DType uint8

const (
	DTypeGeneric DType = iota
	DTypeMeta
	DTypeFloat
	DTypeFloat3
	DTypeInt
	DTypeInt3
	DTypeMat3
	DTypeMat4
	DTypeRef
	DTypeTRef
)

// dtypeElementSize is OMNI_DATA_TYPE_SIZE (§6.3): bytes per element for each
// non-generic dtype. Generic is user-supplied (0 here: elementSize does not
// look it up); Meta resolves to its entry here, 0.
var dtypeElementSize = map[DType]uint32{
	DTypeGeneric: 0,
	DTypeMeta:    0,
	DTypeFloat:   4,
	DTypeFloat3:  12,
	DTypeInt:     4,
	DTypeInt3:    12,
	DTypeMat3:    36,
	DTypeMat4:    64,
	DTypeRef:     4,
	DTypeTRef:    4 + MaxName,
}

// BlockFlag is a bitmask of per-block-descriptor flags.
type BlockFlag uint32

const (
	// BlockContinuous marks a block whose element count is expected to
	// vary smoothly between adjacent samples (advisory; not enforced).
	BlockContinuous BlockFlag = 1 << iota
	// BlockConstCount marks a block whose Counter callback is expected to
	// return the same value across every sample. The engine may check
	// this in debug mode (SPEC_FULL.md §10) but does not enforce it.
	BlockConstCount
	// BlockMandatory marks a block that is always included in the
	// registry, regardless of the selection string.
	BlockMandatory
)

// Flag is a bitmask of cache-level flags.
type Flag uint32

const (
	// FlagFramed marks a cache whose samples are understood by the host to
	// represent discrete frames rather than continuous sub-steps.
	FlagFramed Flag = 1 << iota
	// FlagInterpAny marks a cache that permits interpolation between any
	// two samples. Reserved: the engine does not interpolate (§9).
	FlagInterpAny
	// FlagInterpSub marks a cache that permits interpolation only between
	// sub-samples of the same root. Reserved: see FlagInterpAny.
	FlagInterpSub
)

// Counter returns the element count for a block, for the sample currently
// being written. Must be pure in userData and return a value >= 0.
type Counter func(userData any) (int, error)

// OmniData exposes a block's shape and backing buffer to Writer/Reader
// callbacks. Callbacks must not reallocate or reassign Data; doing so is a
// programmer error, detected by pointer-identity comparison after the call.
type OmniData struct {
	DType       DType
	ElementSize uint32
	Count       int
	Data        []byte
}

// Writer fills omni.Data from userData. Returns false on unrecoverable
// failure; must not reallocate omni.Data.
type Writer func(omni *OmniData, userData any) (bool, error)

// Reader fills userData from omni.Data. Returns false on failure.
type Reader func(omni *OmniData, userData any) (bool, error)

// InterpData is the argument to Interpolator. Reserved: the engine never
// invokes Interpolator today (spec §4.1/§9); hosts may leave it nil.
type InterpData struct {
	Target       *OmniData
	Prev, Next   *OmniData
	TTarget      T
	TPrev, TNext T
}

// Interpolator is reserved for future use; never invoked by this version of
// the engine. See SPEC_FULL.md §8.
type Interpolator func(data *InterpData) (bool, error)

// MetaGenerator populates a cache's per-sample meta buffer (out), sized
// Template.MetaSize bytes, from userData.
type MetaGenerator func(userData any, out []byte) (bool, error)

// BlockDescriptor describes one named field of per-sample data. Immutable
// for the lifetime of a cache's block registry; registries are replaced
// wholesale, never mutated in place (spec §4.3).
type BlockDescriptor struct {
	ID          string
	Index       int
	DType       DType
	ElementSize uint32
	Flags       BlockFlag

	Count  Counter
	Read   Reader
	Write  Writer
	Interp Interpolator
}

func (d BlockDescriptor) Mandatory() bool { return d.Flags&BlockMandatory != 0 }

func (dt DType) String() string {
	switch dt {
	case DTypeGeneric:
		return "generic"
	case DTypeMeta:
		return "meta"
	case DTypeFloat:
		return "float"
	case DTypeFloat3:
		return "float3"
	case DTypeInt:
		return "int"
	case DTypeInt3:
		return "int3"
	case DTypeMat3:
		return "mat3"
	case DTypeMat4:
		return "mat4"
	case DTypeRef:
		return "ref"
	case DTypeTRef:
		return "tref"
	default:
		return "unknown"
	}
}

// validate checks the required-callback invariant (spec §7.1: an absent
// required callback is a programmer error) and the id-length/separator
// constraints (§6.3).
func (d BlockDescriptor) validate() {
	if len(d.ID) > MaxName {
		panicf("template: block %q: %v", d.ID, ErrNameTooLong)
	}
	if strings.Contains(d.ID, ";") {
		panicf("template: block %q: %v", d.ID, ErrSelectionContainsSeparator)
	}
	if d.Count == nil || d.Read == nil || d.Write == nil {
		panicf("template: block %q: count/read/write callbacks are required", d.ID)
	}
}

// elementSize resolves the effective element size: the fixed table value
// for non-generic dtypes, or the descriptor's own ElementSize for Generic.
func (d BlockDescriptor) elementSize() uint32 {
	if d.DType == DTypeGeneric {
		return d.ElementSize
	}
	return dtypeElementSize[d.DType]
}

// Template is the immutable blueprint a cache is created, reconfigured, or
// deserialized from. It owns no cache state; one Template value may back
// any number of Cache instances (spec §4.3).
type Template struct {
	ID    string
	Tag   TimeTag
	Range Range

	Flags Flag

	MetaSize uint32
	MetaGen  MetaGenerator

	Blocks []BlockDescriptor
}

// Range is a cache's time-domain triple.
type Range struct {
	Initial T
	Final   T
	Step    T
}

// blockByIndex returns the template block whose Index field matches i, used
// to re-bind callbacks on deserialization (spec §4.8).
func (tpl Template) blockByIndex(i int) (BlockDescriptor, bool) {
	for _, b := range tpl.Blocks {
		if b.Index == i {
			return b, true
		}
	}
	return BlockDescriptor{}, false
}

// blockByID returns the template block with the given id.
func (tpl Template) blockByID(id string) (BlockDescriptor, bool) {
	for _, b := range tpl.Blocks {
		if b.ID == id {
			return b, true
		}
	}
	return BlockDescriptor{}, false
}

// parseSelection implements the block-selection language (spec §4.3): a
// block is included if it is Mandatory, or its id appears as a token in the
// semicolon-separated selection string. The parser scans token by token,
// matching each template id character-for-character up to the first ';' or
// end of string; partial matches do not count. Unmatched tokens are
// ignored, matching the source's "ignore" behavior for unmatched tokens
// (design note: selection-string language).
func parseSelection(tpl Template, selection string) map[string]bool {
	tokens := map[string]bool{}
	for _, tok := range strings.Split(selection, ";") {
		if tok != "" {
			tokens[tok] = true
		}
	}

	included := make(map[string]bool, len(tpl.Blocks))
	for _, b := range tpl.Blocks {
		if b.Mandatory() || tokens[b.ID] {
			included[b.ID] = true
		}
	}
	return included
}

// buildRegistry constructs an ordered block-descriptor slice from tpl,
// preserving template order, containing exactly the blocks named in
// included.
func buildRegistry(tpl Template, included map[string]bool) []BlockDescriptor {
	out := make([]BlockDescriptor, 0, len(included))
	for _, b := range tpl.Blocks {
		if included[b.ID] {
			b.validate()
			b.ElementSize = b.elementSize()
			out = append(out, b)
		}
	}
	return out
}

// currentSelection returns the set of block ids currently present in reg.
func currentSelection(reg []BlockDescriptor) map[string]bool {
	m := make(map[string]bool, len(reg))
	for _, b := range reg {
		m[b.ID] = true
	}
	return m
}

// sortedIDs is a small helper returning block ids in a stable order; grounded on catrate/rates.go's use of
// golang.org/x/exp/slices.Sort for stable, dependency-ordered output.
func sortedIDs(reg []BlockDescriptor) []string {
	ids := make([]string, len(reg))
	for i, b := range reg {
		ids[i] = b.ID
	}
	slices.Sort(ids)
	return ids
}
