package omnicache

import (
	"errors"
	"fmt"
)

var (
	// ErrTemplateMismatch is returned by Deserialize when the serialized
	// cache id does not match the supplied template's id.
	ErrTemplateMismatch = errors.New("omnicache: template id does not match serialized cache id")

	// ErrBlockNotInTemplate is returned when a block index recorded in a
	// serialized buffer has no corresponding entry in the supplied template.
	ErrBlockNotInTemplate = errors.New("omnicache: serialized block index not present in template")

	// ErrTruncatedBuffer is returned when a buffer passed to Deserialize is
	// too short to contain a valid cache_def, or too short for the number
	// of block descriptors it claims to have.
	ErrTruncatedBuffer = errors.New("omnicache: buffer too short")

	// ErrDataSerializationUnsupported is returned by Serialize/SerializeInto
	// when called with serializeData=true. Raw sample-data serialization is
	// a declared-but-unimplemented surface (spec open question); rather
	// than silently behaving as if false were passed, callers get an
	// explicit error.
	ErrDataSerializationUnsupported = errors.New("omnicache: serialize_data=true is not implemented")

	// ErrNameTooLong describes a block id longer than MaxName bytes. It is
	// not returned: template validation treats such an id as a programmer
	// error and includes this error's text in the panic it raises.
	ErrNameTooLong = errors.New("omnicache: id exceeds MaxName bytes")

	// ErrSelectionContainsSeparator describes a template block id that
	// contains the ';' token separator. Like ErrNameTooLong, it is not
	// returned; its text is part of the panic raised by template validation.
	ErrSelectionContainsSeparator = errors.New("omnicache: block id may not contain ';'")
)

// panicf raises a programmer error: a violation of a precondition the
// caller controls (mismatched time tags, division by zero, a required
// callback left nil, a callback replacing the buffer it was handed). These are
// never recoverable by the cache and are never returned as error values,
// per the taxonomy in the spec's error-handling design.
func panicf(format string, args ...any) {
	panic(fmt.Sprintf("omnicache: "+format, args...))
}
