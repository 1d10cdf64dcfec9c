package omnicache

import (
	"bytes"
	"encoding/binary"
	"math"
)

// cacheDefWire is the serializable projection of a Cache (spec §4.8,
// §6.3). Fixed-size fields only, little-endian, so binary.Write/Read can
// operate on it directly -- grounded on the original's omni_serial.c flat
// POD layout, adapted from C structs to a Go fixed-array struct the way
// this corpus's own flat-buffer code (see DESIGN.md: serial.go) encodes
// fixed layouts with encoding/binary rather than a schema-based codec.
type cacheDefWire struct {
	ID              [MaxName]byte
	TTag            uint8
	_               [3]byte // padding to keep uint32 fields 4-byte aligned
	Flags           uint32
	NumBlocks       uint32
	NumSamplesArray uint32
	NumSamplesTot   uint32
	MSize           uint32
	TInitial        uint64
	TFinal          uint64
	TStep           uint64
}

// blockDescriptorDefWire is the serializable projection of a
// BlockDescriptor. Callbacks are never serialized; they are re-bound from
// the template supplied to Deserialize (spec §4.8).
type blockDescriptorDefWire struct {
	ID    [MaxName]byte
	Index uint32
	DType uint8
	_     [3]byte
	DSize uint32
	Flags uint32
}

func idToWire(id string) [MaxName]byte {
	if len(id) > MaxName {
		panicf("serial: id %q exceeds MaxName bytes", id)
	}
	var out [MaxName]byte
	copy(out[:], id)
	return out
}

func wireToID(b [MaxName]byte) string {
	i := bytes.IndexByte(b[:], 0)
	if i < 0 {
		i = len(b)
	}
	return string(b[:i])
}

// encodeTime packs t's numeric payload into 8 bytes, independent of tag:
// float-tagged values store the IEEE-754 bit pattern of their float64, int-
// tagged values store their uint32 zero-extended to uint64.
func encodeTime(t T) uint64 {
	if t.Tag() == TimeFloat {
		return math.Float64bits(t.f)
	}
	return uint64(t.u)
}

func decodeTime(tag TimeTag, raw uint64) T {
	if tag == TimeFloat {
		return Float(math.Float64frombits(raw))
	}
	return Int(uint32(raw))
}

// SerialSize returns the number of bytes Serialize/SerializeInto will
// produce for c: sizeof(cache_def) + numBlocks*sizeof(block_descriptor_def)
// (spec §4.8).
func SerialSize(c *Cache) int {
	return binary.Size(cacheDefWire{}) + len(c.registry)*binary.Size(blockDescriptorDefWire{})
}

// Serialize encodes c's definition and block registry into a new buffer
// (spec §4.8, §6.3). serializeData must be false; raw sample-data
// serialization is not implemented (ErrDataSerializationUnsupported).
func Serialize(c *Cache, serializeData bool) ([]byte, error) {
	if serializeData {
		return nil, ErrDataSerializationUnsupported
	}
	buf := make([]byte, SerialSize(c))
	n, err := SerializeInto(buf, c, serializeData)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// SerializeInto encodes c into buf, which must be at least SerialSize(c)
// bytes, returning the number of bytes written.
func SerializeInto(buf []byte, c *Cache, serializeData bool) (int, error) {
	if serializeData {
		return 0, ErrDataSerializationUnsupported
	}
	size := SerialSize(c)
	if len(buf) < size {
		return 0, ErrTruncatedBuffer
	}

	def := cacheDefWire{
		ID:        idToWire(c.ID),
		TTag:      uint8(c.tag),
		Flags:     uint32(c.Flags),
		NumBlocks: uint32(len(c.registry)),
		MSize:     c.metaSize,
		TInitial:  encodeTime(c.rng.Initial),
		TFinal:    encodeTime(c.rng.Final),
		TStep:     encodeTime(c.rng.Step),
	}
	// when data serialization is off, the sample counters are zeroed in
	// the serialized image so a round-trip restores an empty cache (spec
	// §4.8).
	def.NumSamplesArray = 0
	def.NumSamplesTot = 0

	w := bytes.NewBuffer(buf[:0])
	if err := binary.Write(w, binary.LittleEndian, def); err != nil {
		return 0, err
	}
	for _, b := range c.registry {
		wire := blockDescriptorDefWire{
			ID:    idToWire(b.ID),
			Index: uint32(b.Index),
			DType: uint8(b.DType),
			DSize: b.ElementSize,
			Flags: uint32(b.Flags),
		}
		if err := binary.Write(w, binary.LittleEndian, wire); err != nil {
			return 0, err
		}
	}
	logDebug("serialized cache", "id", c.ID, "bytes", size)
	return size, nil
}

// Header is the template-free projection of a serialized cache_def,
// returned by DecodeHeader for inspection tooling (e.g. cmd/omnicachectl)
// that has no template, and therefore no callbacks, to bind.
type Header struct {
	ID                           string
	TimeTag                      TimeTag
	Initial, Final, Step         T
	Flags                        Flag
	NumBlocks                    uint32
	NumSamplesArray, NumSamplesTot uint32
	MetaSize                     uint32
}

// BlockHeader is the template-free projection of a serialized
// block_descriptor_def.
type BlockHeader struct {
	ID          string
	Index       int
	DType       DType
	ElementSize uint32
	Flags       BlockFlag
}

// DecodeHeader decodes a buffer produced by Serialize/SerializeInto without
// requiring a template, for read-only inspection. Unlike Deserialize, it
// performs no id-match check and binds no callbacks -- it cannot, since
// callbacks are never part of the serialized layout (spec §4.8).
func DecodeHeader(buf []byte) (Header, []BlockHeader, error) {
	minSize := binary.Size(cacheDefWire{})
	if len(buf) < minSize {
		return Header{}, nil, ErrTruncatedBuffer
	}

	var def cacheDefWire
	r := bytes.NewReader(buf)
	if err := binary.Read(r, binary.LittleEndian, &def); err != nil {
		return Header{}, nil, err
	}

	need := minSize + int(def.NumBlocks)*binary.Size(blockDescriptorDefWire{})
	if len(buf) < need {
		return Header{}, nil, ErrTruncatedBuffer
	}

	tag := TimeTag(def.TTag)
	header := Header{
		ID:              wireToID(def.ID),
		TimeTag:         tag,
		Initial:         decodeTime(tag, def.TInitial),
		Final:           decodeTime(tag, def.TFinal),
		Step:            decodeTime(tag, def.TStep),
		Flags:           Flag(def.Flags),
		NumBlocks:       def.NumBlocks,
		NumSamplesArray: def.NumSamplesArray,
		NumSamplesTot:   def.NumSamplesTot,
		MetaSize:        def.MSize,
	}

	blocks := make([]BlockHeader, 0, def.NumBlocks)
	for i := uint32(0); i < def.NumBlocks; i++ {
		var wire blockDescriptorDefWire
		if err := binary.Read(r, binary.LittleEndian, &wire); err != nil {
			return Header{}, nil, err
		}
		blocks = append(blocks, BlockHeader{
			ID:          wireToID(wire.ID),
			Index:       int(wire.Index),
			DType:       DType(wire.DType),
			ElementSize: wire.DSize,
			Flags:       BlockFlag(wire.Flags),
		})
	}
	return header, blocks, nil
}

// Deserialize decodes a buffer produced by Serialize/SerializeInto, binding
// callbacks from tpl (spec §4.8). It returns ErrTemplateMismatch if the
// serialized id does not match tpl.ID, and ErrBlockNotInTemplate if a
// stored block index has no corresponding template entry.
func Deserialize(buf []byte, tpl Template) (*Cache, error) {
	minSize := binary.Size(cacheDefWire{})
	if len(buf) < minSize {
		return nil, ErrTruncatedBuffer
	}

	var def cacheDefWire
	r := bytes.NewReader(buf)
	if err := binary.Read(r, binary.LittleEndian, &def); err != nil {
		return nil, err
	}

	id := wireToID(def.ID)
	if id != tpl.ID {
		return nil, ErrTemplateMismatch
	}

	need := minSize + int(def.NumBlocks)*binary.Size(blockDescriptorDefWire{})
	if len(buf) < need {
		return nil, ErrTruncatedBuffer
	}

	c := &Cache{
		ID:       id,
		tag:      TimeTag(def.TTag),
		Flags:    Flag(def.Flags),
		metaSize: def.MSize,
		metaGen:  tpl.MetaGen,
		rng: Range{
			Initial: decodeTime(TimeTag(def.TTag), def.TInitial),
			Final:   decodeTime(TimeTag(def.TTag), def.TFinal),
			Step:    decodeTime(TimeTag(def.TTag), def.TStep),
		},
	}
	setCacheCurrent(&c.status)

	registry := make([]BlockDescriptor, 0, def.NumBlocks)
	for i := uint32(0); i < def.NumBlocks; i++ {
		var wire blockDescriptorDefWire
		if err := binary.Read(r, binary.LittleEndian, &wire); err != nil {
			return nil, err
		}
		tplBlock, ok := tpl.blockByIndex(int(wire.Index))
		if !ok {
			return nil, ErrBlockNotInTemplate
		}
		registry = append(registry, BlockDescriptor{
			ID:          wireToID(wire.ID),
			Index:       int(wire.Index),
			DType:       DType(wire.DType),
			ElementSize: wire.DSize,
			Flags:       BlockFlag(wire.Flags),
			Count:       tplBlock.Count,
			Read:        tplBlock.Read,
			Write:       tplBlock.Write,
			Interp:      tplBlock.Interp,
		})
	}
	c.registry = registry
	// runtime counters start empty: store is zero-valued (numSamplesAlloc
	// == 0, no samples), regardless of what the serialized image recorded.
	logDebug("deserialized cache", "id", c.ID, "blocks", len(c.registry))
	return c, nil
}
