package omnicache

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func putU32(b []byte, v uint32)  { binary.LittleEndian.PutUint32(b, v) }
func getU32(b []byte) uint32     { return binary.LittleEndian.Uint32(b) }
func float32frombits(b uint32) float32 { return math.Float32frombits(b) }

// particle is a tiny fixed-shape record used as userData across the cache
// tests: one float3 position and one int id.
type particle struct {
	pos [3]float32
	id  uint32

	failWrite bool
	failRead  bool
}

func positionBlock() BlockDescriptor {
	return BlockDescriptor{
		ID: "position", Index: 0, DType: DTypeFloat3,
		Count: func(any) (int, error) { return 1, nil },
		Write: func(omni *OmniData, userData any) (bool, error) {
			p := userData.(*particle)
			if p.failWrite {
				return false, nil
			}
			for i, v := range p.pos {
				bits := float32bits(v)
				putU32(omni.Data[i*4:], bits)
			}
			return true, nil
		},
		Read: func(omni *OmniData, userData any) (bool, error) {
			p := userData.(*particle)
			if p.failRead {
				return false, nil
			}
			for i := range p.pos {
				p.pos[i] = float32frombits(getU32(omni.Data[i*4:]))
			}
			return true, nil
		},
	}
}

func idBlock() BlockDescriptor {
	return BlockDescriptor{
		ID: "id", Index: 1, DType: DTypeInt, Flags: BlockMandatory,
		Count: func(any) (int, error) { return 1, nil },
		Write: func(omni *OmniData, userData any) (bool, error) {
			p := userData.(*particle)
			putU32(omni.Data, p.id)
			return true, nil
		},
		Read: func(omni *OmniData, userData any) (bool, error) {
			p := userData.(*particle)
			p.id = getU32(omni.Data)
			return true, nil
		},
	}
}

func particleTemplate() Template {
	return Template{
		ID:  "particles",
		Tag: TimeInt,
		Range: Range{
			Initial: Int(0), Final: Int(1000), Step: Int(10),
		},
		Blocks: []BlockDescriptor{positionBlock(), idBlock()},
	}
}

func float32bits(f float32) uint32 { return math.Float32bits(f) }

// --- S1: round-trip write/read ---

func TestCache_S1_WriteThenReadRoundTrips(t *testing.T) {
	c := New(particleTemplate(), "position;id")
	p := &particle{pos: [3]float32{1, 2, 3}, id: 42}

	res, err := c.SampleWrite(Int(20), p)
	require.NoError(t, err)
	assert.Equal(t, WriteSuccess, res)

	out := &particle{}
	rres, err := c.SampleRead(Int(20), out)
	require.NoError(t, err)
	assert.Equal(t, ReadExact, rres, "a freshly-created, freshly-written cache is current throughout: no Outdated bit")
	assert.Equal(t, p.pos, out.pos)
	assert.Equal(t, p.id, out.id)
}

// --- S2: unwritten sample reads invalid / out-of-range write is invalid ---

func TestCache_S2_UnwrittenSampleReadsInvalid(t *testing.T) {
	c := New(particleTemplate(), "position;id")
	out := &particle{}
	res, err := c.SampleRead(Int(500), out)
	require.NoError(t, err)
	assert.True(t, res.IsInvalid())
}

func TestCache_S2_OutOfRangeWriteIsInvalid(t *testing.T) {
	c := New(particleTemplate(), "position;id")
	res, err := c.SampleWrite(Int(5000), &particle{})
	require.NoError(t, err)
	assert.Equal(t, WriteInvalid, res)
}

// --- S3: failed write marks the sample invalid, not current ---

func TestCache_S3_FailedWriteMarksSampleInvalid(t *testing.T) {
	c := New(particleTemplate(), "position;id")
	p := &particle{failWrite: true}

	res, err := c.SampleWrite(Int(30), p)
	require.NoError(t, err)
	assert.Equal(t, WriteFailed, res)
	assert.False(t, c.SampleIsValid(Int(30)))

	out := &particle{}
	rres, _ := c.SampleRead(Int(30), out)
	assert.True(t, rres.IsInvalid())
}

func TestCache_WriteCallbackError(t *testing.T) {
	tpl := particleTemplate()
	boom := errors.New("boom")
	tpl.Blocks[0].Write = func(*OmniData, any) (bool, error) { return false, boom }
	c := New(tpl, "position;id")

	res, err := c.SampleWrite(Int(10), &particle{})
	assert.Equal(t, WriteFailed, res)
	assert.ErrorIs(t, err, boom)
}

// --- S4: sample_mark_outdated / sample_mark_invalid propagate through SampleRead ---

func TestCache_S4_MarkOutdatedSurfacesOnRead(t *testing.T) {
	c := New(particleTemplate(), "position;id")
	p := &particle{pos: [3]float32{1, 2, 3}, id: 1}
	_, err := c.SampleWrite(Int(10), p)
	require.NoError(t, err)

	c.SampleMarkOutdated(Int(10))
	assert.False(t, c.SampleIsCurrent(Int(10)))
	assert.True(t, c.SampleIsValid(Int(10)))

	out := &particle{}
	res, err := c.SampleRead(Int(10), out)
	require.NoError(t, err)
	assert.True(t, res&ReadOutdated != 0)
	assert.False(t, res.IsInvalid())
}

func TestCache_S4_MarkInvalidSurfacesOnRead(t *testing.T) {
	c := New(particleTemplate(), "position;id")
	_, err := c.SampleWrite(Int(10), &particle{id: 1})
	require.NoError(t, err)

	c.SampleMarkInvalid(Int(10))
	assert.False(t, c.SampleIsValid(Int(10)))

	out := &particle{}
	res, _ := c.SampleRead(Int(10), out)
	assert.True(t, res.IsInvalid())
}

// --- S5: clear_from truncates the future, leaves the past ---

func TestCache_S5_ClearFromTruncatesFutureOnly(t *testing.T) {
	c := New(particleTemplate(), "position;id")
	for _, tk := range []uint32{10, 20, 25, 30} {
		_, err := c.SampleWrite(Int(tk), &particle{id: tk})
		require.NoError(t, err)
	}
	require.Equal(t, uint32(4), c.GetNumCached())

	c.SampleClearFrom(Int(20))

	assert.True(t, c.SampleIsValid(Int(10)), "past survives")
	assert.False(t, c.SampleIsValid(Int(20)))
	assert.False(t, c.SampleIsValid(Int(25)))
	assert.False(t, c.SampleIsValid(Int(30)))
	assert.Equal(t, uint32(1), c.GetNumCached())
}

func TestCache_S5_MarkOutdatedFromLeavesChainIntact(t *testing.T) {
	c := New(particleTemplate(), "position;id")
	for _, tk := range []uint32{10, 22, 28, 30} {
		_, err := c.SampleWrite(Int(tk), &particle{id: tk})
		require.NoError(t, err)
	}

	c.SampleMarkOutdatedFrom(Int(22))

	assert.True(t, c.SampleIsCurrent(Int(10)))
	assert.False(t, c.SampleIsCurrent(Int(22)))
	assert.False(t, c.SampleIsCurrent(Int(28)))
	assert.False(t, c.SampleIsCurrent(Int(30)))
	// chain structure must be untouched: all four samples still valid/findable.
	assert.Equal(t, uint32(4), c.GetNumCached())
	for _, tk := range []uint32{10, 22, 28, 30} {
		assert.True(t, c.SampleIsValid(Int(tk)))
	}
}

func TestCache_MarkInvalidFromFallsThroughToNextSample(t *testing.T) {
	c := New(particleTemplate(), "position;id")
	_, err := c.SampleWrite(Int(20), &particle{})
	require.NoError(t, err)
	_, err = c.SampleWrite(Int(30), &particle{})
	require.NoError(t, err)

	// t=25 has no sample; markFrom must fall through to the next one (30).
	c.SampleMarkInvalidFrom(Int(25))

	assert.True(t, c.SampleIsValid(Int(20)))
	assert.False(t, c.SampleIsValid(Int(30)))
}

// --- S6: serialization round-trip (index only, not data) ---

func TestCache_S6_SerializeDeserializeRoundTrip(t *testing.T) {
	tpl := particleTemplate()
	c := New(tpl, "position;id")
	_, err := c.SampleWrite(Int(10), &particle{pos: [3]float32{1, 2, 3}, id: 9})
	require.NoError(t, err)

	buf, err := Serialize(c, false)
	require.NoError(t, err)
	assert.Equal(t, SerialSize(c), len(buf))

	restored, err := Deserialize(buf, tpl)
	require.NoError(t, err)
	assert.Equal(t, c.ID, restored.ID)
	assert.Equal(t, c.rng, restored.rng)
	assert.Len(t, restored.registry, len(c.registry))
	assert.Equal(t, uint32(0), restored.GetNumCached(), "sample data is never part of the wire format")
}

func TestCache_SerializeDataTrueIsUnsupported(t *testing.T) {
	c := New(particleTemplate(), "position;id")
	_, err := Serialize(c, true)
	assert.ErrorIs(t, err, ErrDataSerializationUnsupported)
}

func TestCache_DeserializeTemplateMismatch(t *testing.T) {
	tpl := particleTemplate()
	c := New(tpl, "position;id")
	buf, err := Serialize(c, false)
	require.NoError(t, err)

	other := tpl
	other.ID = "not-particles"
	_, err = Deserialize(buf, other)
	assert.ErrorIs(t, err, ErrTemplateMismatch)
}

func TestCache_DecodeHeaderNeedsNoTemplate(t *testing.T) {
	c := New(particleTemplate(), "position;id")
	_, err := c.SampleWrite(Int(10), &particle{id: 7})
	require.NoError(t, err)
	buf, err := Serialize(c, false)
	require.NoError(t, err)

	header, blocks, err := DecodeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, "particles", header.ID)
	assert.Len(t, blocks, 2)
}

// --- Consolidate ---

func TestCache_ConsolidateFreeInvalid(t *testing.T) {
	c := New(particleTemplate(), "position;id")
	_, err := c.SampleWrite(Int(10), &particle{id: 1})
	require.NoError(t, err)
	_, err = c.SampleWrite(Int(20), &particle{failWrite: true})
	require.NoError(t, err)
	require.Equal(t, uint32(2), c.GetNumCached())

	c.Consolidate(ConsolidateFreeInvalid)
	assert.Equal(t, uint32(1), c.GetNumCached())
	assert.True(t, c.SampleIsValid(Int(10)))
}

func TestCache_ConsolidateMarkSetsCacheCurrent(t *testing.T) {
	c := New(particleTemplate(), "position;id")
	c.MarkOutdated()
	assert.False(t, c.IsCurrent())

	c.Consolidate(ConsolidateMark)
	assert.True(t, c.IsCurrent())
}

// --- Duplicate ---

func TestCache_DuplicateWithoutDataStartsEmpty(t *testing.T) {
	c := New(particleTemplate(), "position;id")
	_, err := c.SampleWrite(Int(10), &particle{id: 1})
	require.NoError(t, err)

	dup := c.Duplicate(false)
	assert.Equal(t, uint32(0), dup.GetNumCached())
	assert.Equal(t, c.ID, dup.ID)
}

func TestCache_DuplicateWithDataDeepCopiesChain(t *testing.T) {
	c := New(particleTemplate(), "position;id")
	_, err := c.SampleWrite(Int(10), &particle{pos: [3]float32{1, 2, 3}, id: 1})
	require.NoError(t, err)
	_, err = c.SampleWrite(Int(15), &particle{pos: [3]float32{4, 5, 6}, id: 2})
	require.NoError(t, err)

	dup := c.Duplicate(true)
	require.Equal(t, c.GetNumCached(), dup.GetNumCached())

	out := &particle{}
	_, err = dup.SampleRead(Int(15), out)
	require.NoError(t, err)
	assert.Equal(t, [3]float32{4, 5, 6}, out.pos)
	assert.Equal(t, uint32(2), out.id)

	// mutating the duplicate must not affect the original (deep copy).
	dup.SampleMarkInvalid(Int(10))
	assert.True(t, c.SampleIsValid(Int(10)))
}

// --- BlocksAdd / BlocksRemove / BlockAddByIndex / BlockRemoveByIndex ---

func TestCache_BlocksAddRemoveResetsSamples(t *testing.T) {
	tpl := particleTemplate()
	c := New(tpl, "id")
	_, err := c.SampleWrite(Int(10), &particle{id: 1})
	require.NoError(t, err)
	require.Equal(t, uint32(1), c.GetNumCached())

	c.BlocksAdd(tpl, "position")
	assert.Equal(t, uint32(0), c.GetNumCached(), "registry change discards samples")
	_, idx := sliceIndexByID(c.registry, "position")
	assert.GreaterOrEqual(t, idx, 0)

	_, err = c.SampleWrite(Int(10), &particle{id: 1})
	require.NoError(t, err)
	c.BlocksRemove("position")
	assert.Equal(t, uint32(0), c.GetNumCached())
	_, idx = sliceIndexByID(c.registry, "position")
	assert.Equal(t, -1, idx)
}

func TestCache_BlocksRemoveIgnoresMandatory(t *testing.T) {
	c := New(particleTemplate(), "position;id")
	c.BlocksRemove("id") // id is Mandatory, but remove does not consult it
	_, idx := sliceIndexByID(c.registry, "id")
	assert.Equal(t, -1, idx)
}

func TestCache_BlockRemoveByIndexIgnoresMandatory(t *testing.T) {
	c := New(particleTemplate(), "position;id")
	c.BlockRemoveByIndex(1) // id, mandatory
	_, idx := sliceIndexByID(c.registry, "id")
	assert.Equal(t, -1, idx)
}

// --- SetRange ---

func TestCache_SetRangeDiscardsSamplesOnlyWhenChanged(t *testing.T) {
	c := New(particleTemplate(), "position;id")
	_, err := c.SampleWrite(Int(10), &particle{id: 1})
	require.NoError(t, err)

	c.SetRange(c.GetRange())
	assert.Equal(t, uint32(1), c.GetNumCached(), "identical range is a no-op")

	c.SetRange(Range{Initial: Int(0), Final: Int(2000), Step: Int(10)})
	assert.Equal(t, uint32(0), c.GetNumCached(), "changed range discards samples")
}

// --- tag mismatch is a programmer error ---

func TestCache_WrongTimeTagPanics(t *testing.T) {
	c := New(particleTemplate(), "position;id")
	assert.Panics(t, func() {
		_, _ = c.SampleWrite(Float(1), &particle{})
	})
}
