package omnicache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestSample(numBlocks int) *sample {
	s := &sample{blocks: make([]blockInstance, numBlocks)}
	initBlocks(s, make([]BlockDescriptor, numBlocks), false)
	return s
}

// TestStatus_CounterInvariant is a direct property test for P1: after any
// sequence of block status transitions, numBlocksInvalid/numBlocksOutdated
// track exactly the number of blocks lacking valid/current.
func TestStatus_CounterInvariant(t *testing.T) {
	s := newTestSample(4)

	checkP1 := func() {
		invalid, outdated := 0, 0
		for i := range s.blocks {
			if !s.blocks[i].status.IsValid() {
				invalid++
			}
			if !s.blocks[i].status.IsCurrent() {
				outdated++
			}
		}
		assert.Equal(t, invalid, s.numBlocksInvalid)
		assert.Equal(t, outdated, s.numBlocksOutdated)
	}

	checkP1()
	setBlockCurrent(&s.blocks[0], s)
	checkP1()
	setBlockValid(&s.blocks[1], s)
	checkP1()
	clearBlockCurrent(&s.blocks[0], s)
	checkP1()
	clearBlockValid(&s.blocks[1], s)
	checkP1()
	// repeat transitions idempotently: counters must not move again.
	before := *s
	clearBlockCurrent(&s.blocks[0], s)
	assert.Equal(t, before.numBlocksInvalid, s.numBlocksInvalid)
	assert.Equal(t, before.numBlocksOutdated, s.numBlocksOutdated)
	checkP1()
}

func TestStatus_SetterLatticeMonotonicity(t *testing.T) {
	var cs CacheStatus
	setCacheCurrent(&cs)
	assert.True(t, cs.IsCurrent())
	assert.True(t, cs.IsValid())
	assert.True(t, cs.IsInitialized())

	clearCacheInitialized(&cs)
	assert.False(t, cs.IsInitialized())
	assert.False(t, cs.IsValid())
	assert.False(t, cs.IsCurrent())
}

func TestStatus_SampleValidCurrentPredicates(t *testing.T) {
	s := newTestSample(2)
	setSampleValid(&s.status)

	// P2: not yet SAMPLE_VALID, blocks still invalid.
	assert.False(t, sampleIsValid(s))

	setBlockValid(&s.blocks[0], s)
	setBlockValid(&s.blocks[1], s)
	assert.True(t, sampleIsValid(s))
	assert.False(t, sampleIsCurrent(s)) // current bit not set on sample yet

	setSampleCurrent(&s.status)
	setBlockCurrent(&s.blocks[0], s)
	setBlockCurrent(&s.blocks[1], s)
	assert.True(t, sampleIsCurrent(s))

	setSampleSkip(&s.status)
	assert.False(t, sampleIsValid(s), "skip forces SAMPLE_VALID false")
	assert.False(t, sampleIsCurrent(s))
}

func TestStatus_IdempotentSetStatus(t *testing.T) {
	s := newTestSample(1)
	setBlockCurrent(&s.blocks[0], s)
	snap1 := s.blocks[0]
	invalid1, outdated1 := s.numBlocksInvalid, s.numBlocksOutdated

	setBlockCurrent(&s.blocks[0], s) // P3: second call is a no-op

	assert.Equal(t, snap1, s.blocks[0])
	assert.Equal(t, invalid1, s.numBlocksInvalid)
	assert.Equal(t, outdated1, s.numBlocksOutdated)
}
