package omnicache

import "math"

// blockInstance is one block's per-sample state (spec §3, "Block
// instance"). The buffer is owned by the instance; reallocated only when a
// write reports a changed element count, freed when the owning sample is
// removed.
type blockInstance struct {
	status BlockStatus
	dcount int
	data   []byte
}

// sample is one cache entry, either a root (toffset zero) or a sub-sample
// linked from a root's chain. Because samples are heap-allocated and
// referenced only by pointer, growing the root array never invalidates an
// existing *sample -- unlike the source's address-based back-pointers
// (which require re-walking and re-parenting block instances after every
// realloc), no such pass is needed here (DESIGN.md: store.go, back-pointers
// design note).
type sample struct {
	status SampleStatus
	tindex uint32
	toffset T

	numBlocksInvalid  int
	numBlocksOutdated int

	meta   *blockInstance
	blocks []blockInstance

	// next is the following sub-sample in this root's chain, ordered by
	// strictly increasing toffset, or nil at the chain's tail.
	next *sample
}

// newPlaceholder returns a root-array slot that has never been written: it
// carries the skip bit and is otherwise inert (spec §3 lifecycle).
func newPlaceholder(tindex uint32) *sample {
	s := &sample{tindex: tindex}
	setSampleSkip(&s.status)
	setSampleInitialized(&s.status)
	return s
}

// initBlocks allocates s's block-instance array against reg/metaSize,
// marking every block (and the meta block, if any) initialized but neither
// valid nor current, and setting the counters to "everything invalid and
// outdated" (spec §4.4, block-instance initialization).
func initBlocks(s *sample, reg []BlockDescriptor, hasMeta bool) {
	s.blocks = make([]blockInstance, len(reg))
	for i := range s.blocks {
		initBlockStatus(&s.blocks[i])
	}
	s.numBlocksInvalid = len(reg)
	s.numBlocksOutdated = len(reg)
	if hasMeta {
		s.meta = &blockInstance{}
		initBlockStatus(s.meta)
	} else {
		s.meta = nil
	}
}

// promote turns a skip placeholder into a real sample: clears skip,
// (re)initializes its block instances, and sets initialized.
func promote(s *sample, reg []BlockDescriptor, hasMeta bool) {
	clearSampleSkip(&s.status)
	setSampleInitialized(&s.status)
	initBlocks(s, reg, hasMeta)
}

// coordinate is the (index, offset) pair a time t resolves to within a
// cache's time domain (spec §3, "Sample coordinate").
type coordinate struct {
	index  uint32
	offset T
}

// resolveCoordinate computes coord for t within rng, per spec §3:
// index = floor((t-t_initial)/t_step), offset = (t-t_initial) mod t_step.
// ok is false when t falls outside [t_initial, t_final].
func resolveCoordinate(rng Range, t T) (coord coordinate, ok bool) {
	if t.Lt(rng.Initial) || t.Gt(rng.Final) {
		return coordinate{}, false
	}
	delta := t.Sub(rng.Initial)
	offset := delta.Mod(rng.Step)
	idx := delta.Sub(offset).Div(rng.Step)
	return coordinate{index: idx.AsUint32(), offset: offset}, true
}

// nextPow2Floor32 returns the smallest power of two >= n, with a floor of
// 32, matching spec §4.4's root-array growth rule. Grounded on the
// teacher's ring buffer doubling strategy (catrate/ring.go's Insert,
// `make([]E, uint(len(x.s))<<1)`), adapted here to a one-shot "grow to at
// least n" computation rather than an amortized double-on-full policy,
// since the root array is index-addressed (never wraps) and the caller
// always knows the exact index it needs room for.
func nextPow2Floor32(n uint32) uint32 {
	if n <= 32 {
		return 32
	}
	return uint32(1) << uint(math.Ceil(math.Log2(float64(n))))
}

// sampleStore is the time-indexed storage backing a Cache: a growable root
// array plus per-root sub-sample chains (spec §3 C4, "Sample store").
type sampleStore struct {
	roots           []*sample
	numSamplesArray uint32 // materialized root slots
	numSamplesTot   uint32 // non-skip samples, roots + chains
}

// numSamplesAlloc is the capacity of the root array (spec invariant 6).
func (s *sampleStore) numSamplesAlloc() uint32 { return uint32(len(s.roots)) }

// reset discards all samples, used by registry changes and range changes
// that must wipe sample data (spec §4.3/§6.2).
func (s *sampleStore) reset() {
	s.roots = nil
	s.numSamplesArray = 0
	s.numSamplesTot = 0
}

// grow ensures the root array has capacity for index idx, then materializes
// skip placeholders for every newly reachable root slot up to and including
// idx (spec §4.4 steps 2-3).
func (s *sampleStore) grow(idx uint32) {
	if idx >= s.numSamplesAlloc() {
		newCap := nextPow2Floor32(idx + 1)
		grown := make([]*sample, newCap)
		copy(grown, s.roots)
		s.roots = grown
	}
	for s.numSamplesArray <= idx {
		s.roots[s.numSamplesArray] = newPlaceholder(s.numSamplesArray)
		s.numSamplesArray++
	}
}

// lastInChain returns the last node reachable from root (root itself if its
// chain is empty).
func lastInChain(root *sample) *sample {
	n := root
	for n.next != nil {
		n = n.next
	}
	return n
}

// locate resolves the sample at t (spec §4.4, "Sample resolution").
//
// found is false when t is out of range, or when create is false and no
// sample exists at the resolved coordinate. isNew is true when locate
// itself materialized or promoted the returned sample. prev/next bound the
// insertion point when the sample was not found and create is false:
// prev is the nearest preceding sample (possibly a chain tail), next the
// nearest following one, matching spec §4.4 steps 2, 3 and 5.
func (s *sampleStore) locate(rng Range, reg []BlockDescriptor, hasMeta bool, t T, create bool) (target, prev, next *sample, isNew, found bool) {
	coord, ok := resolveCoordinate(rng, t)
	if !ok {
		return nil, nil, nil, false, false
	}

	if coord.index >= s.numSamplesArray {
		if !create {
			if s.numSamplesArray > 0 {
				prev = lastInChain(s.roots[s.numSamplesArray-1])
			}
			return nil, prev, nil, false, false
		}
		s.grow(coord.index)
	}

	root := s.roots[coord.index]

	if coord.offset.EqFloat(0) {
		if coord.index > 0 {
			prev = lastInChain(s.roots[coord.index-1])
		}
		if root.status.IsSkip() {
			if !create {
				// the placeholder itself is the following slot: any chain it
				// still anchors, and every later root, come after t.
				return nil, prev, root, false, false
			}
			promote(root, reg, hasMeta)
			s.numSamplesTot++
			return root, prev, nil, true, true
		}
		return root, prev, nil, false, true
	}

	// walk the chain, advancing while the next node's offset is still
	// strictly less than the target offset (spec §4.4 step 5).
	p := root
	n := root.next
	for n != nil && n.toffset.Lt(coord.offset) {
		p = n
		n = n.next
	}
	if n != nil && n.toffset.Eq(coord.offset) {
		return n, nil, nil, false, true
	}
	if !create {
		nextSample := n
		if nextSample == nil && coord.index+1 < s.numSamplesArray {
			nextSample = s.roots[coord.index+1]
		}
		return nil, p, nextSample, false, false
	}

	sub := &sample{tindex: coord.index, toffset: coord.offset, next: n}
	promote(sub, reg, hasMeta)
	p.next = sub
	s.numSamplesTot++
	return sub, nil, nil, true, true
}

// removeSample frees sub, which must have been found by locate. For a root
// (toffset zero) it reverts the slot back to a skip placeholder (spec
// §4.7: "clear on a root turns it back into a skip placeholder"). For a
// sub-sample it splices the node out of its root's chain. prevInChain must
// be the node immediately preceding sub in its chain; it is ignored when
// sub is itself a root (callers pass nil there).
func (s *sampleStore) removeSample(sub *sample, prevInChain *sample) {
	wasCounted := !sub.status.IsSkip()

	if sub.toffset.EqFloat(0) {
		// a root slot also anchors any surviving sub-sample chain, so
		// clearing it back to a placeholder must preserve sub.next rather
		// than discard it -- only SampleClear/Consolidate remove a root in
		// isolation; the clear-range family (Cache.markFrom) truncates the
		// chain itself when it wants the whole tail gone.
		next := sub.next
		*sub = sample{tindex: sub.tindex, next: next}
		setSampleSkip(&sub.status)
		setSampleInitialized(&sub.status)
	} else {
		prevInChain.next = sub.next
	}

	if wasCounted {
		s.numSamplesTot--
	}
}

// rootAt returns the materialized root at idx, or nil if idx is beyond
// numSamplesArray.
func (s *sampleStore) rootAt(idx uint32) *sample {
	if idx >= s.numSamplesArray {
		return nil
	}
	return s.roots[idx]
}
