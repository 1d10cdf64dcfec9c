package omnicache

import (
	"golang.org/x/exp/slices"
)

// WriteResult is the outcome of SampleWrite.
type WriteResult uint8

const (
	WriteSuccess WriteResult = iota
	WriteInvalid
	WriteFailed
)

// ReadResult is a bitmask returned by SampleRead.
type ReadResult uint8

const (
	ReadExact ReadResult = 1 << iota
	ReadInterp
	ReadOutdated
	ReadInvalid
)

// IsInvalid reports whether the Invalid bit is set.
func (r ReadResult) IsInvalid() bool { return r&ReadInvalid != 0 }

// ConsolidateFlag is a bitmask passed to Cache.Consolidate.
type ConsolidateFlag uint32

const (
	ConsolidateMark ConsolidateFlag = 1 << iota
	ConsolidateFreeInvalid
	ConsolidateFreeOutdated
)

// Cache is the top-level entity binding a block registry and sample store
// to a time domain (spec §3 C5). Values are not safe for concurrent use.
type Cache struct {
	ID     string
	tag    TimeTag
	rng    Range
	Flags  Flag
	status CacheStatus

	metaSize uint32
	metaGen  MetaGenerator

	registry []BlockDescriptor
	store    sampleStore
}

// New creates a cache from a template and a block-selection string (spec
// §6.2). The returned cache is initialized, valid, and current, with no
// samples, spanning the template's default range -- a fresh cache has
// nothing to be stale against, matching OMNI_new's
// cache_set_status(cache, OMNI_STATUS_CURRENT) in the original.
func New(tpl Template, selection string) *Cache {
	c := &Cache{
		ID:       tpl.ID,
		tag:      tpl.Tag,
		rng:      tpl.Range,
		Flags:    tpl.Flags,
		metaSize: tpl.MetaSize,
		metaGen:  tpl.MetaGen,
	}
	c.registry = buildRegistry(tpl, parseSelection(tpl, selection))
	setCacheCurrent(&c.status)
	logDebug("cache created", "id", c.ID, "blocks", len(c.registry))
	return c
}

// hasMeta reports whether this cache generates a meta block per sample.
func (c *Cache) hasMeta() bool { return c.metaGen != nil && c.metaSize > 0 }

// checkTag panics if t's tag does not match this cache's time tag -- a
// programmer error per spec §7.1 ("time t with wrong tag passed to a
// cache").
func (c *Cache) checkTag(t T) {
	if t.Tag() != c.tag {
		panicf("cache %q: time tag mismatch: cache is %s-timed, got %s", c.ID, c.tag, t.Tag())
	}
}

// Duplicate returns a new cache sharing this cache's template-derived
// configuration (id, tag, range, flags, meta, registry). When copyData is
// true, every root and chained sub-sample (including block and meta
// buffers) is deep-copied; otherwise the duplicate starts empty. Grounded
// on the original's omniCache_copy (SPEC_FULL.md §10).
func (c *Cache) Duplicate(copyData bool) *Cache {
	dup := &Cache{
		ID:       c.ID,
		tag:      c.tag,
		rng:      c.rng,
		Flags:    c.Flags,
		status:   c.status,
		metaSize: c.metaSize,
		metaGen:  c.metaGen,
		registry: append([]BlockDescriptor(nil), c.registry...),
	}
	if !copyData {
		return dup
	}

	for idx := uint32(0); idx < c.store.numSamplesArray; idx++ {
		root := c.store.roots[idx]
		dup.store.grow(idx)
		dup.store.roots[idx] = cloneSample(root)
		for n := root.next; n != nil; n = n.next {
			tail := lastInChain(dup.store.roots[idx])
			tail.next = cloneSample(n)
		}
	}
	dup.store.numSamplesTot = c.store.numSamplesTot
	return dup
}

func cloneSample(s *sample) *sample {
	clone := &sample{
		status:            s.status,
		tindex:            s.tindex,
		toffset:           s.toffset,
		numBlocksInvalid:  s.numBlocksInvalid,
		numBlocksOutdated: s.numBlocksOutdated,
	}
	if len(s.blocks) > 0 {
		clone.blocks = make([]blockInstance, len(s.blocks))
		for i, b := range s.blocks {
			clone.blocks[i] = blockInstance{status: b.status, dcount: b.dcount, data: append([]byte(nil), b.data...)}
		}
	}
	if s.meta != nil {
		clone.meta = &blockInstance{status: s.meta.status, dcount: s.meta.dcount, data: append([]byte(nil), s.meta.data...)}
	}
	return clone
}

// BlocksAdd unions the current registry with the blocks selected by
// selection against tpl, rebuilds the registry in template order, and
// discards all samples (spec §4.3).
func (c *Cache) BlocksAdd(tpl Template, selection string) {
	current := currentSelection(c.registry)
	selected := parseSelection(tpl, selection)
	for id := range selected {
		current[id] = true
	}
	c.registry = buildRegistry(tpl, current)
	c.store.reset()
	logDebug("blocks added", "id", c.ID, "blocks", len(c.registry))
}

// BlocksRemove intersects the current registry with the complement of
// selection, rebuilds in template order, and discards all samples. Unlike
// add/set, remove does not consult the Mandatory flag: a block named in
// selection leaves the registry regardless of it (spec §4.3; the mandatory
// rule governs selection-string inclusion in add/set, not direct removal).
func (c *Cache) BlocksRemove(selection string) {
	removed := map[string]bool{}
	for _, tok := range splitSelection(selection) {
		removed[tok] = true
	}
	kept := make([]BlockDescriptor, 0, len(c.registry))
	for _, b := range c.registry {
		if !removed[b.ID] {
			kept = append(kept, b)
		}
	}
	c.registry = kept
	c.store.reset()
	logDebug("blocks removed", "id", c.ID, "blocks", len(c.registry))
}

// BlocksSet replaces the registry outright with the selection-derived mask
// against tpl, and discards all samples.
func (c *Cache) BlocksSet(tpl Template, selection string) {
	c.registry = buildRegistry(tpl, parseSelection(tpl, selection))
	c.store.reset()
	logDebug("blocks set", "id", c.ID, "blocks", len(c.registry))
}

// BlockAddByIndex inserts the template block at index i, preserving
// template order, if not already present. A no-op (no sample wipe) if the
// block is already in the registry.
func (c *Cache) BlockAddByIndex(tpl Template, i int) {
	b, ok := tpl.blockByIndex(i)
	if !ok {
		panicf("cache %q: block index %d not present in template", c.ID, i)
	}
	if _, present := sliceIndexByID(c.registry, b.ID); present >= 0 {
		return
	}
	current := currentSelection(c.registry)
	current[b.ID] = true
	c.registry = buildRegistry(tpl, current)
	c.store.reset()
}

// BlockRemoveByIndex removes the registry block whose template index is i,
// if present, regardless of its Mandatory flag (spec §4.3; see BlocksRemove).
// A no-op if already absent.
func (c *Cache) BlockRemoveByIndex(i int) {
	pos := -1
	for idx, b := range c.registry {
		if b.Index == i {
			pos = idx
			break
		}
	}
	if pos < 0 {
		return
	}
	c.registry = append(c.registry[:pos], c.registry[pos+1:]...)
	c.store.reset()
}

func sliceIndexByID(reg []BlockDescriptor, id string) (BlockDescriptor, int) {
	for i, b := range reg {
		if b.ID == id {
			return b, i
		}
	}
	return BlockDescriptor{}, -1
}

func splitSelection(selection string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(selection); i++ {
		if i == len(selection) || selection[i] == ';' {
			if tok := selection[start:i]; tok != "" {
				out = append(out, tok)
			}
			start = i + 1
		}
	}
	return out
}

// SampleWrite drives the write protocol for time t (spec §4.5).
func (c *Cache) SampleWrite(t T, userData any) (WriteResult, error) {
	c.checkTag(t)

	s, _, _, _, found := c.store.locate(c.rng, c.registry, c.hasMeta(), t, true)
	if !found {
		return WriteInvalid, nil
	}

	for i, b := range c.registry {
		inst := &s.blocks[i]

		n, err := b.Count(userData)
		if err != nil {
			return WriteFailed, err
		}
		if n < 0 {
			panicf("cache %q: block %q: count callback returned negative count", c.ID, b.ID)
		}
		if inst.data != nil && inst.dcount != n {
			inst.data = nil
		}
		inst.dcount = n
		if inst.data == nil && n > 0 {
			inst.data = make([]byte, int(b.ElementSize)*n)
		}

		original := inst.data
		omni := &OmniData{DType: b.DType, ElementSize: b.ElementSize, Count: n, Data: inst.data}
		ok, werr := b.Write(omni, userData)
		if !bytesShareBacking(original, omni.Data) {
			panicf("cache %q: block %q: write callback reallocated its buffer", c.ID, b.ID)
		}

		if werr != nil {
			clearBlockValid(inst, s)
			clearSampleValid(&s.status)
			return WriteFailed, werr
		}
		if !ok {
			clearBlockValid(inst, s)
			clearSampleValid(&s.status)
			return WriteFailed, nil
		}
		setBlockCurrent(inst, s)

		if b.Flags&BlockConstCount != 0 {
			checkConstCount(c.ID, b.ID, n)
		}
	}

	if c.hasMeta() {
		if s.meta.data == nil {
			s.meta.data = make([]byte, c.metaSize)
		}
		ok, err := c.metaGen(userData, s.meta.data)
		if err != nil {
			return WriteFailed, err
		}
		// the meta block is not one of the registry blocks counted by
		// numBlocksInvalid/numBlocksOutdated, so its status bits are set
		// directly rather than through the counting block setters.
		if !ok {
			s.meta.status &^= BlockStatus(statusValid | statusCurrent)
			clearSampleValid(&s.status)
			return WriteFailed, nil
		}
		s.meta.status |= BlockStatus(statusCurrent | statusValid | statusInitialized)
	}

	setSampleCurrent(&s.status)
	return WriteSuccess, nil
}

// bytesShareBacking is a best-effort pointer-identity check used to detect
// a Writer/Reader callback reallocating the buffer it was handed (spec
// §4.5 step 2d: "the user must not reallocate the buffer"). Comparing slice
// headers by address-of-first-element is the idiomatic Go analogue of the
// source's raw-pointer comparison.
func bytesShareBacking(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	return &a[0] == &b[0]
}

// lastConstCounts tracks the most recently observed count per (cacheID,
// blockID), for the debug-only ConstCount check (SPEC_FULL.md §10). Not
// enforced; only logged.
var lastConstCounts = map[string]int{}

func checkConstCount(cacheID, blockID string, n int) {
	key := cacheID + "\x00" + blockID
	if prev, ok := lastConstCounts[key]; ok && prev != n {
		logDebug("const-count block changed element count", "cache", cacheID, "block", blockID, "prev", prev, "next", n)
	}
	lastConstCounts[key] = n
}

// SampleRead drives the read protocol for time t (spec §4.6).
func (c *Cache) SampleRead(t T, userData any) (ReadResult, error) {
	c.checkTag(t)

	if !c.status.IsValid() {
		return ReadInvalid, nil
	}

	var result ReadResult
	if !c.status.IsCurrent() {
		result |= ReadOutdated
	}

	s, _, _, _, found := c.store.locate(c.rng, c.registry, c.hasMeta(), t, false)
	if !found || !sampleIsValid(s) {
		return ReadInvalid, nil
	}
	if !s.status.IsCurrent() {
		result |= ReadOutdated
	}

	for i, b := range c.registry {
		inst := &s.blocks[i]
		if !inst.status.IsValid() {
			return ReadInvalid, nil
		}
		omni := &OmniData{DType: b.DType, ElementSize: b.ElementSize, Count: inst.dcount, Data: inst.data}
		ok, err := b.Read(omni, userData)
		if err != nil {
			return ReadInvalid, err
		}
		if !ok {
			return ReadInvalid, nil
		}
		if !inst.status.IsCurrent() {
			result |= ReadOutdated
		}
	}

	result |= ReadExact
	return result, nil
}

// SetRange changes the cache's time domain. Any bound that differs from the
// current value discards all samples (spec §6.2).
func (c *Cache) SetRange(rng Range) {
	changed := !c.rng.Initial.Eq(rng.Initial) || !c.rng.Final.Eq(rng.Final) || !c.rng.Step.Eq(rng.Step)
	c.rng = rng
	if changed {
		c.store.reset()
	}
}

// GetRange returns the cache's time-domain triple. Unlike the source (which
// the spec flags as apparently writing t_step into the t_initial
// out-pointer), this returns three independently correct fields -- see
// DESIGN.md, Open Question 1.
func (c *Cache) GetRange() Range { return c.rng }

// GetNumCached returns the number of non-skip samples across roots and
// chains.
func (c *Cache) GetNumCached() uint32 { return c.store.numSamplesTot }

func (c *Cache) IsValid() bool   { return c.status.IsValid() }
func (c *Cache) IsCurrent() bool { return c.status.IsCurrent() }
func (c *Cache) IsComplete() bool { return c.status.IsComplete() }
func (c *Cache) SetComplete(v bool) {
	if v {
		setCacheComplete(&c.status)
	} else {
		clearCacheComplete(&c.status)
	}
}

// HasFlag reports whether f is set on this cache (SPEC_FULL.md §10, flag
// introspection).
func (c *Cache) HasFlag(f Flag) bool { return c.Flags&f != 0 }

// SampleIsValid reports whether the sample at t is SAMPLE_VALID.
func (c *Cache) SampleIsValid(t T) bool {
	c.checkTag(t)
	s, _, _, _, found := c.store.locate(c.rng, c.registry, c.hasMeta(), t, false)
	return found && sampleIsValid(s)
}

// SampleIsCurrent reports whether the sample at t is SAMPLE_CURRENT.
func (c *Cache) SampleIsCurrent(t T) bool {
	c.checkTag(t)
	s, _, _, _, found := c.store.locate(c.rng, c.registry, c.hasMeta(), t, false)
	return found && sampleIsCurrent(s)
}

// MarkOutdated clears the cache's own current bit (spec §4.7). Samples
// retain their own bits; reads surface Outdated immediately because
// SampleRead consults the cache's status too. SampleIsCurrent does not: it
// reports the sample's own SAMPLE_CURRENT predicate only.
func (c *Cache) MarkOutdated() { clearCacheCurrent(&c.status) }

// MarkInvalid clears the cache's own valid (and therefore current) bit.
func (c *Cache) MarkInvalid() { clearCacheValid(&c.status) }

// Clear discards every sample in the cache without altering its validity
// bits.
func (c *Cache) Clear() { c.store.reset() }

// SampleMarkOutdated clears the current bit on the sample at t, if found.
func (c *Cache) SampleMarkOutdated(t T) {
	c.checkTag(t)
	s, _, _, _, found := c.store.locate(c.rng, c.registry, c.hasMeta(), t, false)
	if found {
		clearSampleCurrent(&s.status)
	}
}

// SampleMarkInvalid clears the valid (and current) bit on the sample at t,
// if found.
func (c *Cache) SampleMarkInvalid(t T) {
	c.checkTag(t)
	s, _, _, _, found := c.store.locate(c.rng, c.registry, c.hasMeta(), t, false)
	if found {
		clearSampleValid(&s.status)
	}
}

// SampleClear removes the sample at t entirely, if found (spec §4.7).
func (c *Cache) SampleClear(t T) {
	c.checkTag(t)
	s, prev, _, _, found := c.store.locate(c.rng, c.registry, c.hasMeta(), t, false)
	if !found {
		return
	}
	c.removeOne(s, prev)
}

// removeOne removes sample s, whose chain predecessor (for a sub-sample)
// is prev. For a root, prev is unused.
func (c *Cache) removeOne(s, prev *sample) {
	if s.toffset.EqFloat(0) {
		c.store.removeSample(s, nil)
		return
	}
	if prev == nil {
		prev = c.store.rootAt(s.tindex)
		for prev != nil && prev.next != s {
			prev = prev.next
		}
	}
	c.store.removeSample(s, prev)
}

type fromAction uint8

const (
	fromActionOutdated fromAction = iota
	fromActionInvalid
	fromActionClear
)

// markFrom implements the sample_mark_outdated_from / _invalid_from /
// clear_from family (spec §4.7). It resolves at t, falling through to the
// next sample if none exists exactly there, then applies action to that
// sample and every sample after it in time order: the rest of its chain,
// then every later root and that root's whole chain.
func (c *Cache) markFrom(t T, action fromAction) {
	c.checkTag(t)
	s, _, next, _, found := c.store.locate(c.rng, c.registry, c.hasMeta(), t, false)
	if !found {
		s = next
	}
	if s == nil {
		return
	}

	if action == fromActionClear && !s.toffset.EqFloat(0) {
		// clearing splices s (and everything after it) out of its root's
		// chain; detach it from its predecessor up front so the walk below
		// doesn't need to re-locate that predecessor per node. Marking
		// actions (outdated/invalid) must NOT do this: they leave the
		// chain structure untouched and only flip status bits.
		root := c.store.rootAt(s.tindex)
		p := root
		for p != nil && p.next != s {
			p = p.next
		}
		if p != nil {
			p.next = nil
		}
	}

	startIdx := s.tindex
	// walk s and the remainder of its chain first.
	node := s
	for node != nil {
		next := node.next
		c.applyFromAction(node, action)
		node = next
	}

	for idx := startIdx + 1; idx < c.store.numSamplesArray; idx++ {
		root := c.store.roots[idx]
		node := root
		for node != nil {
			next := node.next
			c.applyFromAction(node, action)
			node = next
		}
	}
}

// applyFromAction applies one mark/clear action to a single sample. For
// fromActionClear, the sample has already been unlinked from any surviving
// chain by the caller (markFrom), so clearing here only needs to reset the
// sample's own state (or, for a root, hand it back to the store so the slot
// becomes a skip placeholder) rather than splice anything.
func (c *Cache) applyFromAction(node *sample, action fromAction) {
	switch action {
	case fromActionOutdated:
		clearSampleCurrent(&node.status)
	case fromActionInvalid:
		clearSampleValid(&node.status)
	case fromActionClear:
		// markFrom walks this sample and everything after it in time
		// order, so (unlike a standalone SampleClear on a root) there is
		// never a surviving chain tail to preserve here: reset fully,
		// including unlinking next, rather than delegating to
		// sampleStore.removeSample (whose root branch deliberately keeps
		// next for the single-sample-removal case).
		wasCounted := !node.status.IsSkip()
		if node.toffset.EqFloat(0) {
			*node = sample{tindex: node.tindex}
			setSampleSkip(&node.status)
			setSampleInitialized(&node.status)
		} else {
			*node = sample{tindex: node.tindex, toffset: node.toffset}
		}
		if wasCounted {
			c.store.numSamplesTot--
		}
	}
}

// SampleMarkOutdatedFrom marks the sample at t, and every sample at or
// after it in time order, outdated.
func (c *Cache) SampleMarkOutdatedFrom(t T) { c.markFrom(t, fromActionOutdated) }

// SampleMarkInvalidFrom marks the sample at t, and every sample at or after
// it in time order, invalid.
func (c *Cache) SampleMarkInvalidFrom(t T) { c.markFrom(t, fromActionInvalid) }

// SampleClearFrom removes the sample at t, and every sample at or after it
// in time order (spec P10).
func (c *Cache) SampleClearFrom(t T) { c.markFrom(t, fromActionClear) }

// Consolidate runs a bulk pruning/normalizing pass (spec §4.7).
func (c *Cache) Consolidate(flags ConsolidateFlag) {
	if flags&(ConsolidateFreeInvalid|ConsolidateFreeOutdated) != 0 {
		for idx := uint32(0); idx < c.store.numSamplesArray; idx++ {
			c.consolidateChain(idx, flags)
		}
	}

	if flags&ConsolidateMark != 0 {
		outdated := !c.status.IsCurrent()
		invalid := !c.status.IsValid()
		if outdated || invalid {
			for idx := uint32(0); idx < c.store.numSamplesArray; idx++ {
				for node := c.store.roots[idx]; node != nil; node = node.next {
					if node.status.IsSkip() {
						continue
					}
					if invalid {
						clearSampleValid(&node.status)
					} else if outdated {
						clearSampleCurrent(&node.status)
					}
				}
			}
		}
		setCacheCurrent(&c.status)
	}
	logDebug("consolidate", "id", c.ID, "flags", flags)
}

// consolidateChain frees, from root idx's chain (root included), every
// sample that fails the requested validity predicate.
func (c *Cache) consolidateChain(idx uint32, flags ConsolidateFlag) {
	root := c.store.roots[idx]
	keep := func(s *sample) bool {
		if s.status.IsSkip() {
			return true
		}
		if flags&ConsolidateFreeInvalid != 0 && !sampleIsValid(s) {
			return false
		}
		if flags&ConsolidateFreeOutdated != 0 && !sampleIsCurrent(s) {
			return false
		}
		return true
	}

	if !keep(root) {
		c.store.removeSample(root, nil)
	}

	prev := root
	node := root.next
	for node != nil {
		next := node.next
		if !keep(node) {
			prev.next = next
			c.store.numSamplesTot--
		} else {
			prev = node
		}
		node = next
	}
}

// sortedRootTimes is a small diagnostic helper returning the tindex of every materialized, non-skip root in ascending
// order.
func (c *Cache) sortedRootTimes() []uint32 {
	var out []uint32
	for idx := uint32(0); idx < c.store.numSamplesArray; idx++ {
		if !c.store.roots[idx].status.IsSkip() {
			out = append(out, idx)
		}
	}
	slices.Sort(out)
	return out
}
