package heap

// Owner identifies who an allocation is charged to. The zero Owner stands for allocations
// made without an owner.
type Owner struct {
	ID   uint64
	Name string
}

// OwnerTag is the compact owner reference stored in the header of every used chunk of a heap
// created with an Attributor
type OwnerTag uint16

// Attributor tracks how many usable bytes each owner holds. Every method is called
// synchronously from inside the heap operation that changed the owner's usage and must not
// call back into the heap.
type Attributor interface {
	// Charge attributes bytes to owner and returns the tag the heap will store for the chunk
	Charge(owner Owner, bytes int) OwnerTag
	// ChargeTag attributes additional bytes to an owner that already holds a tag, as when a
	// chunk grows in place
	ChargeTag(tag OwnerTag, bytes int)
	// Release removes bytes from the owner behind tag
	Release(tag OwnerTag, bytes int)
}

// ownership carries an allocation's owner through the allocation paths. A realloc that moves
// a chunk keeps the tag it already holds rather than charging the owner afresh.
type ownership struct {
	owner  Owner
	tag    OwnerTag
	tagged bool
}

func (h *Heap) chargeOwner(c chunkID, who ownership, bytes int) {
	if h.attributor == nil {
		return
	}

	tag := who.tag
	if who.tagged {
		h.attributor.ChargeTag(tag, bytes)
	} else {
		tag = h.attributor.Charge(who.owner, bytes)
	}
	h.setOwnerTag(c, tag)
}

func (h *Heap) releaseOwner(tag OwnerTag, bytes int) {
	if h.attributor != nil {
		h.attributor.Release(tag, bytes)
	}
}

func (h *Heap) ownershipOf(c chunkID) ownership {
	if h.attributor == nil {
		return ownership{}
	}
	return ownership{tag: h.ownerTag(c), tagged: true}
}
