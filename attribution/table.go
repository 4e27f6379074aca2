// Package attribution keeps per-owner accounts of heap usage. A Table is handed to heap.New
// through heap.CreateOptions.Attributor, after which every allocation made with AllocAs is
// charged to its owner.
package attribution

import (
	"io"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/chunkheap/heap"
	"github.com/vkngwrapper/chunkheap/memutils"
	"golang.org/x/exp/slog"
)

const (
	// DefaultMaxOwners is the number of owner records a Table holds when Options.MaxOwners is 0
	DefaultMaxOwners int = 256
	// DefaultFallbackName names the fallback record when Options.FallbackName is empty
	DefaultFallbackName string = "unknown"
)

// Options contains optional settings when creating a Table
type Options struct {
	// MaxOwners bounds the number of records, the fallback record included. It may not exceed
	// the number of distinct owner tags. 0 selects DefaultMaxOwners.
	MaxOwners int
	// FallbackTag is the tag of the record charged for allocations without an owner, and for
	// every owner that arrives after the table is full. It must be below MaxOwners.
	FallbackTag heap.OwnerTag
	// FallbackName is the name reported for the fallback record. "" selects DefaultFallbackName.
	FallbackName string
}

// Record is the account of a single owner
type Record struct {
	Tag   heap.OwnerTag
	Owner heap.Owner

	// LiveBytes is the number of usable bytes the owner currently holds
	LiveBytes int
	// PeakBytes is the highest LiveBytes has been since the record was created
	PeakBytes int
	// Charges counts allocations and in-place growth charged to the owner
	Charges int
}

func (r *Record) charge(bytes int) {
	r.Charges++
	r.LiveBytes += bytes
	if r.LiveBytes > r.PeakBytes {
		r.PeakBytes = r.LiveBytes
	}
}

// Table maps owners to compact tags and keeps a Record for each. Owners are registered the first
// time they are charged. Once MaxOwners records exist, further owners are charged to the
// fallback record instead of failing the allocation.
//
// Table has no internal locking; it is called from inside heap operations and shares the heap's
// serialization requirements.
type Table struct {
	logger  *slog.Logger
	options Options

	tags       *swiss.Map[uint64, heap.OwnerTag]
	records    []Record
	registered []bool
	nextTag    int

	overflows int
}

var _ heap.Attributor = &Table{}

// NewTable creates an empty Table. logger receives a Warn record the first time the table runs
// out of room, and may be nil.
func NewTable(logger *slog.Logger, options Options) (*Table, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if options.MaxOwners == 0 {
		options.MaxOwners = DefaultMaxOwners
	}
	if options.MaxOwners < 1 || options.MaxOwners > math.MaxUint16+1 {
		return nil, errors.Wrapf(memutils.ErrInvalidOptions, "MaxOwners must be between 1 and %d, but it was %d", math.MaxUint16+1, options.MaxOwners)
	}
	if int(options.FallbackTag) >= options.MaxOwners {
		return nil, errors.Wrapf(memutils.ErrInvalidOptions, "FallbackTag %d must be below MaxOwners %d", options.FallbackTag, options.MaxOwners)
	}
	if options.FallbackName == "" {
		options.FallbackName = DefaultFallbackName
	}

	t := &Table{
		logger:  logger,
		options: options,
	}
	t.Reset()

	return t, nil
}

// Reset discards every record and registration. It must only be called when no chunk of a heap
// using the table still holds a tag.
func (t *Table) Reset() {
	t.tags = swiss.NewMap[uint64, heap.OwnerTag](uint32(t.options.MaxOwners))
	t.records = make([]Record, t.options.MaxOwners)
	t.registered = make([]bool, t.options.MaxOwners)
	t.nextTag = 0
	t.overflows = 0

	fallback := t.options.FallbackTag
	t.records[fallback] = Record{
		Tag:   fallback,
		Owner: heap.Owner{Name: t.options.FallbackName},
	}
	t.registered[fallback] = true
}

// FallbackTag returns the tag of the record that absorbs charges without a registered owner
func (t *Table) FallbackTag() heap.OwnerTag {
	return t.options.FallbackTag
}

func (t *Table) tagFor(owner heap.Owner) heap.OwnerTag {
	if owner.ID == 0 {
		return t.options.FallbackTag
	}

	tag, ok := t.tags.Get(owner.ID)
	if ok {
		return tag
	}

	if t.nextTag == int(t.options.FallbackTag) {
		t.nextTag++
	}
	if t.nextTag >= t.options.MaxOwners {
		if t.overflows == 0 {
			t.logger.Warn("Table::Charge ran out of owner records, charging further owners to the fallback",
				slog.Int("MaxOwners", t.options.MaxOwners),
				slog.Uint64("OwnerID", owner.ID),
				slog.String("OwnerName", owner.Name),
			)
		}
		t.overflows++
		return t.options.FallbackTag
	}

	tag = heap.OwnerTag(t.nextTag)
	t.nextTag++
	t.records[tag] = Record{Tag: tag, Owner: owner}
	t.registered[tag] = true
	t.tags.Put(owner.ID, tag)

	return tag
}

func (t *Table) record(tag heap.OwnerTag) *Record {
	if int(tag) >= len(t.records) || !t.registered[tag] {
		tag = t.options.FallbackTag
	}
	return &t.records[tag]
}

// Charge attributes bytes to owner, registering the owner if this is its first charge
func (t *Table) Charge(owner heap.Owner, bytes int) heap.OwnerTag {
	tag := t.tagFor(owner)
	t.records[tag].charge(bytes)
	return tag
}

// ChargeTag attributes bytes to the owner behind tag. Unknown tags are charged to the fallback.
func (t *Table) ChargeTag(tag heap.OwnerTag, bytes int) {
	t.record(tag).charge(bytes)
}

// Release removes bytes from the owner behind tag. Unknown tags are released from the
// fallback.
func (t *Table) Release(tag heap.OwnerTag, bytes int) {
	t.record(tag).LiveBytes -= bytes
}

// Lookup returns the record of the owner with the provided id, if one was registered. The
// zero id looks up the fallback record.
func (t *Table) Lookup(id uint64) (Record, bool) {
	if id == 0 {
		return t.records[t.options.FallbackTag], true
	}

	tag, ok := t.tags.Get(id)
	if !ok {
		return Record{}, false
	}
	return t.records[tag], true
}

// Usage returns a snapshot of every record in use, the fallback included, ordered by tag
func (t *Table) Usage() []Record {
	usage := make([]Record, 0, t.tags.Count()+1)
	for tag := range t.records {
		if t.registered[tag] {
			usage = append(usage, t.records[tag])
		}
	}
	return usage
}

// Owners returns the number of registered owners, not counting the fallback
func (t *Table) Owners() int {
	return t.tags.Count()
}

// Overflows returns the number of charges for new owners that were redirected to the fallback
// record because the table was full
func (t *Table) Overflows() int {
	return t.overflows
}
