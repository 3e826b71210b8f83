package heap

import (
	"basejit/pkg/value"
)

// NewString allocates a string cell with its bytes stored right after the header.
func (h *Heap) NewString(s string) (uintptr, error) {
	cell, err := h.allocate(StringHeaderSize + len(s))
	if err != nil {
		return 0, err
	}
	h.writeRawHeader(cell, StringType)
	data := cell + StringHeaderSize
	h.Store64(cell+StringDataOffset, uint64(data))
	h.Store64(cell+StringLengthOffset, uint64(len(s)))
	copy(h.bytes(data, len(s)), s)
	return cell, nil
}

// StringValue copies the contents of a string cell.
func (h *Heap) StringValue(cell uintptr) string {
	n := int(h.Load64(cell + StringLengthOffset))
	if n == 0 {
		return ""
	}
	return string(h.bytes(uintptr(h.Load64(cell+StringDataOffset)), n))
}

// NewSymbol allocates a symbol with the given ID and description string cell
// (zero for none).
func (h *Heap) NewSymbol(id uint32, description uintptr) (uintptr, error) {
	cell, err := h.allocate(SymbolSize)
	if err != nil {
		return 0, err
	}
	h.writeRawHeader(cell, SymbolType)
	h.Store32(cell+SymbolIDOffset, id)
	h.Store64(cell+SymbolDescriptionOffset, uint64(description))
	return cell, nil
}

func (h *Heap) SymbolID(cell uintptr) uint32 { return h.Load32(cell + SymbolIDOffset) }

func (h *Heap) SymbolDescription(cell uintptr) uintptr {
	return uintptr(h.Load64(cell + SymbolDescriptionOffset))
}

// NewFunction allocates a function cell bound to an executable index.
func (h *Heap) NewFunction(s *Structure, executable uint32, kind uint8) (uintptr, error) {
	cell, err := h.allocate(FunctionSize)
	if err != nil {
		return 0, err
	}
	h.writeHeader(cell, s, s.Indexing)
	h.Store32(cell+FunctionExecutableOffset, executable)
	h.Store8(cell+FunctionKindOffset, kind)
	return cell, nil
}

func (h *Heap) FunctionExecutable(cell uintptr) uint32 {
	return h.Load32(cell + FunctionExecutableOffset)
}

func (h *Heap) FunctionKind(cell uintptr) uint8 { return h.Load8(cell + FunctionKindOffset) }

// RareData returns the function's rare data, or zero.
func (h *Heap) RareData(fn uintptr) uintptr {
	return uintptr(h.Load64(fn + FunctionRareDataOffset))
}

// SetAllocationProfile creates or updates the rare data of fn so create_this
// can allocate instances of s inline.
func (h *Heap) SetAllocationProfile(fn uintptr, s *Structure) error {
	rd := h.RareData(fn)
	if rd == 0 {
		var err error
		rd, err = h.allocRaw(RareDataSize)
		if err != nil {
			return err
		}
		h.Store64(fn+FunctionRareDataOffset, uint64(rd))
	}
	var alloc uintptr
	if a := h.AllocatorFor(ObjectSize(s.InlineCapacity)); a != nil {
		alloc = a.Address()
	}
	h.Store64(rd+RareDataAllocatorOffset, uint64(alloc))
	h.Store32(rd+RareDataStructureIDOffset, s.ID)
	h.Store32(rd+RareDataInlineCapacityOffset, uint32(s.InlineCapacity))
	return nil
}

// ClearAllocationProfile disables inline allocation for fn until the profile
// is rebuilt.
func (h *Heap) ClearAllocationProfile(fn uintptr) {
	if rd := h.RareData(fn); rd != 0 {
		h.Store64(rd+RareDataAllocatorOffset, 0)
		h.Store32(rd+RareDataStructureIDOffset, 0)
	}
}

// AllocationStructure returns the structure recorded in fn's rare data.
func (h *Heap) AllocationStructure(fn uintptr) *Structure {
	rd := h.RareData(fn)
	if rd == 0 {
		return nil
	}
	id := h.Load32(rd + RareDataStructureIDOffset)
	if id == 0 {
		return nil
	}
	return h.Structure(id)
}

// NewException wraps a thrown value.
func (h *Heap) NewException(v value.Value, uncatchable bool) (uintptr, error) {
	cell, err := h.allocate(ExceptionSize)
	if err != nil {
		return 0, err
	}
	h.writeRawHeader(cell, ExceptionType)
	h.Store64(cell+ExceptionValueOffset, uint64(v))
	if uncatchable {
		h.Store32(cell+ExceptionFlagsOffset, ExceptionUncatchable)
	}
	h.WriteBarrier(cell, v)
	return cell, nil
}

func (h *Heap) ExceptionValue(cell uintptr) value.Value {
	return h.LoadValue(cell + ExceptionValueOffset)
}

func (h *Heap) ExceptionUncatchable(cell uintptr) bool {
	return h.Load32(cell+ExceptionFlagsOffset)&ExceptionUncatchable != 0
}

// EnumeratorInfo describes a property name enumerator.
type EnumeratorInfo struct {
	CachedStructureID    uint32
	CachedInlineCapacity uint32
	EndStructureProperty uint32
	EndGenericProperty   uint32
}

// NewEnumerator allocates an enumerator over names. Names below
// EndStructureProperty are in slot order of the cached structure.
func (h *Heap) NewEnumerator(info EnumeratorInfo, names []value.Value) (uintptr, error) {
	var vec uintptr
	if len(names) > 0 {
		var err error
		vec, err = h.allocRaw(8 * len(names))
		if err != nil {
			return 0, err
		}
		for i, n := range names {
			h.Store64(vec+uintptr(8*i), uint64(n))
		}
	}
	cell, err := h.allocate(EnumeratorSize)
	if err != nil {
		return 0, err
	}
	h.writeRawHeader(cell, EnumeratorType)
	h.Store32(cell+EnumeratorCachedStructureIDOffset, info.CachedStructureID)
	h.Store32(cell+EnumeratorCachedInlineCapacityOffset, info.CachedInlineCapacity)
	h.Store32(cell+EnumeratorEndStructurePropertyOffset, info.EndStructureProperty)
	h.Store32(cell+EnumeratorEndGenericPropertyOffset, info.EndGenericProperty)
	h.Store64(cell+EnumeratorCachedPropertyNamesOffset, uint64(vec))
	return cell, nil
}

// Enumerator reads back an enumerator header.
func (h *Heap) Enumerator(cell uintptr) EnumeratorInfo {
	return EnumeratorInfo{
		CachedStructureID:    h.Load32(cell + EnumeratorCachedStructureIDOffset),
		CachedInlineCapacity: h.Load32(cell + EnumeratorCachedInlineCapacityOffset),
		EndStructureProperty: h.Load32(cell + EnumeratorEndStructurePropertyOffset),
		EndGenericProperty:   h.Load32(cell + EnumeratorEndGenericPropertyOffset),
	}
}

// EnumeratorName returns name i, or null when i is outside [0, end).
func (h *Heap) EnumeratorName(cell uintptr, i uint32, end uint32) value.Value {
	if i >= end {
		return value.Null
	}
	vec := uintptr(h.Load64(cell + EnumeratorCachedPropertyNamesOffset))
	return h.LoadValue(vec + uintptr(8*i))
}
