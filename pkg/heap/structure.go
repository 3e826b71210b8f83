package heap

import (
	"fmt"
	"sync"

	"basejit/pkg/value"
)

// Structure describes the shape of a cell: its type, capability flags and the
// ordered list of named properties. Structures are immutable once published;
// adding a property produces a new structure through a transition.
type Structure struct {
	ID             uint32
	Type           CellType
	Flags          TypeInfoFlags
	Indexing       IndexingType
	InlineCapacity int
	GlobalObject   uint32
	Prototype      value.Value

	keys    []string
	offsets map[string]int

	mu          sync.Mutex
	transitions map[string]*Structure
}

// Offset returns the slot index of key.
func (s *Structure) Offset(key string) (int, bool) {
	off, ok := s.offsets[key]
	return off, ok
}

// Keys returns the property names in slot order.
func (s *Structure) Keys() []string { return s.keys }

func (s *Structure) PropertyCount() int { return len(s.keys) }

// OutOfLineCount is the number of properties stored in the butterfly.
func (s *Structure) OutOfLineCount() int {
	if n := len(s.keys) - s.InlineCapacity; n > 0 {
		return n
	}
	return 0
}

type structureRegistry struct {
	mu   sync.RWMutex
	byID []*Structure
}

func (r *structureRegistry) init() {
	r.byID = make([]*Structure, 1, 256) // ID 0 is never valid
}

// Structure looks up a structure by ID. It is safe to call from compiler
// workers while the mutator creates new structures.
func (h *Heap) Structure(id uint32) *Structure {
	h.structures.mu.RLock()
	defer h.structures.mu.RUnlock()
	if int(id) >= len(h.structures.byID) {
		return nil
	}
	return h.structures.byID[id]
}

// StructureOf returns the structure of a cell.
func (h *Heap) StructureOf(cell uintptr) *Structure {
	return h.Structure(h.StructureID(cell))
}

// StructureTableAddress is the base of the raw structure table. The entry for
// ID n lives at StructureTableAddress() + n*StructureEntrySize.
func (h *Heap) StructureTableAddress() uintptr { return h.base }

func (h *Heap) register(s *Structure) error {
	h.structures.mu.Lock()
	defer h.structures.mu.Unlock()
	id := len(h.structures.byID)
	if id >= MaxStructures {
		return fmt.Errorf("structure table full (%d entries)", MaxStructures)
	}
	s.ID = uint32(id)
	h.structures.byID = append(h.structures.byID, s)

	entry := h.base + uintptr(id*StructureEntrySize)
	h.Store32(entry+StructureGlobalObjectOffset, s.GlobalObject)
	h.Store32(entry+StructureInlineCapacityOffset, uint32(s.InlineCapacity))
	h.Store8(entry+StructureTypeOffset, uint8(s.Type))
	h.Store8(entry+StructureFlagsOffset, uint8(s.Flags))
	h.Store8(entry+StructureIndexingOffset, uint8(s.Indexing))
	return nil
}

// NewStructure creates a root structure with no properties.
func (h *Heap) NewStructure(typ CellType, flags TypeInfoFlags, indexing IndexingType, inlineCapacity int, proto value.Value, globalObject uint32) (*Structure, error) {
	if inlineCapacity < 0 || inlineCapacity > MaxInlineCapacity {
		return nil, fmt.Errorf("inline capacity %d out of range", inlineCapacity)
	}
	s := &Structure{
		Type:           typ,
		Flags:          flags,
		Indexing:       indexing,
		InlineCapacity: inlineCapacity,
		GlobalObject:   globalObject,
		Prototype:      proto,
		offsets:        map[string]int{},
	}
	if err := h.register(s); err != nil {
		return nil, err
	}
	return s, nil
}

// AddPropertyTransition returns the structure reached by adding key to s and
// the slot index assigned to key. Transitions are cached.
func (h *Heap) AddPropertyTransition(s *Structure, key string) (*Structure, int, error) {
	if off, ok := s.offsets[key]; ok {
		return s, off, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if next, ok := s.transitions[key]; ok {
		return next, next.offsets[key], nil
	}
	next := &Structure{
		Type:           s.Type,
		Flags:          s.Flags,
		Indexing:       s.Indexing,
		InlineCapacity: s.InlineCapacity,
		GlobalObject:   s.GlobalObject,
		Prototype:      s.Prototype,
		keys:           append(append([]string(nil), s.keys...), key),
		offsets:        make(map[string]int, len(s.offsets)+1),
	}
	for k, v := range s.offsets {
		next.offsets[k] = v
	}
	off := len(s.keys)
	next.offsets[key] = off
	if err := h.register(next); err != nil {
		return nil, 0, err
	}
	if s.transitions == nil {
		s.transitions = map[string]*Structure{}
	}
	s.transitions[key] = next
	return next, off, nil
}
