package heap

import (
	"basejit/pkg/value"
)

// NewObject allocates an object of structure s. Its inline storage is zeroed
// before the address escapes.
func (h *Heap) NewObject(s *Structure) (uintptr, error) {
	cell, err := h.allocate(ObjectSize(s.InlineCapacity))
	if err != nil {
		return 0, err
	}
	h.writeHeader(cell, s, s.Indexing)
	return cell, nil
}

// NewArray allocates an array holding elems. Arrays of int32 (or holes)
// start in the Int32 shape; anything else is contiguous.
func (h *Heap) NewArray(s *Structure, elems []value.Value) (uintptr, error) {
	cell, err := h.NewObject(s)
	if err != nil {
		return 0, err
	}
	shape := Int32Shape
	for _, e := range elems {
		if e != value.Empty && !e.IsInt32() {
			shape = ContiguousShape
			break
		}
	}
	h.setIndexing(cell, IsArray|shape)
	if len(elems) == 0 {
		return cell, nil
	}
	if err := h.growButterfly(cell, s.OutOfLineCount(), s.OutOfLineCount(), len(elems)); err != nil {
		return 0, err
	}
	b := h.Butterfly(cell)
	for i, e := range elems {
		h.Store64(b+uintptr(8*i), uint64(e))
		h.WriteBarrier(cell, e)
	}
	h.Store32(b-8, uint32(len(elems)))
	return cell, nil
}

func (h *Heap) Butterfly(obj uintptr) uintptr {
	return uintptr(h.Load64(obj + ObjectButterflyOffset))
}

func outOfLineCapacity(n int) int {
	if n == 0 {
		return 0
	}
	c := 4
	for c < n {
		c *= 2
	}
	return c
}

// propertyAddress is the address of slot off. Out-of-line slot k lives at
// butterfly - 16 - 8k.
func (h *Heap) propertyAddress(obj uintptr, s *Structure, off int) uintptr {
	if off < s.InlineCapacity {
		return obj + ObjectInlineStorageOffset + uintptr(8*off)
	}
	k := off - s.InlineCapacity
	return h.Butterfly(obj) - uintptr(-ButterflyFirstPropertyOffset) - uintptr(8*k)
}

// GetDirect reads slot off of obj without consulting its structure's keys.
func (h *Heap) GetDirect(obj uintptr, off int) value.Value {
	return h.LoadValue(h.propertyAddress(obj, h.StructureOf(obj), off))
}

// GetOwnProperty reads a named own property.
func (h *Heap) GetOwnProperty(obj uintptr, key string) (value.Value, bool) {
	s := h.StructureOf(obj)
	if s == nil {
		return value.Empty, false
	}
	off, ok := s.Offset(key)
	if !ok {
		return value.Empty, false
	}
	return h.LoadValue(h.propertyAddress(obj, s, off)), true
}

// PutOwnProperty writes a named own property, transitioning the structure
// when the key is new.
func (h *Heap) PutOwnProperty(obj uintptr, key string, v value.Value) error {
	s := h.StructureOf(obj)
	off, ok := s.Offset(key)
	if !ok {
		next, noff, err := h.AddPropertyTransition(s, key)
		if err != nil {
			return err
		}
		if noff >= s.InlineCapacity && outOfLineCapacity(next.OutOfLineCount()) > outOfLineCapacity(s.OutOfLineCount()) {
			if err := h.growButterfly(obj, s.OutOfLineCount(), next.OutOfLineCount(), 0); err != nil {
				return err
			}
		}
		h.Store32(obj+CellStructureIDOffset, next.ID)
		s, off = next, noff
	}
	h.Store64(h.propertyAddress(obj, s, off), uint64(v))
	h.WriteBarrier(obj, v)
	return nil
}

// growButterfly reallocates the butterfly of obj so it holds newProps
// out-of-line properties and at least minVector elements.
func (h *Heap) growButterfly(obj uintptr, oldProps, newProps, minVector int) error {
	old := h.Butterfly(obj)
	var publicLength, vectorLength uint32
	if old != 0 {
		publicLength = h.Load32(old - 8)
		vectorLength = h.Load32(old - 4)
	}
	vector := int(vectorLength)
	if minVector > vector {
		vector = minVector
	}
	propCap := outOfLineCapacity(newProps)
	mem, err := h.allocRaw(propCap*8 + 8 + vector*8)
	if err != nil {
		return err
	}
	nb := mem + uintptr(propCap*8+8)
	for k := 0; k < oldProps; k++ {
		h.Store64(nb-16-uintptr(8*k), h.Load64(old-16-uintptr(8*k)))
	}
	for i := uint32(0); i < publicLength; i++ {
		h.Store64(nb+uintptr(8*i), h.Load64(old+uintptr(8*i)))
	}
	h.Store32(nb-8, publicLength)
	h.Store32(nb-4, uint32(vector))
	h.Store64(obj+ObjectButterflyOffset, uint64(nb))
	return nil
}

// PublicLength is the number of element slots in use.
func (h *Heap) PublicLength(obj uintptr) uint32 {
	b := h.Butterfly(obj)
	if b == 0 {
		return 0
	}
	return h.Load32(b - 8)
}

// GetIndex reads element i. Holes and out-of-range indices report false.
func (h *Heap) GetIndex(obj uintptr, i uint32) (value.Value, bool) {
	if i >= h.PublicLength(obj) {
		return value.Empty, false
	}
	v := h.LoadValue(h.Butterfly(obj) + uintptr(8*i))
	return v, v != value.Empty
}

// PutIndex writes element i, growing storage and widening the shape as needed.
func (h *Heap) PutIndex(obj uintptr, i uint32, v value.Value) error {
	b := h.Butterfly(obj)
	var vector uint32
	if b != 0 {
		vector = h.Load32(b - 4)
	}
	if i >= vector {
		want := int(vector) * 2
		if want < int(i)+1 {
			want = int(i) + 1
		}
		if want < 4 {
			want = 4
		}
		props := h.StructureOf(obj).OutOfLineCount()
		if err := h.growButterfly(obj, props, props, want); err != nil {
			return err
		}
		b = h.Butterfly(obj)
	}
	h.Store64(b+uintptr(8*i), uint64(v))
	h.WriteBarrier(obj, v)
	if i >= h.Load32(b-8) {
		h.Store32(b-8, i+1)
	}
	indexing := h.Indexing(obj)
	switch indexing.Shape() {
	case NoIndexingShape:
		shape := ContiguousShape
		if v.IsInt32() {
			shape = Int32Shape
		}
		h.setIndexing(obj, indexing&IsArray|shape)
	case Int32Shape:
		if !v.IsInt32() {
			h.setIndexing(obj, indexing&IsArray|ContiguousShape)
		}
	}
	return nil
}

// SetPublicLength truncates or extends the element range. New slots are holes.
func (h *Heap) SetPublicLength(obj uintptr, n uint32) error {
	cur := h.PublicLength(obj)
	if n > cur {
		b := h.Butterfly(obj)
		var vector uint32
		if b != 0 {
			vector = h.Load32(b - 4)
		}
		if n > vector {
			props := h.StructureOf(obj).OutOfLineCount()
			if err := h.growButterfly(obj, props, props, int(n)); err != nil {
				return err
			}
		}
	}
	b := h.Butterfly(obj)
	if b == 0 {
		return nil
	}
	for i := n; i < cur; i++ {
		h.Store64(b+uintptr(8*i), 0)
	}
	h.Store32(b-8, n)
	return nil
}
