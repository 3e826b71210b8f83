package vm

import (
	"strconv"

	"basejit/pkg/bytecode"
	"basejit/pkg/heap"
	"basejit/pkg/value"
)

func (vm *VM) isEnumerable(cell uintptr, key string) bool {
	if isHiddenKey(key) || key == "constructor" {
		return false
	}
	if vm.builtinObjects[cell] {
		return false
	}
	if vm.Heap.Type(cell) == heap.FunctionType {
		switch key {
		case "name", "length", "prototype":
			return false
		}
	}
	return true
}

// GetPropertyEnumerator implements get_property_enumerator. Plain objects
// without elements get an enumerator cached on their structure, which lets
// generated code read names and values directly while the structure holds.
func (vm *VM) GetPropertyEnumerator(base value.Value) (value.Value, error) {
	var (
		info  heap.EnumeratorInfo
		names []string
		seen  = map[string]bool{}
	)
	add := func(k string) {
		if !seen[k] {
			seen[k] = true
			names = append(names, k)
		}
	}

	if !base.IsUndefinedOrNull() {
		obj, err := vm.toObject(base)
		if err != nil {
			return value.Empty, err
		}
		cell := obj.AsCell()
		s := vm.Heap.StructureOf(cell)

		cacheable := vm.Heap.Type(cell) == heap.FinalObjectType && vm.Heap.PublicLength(cell) == 0 && s != nil
		if cacheable {
			for _, k := range s.Keys() {
				if !vm.isEnumerable(cell, k) {
					cacheable = false
					break
				}
			}
		}
		if cacheable {
			info.CachedStructureID = s.ID
			info.CachedInlineCapacity = uint32(s.InlineCapacity)
			for _, k := range s.Keys() {
				add(k)
			}
			info.EndStructureProperty = uint32(len(names))
		} else {
			vm.ownEnumerableKeys(cell, add)
		}
		for p := vm.Prototype(obj); vm.IsObject(p); p = vm.Prototype(p) {
			vm.ownEnumerableKeys(p.AsCell(), add)
		}
	}
	info.EndGenericProperty = uint32(len(names))

	values := make([]value.Value, len(names))
	for i, n := range names {
		v, err := vm.NewString(n)
		if err != nil {
			return value.Empty, err
		}
		values[i] = v
	}
	cell, err := vm.Heap.NewEnumerator(info, values)
	if err != nil {
		return value.Empty, err
	}
	return value.FromCell(cell), nil
}

func (vm *VM) ownEnumerableKeys(cell uintptr, add func(string)) {
	n := vm.Heap.PublicLength(cell)
	for i := uint32(0); i < n; i++ {
		if _, ok := vm.Heap.GetIndex(cell, i); ok {
			add(strconv.FormatUint(uint64(i), 10))
		}
	}
	if s := vm.Heap.StructureOf(cell); s != nil {
		for _, k := range s.Keys() {
			if vm.isEnumerable(cell, k) {
				add(k)
			}
		}
	}
}

// HasStructureProperty is the generic path of has_structure_property.
func (vm *VM) HasStructureProperty(base, prop value.Value) (bool, error) {
	return vm.HasGenericProperty(base, prop)
}

// HasGenericProperty implements has_generic_property.
func (vm *VM) HasGenericProperty(base, prop value.Value) (bool, error) {
	if !vm.IsObject(base) {
		return false, nil
	}
	key, err := vm.PropertyKey(prop)
	if err != nil {
		return false, err
	}
	return vm.HasProperty(base, key), nil
}

// HasIndexedProperty implements has_indexed_property. Generated code only
// gets here when its inline check failed.
func (vm *VM) HasIndexedProperty(base, prop value.Value) (bool, error) {
	if vm.IsObject(base) && prop.IsInt32() && prop.AsInt32() >= 0 {
		if _, ok := vm.Heap.GetIndex(base.AsCell(), uint32(prop.AsInt32())); ok {
			return true, nil
		}
	}
	return vm.HasGenericProperty(base, prop)
}

// EnumeratorStructurePname implements enumerator_structure_pname.
func (vm *VM) EnumeratorStructurePname(enum, index value.Value) value.Value {
	if !vm.IsCellWithType(enum, heap.EnumeratorType) || !index.IsInt32() {
		return value.Null
	}
	info := vm.Heap.Enumerator(enum.AsCell())
	return vm.Heap.EnumeratorName(enum.AsCell(), uint32(index.AsInt32()), info.EndStructureProperty)
}

// EnumeratorGenericPname implements enumerator_generic_pname.
func (vm *VM) EnumeratorGenericPname(enum, index value.Value) value.Value {
	if !vm.IsCellWithType(enum, heap.EnumeratorType) || !index.IsInt32() {
		return value.Null
	}
	info := vm.Heap.Enumerator(enum.AsCell())
	return vm.Heap.EnumeratorName(enum.AsCell(), uint32(index.AsInt32()), info.EndGenericProperty)
}

// GetDirectPname is the generic path of get_direct_pname.
func (vm *VM) GetDirectPname(base, prop value.Value) (value.Value, error) {
	return vm.GetByVal(base, prop)
}

// ObserveArray records base in an array profile the way the inline
// has_indexed_property path does.
func (vm *VM) ObserveArray(p *bytecode.ArrayProfile, base value.Value) {
	if p == nil || !vm.IsObject(base) {
		return
	}
	cell := base.AsCell()
	p.LastSeenStructureID = vm.Heap.StructureID(cell)
	p.ObserveShape(uint8(vm.Heap.Indexing(cell).Shape()))
}
