package vm

import (
	"sync"
	"unsafe"

	"basejit/pkg/bytecode"
	"basejit/pkg/value"
)

// TypeLogEntry is one record of the type profiler log. Generated code writes
// these fields directly.
type TypeLogEntry struct {
	Value       uint64
	StructureID uint32
	_           uint32
	Location    uint64
}

const (
	TypeLogEntrySize           = 24
	TypeLogEntryValueOffset    = 0
	TypeLogEntryStructureIDOff = 8
	TypeLogEntryLocationOffset = 16
)

// TypeProfilerLog is a fixed-capacity append log. Cursor and End are
// addresses inside entries; the log is processed when Cursor reaches End.
type TypeProfilerLog struct {
	Cursor uint64
	End    uint64

	entries   []TypeLogEntry
	mu        sync.Mutex
	locations map[uint64]*bytecode.TypeLocation
}

func newTypeProfilerLog(capacity int) *TypeProfilerLog {
	l := &TypeProfilerLog{
		entries:   make([]TypeLogEntry, capacity),
		locations: make(map[uint64]*bytecode.TypeLocation),
	}
	l.reset()
	return l
}

func (l *TypeProfilerLog) start() uint64 { return uint64(uintptr(unsafe.Pointer(&l.entries[0]))) }

func (l *TypeProfilerLog) reset() {
	l.Cursor = l.start()
	l.End = l.start() + uint64(len(l.entries))*TypeLogEntrySize
}

func (l *TypeProfilerLog) register(loc *bytecode.TypeLocation) {
	l.mu.Lock()
	l.locations[LocationAddress(loc)] = loc
	l.mu.Unlock()
}

// LocationAddress is the identifier logged for loc.
func LocationAddress(loc *bytecode.TypeLocation) uint64 {
	return uint64(uintptr(unsafe.Pointer(loc)))
}

func (l *TypeProfilerLog) CursorAddress() uintptr { return uintptr(unsafe.Pointer(&l.Cursor)) }

func (l *TypeProfilerLog) EndAddress() uintptr { return uintptr(unsafe.Pointer(&l.End)) }

// Len is the number of unprocessed entries.
func (l *TypeProfilerLog) Len() int { return int((l.Cursor - l.start()) / TypeLogEntrySize) }

func (vm *VM) TypeLog() *TypeProfilerLog { return vm.typeLog }

// ProfileType implements profile_type for executors without inline
// logging: values matching the location's last seen type are skipped.
func (vm *VM) ProfileType(v value.Value, loc *bytecode.TypeLocation) {
	if v.IsEmpty() || vm.matchesLastSeen(v, loc.LastSeen) {
		return
	}
	l := vm.typeLog
	i := vm.typeLog.Len()
	e := &l.entries[i]
	e.Value = uint64(v)
	e.StructureID = 0
	if v.IsCell() {
		e.StructureID = vm.Heap.StructureID(v.AsCell())
	}
	e.Location = LocationAddress(loc)
	l.Cursor += TypeLogEntrySize
	if l.Cursor == l.End {
		vm.ProcessTypeProfilerLog()
	}
}

// matchesLastSeen mirrors the single inline check generated code emits.
func (vm *VM) matchesLastSeen(v value.Value, last bytecode.TypeSet) bool {
	switch last {
	case bytecode.TypeUndefined:
		return v.IsUndefined()
	case bytecode.TypeNull:
		return v.IsNull()
	case bytecode.TypeBoolean:
		return v.IsBoolean()
	case bytecode.TypeAnyInt:
		return v.IsInt32()
	case bytecode.TypeNumber:
		return v.IsNumber()
	case bytecode.TypeString:
		return vm.IsString(v)
	}
	return false
}

// ProcessTypeProfilerLog folds every logged entry into its location and
// empties the log.
func (vm *VM) ProcessTypeProfilerLog() {
	l := vm.typeLog
	n := l.Len()
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := 0; i < n; i++ {
		e := l.entries[i]
		loc, ok := l.locations[e.Location]
		if !ok {
			continue
		}
		v := value.Value(e.Value)
		t := vm.TypeSetOf(v)
		loc.Seen |= t
		loc.LastSeen = t
		if t == bytecode.TypeObject && e.StructureID != 0 {
			loc.AddStructure(e.StructureID)
		}
	}
	l.reset()
}
