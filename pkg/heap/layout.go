package heap

// CellType is the type byte stored in every cell header.
type CellType uint8

const (
	StringType       CellType = 2
	SymbolType       CellType = 3
	EnumeratorType   CellType = 4
	ExceptionType    CellType = 5
	RareDataType     CellType = 6
	ObjectType       CellType = 16 // every type at or above this is an object
	FinalObjectType  CellType = 17
	ArrayType        CellType = 18
	FunctionType     CellType = 19
	ProxyType        CellType = 20
	MemoryBufferType CellType = 21
	RegExpType       CellType = 22
	GlobalObjectType CellType = 23
)

func (t CellType) IsObject() bool { return t >= ObjectType }

func (t CellType) String() string {
	switch t {
	case StringType:
		return "String"
	case SymbolType:
		return "Symbol"
	case EnumeratorType:
		return "Enumerator"
	case ExceptionType:
		return "Exception"
	case RareDataType:
		return "RareData"
	case ObjectType:
		return "Object"
	case FinalObjectType:
		return "FinalObject"
	case ArrayType:
		return "Array"
	case FunctionType:
		return "Function"
	case ProxyType:
		return "Proxy"
	case MemoryBufferType:
		return "MemoryBuffer"
	case RegExpType:
		return "RegExp"
	case GlobalObjectType:
		return "GlobalObject"
	}
	return "Unknown"
}

// TypeInfoFlags is the capability byte of a cell header.
type TypeInfoFlags uint8

const (
	MasqueradesAsUndefined       TypeInfoFlags = 0x1
	ImplementsDefaultHasInstance TypeInfoFlags = 0x2
)

// IndexingType describes the element storage of an object.
type IndexingType uint8

const (
	IsArray           IndexingType = 0x01
	NoIndexingShape   IndexingType = 0x00
	Int32Shape        IndexingType = 0x04
	ContiguousShape   IndexingType = 0x08
	IndexingShapeMask IndexingType = 0x0e
)

func (i IndexingType) Shape() IndexingType { return i & IndexingShapeMask }

// Cell header. Every cell starts with these eight bytes.
const (
	CellStructureIDOffset  = 0
	CellIndexingTypeOffset = 4
	CellTypeOffset         = 5
	CellFlagsOffset        = 6
	CellStateOffset        = 7
	CellHeaderSize         = 8
)

// Objects.
const (
	ObjectButterflyOffset     = 8
	ObjectInlineStorageOffset = 16
	DefaultInlineCapacity     = 6
	MaxInlineCapacity         = 62
)

// Butterflies point at element zero. Named out-of-line properties grow
// downwards from the indexing header.
const (
	ButterflyPublicLengthOffset  = -8
	ButterflyVectorLengthOffset  = -4
	ButterflyFirstPropertyOffset = -16
)

// Functions have no inline property storage.
const (
	FunctionRareDataOffset   = 16
	FunctionExecutableOffset = 24
	FunctionKindOffset       = 28
	FunctionSize             = 32
)

// Function rare data holds the allocation profile used by create_this.
const (
	RareDataAllocatorOffset      = 0
	RareDataStructureIDOffset    = 8
	RareDataInlineCapacityOffset = 12
	RareDataSize                 = 16
)

const (
	StringDataOffset   = 8
	StringLengthOffset = 16
	StringHeaderSize   = 24
)

const (
	SymbolIDOffset          = 8
	SymbolDescriptionOffset = 16
	SymbolSize              = 24
)

const (
	ExceptionValueOffset = 8
	ExceptionFlagsOffset = 16
	ExceptionSize        = 24

	ExceptionUncatchable uint32 = 0x1
)

const (
	EnumeratorCachedStructureIDOffset    = 8
	EnumeratorCachedInlineCapacityOffset = 12
	EnumeratorEndStructurePropertyOffset = 16
	EnumeratorEndGenericPropertyOffset   = 20
	EnumeratorCachedPropertyNamesOffset  = 24
	EnumeratorSize                       = 32
)

// Raw structure table entries, indexed by structure ID.
const (
	StructureEntrySize            = 16
	StructureGlobalObjectOffset   = 0
	StructureInlineCapacityOffset = 4
	StructureTypeOffset           = 8
	StructureFlagsOffset          = 9
	StructureIndexingOffset       = 10
)

// Allocator fields, as laid out in Allocator.
const (
	AllocatorCursorOffset   = 0
	AllocatorLimitOffset    = 8
	AllocatorCellSizeOffset = 16
)

// ObjectSize is the allocation size of an object with the given inline capacity.
func ObjectSize(inlineCapacity int) int {
	return ObjectInlineStorageOffset + 8*inlineCapacity
}

// HeaderWord packs a cell header into the single word stored at offset 0.
func HeaderWord(structureID uint32, indexing IndexingType, typ CellType, flags TypeInfoFlags) uint64 {
	return uint64(structureID) | uint64(indexing)<<32 | uint64(typ)<<40 | uint64(flags)<<48
}
