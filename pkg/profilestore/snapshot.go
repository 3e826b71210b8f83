package profilestore

import (
	"bytes"
	"io"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/pierrec/lz4/v4"

	"basejit/pkg/bytecode"
	"basejit/pkg/serializer"
)

// Snapshot is the persisted profiling state of one unit.
type Snapshot struct {
	Name           string
	ResultFlags    []uint32
	ArrayShapes    []uint32
	TypesSeen      []uint32
	BlockCounts    []uint64
	ExecuteCounter int32
}

// Take copies the profiles of u.
func Take(u *bytecode.Unit) *Snapshot {
	s := &Snapshot{
		Name:           u.Name,
		ResultFlags:    make([]uint32, len(u.ResultProfiles)),
		ArrayShapes:    make([]uint32, len(u.ArrayProfiles)),
		TypesSeen:      make([]uint32, len(u.TypeLocations)),
		BlockCounts:    make([]uint64, len(u.BasicBlocks)),
		ExecuteCounter: atomic.LoadInt32(&u.ExecuteCounter),
	}
	for i := range u.ResultProfiles {
		s.ResultFlags[i] = u.ResultProfiles[i].Load()
	}
	for i := range u.ArrayProfiles {
		s.ArrayShapes[i] = u.ArrayProfiles[i].Shapes()
	}
	for i := range u.TypeLocations {
		s.TypesSeen[i] = uint32(u.TypeLocations[i].Seen)
	}
	for i := range u.BasicBlocks {
		s.BlockCounts[i] = u.BasicBlocks[i].Count()
	}
	return s
}

// Apply merges s into the profiles of u. Flags and shapes are ORed, block
// counts added, and the execute counter only moves closer to tier-up.
func (s *Snapshot) Apply(u *bytecode.Unit) error {
	if len(s.ResultFlags) != len(u.ResultProfiles) ||
		len(s.ArrayShapes) != len(u.ArrayProfiles) ||
		len(s.TypesSeen) != len(u.TypeLocations) ||
		len(s.BlockCounts) != len(u.BasicBlocks) {
		return errors.Newf("snapshot of %s does not match the profile layout of %s", s.Name, u.Name)
	}
	for i, f := range s.ResultFlags {
		u.ResultProfiles[i].Set(f)
	}
	for i, shapes := range s.ArrayShapes {
		atomic.OrUint32(&u.ArrayProfiles[i].ObservedShapes, shapes)
	}
	for i, seen := range s.TypesSeen {
		u.TypeLocations[i].Seen |= bytecode.TypeSet(seen)
	}
	for i, n := range s.BlockCounts {
		atomic.AddUint64(&u.BasicBlocks[i].ExecutionCount, n)
	}
	for {
		cur := atomic.LoadInt32(&u.ExecuteCounter)
		if s.ExecuteCounter <= cur || atomic.CompareAndSwapInt32(&u.ExecuteCounter, cur, s.ExecuteCounter) {
			break
		}
	}
	return nil
}

// encode serializes s into an lz4 frame.
func (s *Snapshot) encode() ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(serializer.Serialize(s)); err != nil {
		return nil, errors.Wrap(err, "compress snapshot")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "compress snapshot")
	}
	return buf.Bytes(), nil
}

func decodeSnapshot(data []byte) (*Snapshot, error) {
	raw, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, errors.Wrap(err, "decompress snapshot")
	}
	s := new(Snapshot)
	if err := serializer.Deserialize(raw, s); err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}
	return s, nil
}
