package bytecode

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"

	"basejit/pkg/serializer"
)

// Fingerprint identifies a unit by its code, not by its profiles.
type Fingerprint [32]byte

func (f Fingerprint) String() string { return hex.EncodeToString(f[:]) }

type fingerprintInput struct {
	Name               string
	NumParams          uint32
	NumLocals          uint32
	Instructions       []Instruction
	Constants          []Constant
	SwitchTables       []SimpleJumpTable
	StringSwitchTables []StringJumpTable
	Handlers           []Handler
}

// FingerprintOf hashes the instruction stream, constants and tables of u.
func FingerprintOf(u *Unit) Fingerprint {
	return blake2b.Sum256(serializer.Serialize(&fingerprintInput{
		Name:               u.Name,
		NumParams:          uint32(u.NumParams),
		NumLocals:          uint32(u.NumLocals),
		Instructions:       u.Instructions,
		Constants:          u.Constants,
		SwitchTables:       u.SwitchTables,
		StringSwitchTables: u.StringSwitchTables,
		Handlers:           u.Handlers,
	}))
}
