// Package rdb implements the RDB binary format to the extent this
// server needs it: a startup loader that populates the string store,
// and an in-memory empty-snapshot generator used for a replica's full
// resync payload. Persistence writing of a populated snapshot is out of
// scope (spec §1 Non-goals) — this core never writes a populated dump.
package rdb

import "encoding/hex"

const (
	RDBVersion     = 9
	RDBMagicString = "REDIS"

	// Opcodes (spec §4.7).
	OpCodeEOF          = 0xFF
	OpCodeSelectDB     = 0xFE
	OpCodeExpireTime   = 0xFD
	OpCodeExpireTimeMS = 0xFC
	OpCodeResizeDB     = 0xFB
	OpCodeAux          = 0xFA

	// Type codes. Only TypeString is defined and consumed by this core;
	// the loader stops at any other value-type byte.
	TypeString = 0x00

	// Length-encoding sub-types selected by the low 6 bits when the top
	// two bits of a length byte are 11 (special/"encoded" string form).
	EncInt8    = 0
	EncInt16LE = 1
	EncInt32LE = 2
	EncLZF     = 3
)

// emptyRDBHex is a pre-built empty RDB snapshot (magic, version, AUX
// metadata, EOF, checksum) with no keys, used verbatim as the payload
// a master sends a replica after FULLRESYNC. Bytes match the fixture
// used by original_source's handshake tests.
const emptyRDBHex = "524544495330303131fa0972656469732d76657205372e322e30fa0a72656469732d62697473c040fa056374696d65c26d08bc65fa08757365642d6d656dc2b0c41000fa08616f662d62617365c000fff06e3bfec0ff5aa2"

// EmptyRDB returns the raw bytes of an empty RDB snapshot, for a
// master's PSYNC full-resync reply (spec §4.4, §6).
func EmptyRDB() []byte {
	b, err := hex.DecodeString(emptyRDBHex)
	if err != nil {
		panic("rdb: invalid embedded empty snapshot: " + err.Error())
	}
	return b
}
