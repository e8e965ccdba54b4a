package rdb

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
)

// LoadCommand is one string key/value record recovered from an RDB file,
// with its absolute expiry in unix-ms if one was set (0 means none).
type LoadCommand struct {
	Key        string
	Value      string
	ExpireAtMs int64
}

// Loader reads an RDB snapshot file. A missing file is not an error —
// the caller starts with an empty store (spec §4.7).
type Loader struct {
	path string
}

func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load parses the file at the loader's path. It returns (nil, nil) if
// the file does not exist.
func (l *Loader) Load() ([]LoadCommand, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open RDB file: %w", err)
	}
	defer f.Close()

	return load(bufio.NewReader(f))
}

func load(br *bufio.Reader) ([]LoadCommand, error) {
	magic := make([]byte, 5)
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != RDBMagicString {
		return nil, fmt.Errorf("invalid RDB file: bad magic %q", magic)
	}

	version := make([]byte, 4)
	if _, err := io.ReadFull(br, version); err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	// Version value is read but not required to match (spec §4.7 step 2).

	var commands []LoadCommand
	var pendingExpireMs int64

	for {
		opcode, err := br.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("read opcode: %w", err)
		}

		switch opcode {
		case OpCodeAux:
			if _, err := readString(br); err != nil {
				return nil, fmt.Errorf("read aux key: %w", err)
			}
			if _, err := readString(br); err != nil {
				return nil, fmt.Errorf("read aux value: %w", err)
			}

		case OpCodeSelectDB:
			if _, err := readLength(br); err != nil {
				return nil, fmt.Errorf("read selectdb index: %w", err)
			}

		case OpCodeResizeDB:
			if _, err := readLength(br); err != nil {
				return nil, fmt.Errorf("read resizedb hash size: %w", err)
			}
			if _, err := readLength(br); err != nil {
				return nil, fmt.Errorf("read resizedb expire size: %w", err)
			}

		case OpCodeExpireTimeMS:
			var ms uint64
			if err := binary.Read(br, binary.LittleEndian, &ms); err != nil {
				return nil, fmt.Errorf("read expiretime_ms: %w", err)
			}
			pendingExpireMs = int64(ms)

		case OpCodeExpireTime:
			var sec uint32
			if err := binary.Read(br, binary.LittleEndian, &sec); err != nil {
				return nil, fmt.Errorf("read expiretime: %w", err)
			}
			pendingExpireMs = int64(sec) * 1000

		case TypeString:
			key, err := readString(br)
			if err != nil {
				return nil, fmt.Errorf("read string key: %w", err)
			}
			value, err := readString(br)
			if err != nil {
				return nil, fmt.Errorf("read string value for key %s: %w", key, err)
			}
			commands = append(commands, LoadCommand{
				Key:        key,
				Value:      value,
				ExpireAtMs: pendingExpireMs,
			})
			pendingExpireMs = 0

		case OpCodeEOF:
			// spec §4.7: EOF stops parsing here; no trailing checksum is
			// part of this core's contract (original_source/src/rdb/loader.rs
			// also just breaks on EOF without reading one).
			return commands, nil

		default:
			// Any value type this core doesn't produce (list/hash/set/
			// zset/...). We cannot know its length without fully decoding
			// it, so per spec §4.7 "unknown types are skipped as a
			// no-op" we stop here rather than risk misreading the stream.
			return commands, nil
		}
	}
}

// readString reads a length-prefixed string, resolving the special
// integer encodings (§4.7 length encoding, top bits == 11).
func readString(r *bufio.Reader) (string, error) {
	length, special, err := readLengthSpecial(r)
	if err != nil {
		return "", err
	}
	if special {
		switch length {
		case EncInt8:
			b, err := r.ReadByte()
			if err != nil {
				return "", err
			}
			return strconv.Itoa(int(int8(b))), nil
		case EncInt16LE:
			var v int16
			if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
				return "", err
			}
			return strconv.Itoa(int(v)), nil
		case EncInt32LE:
			var v int32
			if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
				return "", err
			}
			return strconv.Itoa(int(v)), nil
		case EncLZF:
			// LZF-compressed strings are treated as empty/skip for this
			// core (spec §4.7).
			return "", nil
		default:
			return "", fmt.Errorf("unsupported special string encoding: %d", length)
		}
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", err
	}
	return string(data), nil
}

func readLength(r *bufio.Reader) (uint32, error) {
	n, special, err := readLengthSpecial(r)
	if err != nil {
		return 0, err
	}
	if special {
		return 0, fmt.Errorf("expected plain length, got special encoding %d", n)
	}
	return n, nil
}

// readLengthSpecial decodes the length-encoding header described in
// spec §4.7: the top two bits of the first byte select 6-bit, 14-bit,
// 32-bit-big-endian, or a "special" encoding whose sub-type is returned
// via the special flag.
func readLengthSpecial(r *bufio.Reader) (value uint32, special bool, err error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, false, err
	}

	switch (first & 0xC0) >> 6 {
	case 0:
		return uint32(first & 0x3F), false, nil
	case 1:
		second, err := r.ReadByte()
		if err != nil {
			return 0, false, err
		}
		return uint32(first&0x3F)<<8 | uint32(second), false, nil
	case 2:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, false, err
		}
		return binary.BigEndian.Uint32(buf), false, nil
	default: // 3: special encoding, low 6 bits select the sub-type
		return uint32(first & 0x3F), true, nil
	}
}
