package gguf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// Arrays larger than this keep their length but drop their elements. The
// tokenizer vocab alone can run to hundreds of thousands of strings, none of
// which the benchmark needs.
const maxRetainedArrayLen = 256

// ReadHeader parses the GGUF header, metadata and tensor descriptors from a
// file without touching tensor data. Versions 2 and 3 are supported.
func ReadHeader(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return Decode(bufio.NewReaderSize(f, 1<<20))
}

// Decode parses a GGUF header block from r.
func Decode(r io.Reader) (*File, error) {
	file := &File{KV: make(map[string]interface{})}

	var hdr [24]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	file.Header.Magic = binary.LittleEndian.Uint32(hdr[0:])
	if file.Header.Magic != GGUFMagic {
		return nil, ErrInvalidMagic{Magic: file.Header.Magic}
	}
	file.Header.Version = binary.LittleEndian.Uint32(hdr[4:])
	if file.Header.Version < 2 || file.Header.Version > 3 {
		return nil, ErrUnsupportedVersion{Version: file.Header.Version}
	}
	file.Header.TensorCount = binary.LittleEndian.Uint64(hdr[8:])
	file.Header.KVCount = binary.LittleEndian.Uint64(hdr[16:])

	for i := uint64(0); i < file.Header.KVCount; i++ {
		key, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("kv %d key: %w", i, err)
		}
		typ, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("kv %q type: %w", key, err)
		}
		val, err := readValue(r, MetadataValueType(typ))
		if err != nil {
			return nil, fmt.Errorf("kv %q value: %w", key, err)
		}
		file.KV[key] = val
	}

	for i := uint64(0); i < file.Header.TensorCount; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("tensor %d name: %w", i, err)
		}
		nDims, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		if nDims > 8 {
			return nil, fmt.Errorf("tensor %q: implausible dimension count %d", name, nDims)
		}
		dims := make([]uint64, nDims)
		for j := range dims {
			if dims[j], err = readUint64(r); err != nil {
				return nil, err
			}
		}
		typ, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		off, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		file.Tensors = append(file.Tensors, &TensorInfo{
			Name:       name,
			Dimensions: dims,
			Type:       GGMLType(typ),
			Offset:     off,
		})
	}

	return file, nil
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readString(r io.Reader) (string, error) {
	length, err := readUint64(r)
	if err != nil {
		return "", err
	}
	if length > 1<<24 {
		return "", fmt.Errorf("implausible string length %d", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readValue(r io.Reader, typ MetadataValueType) (interface{}, error) {
	switch typ {
	case MetadataValueTypeUint8:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		return b[0], nil
	case MetadataValueTypeInt8:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		return int8(b[0]), nil
	case MetadataValueTypeUint16:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		return binary.LittleEndian.Uint16(b[:]), nil
	case MetadataValueTypeInt16:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		return int16(binary.LittleEndian.Uint16(b[:])), nil
	case MetadataValueTypeUint32:
		return readUint32(r)
	case MetadataValueTypeInt32:
		v, err := readUint32(r)
		return int32(v), err
	case MetadataValueTypeFloat32:
		v, err := readUint32(r)
		return math.Float32frombits(v), err
	case MetadataValueTypeBool:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		return b[0] != 0, nil
	case MetadataValueTypeString:
		return readString(r)
	case MetadataValueTypeUint64:
		return readUint64(r)
	case MetadataValueTypeInt64:
		v, err := readUint64(r)
		return int64(v), err
	case MetadataValueTypeFloat64:
		v, err := readUint64(r)
		return math.Float64frombits(v), err
	case MetadataValueTypeArray:
		elemType, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		length, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		var kept []interface{}
		for i := uint64(0); i < length; i++ {
			v, err := readValue(r, MetadataValueType(elemType))
			if err != nil {
				return nil, err
			}
			if i < maxRetainedArrayLen {
				kept = append(kept, v)
			}
		}
		return kept, nil
	default:
		return nil, fmt.Errorf("unsupported metadata type: %d", typ)
	}
}
