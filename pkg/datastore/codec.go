package datastore

import (
	"bytes"
	"fmt"

	"github.com/ulikunitz/xz/lzma"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Encoded documents start with a one byte format marker.
const (
	formatRaw  byte = 0x00
	formatLzma byte = 0x01
)

var marshalOptions = proto.MarshalOptions{Deterministic: true}

// EncodeDocument serializes a document as a protobuf Struct, optionally lzma
// compressed.
func EncodeDocument(doc Document, compress bool) ([]byte, error) {
	normalized, err := Normalize(map[string]any(doc))
	if err != nil {
		return nil, fmt.Errorf("normalize document: %w", err)
	}
	s, err := structpb.NewStruct(normalized.(map[string]any))
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	data, err := marshalOptions.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal struct: %w", err)
	}
	if !compress {
		return append([]byte{formatRaw}, data...), nil
	}

	var buf bytes.Buffer
	buf.WriteByte(formatLzma)
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("lzma writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lzma write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lzma close: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeDocument reverses EncodeDocument. Numbers come back as float64.
func DecodeDocument(data []byte) (Document, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty document payload")
	}
	payload := data[1:]
	switch data[0] {
	case formatRaw:
	case formatLzma:
		r, err := lzma.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("lzma reader: %w", err)
		}
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(r); err != nil {
			return nil, fmt.Errorf("lzma read: %w", err)
		}
		payload = buf.Bytes()
	default:
		return nil, fmt.Errorf("unknown document format 0x%02x", data[0])
	}

	s := &structpb.Struct{}
	if err := proto.Unmarshal(payload, s); err != nil {
		return nil, fmt.Errorf("unmarshal struct: %w", err)
	}
	return Document(s.AsMap()), nil
}
