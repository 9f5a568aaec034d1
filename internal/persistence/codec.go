package persistence

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/lendr/loanflow/pkg/api"
)

// EncodeValue serializes arbitrary Go values using encoding/gob.
// Callers must ensure that values are gob-encodable; the loan payload types
// register themselves in the loan package's init.
func EncodeValue(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	// Encode as interface{} so payloads can be decoded without knowing
	// their concrete type up front.
	iv := v
	if err := enc.Encode(&iv); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeValue reverses EncodeValue. Empty input decodes to nil.
func DecodeValue(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var iv any
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&iv); err != nil {
		return nil, err
	}
	return iv, nil
}

// EncodeOutputs serializes a step-output map. The map itself is encoded
// concretely; only the opaque values go through the interface path.
func EncodeOutputs(m map[api.Step]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeOutputs reverses EncodeOutputs. Empty input decodes to an empty map.
func DecodeOutputs(data []byte) (map[api.Step]any, error) {
	m := make(map[api.Step]any)
	if len(data) == 0 {
		return m, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeSignals serializes the per-instance signal record set.
func EncodeSignals(m map[api.Signal]time.Time) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeSignals reverses EncodeSignals. Empty input decodes to an empty map.
func DecodeSignals(data []byte) (map[api.Signal]time.Time, error) {
	m := make(map[api.Signal]time.Time)
	if len(data) == 0 {
		return m, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}
