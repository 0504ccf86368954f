package multimaya

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Serializer defines the interface for result payload encoding and decoding.
// The shim encodes with the Python library of the same name; Go decodes.
type Serializer interface {
	// Name is the identifier written into the frame header and the shim
	// ("json" or "msgpack").
	Name() string

	// Marshal encodes a Go value to bytes.
	Marshal(v interface{}) ([]byte, error)

	// Unmarshal decodes bytes into a Go value.
	Unmarshal(data []byte, v interface{}) error
}

// JSONSerializer uses the Python standard library json module in the child,
// so it works with any interpreter. Numbers decode as json.Number when the
// target is an interface{}.
type JSONSerializer struct{}

func (JSONSerializer) Name() string { return "json" }

func (JSONSerializer) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONSerializer) Unmarshal(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// MsgpackSerializer requires the msgpack package in the child interpreter.
// It preserves bytes, NaN and the int/float distinction.
type MsgpackSerializer struct{}

func (MsgpackSerializer) Name() string { return "msgpack" }

func (ms MsgpackSerializer) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (ms MsgpackSerializer) Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

// SerializerByName returns the serializer for a frame header or config value.
// The empty name selects JSON.
func SerializerByName(name string) (Serializer, error) {
	switch name {
	case "", "json":
		return JSONSerializer{}, nil
	case "msgpack":
		return MsgpackSerializer{}, nil
	}
	return nil, fmt.Errorf("unknown serializer %q", name)
}
