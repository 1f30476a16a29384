package asset

import (
	"fmt"
	"sort"

	"github.com/goccy/go-json"
)

// Input records the asset versions a contract execution read, keyed by asset
// id. It is stored on every record written by that execution and seeds the
// replay during validation.
type Input map[string]uint32

type inputAge struct {
	Age uint32 `json:"age"`
}

// Encode serialises the input as {"<id>":{"age":n}}. go-json sorts map keys
// unless told otherwise, so the encoding is canonical.
func (in Input) Encode() []byte {
	m := make(map[string]inputAge, len(in))
	for id, age := range in {
		m[id] = inputAge{Age: age}
	}
	b, err := json.Marshal(m)
	if err != nil {
		// A map of strings to structs of integers always marshals.
		panic(fmt.Sprintf("encode asset input: %v", err))
	}
	return b
}

// IDs returns the asset ids in ascending order.
func (in Input) IDs() []string {
	ids := make([]string, 0, len(in))
	for id := range in {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DecodeInput parses an encoded input. Empty input decodes to an empty map.
func DecodeInput(b []byte) (Input, error) {
	in := Input{}
	if len(b) == 0 {
		return in, nil
	}
	var m map[string]inputAge
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode asset input: %w", err)
	}
	for id, a := range m {
		in[id] = a.Age
	}
	return in, nil
}
