package transcode

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSON decodes raw, transforms it and re-encodes it. Numbers are kept as
// json.Number so their textual form survives the round trip. Empty or
// whitespace-only input is returned unchanged.
func JSON(raw []byte, mode Mode) ([]byte, []Collision, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return raw, nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, nil, fmt.Errorf("[transcode JSON] decode: %w", err)
	}
	if dec.More() {
		return nil, nil, fmt.Errorf("[transcode JSON] decode: trailing data after value")
	}

	out, collisions := Transform(v, mode)
	encoded, err := Marshal(out)
	if err != nil {
		return nil, nil, err
	}
	return encoded, collisions, nil
}

// Marshal encodes v without HTML escaping and without a trailing newline.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("[transcode Marshal] encode: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
