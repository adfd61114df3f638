// Package transcode renames the keys of JSON-like values between the camelCase
// convention used by browser clients and the snake_case convention used by the
// upstream API.
//
// Values are the shapes produced by encoding/json when decoding into an any:
// nil, bool, float64 or json.Number, string, []any and map[string]any. Only
// map[string]any keys are renamed; slices are walked element by element and
// every other value is returned unchanged. Inputs are never mutated.
//
// A camelCase key converts to snake_case by replacing each upper-case letter with
// an underscore and its lower-case form, and back again. Transforming to the
// upstream form and back to the client form reproduces the original keys, with
// one inherent limitation: two different client keys may map onto the same
// upstream key ("userId" and "user_id" both become "user_id"). Such collisions
// are reported to the caller and the colliding keys are passed through with
// their original names rather than silently dropping one of the values.
//
// The round trip also only holds for client keys in the camelCase alphabet: an
// underscore followed by a lower-case letter, or an upper-case letter whose
// lower-case form does not convert back to it, is not preserved and is not
// reported. "a_b" returns to the client as "aB" and "İd" as "Id".
package transcode
