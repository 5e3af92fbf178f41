package xjson

import (
	gjson "github.com/goccy/go-json"
)

// Marshal/Unmarshal wrappers keep a single import site for the JSON codec used
// by history records, config and workflow files.

func Marshal(v interface{}) ([]byte, error) {
	return gjson.Marshal(v)
}

func Unmarshal(data []byte, v interface{}) error {
	return gjson.Unmarshal(data, v)
}

// Normalize round-trips v through JSON so that typed values (structs, typed
// slices, durations) become plain maps, slices, strings, float64 and bool.
func Normalize(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	data, err := gjson.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := gjson.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
