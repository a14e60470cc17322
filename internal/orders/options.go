package orders

import (
	"encoding/json"
	"fmt"
)

// EncodeOptions renders an item's selected options in their persisted text form.
// nil options are stored as SQL NULL.
func EncodeOptions(opts map[string]string) (*string, error) {
	if opts == nil {
		return nil, nil
	}
	b, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("encode options: %w", err)
	}
	s := string(b)
	return &s, nil
}

func DecodeOptions(raw *string) (map[string]string, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	var opts map[string]string
	if err := json.Unmarshal([]byte(*raw), &opts); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	return opts, nil
}
