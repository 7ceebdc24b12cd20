package workload

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var validate = validator.New()

// decodeArgs merges the caller's JSON object over defaults and decodes the
// result into out. Values are weakly typed ("8" and 8 are both accepted),
// durations are strings like "30s", and unknown keys are rejected.
func decodeArgs(raw json.RawMessage, defaults map[string]interface{}, out interface{}) error {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		var overrides map[string]interface{}
		if err := json.Unmarshal(trimmed, &overrides); err != nil {
			return fmt.Errorf("%w: must be a JSON object: %v", ErrInvalidArgs, err)
		}
		if err := v.MergeConfigMap(overrides); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
		}
	}

	if err := v.UnmarshalExact(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return nil
}
