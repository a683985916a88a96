package toolsurface

import (
	"encoding/json"

	"github.com/processd/processd/errs"
)

// decode round-trips args through JSON into dest, then validates dest's
// struct tags. This is the one place map[string]any meets a concrete,
// validator-tagged argument struct for every operation below.
func decode(args map[string]any, dest any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return errs.Wrap(errs.KindInvalidRequest, "failed to encode arguments", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return errs.Wrap(errs.KindInvalidRequest, "failed to decode arguments", err)
	}
	return validateArgs(dest)
}
