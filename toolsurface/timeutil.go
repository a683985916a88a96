package toolsurface

import (
	"time"

	"github.com/processd/processd/fragment"
)

// parseTimeFilter turns the wire-level string-timestamp input into a
// fragment.TimeFilter, silently dropping any field that fails to parse as
// RFC3339 rather than rejecting the whole request over one bad field.
func parseTimeFilter(in *fragmentTimeInput) *fragment.TimeFilter {
	if in == nil {
		return nil
	}
	tf := &fragment.TimeFilter{LastNDays: in.LastNDays}
	tf.CreatedAfter = parseTime(in.CreatedAfter)
	tf.CreatedBefore = parseTime(in.CreatedBefore)
	tf.UpdatedAfter = parseTime(in.UpdatedAfter)
	tf.UpdatedBefore = parseTime(in.UpdatedBefore)
	return tf
}

func parseTime(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil
	}
	return &t
}
