package utils

import (
	"time"
)

func BoolPtr(b bool) *bool {
	return &b
}

func StringPtr(s string) *string {
	return &s
}

func TimePtr(t time.Time) *time.Time {
	return &t
}

func PtrString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// OptionalString returns nil for an empty string so that blank notes are
// stored as NULL.
func OptionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
