package pointers

// Float64 is used for optional scores, where nil means the model reported none.
func Float64(v float64) *float64 { return &v }
