package tracker

const (
	// DefaultHeartMax is the affinity ceiling when none is configured.
	DefaultHeartMax = 99_999
	// DefaultSensitivity is the affinity sensitivity when none is configured.
	DefaultSensitivity = 5

	shiftPerSensitivity = 500
	maxShiftCeiling     = 5_000
	fallbackMaxShift    = 2_500

	minSensitivity = 1
	maxSensitivity = 10
)

// AffinityConfig bounds the heart meter. Max is the absolute ceiling;
// Sensitivity (1..10) scales the per-update delta.
type AffinityConfig struct {
	Max         int `toml:"heart_max"`
	Sensitivity int `toml:"sensitivity"`
}

// Normalize fills unset or out-of-range settings with defaults.
func (c AffinityConfig) Normalize() AffinityConfig {
	if c.Max <= 0 {
		c.Max = DefaultHeartMax
	}
	if c.Sensitivity < minSensitivity || c.Sensitivity > maxSensitivity {
		c.Sensitivity = DefaultSensitivity
	}
	return c
}

// MaxShift maps sensitivity to the maximum per-update delta.
func (c AffinityConfig) MaxShift() int {
	c = c.Normalize()
	shift := c.Sensitivity * shiftPerSensitivity
	if shift > maxShiftCeiling {
		shift = maxShiftCeiling
	}
	return shift
}

// Clamp clips a proposed heart value into the window allowed by the
// previous value and the maximum per-update shift, then into [0, max].
// Clamp is total: a nil raw value yields the previous value, a nil
// previous value is treated as 0, and a non-positive shift falls back to
// the default.
func Clamp(raw, previous *int, maxShift, heartMax int) int {
	if heartMax <= 0 {
		heartMax = DefaultHeartMax
	}
	if maxShift <= 0 {
		maxShift = fallbackMaxShift
	}

	prev := 0
	if previous != nil {
		prev = *previous
	}
	if raw == nil {
		return clampRange(prev, heartMax)
	}

	low := prev - maxShift
	if low < 0 {
		low = 0
	}
	high := prev + maxShift
	if high > heartMax {
		high = heartMax
	}

	v := *raw
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

// ClampRange applies only the absolute [0, max] bound, with no shift
// window. Used for human-authored corrections.
func ClampRange(raw *int, heartMax int) *int {
	if raw == nil {
		return nil
	}
	if heartMax <= 0 {
		heartMax = DefaultHeartMax
	}
	v := clampRange(*raw, heartMax)
	return &v
}

func clampRange(v, heartMax int) int {
	if v < 0 {
		return 0
	}
	if v > heartMax {
		return heartMax
	}
	return v
}
