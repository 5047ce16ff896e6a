package navigator

import (
	"fmt"
	"strconv"
	"strings"
)

// Rational represents a frame rate as numerator/denominator, the way
// containers report it (30000/1001 for NTSC 29.97).
type Rational struct {
	Num int
	Den int
}

// NewRational creates a new rational number
func NewRational(num, den int) Rational {
	if den == 0 {
		den = 1
	}
	return Rational{Num: num, Den: den}
}

// Float64 returns the floating point representation
func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// String formats the rate as "num/den".
func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Common frame rates
var (
	FrameRate24 = Rational{Num: 24, Den: 1}
	FrameRate25 = Rational{Num: 25, Den: 1} // PAL
	FrameRate30 = Rational{Num: 30, Den: 1}
	FrameRate50 = Rational{Num: 50, Den: 1}
	FrameRate60 = Rational{Num: 60, Den: 1}

	// High-speed capture rates used for swing footage
	FrameRate120 = Rational{Num: 120, Den: 1}
	FrameRate240 = Rational{Num: 240, Den: 1}

	// NTSC frame rates
	FrameRate23_976 = Rational{Num: 24000, Den: 1001}
	FrameRate29_97  = Rational{Num: 30000, Den: 1001}
	FrameRate59_94  = Rational{Num: 60000, Den: 1001}
)

// ParseRational parses "num/den", a decimal ("29.97") or an integer ("30").
// Decimals are kept at millisecond-of-a-frame precision.
func ParseRational(s string) (Rational, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Rational{}, fmt.Errorf("empty frame rate")
	}

	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(num))
		if err != nil {
			return Rational{}, fmt.Errorf("invalid frame rate numerator %q: %w", num, err)
		}
		d, err := strconv.Atoi(strings.TrimSpace(den))
		if err != nil {
			return Rational{}, fmt.Errorf("invalid frame rate denominator %q: %w", den, err)
		}
		if d == 0 {
			return Rational{}, fmt.Errorf("frame rate %q has zero denominator", s)
		}
		return Rational{Num: n, Den: d}, nil
	}

	if n, err := strconv.Atoi(s); err == nil {
		return Rational{Num: n, Den: 1}, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Rational{}, fmt.Errorf("invalid frame rate %q: %w", s, err)
	}
	return Rational{Num: int(f*1000 + 0.5), Den: 1000}, nil
}
