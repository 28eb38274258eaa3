// Package levels maps the 1..5 UI knobs onto the discrete pitch and speed
// values understood by the inference engine.
package levels

import (
	"errors"
	"fmt"
	"strings"
)

// Value is the engine-side name of a pitch or speed level.
type Value string

const (
	VeryLow  Value = "very_low"
	Low      Value = "low"
	Moderate Value = "moderate"
	High     Value = "high"
	VeryHigh Value = "very_high"
)

// Level domain shared by pitch and speed.
const (
	Min     = 1
	Max     = 5
	Default = 3
)

// ErrInvalidParameter is returned for any client-supplied knob outside its domain.
var ErrInvalidParameter = errors.New("invalid parameter")

// levelMap is indexed by level-Min.
var levelMap = [Max - Min + 1]Value{VeryLow, Low, Moderate, High, VeryHigh}

// Resolve returns the engine value for a UI level. Levels outside [Min, Max]
// are rejected, never clamped.
func Resolve(level int) (Value, error) {
	if level < Min || level > Max {
		return "", fmt.Errorf("%w: level %d outside [%d, %d]", ErrInvalidParameter, level, Min, Max)
	}

	return levelMap[level-Min], nil
}

// Gender is the speaker descriptor used by voice creation.
type Gender string

const (
	Male   Gender = "male"
	Female Gender = "female"
)

// DefaultGender matches the form default of POST /voice_create.
const DefaultGender = Male

// ParseGender accepts "male" or "female" case-insensitively. An empty string
// yields DefaultGender.
func ParseGender(s string) (Gender, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultGender, nil
	case string(Male):
		return Male, nil
	case string(Female):
		return Female, nil
	default:
		return "", fmt.Errorf("%w: gender %q (want male|female)", ErrInvalidParameter, s)
	}
}
