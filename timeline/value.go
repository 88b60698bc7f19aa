package timeline

import (
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// ValueKind identifies what a Value holds.
type ValueKind int

const (
	Number ValueKind = iota
	Colour
	Text
)

// Value is an animated attribute value.
type Value struct {
	Kind   ValueKind
	Num    float64
	Colour colorful.Color
	Text   string
}

// NumberValue creates a numeric Value.
func NumberValue(f float64) Value {
	return Value{Kind: Number, Num: f}
}

// ColourValue creates a colour Value.
func ColourValue(c colorful.Color) Value {
	return Value{Kind: Colour, Colour: c}
}

// TextValue creates a string Value.
func TextValue(s string) Value {
	return Value{Kind: Text, Text: s}
}

// ParseValue reads "#rrggbb" as a colour, anything strconv accepts as a
// float as a number, and everything else as text.
func ParseValue(s string) Value {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "#") {
		if c, err := colorful.Hex(s); err == nil {
			return ColourValue(c)
		}
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return NumberValue(f)
	}

	return TextValue(s)
}

// Float returns the numeric value, if the Value is a number.
func (v Value) Float() (float64, bool) {
	return v.Num, v.Kind == Number
}

// Color returns the colour, if the Value is a colour.
func (v Value) Color() (colorful.Color, bool) {
	return v.Colour, v.Kind == Colour
}

func (v Value) String() string {
	switch v.Kind {
	case Number:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case Colour:
		return v.Colour.Clamped().Hex()
	default:
		return v.Text
	}
}

// UnmarshalYAML reads any scalar through ParseValue.
func (v *Value) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	*v = ParseValue(s)
	return nil
}

// MarshalYAML writes the Value back in the form ParseValue reads.
func (v Value) MarshalYAML() (interface{}, error) {
	return v.String(), nil
}

// interpolate blends a towards b by p in [0, 1]. Numbers are linear, colours
// blend in HCL, and anything else steps at the end of the segment.
func interpolate(a, b Value, p float64) Value {
	switch {
	case a.Kind == Number && b.Kind == Number:
		return NumberValue(a.Num + (b.Num-a.Num)*p)
	case a.Kind == Colour && b.Kind == Colour:
		return ColourValue(a.Colour.BlendHcl(b.Colour, p).Clamped())
	case p >= 1:
		return b
	default:
		return a
	}
}
