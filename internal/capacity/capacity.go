// Package capacity implements the byte quantities used throughout deployment
// configuration: "8G", "512M", "1.5T" or a plain byte count. Units are binary
// (1G = 1024M).
package capacity

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Bytes is a byte quantity.
type Bytes int64

// Binary units.
const (
	B   Bytes = 1
	KiB       = 1024 * B
	MiB       = 1024 * KiB
	GiB       = 1024 * MiB
	TiB       = 1024 * GiB
	PiB       = 1024 * TiB
)

var units = []struct {
	suffix string
	size   Bytes
}{
	{"P", PiB},
	{"T", TiB},
	{"G", GiB},
	{"M", MiB},
	{"K", KiB},
}

// Parse parses a capacity string. The unit suffix is case insensitive and may
// be followed by "B" or "iB" ("8G", "8g", "8GB", "8GiB"). A bare number is a
// byte count.
func Parse(s string) (Bytes, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return 0, fmt.Errorf("empty capacity")
	}
	upper := strings.ToUpper(v)
	upper = strings.TrimSuffix(upper, "IB")
	if len(upper) > 1 && strings.HasSuffix(upper, "B") {
		upper = strings.TrimSuffix(upper, "B")
	}

	unit := B
	for _, u := range units {
		if strings.HasSuffix(upper, u.suffix) {
			unit = u.size
			upper = strings.TrimSuffix(upper, u.suffix)
			break
		}
	}

	n, err := strconv.ParseFloat(strings.TrimSpace(upper), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid capacity %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative capacity %q", s)
	}
	f := n * float64(unit)
	if f > math.MaxInt64 {
		return 0, fmt.Errorf("capacity %q overflows", s)
	}
	return Bytes(f), nil
}

// MustParse is Parse for constants; it panics on malformed input.
func MustParse(s string) Bytes {
	b, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return b
}

// FromValue converts a decoded configuration value (YAML int, float or string)
// into Bytes.
func FromValue(v any) (Bytes, error) {
	switch t := v.(type) {
	case Bytes:
		return t, nil
	case int:
		return Bytes(t), nil
	case int64:
		return Bytes(t), nil
	case uint64:
		return Bytes(t), nil
	case float64:
		return Bytes(t), nil
	case string:
		return Parse(t)
	case nil:
		return 0, fmt.Errorf("empty capacity")
	default:
		return 0, fmt.Errorf("unsupported capacity value %v (%T)", v, v)
	}
}

// String renders b with the largest unit that divides it exactly, which is the
// form the database accepts in its configuration ("18G", "1536M").
func (b Bytes) String() string {
	if b == 0 {
		return "0"
	}
	for _, u := range units {
		if b >= u.size && b%u.size == 0 {
			return strconv.FormatInt(int64(b/u.size), 10) + u.suffix
		}
	}
	return strconv.FormatInt(int64(b), 10)
}

// Human renders b for people, e.g. "18 GiB".
func (b Bytes) Human() string {
	if b < 0 {
		return "-" + humanize.IBytes(uint64(-b))
	}
	return humanize.IBytes(uint64(b))
}

// RoundDown truncates b to a multiple of unit.
func (b Bytes) RoundDown(unit Bytes) Bytes {
	if unit <= 0 {
		return b
	}
	return b / unit * unit
}

// Mul scales b by f, truncating toward zero.
func (b Bytes) Mul(f float64) Bytes {
	return Bytes(float64(b) * f)
}

// Percent returns pct percent of b.
func (b Bytes) Percent(pct int) Bytes {
	return b * Bytes(pct) / 100
}

// Min returns the smaller of a and b.
func Min(a, b Bytes) Bytes {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Bytes) Bytes {
	if a > b {
		return a
	}
	return b
}

// MarshalYAML renders b in configuration form.
func (b Bytes) MarshalYAML() (any, error) {
	return b.String(), nil
}

// UnmarshalYAML accepts both numbers and unit strings.
func (b *Bytes) UnmarshalYAML(node *yaml.Node) error {
	v, err := Parse(node.Value)
	if err != nil {
		return err
	}
	*b = v
	return nil
}
