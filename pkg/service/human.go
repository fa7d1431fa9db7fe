package service

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/polisai/atomws/pkg/measure"
)

// HumanSize renders a byte count, or a bit count when bit is set, with K/M/G/T
// prefixes in 1024 (bytes) or 1000 (bits) steps, followed by suffix.
func HumanSize(value float64, bit bool, suffix string) string {
	cutoff, unit := 1024.0, "B"
	if bit {
		cutoff, unit = 1000.0, "b"
	}
	prefixes := []string{"K", "M", "G", "T"}
	prefix := ""
	for i := 0; value >= cutoff && i < len(prefixes); i++ {
		prefix = prefixes[i]
		value /= cutoff
	}
	return strconv.FormatFloat(measure.Round(value, 1), 'f', -1, 64) + prefix + unit + suffix
}

// HumanInterval renders seconds as "1w:2d:3h:4m:5s", omitting empty leading
// units; seconds are always present.
func HumanInterval(seconds float64) string {
	s := int64(math.Floor(seconds))
	if s < 0 {
		s = 0
	}
	var parts []string
	for _, unit := range []struct {
		size int64
		name string
	}{{604800, "w"}, {86400, "d"}, {3600, "h"}, {60, "m"}} {
		if n := s / unit.size; n > 0 {
			parts = append(parts, fmt.Sprintf("%d%s", n, unit.name))
		}
		s %= unit.size
	}
	parts = append(parts, fmt.Sprintf("%ds", s))
	return strings.Join(parts, ":")
}
