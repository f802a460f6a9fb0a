package config

import (
	"fmt"
	"strconv"
	"strings"
)

var sizeUnits = map[string]int64{
	"B":   1,
	"KB":  1024,
	"KIB": 1024,
	"MB":  1024 * 1024,
	"MIB": 1024 * 1024,
	"GB":  1024 * 1024 * 1024,
	"GIB": 1024 * 1024 * 1024,
	"TB":  1024 * 1024 * 1024 * 1024,
	"TIB": 1024 * 1024 * 1024 * 1024,
}

// ParseSize parses a human size string like "10MB" or "1.5GiB" into bytes.
// A bare number with no unit is interpreted as bytes. Used for
// globals.max_bytes_per_target.
func ParseSize(sizeStr string) (int64, error) {
	s := strings.TrimSpace(strings.ToUpper(sizeStr))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	var numberPart, unitPart string
	for unit := range sizeUnits {
		if strings.HasSuffix(s, unit) {
			if len(unit) > len(unitPart) {
				numberPart = strings.TrimSuffix(s, unit)
				unitPart = unit
			}
		}
	}

	if unitPart == "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size format %q", sizeStr)
		}
		return n, nil
	}

	numberPart = strings.TrimSpace(numberPart)
	number, err := strconv.ParseFloat(numberPart, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size number %q in %q", numberPart, sizeStr)
	}
	if number < 0 {
		return 0, fmt.Errorf("size cannot be negative: %q", sizeStr)
	}
	return int64(number * float64(sizeUnits[unitPart])), nil
}
