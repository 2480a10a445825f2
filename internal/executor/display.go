package executor

import (
	"bufio"
	"strconv"
	"strings"
)

// NormalizeOrientation converts a server orientation value to degrees.
// 0..4 are indices (4 wraps to 0); anything else is taken modulo 360
// and must be a multiple of 90.
func NormalizeOrientation(v int) (int, bool) {
	if v >= 0 && v <= 4 {
		return (v % 4) * 90, true
	}
	deg := ((v % 360) + 360) % 360
	if deg%90 != 0 {
		return 0, false
	}
	return deg, true
}

// ParseResolution parses "WxH"
func ParseResolution(s string) (int, int, bool) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, false
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil || width <= 0 {
		return 0, 0, false
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || height <= 0 {
		return 0, 0, false
	}
	return width, height, true
}

func rotationName(deg int) string {
	switch deg {
	case 90:
		return "left"
	case 180:
		return "inverted"
	case 270:
		return "right"
	default:
		return "normal"
	}
}

// primaryOutput picks the primary connected output from `xrandr --query`, else the first connected one
func primaryOutput(query string) string {
	var first string
	scanner := bufio.NewScanner(strings.NewReader(query))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[1] != "connected" {
			continue
		}
		if len(fields) > 2 && fields[2] == "primary" {
			return fields[0]
		}
		if first == "" {
			first = fields[0]
		}
	}
	return first
}

func clampVolume(level int) int {
	return min(max(level, 0), 100)
}
