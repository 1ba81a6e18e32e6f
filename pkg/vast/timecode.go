// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vast

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

var errBadTimecode = errors.New("bad timecode")

// parseTimecode reads HH:MM:SS or HH:MM:SS.mmm
func parseTimecode(raw string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 3 {
		return 0, errBadTimecode
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, errBadTimecode
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, errBadTimecode
	}
	s, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || s < 0 || s >= 60 {
		return 0, errBadTimecode
	}
	d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
	return d + time.Duration(s*float64(time.Second)).Round(time.Millisecond), nil
}

// parseOffset reads a timecode or an NN% offset. Unparsable values keep Raw
// and are marked Invalid.
func parseOffset(raw string) *Offset {
	o := &Offset{Raw: raw}
	trimmed := strings.TrimSpace(raw)
	if pct, ok := strings.CutSuffix(trimmed, "%"); ok {
		v, err := strconv.ParseFloat(strings.TrimSpace(pct), 64)
		if err != nil || v < 0 {
			o.Invalid = true
			return o
		}
		o.IsPct = true
		o.Percent = v / 100
		return o
	}
	d, err := parseTimecode(trimmed)
	if err != nil {
		o.Invalid = true
		return o
	}
	o.Duration = d
	return o
}
