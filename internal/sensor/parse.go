// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package sensor

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseNumeric skips any leading text and parses the first number found,
// ignoring what comes after it. "T=21.5C" yields 21.5.
func ParseNumeric(s string) (float64, error) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !isDigit(c) && c != '-' && c != '+' && c != '.' {
			continue
		}
		if v, err := strconv.ParseFloat(s[i:numberEnd(s, i)], 64); err == nil {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: no number in %q", ErrProtocolRead, s)
}

// numberEnd returns the end of the number starting at i: an optional sign,
// digits with at most one decimal point and an optional exponent.
func numberEnd(s string, i int) int {
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
		}
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		if j < len(s) && isDigit(s[j]) {
			for j < len(s) && isDigit(s[j]) {
				j++
			}
			i = j
		}
	}
	return i
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// ParseReply extracts the reading from an async probe reply. Empty replies,
// device errors (leading 'E') and replies without a number carry no reading.
func ParseReply(reply string) (float64, bool) {
	reply = strings.TrimSpace(reply)
	if reply == "" || reply[0] == 'E' {
		return 0, false
	}
	v, err := ParseNumeric(reply)
	if err != nil {
		return 0, false
	}
	return v, true
}
