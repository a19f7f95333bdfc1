// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cron parses five-field cron expressions and computes their next
// activation time. It backs SYSTEM_SCHEDULE triggers.
package cron

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed cron expression. Each field is a bitset of the
// values it matches.
type Schedule struct {
	minute uint64 // 0-59
	hour   uint64 // 0-23
	dom    uint64 // 1-31
	month  uint64 // 1-12
	dow    uint64 // 0-6, Sunday = 0

	domStar bool
	dowStar bool

	expr string
}

var macros = map[string]string{
	"@hourly":   "0 * * * *",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@weekly":   "0 0 * * 0",
	"@monthly":  "0 0 1 * *",
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
}

// Parse parses a cron expression.
// Format: minute hour day-of-month month day-of-week
//
//   - "*/15 * * * *" every 15 minutes
//   - "0 9 * * 1-5" 9 AM on weekdays
//   - "@hourly", "@daily", "@weekly", "@monthly", "@yearly"
func Parse(expr string) (*Schedule, error) {
	expr = strings.TrimSpace(expr)
	spec := expr
	if m, ok := macros[strings.ToLower(expr)]; ok {
		spec = m
	}

	fields := strings.Fields(spec)
	if len(fields) != 5 {
		return nil, fmt.Errorf("expected 5 fields, got %d", len(fields))
	}

	s := &Schedule{expr: expr}
	var err error
	if s.minute, err = parseField(fields[0], 0, 59); err != nil {
		return nil, fmt.Errorf("invalid minute field: %w", err)
	}
	if s.hour, err = parseField(fields[1], 0, 23); err != nil {
		return nil, fmt.Errorf("invalid hour field: %w", err)
	}
	if s.dom, err = parseField(fields[2], 1, 31); err != nil {
		return nil, fmt.Errorf("invalid day-of-month field: %w", err)
	}
	if s.month, err = parseField(fields[3], 1, 12); err != nil {
		return nil, fmt.Errorf("invalid month field: %w", err)
	}
	// 7 is accepted as Sunday.
	dow, err := parseField(fields[4], 0, 7)
	if err != nil {
		return nil, fmt.Errorf("invalid day-of-week field: %w", err)
	}
	if dow&(1<<7) != 0 {
		dow = (dow &^ (1 << 7)) | 1
	}
	s.dow = dow
	s.domStar = strings.HasPrefix(fields[2], "*")
	s.dowStar = strings.HasPrefix(fields[4], "*")

	return s, nil
}

// String returns the expression the schedule was parsed from.
func (s *Schedule) String() string {
	return s.expr
}

func parseField(field string, min, max int) (uint64, error) {
	var set uint64
	for _, part := range strings.Split(field, ",") {
		bitsForPart, err := parseRange(part, min, max)
		if err != nil {
			return 0, err
		}
		set |= bitsForPart
	}
	return set, nil
}

func parseRange(part string, min, max int) (uint64, error) {
	step := 1
	if idx := strings.IndexByte(part, '/'); idx >= 0 {
		n, err := strconv.Atoi(part[idx+1:])
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid step: %s", part[idx+1:])
		}
		step = n
		part = part[:idx]
	}

	var start, end int
	switch {
	case part == "*":
		start, end = min, max
	case strings.Contains(part, "-"):
		lo, hi, _ := strings.Cut(part, "-")
		var err error
		if start, err = strconv.Atoi(lo); err != nil {
			return 0, fmt.Errorf("invalid range start: %s", lo)
		}
		if end, err = strconv.Atoi(hi); err != nil {
			return 0, fmt.Errorf("invalid range end: %s", hi)
		}
	default:
		n, err := strconv.Atoi(part)
		if err != nil {
			return 0, fmt.Errorf("invalid value: %s", part)
		}
		start, end = n, n
		if step > 1 {
			end = max
		}
	}

	if start < min || end > max {
		return 0, fmt.Errorf("value out of range [%d-%d]: %s", min, max, part)
	}
	if start > end {
		return 0, fmt.Errorf("invalid range: %d > %d", start, end)
	}

	var set uint64
	for i := start; i <= end; i += step {
		set |= 1 << uint(i)
	}
	return set, nil
}

func has(set uint64, v int) bool {
	return set&(1<<uint(v)) != 0
}

func (s *Schedule) dayMatches(t time.Time) bool {
	domOK := has(s.dom, t.Day())
	dowOK := has(s.dow, int(t.Weekday()))
	// Classic cron: when both day fields are restricted either may match.
	if !s.domStar && !s.dowStar {
		return domOK || dowOK
	}
	return domOK && dowOK
}

// Next returns the first activation strictly after from, in from's
// location. It returns the zero time when nothing matches within five years.
func (s *Schedule) Next(from time.Time) time.Time {
	t := from.Truncate(time.Minute).Add(time.Minute)
	limit := from.AddDate(5, 0, 0)

	for t.Before(limit) {
		if !has(s.month, int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !s.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !has(s.hour, t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
			continue
		}
		if !has(s.minute, t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}

// Count reports how many distinct minutes per hour the schedule can fire on.
// Used to reject schedules that are too aggressive.
func (s *Schedule) Count() int {
	return bits.OnesCount64(s.minute)
}
