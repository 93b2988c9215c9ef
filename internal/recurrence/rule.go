package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidRule is returned when a recurrence expression cannot be parsed.
// Rules are validated at task creation time; computation never fails on a
// parsed Rule.
var ErrInvalidRule = errors.New("invalid recurrence rule")

// Frequency is the canonical recurrence frequency.
type Frequency string

// Supported frequencies.
const (
	Daily   Frequency = "DAILY"
	Weekly  Frequency = "WEEKLY"
	Monthly Frequency = "MONTHLY"
	Yearly  Frequency = "YEARLY"
)

// Rule is a normalized recurrence rule: a canonical frequency with an
// interval >= 1. Both the simple form ("DAILY", "weekly:2") and the
// RRULE-style form ("FREQ=MONTHLY;INTERVAL=3") normalize to this.
type Rule struct {
	Freq     Frequency
	Interval int
}

// String renders the rule in the simple canonical form.
func (r Rule) String() string {
	if r.Interval == 1 {
		return string(r.Freq)
	}
	return fmt.Sprintf("%s:%d", r.Freq, r.Interval)
}

// Parse normalizes a recurrence expression into a Rule.
//
// Accepted dialects:
//   - simple: "DAILY", "WEEKLY", "MONTHLY", "YEARLY", case-insensitive,
//     optionally with an interval suffix: "DAILY:3"
//   - RRULE-style: "FREQ=WEEKLY;INTERVAL=2" (only FREQ and INTERVAL parts are
//     honored; unknown parts are rejected rather than silently dropped)
func Parse(raw string) (Rule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Rule{}, fmt.Errorf("%w: empty expression", ErrInvalidRule)
	}

	if strings.Contains(s, "=") {
		return parseRRule(s)
	}
	return parseSimple(s)
}

func parseSimple(s string) (Rule, error) {
	freqPart := s
	interval := 1

	if idx := strings.IndexByte(s, ':'); idx >= 0 {
		freqPart = s[:idx]
		n, err := strconv.Atoi(s[idx+1:])
		if err != nil {
			return Rule{}, fmt.Errorf("%w: bad interval %q", ErrInvalidRule, s[idx+1:])
		}
		interval = n
	}

	freq, err := parseFrequency(freqPart)
	if err != nil {
		return Rule{}, err
	}
	if interval < 1 {
		return Rule{}, fmt.Errorf("%w: interval must be >= 1, got %d", ErrInvalidRule, interval)
	}
	return Rule{Freq: freq, Interval: interval}, nil
}

func parseRRule(s string) (Rule, error) {
	rule := Rule{Interval: 1}
	seenFreq := false

	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return Rule{}, fmt.Errorf("%w: malformed part %q", ErrInvalidRule, part)
		}
		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "FREQ":
			freq, err := parseFrequency(value)
			if err != nil {
				return Rule{}, err
			}
			rule.Freq = freq
			seenFreq = true
		case "INTERVAL":
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 1 {
				return Rule{}, fmt.Errorf("%w: bad interval %q", ErrInvalidRule, value)
			}
			rule.Interval = n
		default:
			return Rule{}, fmt.Errorf("%w: unsupported part %q", ErrInvalidRule, key)
		}
	}

	if !seenFreq {
		return Rule{}, fmt.Errorf("%w: missing FREQ", ErrInvalidRule)
	}
	return rule, nil
}

func parseFrequency(s string) (Frequency, error) {
	switch Frequency(strings.ToUpper(strings.TrimSpace(s))) {
	case Daily:
		return Daily, nil
	case Weekly:
		return Weekly, nil
	case Monthly:
		return Monthly, nil
	case Yearly:
		return Yearly, nil
	default:
		return "", fmt.Errorf("%w: unknown frequency %q", ErrInvalidRule, s)
	}
}
