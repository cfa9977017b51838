package config

import (
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Section is one [name] block of a .cfg file. Every read is recorded so
// CheckUnused can report options nothing asked for, which is usually a typo.
type Section struct {
	name    string
	options map[string]string

	mu       sync.Mutex
	accessed map[string]struct{}
}

func newSection(name string, options map[string]string) *Section {
	opts := make(map[string]string, len(options))
	for k, v := range options {
		opts[strings.ToLower(k)] = v
	}
	return &Section{
		name:     name,
		options:  opts,
		accessed: make(map[string]struct{}),
	}
}

// GetName returns the section name, e.g. "motor x".
func (s *Section) GetName() string {
	return s.name
}

// GetUnusedOptions returns the options no getter has read, sorted.
func (s *Section) GetUnusedOptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var unused []string
	for opt := range s.options {
		if _, ok := s.accessed[opt]; !ok {
			unused = append(unused, opt)
		}
	}
	sort.Strings(unused)
	return unused
}

// HasOption reports whether the option is present. It does not count as a
// read.
func (s *Section) HasOption(option string) bool {
	_, ok := s.options[strings.ToLower(option)]
	return ok
}

// take returns the raw value of option and records the read.
func (s *Section) take(option string) (string, bool) {
	key := strings.ToLower(option)
	s.mu.Lock()
	s.accessed[key] = struct{}{}
	s.mu.Unlock()
	v, ok := s.options[key]
	return v, ok
}

// lookup parses option with parse. A missing option takes the fallback when
// one is given and is an error otherwise.
func lookup[T any](s *Section, option, expected string, parse func(string) (T, error), fallback []T) (T, error) {
	var zero T
	raw, ok := s.take(option)
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return zero, ErrMissingOption(s.name, option)
	}
	v, err := parse(strings.TrimSpace(raw))
	if err != nil {
		return zero, ErrInvalidValue(s.name, option, raw, expected)
	}
	return v, nil
}

// Get returns a string option.
func (s *Section) Get(option string, fallback ...string) (string, error) {
	return lookup(s, option, "string", func(v string) (string, error) { return v, nil }, fallback)
}

// GetInt returns an integer option.
func (s *Section) GetInt(option string, fallback ...int) (int, error) {
	return lookup(s, option, "integer", strconv.Atoi, fallback)
}

// GetPositiveInt returns an integer option that must be at least 1, such as
// motor_steps or accel.
func (s *Section) GetPositiveInt(option string, fallback ...int) (int, error) {
	v, err := s.GetInt(option, fallback...)
	if err != nil {
		return 0, err
	}
	if v < 1 {
		return 0, ErrOutOfRange(s.name, option, float64(v), "must be at least 1")
	}
	return v, nil
}

// GetFloat returns a float option.
func (s *Section) GetFloat(option string, fallback ...float64) (float64, error) {
	return lookup(s, option, "float", func(v string) (float64, error) {
		return strconv.ParseFloat(v, 64)
	}, fallback)
}

// GetPositiveFloat returns a float option that must be above zero.
func (s *Section) GetPositiveFloat(option string, fallback ...float64) (float64, error) {
	v, err := s.GetFloat(option, fallback...)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, ErrOutOfRange(s.name, option, v, "must be above 0")
	}
	return v, nil
}

// GetSeconds returns a period written in seconds, e.g. "0.25". It must be
// above zero.
func (s *Section) GetSeconds(option string, fallback ...Seconds) (Seconds, error) {
	var fb []float64
	for _, f := range fallback {
		fb = append(fb, float64(f))
	}
	v, err := s.GetPositiveFloat(option, fb...)
	return Seconds(v), err
}

// GetMicrostep returns a microstep divisor, which must be a power of two.
func (s *Section) GetMicrostep(option string, fallback ...uint) (uint, error) {
	v, err := lookup(s, option, "integer", func(v string) (uint, error) {
		n, err := strconv.ParseUint(v, 10, 32)
		return uint(n), err
	}, fallback)
	if err != nil {
		return 0, err
	}
	if !isPowerOfTwo(v) {
		return 0, ErrOutOfRange(s.name, option, float64(v), "must be a power of two")
	}
	return v, nil
}

// GetChoice returns an option that must be one of choices, compared without
// case. The canonical spelling from choices is returned.
func (s *Section) GetChoice(option string, choices []string, fallback ...string) (string, error) {
	v, err := s.Get(option, fallback...)
	if err != nil {
		return "", err
	}
	for _, c := range choices {
		if strings.EqualFold(v, c) {
			return c, nil
		}
	}
	return "", ErrInvalidChoice(s.name, option, v, choices)
}

// GetList splits an option on sep and drops empty entries.
func (s *Section) GetList(option string, sep string, fallback ...[]string) ([]string, error) {
	return lookup(s, option, "list", func(v string) ([]string, error) {
		out := []string{}
		for _, p := range strings.Split(v, sep) {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	}, fallback)
}
