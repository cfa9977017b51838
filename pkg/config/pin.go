package config

import (
	"strings"
)

// Pin is a parsed pin specification.
type Pin struct {
	Name   string // Pin name (e.g., "PA5", "gpio25")
	Chip   string // Controller name (default: "mcu")
	Invert bool   // Inverted logic (! prefix)
}

// String formats the pin the way it is written in a config file.
func (p Pin) String() string {
	if p.Name == "" {
		return ""
	}
	s := p.Name
	if p.Chip != "" && p.Chip != "mcu" {
		s = p.Chip + ":" + s
	}
	if p.Invert {
		s = "!" + s
	}
	return s
}

// ParsePin parses a pin specification string.
// Format: [!][chip:]pin_name
// Examples: "PA5", "!PA5", "mcu:PA5"
func ParsePin(desc string) (Pin, error) {
	d := strings.TrimSpace(desc)
	if d == "" {
		return Pin{}, NewConfigError("", "", "empty pin specification")
	}

	p := Pin{Chip: "mcu"}
	if d[0] == '!' {
		p.Invert = true
		d = strings.TrimSpace(d[1:])
	}

	if idx := strings.Index(d, ":"); idx >= 0 {
		p.Chip = strings.TrimSpace(d[:idx])
		d = strings.TrimSpace(d[idx+1:])
	}

	if d == "" {
		return Pin{}, NewConfigError("", "", "empty pin name in specification: "+desc)
	}
	if strings.ContainsAny(d, "^~!:") {
		return Pin{}, NewConfigError("", "", "invalid characters in pin name: "+desc)
	}

	p.Name = d
	return p, nil
}

// GetPin returns a Pin option value from the section. A missing option
// with no fallback yields the zero Pin.
func (s *Section) GetPin(option string, fallback ...Pin) (Pin, error) {
	raw, ok := s.take(option)
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return Pin{}, nil
	}
	pin, err := ParsePin(raw)
	if err != nil {
		return Pin{}, WrapError(s.name, option, err)
	}
	return pin, nil
}
