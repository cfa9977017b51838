package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"multidriver-go/pkg/errors"
	"multidriver-go/pkg/multidriver"
	"multidriver-go/pkg/stepper"
)

// Defaults applied to options left out of a config file.
const (
	DefaultListen         = "127.0.0.1:7125"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultStatusInterval = 0.25
	DefaultWatchdog       = 5.0
)

// GroupConfig describes one motor group and the services around it.
type GroupConfig struct {
	Name          string        `yaml:"name"`
	DispatchOrder string        `yaml:"dispatch_order"`
	Motors        []MotorConfig `yaml:"motors"`
	Server        ServerConfig  `yaml:"server"`
	Log           LogConfig     `yaml:"log"`
}

// MotorConfig describes one software step/dir driver.
type MotorConfig struct {
	Name         string  `yaml:"name"`
	MotorSteps   int     `yaml:"motor_steps"`
	RPM          float64 `yaml:"rpm"`
	Microsteps   uint    `yaml:"microsteps"`
	MaxMicrostep uint    `yaml:"max_microstep"`
	Mode         string  `yaml:"mode"`
	Accel        int     `yaml:"accel"`
	Decel        int     `yaml:"decel"`
	StepPin      Pin     `yaml:"step_pin"`
	DirPin       Pin     `yaml:"dir_pin"`
	EnablePin    Pin     `yaml:"enable_pin"`
}

// ServerConfig holds the status and metrics listeners. An empty
// MetricsListen disables the metrics server.
type ServerConfig struct {
	Listen          string  `yaml:"listen"`
	MetricsListen   string  `yaml:"metrics_listen"`
	MetricsUser     string  `yaml:"metrics_user"`
	MetricsPassword string  `yaml:"metrics_password"`
	StatusInterval  Seconds `yaml:"status_interval"`
	// WatchdogTimeout is how long the dispatch loop may stall before the
	// service shuts down.
	WatchdogTimeout Seconds `yaml:"watchdog_timeout"`
}

// Seconds is a period written as a decimal number of seconds.
type Seconds float64

// Duration converts s to a time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(float64(s) * float64(time.Second))
}

// LogConfig selects log level, format and an optional log file.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// UnmarshalYAML parses a pin written as a scalar string.
func (p *Pin) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if strings.TrimSpace(s) == "" {
		*p = Pin{}
		return nil
	}
	pin, err := ParsePin(s)
	if err != nil {
		return err
	}
	*p = pin
	return nil
}

// DefaultMotorConfig returns the settings used for options a motor leaves
// out.
func DefaultMotorConfig(name string) MotorConfig {
	d := stepper.DefaultConfig()
	return MotorConfig{
		Name:         name,
		MotorSteps:   d.MotorSteps,
		RPM:          d.RPM,
		Microsteps:   d.Microsteps,
		MaxMicrostep: d.MaxMicrostep,
		Mode:         d.Mode.String(),
		Accel:        d.Accel,
		Decel:        d.Decel,
	}
}

// Stepper converts the motor settings into a driver configuration. The
// settings must have passed Validate.
func (m MotorConfig) Stepper() stepper.Config {
	mode, _ := stepper.ParseMode(m.Mode)
	return stepper.Config{
		MotorSteps:   m.MotorSteps,
		RPM:          m.RPM,
		Microsteps:   m.Microsteps,
		MaxMicrostep: m.MaxMicrostep,
		Mode:         mode,
		Accel:        m.Accel,
		Decel:        m.Decel,
	}
}

// Order returns the parsed dispatch order.
func (g *GroupConfig) Order() multidriver.DispatchOrder {
	o, _ := multidriver.ParseDispatchOrder(g.DispatchOrder)
	return o
}

// LoadGroupConfig reads a .cfg or .yaml/.yml group file, fills defaults and
// validates it.
func LoadGroupConfig(path string) (*GroupConfig, error) {
	var (
		gc  *GroupConfig
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var data []byte
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: unable to open %s: %w", path, err)
		}
		gc, err = ParseGroupYAML(data)
	default:
		var c *Config
		c, err = Load(path)
		if err != nil {
			return nil, err
		}
		gc, err = GroupFromConfig(c)
	}
	if err != nil {
		return nil, err
	}
	return gc, nil
}

// ParseGroupYAML decodes and validates a YAML group document. Unknown keys
// are rejected.
func ParseGroupYAML(data []byte) (*GroupConfig, error) {
	var raw GroupConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		if err == io.EOF {
			return nil, errors.New(errors.ErrConfigSection, "group yaml is empty")
		}
		return nil, errors.Wrap(err, errors.ErrConfigType, "parse group yaml")
	}

	// Apply per-motor defaults field by field. A zero field means the
	// option was left out.
	for i, m := range raw.Motors {
		d := DefaultMotorConfig(m.Name)
		if m.Name == "" {
			d.Name = fmt.Sprintf("motor%d", i)
		}
		if m.MotorSteps != 0 {
			d.MotorSteps = m.MotorSteps
		}
		if m.RPM != 0 {
			d.RPM = m.RPM
		}
		if m.Microsteps != 0 {
			d.Microsteps = m.Microsteps
		}
		if m.MaxMicrostep != 0 {
			d.MaxMicrostep = m.MaxMicrostep
		}
		if m.Mode != "" {
			d.Mode = m.Mode
		}
		if m.Accel != 0 {
			d.Accel = m.Accel
		}
		if m.Decel != 0 {
			d.Decel = m.Decel
		}
		d.StepPin, d.DirPin, d.EnablePin = m.StepPin, m.DirPin, m.EnablePin
		raw.Motors[i] = d
	}
	raw.applyDefaults()
	if err := raw.Validate(); err != nil {
		return nil, err
	}
	return &raw, nil
}

// GroupFromConfig builds a GroupConfig from a parsed .cfg file.
//
//	[group]
//	name: gantry
//	motors: x, y        # optional, defaults to file order
//	dispatch_order: ascending
//
//	[motor x]
//	motor_steps: 200
//	rpm: 120
//	microsteps: 16
//	mode: linear
//
//	[server]
//	listen: 127.0.0.1:7125
//
//	[log]
//	level: debug
//
// Unknown sections and options are reported as errors.
func GroupFromConfig(c *Config) (*GroupConfig, error) {
	gc := &GroupConfig{}

	group, err := c.GetSection("group")
	if err != nil {
		return nil, err
	}
	if gc.Name, err = group.Get("name", "group"); err != nil {
		return nil, err
	}
	if gc.DispatchOrder, err = group.GetChoice("dispatch_order", []string{"ascending", "descending"}, "ascending"); err != nil {
		return nil, err
	}

	var sections []*Section
	if group.HasOption("motors") {
		names, err := group.GetList("motors", ",")
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			sec, err := c.GetSection("motor " + name)
			if err != nil {
				return nil, err
			}
			sections = append(sections, sec)
		}
	} else {
		sections = c.GetPrefixSections("motor ")
	}
	for _, sec := range sections {
		m, err := motorFromSection(sec)
		if err != nil {
			return nil, err
		}
		gc.Motors = append(gc.Motors, m)
	}

	if sec := c.GetSectionOptional("server"); sec != nil {
		if err := serverFromSection(sec, &gc.Server); err != nil {
			return nil, err
		}
	}
	if sec := c.GetSectionOptional("log"); sec != nil {
		if err := logFromSection(sec, &gc.Log); err != nil {
			return nil, err
		}
	}

	if err := c.CheckUnused(); err != nil {
		return nil, err
	}
	gc.applyDefaults()
	if err := gc.Validate(); err != nil {
		return nil, err
	}
	return gc, nil
}

func motorFromSection(sec *Section) (MotorConfig, error) {
	name := strings.TrimSpace(strings.TrimPrefix(sec.GetName(), "motor "))
	m := DefaultMotorConfig(name)
	var err error

	if m.MotorSteps, err = sec.GetPositiveInt("motor_steps", m.MotorSteps); err != nil {
		return m, err
	}
	if m.RPM, err = sec.GetPositiveFloat("rpm", m.RPM); err != nil {
		return m, err
	}
	if m.Microsteps, err = sec.GetMicrostep("microsteps", m.Microsteps); err != nil {
		return m, err
	}
	if m.MaxMicrostep, err = sec.GetMicrostep("max_microstep", m.MaxMicrostep); err != nil {
		return m, err
	}
	if m.Mode, err = sec.GetChoice("mode", []string{"constant", "linear"}, m.Mode); err != nil {
		return m, err
	}
	if m.Accel, err = sec.GetPositiveInt("accel", m.Accel); err != nil {
		return m, err
	}
	if m.Decel, err = sec.GetPositiveInt("decel", m.Decel); err != nil {
		return m, err
	}
	if m.StepPin, err = sec.GetPin("step_pin"); err != nil {
		return m, err
	}
	if m.DirPin, err = sec.GetPin("dir_pin"); err != nil {
		return m, err
	}
	if m.EnablePin, err = sec.GetPin("enable_pin"); err != nil {
		return m, err
	}
	return m, nil
}

func serverFromSection(sec *Section, s *ServerConfig) error {
	var err error
	if s.Listen, err = sec.Get("listen", ""); err != nil {
		return err
	}
	if s.MetricsListen, err = sec.Get("metrics_listen", ""); err != nil {
		return err
	}
	if s.MetricsUser, err = sec.Get("metrics_user", ""); err != nil {
		return err
	}
	if s.MetricsPassword, err = sec.Get("metrics_password", ""); err != nil {
		return err
	}
	if s.StatusInterval, err = sec.GetSeconds("status_interval", DefaultStatusInterval); err != nil {
		return err
	}
	if s.WatchdogTimeout, err = sec.GetSeconds("watchdog_timeout", DefaultWatchdog); err != nil {
		return err
	}
	return nil
}

func logFromSection(sec *Section, l *LogConfig) error {
	var err error
	if l.Level, err = sec.GetChoice("level", []string{"debug", "info", "warn", "error"}, DefaultLogLevel); err != nil {
		return err
	}
	if l.Format, err = sec.GetChoice("format", []string{"text", "json"}, DefaultLogFormat); err != nil {
		return err
	}
	if l.File, err = sec.Get("file", ""); err != nil {
		return err
	}
	return nil
}

func (g *GroupConfig) applyDefaults() {
	if g.Name == "" {
		g.Name = "group"
	}
	if g.Server.Listen == "" {
		g.Server.Listen = DefaultListen
	}
	if g.Server.StatusInterval == 0 {
		g.Server.StatusInterval = DefaultStatusInterval
	}
	if g.Server.WatchdogTimeout == 0 {
		g.Server.WatchdogTimeout = DefaultWatchdog
	}
	if g.Log.Level == "" {
		g.Log.Level = DefaultLogLevel
	}
	if g.Log.Format == "" {
		g.Log.Format = DefaultLogFormat
	}
}

// Validate checks the group size and each motor's settings.
func (g *GroupConfig) Validate() error {
	if n := len(g.Motors); n < multidriver.MinMotors || n > multidriver.MaxMotors {
		return errors.GroupSizeError(n, multidriver.MinMotors, multidriver.MaxMotors).
			SetSection("group")
	}
	if _, err := multidriver.ParseDispatchOrder(g.DispatchOrder); err != nil {
		return errors.ConfigValidationError("group", "dispatch_order", err.Error())
	}

	seen := make(map[string]bool, len(g.Motors))
	for _, m := range g.Motors {
		section := "motor " + m.Name
		if seen[m.Name] {
			return errors.ConfigValidationError(section, "name", "duplicate motor name")
		}
		seen[m.Name] = true

		if m.MotorSteps <= 0 {
			return errors.ConfigValidationError(section, "motor_steps", "must be positive")
		}
		if m.RPM <= 0 {
			return errors.ConfigValidationError(section, "rpm", "must be positive")
		}
		if !isPowerOfTwo(m.Microsteps) {
			return errors.ConfigValidationError(section, "microsteps", fmt.Sprintf("%d is not a power of two", m.Microsteps))
		}
		if !isPowerOfTwo(m.MaxMicrostep) || m.Microsteps > m.MaxMicrostep {
			return errors.ConfigValidationError(section, "max_microstep",
				fmt.Sprintf("must be a power of two no smaller than microsteps (%d)", m.Microsteps))
		}
		if _, err := stepper.ParseMode(m.Mode); err != nil {
			return errors.ConfigValidationError(section, "mode", err.Error())
		}
		if m.Accel <= 0 || m.Decel <= 0 {
			return errors.ConfigValidationError(section, "accel", "accel and decel must be positive")
		}
	}

	if g.Server.StatusInterval < 0 || g.Server.WatchdogTimeout < 0 {
		return errors.ConfigValidationError("server", "watchdog_timeout", "intervals must be positive")
	}
	if (g.Server.MetricsUser == "") != (g.Server.MetricsPassword == "") {
		return errors.ConfigValidationError("server", "metrics_password", "metrics_user and metrics_password must be set together")
	}
	return nil
}

func isPowerOfTwo(v uint) bool {
	return v != 0 && v&(v-1) == 0
}
