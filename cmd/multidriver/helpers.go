package main

import (
	"fmt"
	"io"

	"multidriver-go/pkg/config"
	"multidriver-go/pkg/log"
	"multidriver-go/pkg/multidriver"
	"multidriver-go/pkg/stepper"
)

// logCloser is the rotating log file opened by setup, if any.
var logCloser io.Closer

// setup loads the group config and configures logging from it and the
// root flags.
func setup() (*config.GroupConfig, error) {
	if rootFlags.config == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.LoadGroupConfig(rootFlags.config)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level, format, file := cfg.Log.Level, cfg.Log.Format, cfg.Log.File
	if rootFlags.logLevel != "" {
		level = rootFlags.logLevel
	}
	if rootFlags.logFormat != "" {
		format = rootFlags.logFormat
	}
	if rootFlags.logFile != "" {
		file = rootFlags.logFile
	}

	logger := log.Default()
	if file != "" {
		fl, w, err := log.NewFileLogger("multidriver", log.RotationConfig{
			Filename:   file,
			MaxSize:    10,
			MaxBackups: 5,
			Compress:   true,
		})
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		logger, logCloser = fl, w
	}
	logger.SetLevel(log.ParseLevel(level))
	logger.SetFormat(log.ParseFormat(format))
	log.SetDefaultLogger(logger)
	return cfg, nil
}

func closeLog() {
	if logCloser != nil {
		logCloser.Close()
		logCloser = nil
	}
}

// motorSet is the software drivers built from a config, with a pulse
// counter on each step line.
type motorSet struct {
	names   []string
	drivers []*stepper.Driver
	pulses  []*stepper.CountingPin
}

func buildGroup(cfg *config.GroupConfig) (*multidriver.Group, *motorSet, error) {
	set := &motorSet{}
	motors := make([]multidriver.Motor, len(cfg.Motors))
	for i, mc := range cfg.Motors {
		step := &stepper.CountingPin{}
		d := stepper.New(mc.Name, mc.Stepper(), stepper.Pins{Step: step})
		set.names = append(set.names, mc.Name)
		set.drivers = append(set.drivers, d)
		set.pulses = append(set.pulses, step)
		motors[i] = d

		log.GetLogger("cli").WithFields(log.Fields{
			"motor":    mc.Name,
			"step_pin": mc.StepPin.String(),
			"dir_pin":  mc.DirPin.String(),
		}).Debug("motor configured")
	}

	g, err := multidriver.New(motors...)
	if err != nil {
		return nil, nil, err
	}
	g.SetDispatchOrder(cfg.Order())
	return g, set, nil
}

func (s *motorSet) writeTo(w io.Writer) {
	for i, d := range s.drivers {
		fmt.Fprintf(w, "%s\tposition %d\t%d pulses\n", s.names[i], d.Position(), s.pulses[i].Rises)
	}
}
