package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"multidriver-go/pkg/clock"
	"multidriver-go/pkg/multidriver"
	"multidriver-go/pkg/trace"
)

var moveFlags struct {
	realtime bool
	capacity int
}

var moveCmd = &cobra.Command{
	Use:   "move <steps>...",
	Short: "Run one move, given as signed microsteps per motor",
	Long: "Runs one blocking move and prints the trace report. Motors without a\n" +
		"value stay still. Without --realtime the move runs on a simulated clock\n" +
		"and finishes at once.",
	Args: cobra.MinimumNArgs(1),
	RunE: runMove,
}

var rotateCmd = &cobra.Command{
	Use:   "rotate <degrees>...",
	Short: "Run one move, given as degrees of shaft rotation per motor",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRotate,
}

func init() {
	for _, c := range []*cobra.Command{moveCmd, rotateCmd} {
		f := c.Flags()
		f.BoolVar(&moveFlags.realtime, "realtime", false, "pace the move against the system clock")
		f.IntVar(&moveFlags.capacity, "trace-capacity", 4096, "number of ticks kept for the report")
	}
}

func runMove(cmd *cobra.Command, args []string) error {
	steps := make([]int64, len(args))
	for i, a := range args {
		v, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return fmt.Errorf("steps %q: not an integer", a)
		}
		steps[i] = v
	}
	return runOnce(cmd, len(args), func(g *multidriver.Group) { g.Move(steps...) })
}

func runRotate(cmd *cobra.Command, args []string) error {
	deg := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return fmt.Errorf("degrees %q: not a number", a)
		}
		deg[i] = v
	}
	return runOnce(cmd, len(args), func(g *multidriver.Group) { g.Rotate(deg...) })
}

// runOnce builds the group from config, runs move on it and prints the
// report.
func runOnce(cmd *cobra.Command, n int, move func(g *multidriver.Group)) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer closeLog()
	if n > len(cfg.Motors) {
		return fmt.Errorf("%d values given for %d motors", n, len(cfg.Motors))
	}

	g, set, err := buildGroup(cfg)
	if err != nil {
		return err
	}
	if !moveFlags.realtime {
		g.SetClock(clock.NewManual(0))
	}
	rec := trace.NewRecorder(moveFlags.capacity)
	g.SetObserver(rec.Observe)
	g.SetMoveObserver(rec)

	g.Enable()
	start := time.Now()
	move(g)
	wall := time.Since(start)
	g.Disable()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "group %s (%s, %s)\n", cfg.Name, cfg.Order(), clockName())
	rec.Report().WriteTo(out)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	set.writeTo(tw)
	tw.Flush()
	if moveFlags.realtime {
		fmt.Fprintf(out, "wall time %v\n", wall.Round(time.Microsecond))
	}
	return nil
}

func clockName() string {
	if moveFlags.realtime {
		return "realtime"
	}
	return "simulated"
}
