package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/bobarin/listingreel/internal/cache"
	"github.com/bobarin/listingreel/internal/config"
	"github.com/bobarin/listingreel/internal/db"
	"github.com/bobarin/listingreel/internal/services"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

type checkStatus int

const (
	checkOK checkStatus = iota
	checkWarn
	checkFail
)

func (s checkStatus) String() string {
	switch s {
	case checkOK:
		return "OK"
	case checkWarn:
		return "WARN"
	default:
		return "FAIL"
	}
}

type doctorCheck struct {
	Name   string
	Status checkStatus
	Detail string
}

func newDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, encoder and backing services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			checks := runDoctor(ctx, config.Read())
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderDoctor(checks, shouldColorize(out)))

			for _, c := range checks {
				if c.Status == checkFail {
					return fmt.Errorf("%s check failed", c.Name)
				}
			}
			return nil
		},
	}
}

func runDoctor(ctx context.Context, cfg *config.Config) []doctorCheck {
	var checks []doctorCheck

	if err := cfg.Validate(); err != nil {
		checks = append(checks, doctorCheck{"Config", checkFail, err.Error()})
	} else {
		checks = append(checks, doctorCheck{"Config", checkOK, "video provider " + cfg.VideoProvider})
	}

	checks = append(checks, doctorCheck{"Motion templates", checkOK, strings.Join(services.MotionTemplates(), ", ")})
	checks = append(checks, encoderChecks(ctx, cfg.FFmpegPath)...)

	switch {
	case cfg.DatabaseURL == "":
		checks = append(checks, doctorCheck{"Database", checkFail, "DATABASE_URL not set"})
	default:
		if database, err := db.New(cfg.DatabaseURL); err != nil {
			checks = append(checks, doctorCheck{"Database", checkFail, err.Error()})
		} else {
			database.Close()
			checks = append(checks, doctorCheck{"Database", checkOK, "reachable"})
		}
	}

	switch {
	case cfg.RedisURL == "":
		checks = append(checks, doctorCheck{"Redis", checkWarn, "not configured, render locks are host-local"})
	default:
		if c, err := cache.New(cfg.RedisURL); err != nil {
			checks = append(checks, doctorCheck{"Redis", checkFail, err.Error()})
		} else {
			c.Close()
			checks = append(checks, doctorCheck{"Redis", checkOK, "reachable"})
		}
	}

	return checks
}

// encoderChecks reports the ffmpeg and ffprobe the final render would use.
// A missing encoder is a warning since renders fall back to playlists.
func encoderChecks(ctx context.Context, bundled string) []doctorCheck {
	loc, err := services.ResolveEncoder(bundled)
	if err != nil {
		return []doctorCheck{{"Encoder", checkWarn, err.Error() + ", playlist fallback only"}}
	}

	enc := services.NewFFmpegService(loc)
	detail := fmt.Sprintf("%s (%s)", loc.Path, loc.Source)
	if v, err := enc.Version(ctx); err == nil {
		detail += " " + v
	}
	checks := []doctorCheck{{"Encoder", checkOK, detail}}

	if probe, err := exec.LookPath(enc.ProbePath()); err != nil {
		checks = append(checks, doctorCheck{"Probe", checkWarn, "ffprobe not found, durations are summed from clips"})
	} else {
		checks = append(checks, doctorCheck{"Probe", checkOK, probe})
	}
	return checks
}

func renderDoctor(checks []doctorCheck, colorize bool) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Check", "Status", "Detail"})

	for _, c := range checks {
		tw.AppendRow(table.Row{c.Name, statusLabel(c.Status, colorize), c.Detail})
	}
	return tw.Render()
}

func statusLabel(s checkStatus, colorize bool) string {
	if !colorize {
		return s.String()
	}
	var c *color.Color
	switch s {
	case checkOK:
		c = color.New(color.FgGreen)
	case checkWarn:
		c = color.New(color.FgYellow)
	default:
		c = color.New(color.FgRed, color.Bold)
	}
	c.EnableColor()
	return c.Sprint(s.String())
}

func shouldColorize(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
