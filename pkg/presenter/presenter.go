// Package presenter renders CLI output: status messages, step results and
// plan outcomes, with color support and quiet mode.
package presenter

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/jingkaihe/switchboard/pkg/matcher"
	"github.com/jingkaihe/switchboard/pkg/plan"
)

// Presenter defines the interface for consistent CLI output
type Presenter interface {
	Error(err error, context string)
	Success(message string)
	Warning(message string)
	Info(message string)
	Section(title string)
	Step(result plan.StepResult)
	Outcome(outcome plan.Outcome)
	Candidates(candidates []matcher.Candidate)
	JSON(v any) error
	Separator()
	SetQuiet(quiet bool)
	IsQuiet() bool
}

// TerminalPresenter implements Presenter for terminal output
type TerminalPresenter struct {
	output      io.Writer
	errorOutput io.Writer
	colorMode   ColorMode
	quiet       bool
}

// ColorMode represents different color output modes
type ColorMode int

const (
	// ColorAuto automatically detects whether to use colored output based on terminal capabilities
	ColorAuto ColorMode = iota
	// ColorAlways forces colored output regardless of terminal capabilities
	ColorAlways
	// ColorNever disables colored output regardless of terminal capabilities
	ColorNever
)

// New creates a new TerminalPresenter with default settings
func New() *TerminalPresenter {
	return NewWithOptions(os.Stdout, os.Stderr, detectColorMode())
}

// NewWithOptions creates a TerminalPresenter with custom settings
func NewWithOptions(output, errorOutput io.Writer, colorMode ColorMode) *TerminalPresenter {
	presenter := &TerminalPresenter{
		output:      output,
		errorOutput: errorOutput,
		colorMode:   colorMode,
		quiet:       false,
	}

	// Configure color package based on mode
	switch colorMode {
	case ColorAlways:
		color.NoColor = false
	case ColorNever:
		color.NoColor = true
	case ColorAuto:
		// Let color package auto-detect
	}

	return presenter
}

// detectColorMode determines the appropriate color mode based on environment
func detectColorMode() ColorMode {
	// Check explicit environment variables
	if os.Getenv("NO_COLOR") != "" {
		return ColorNever
	}

	switch os.Getenv("SWITCHBOARD_COLOR") {
	case "always", "force":
		return ColorAlways
	case "never", "off":
		return ColorNever
	case "auto", "":
		return ColorAuto
	default:
		return ColorAuto
	}
}

// Error displays an error message to stderr
func (p *TerminalPresenter) Error(err error, context string) {
	if err == nil {
		return
	}

	errorColor := color.New(color.FgRed, color.Bold)
	if context != "" {
		errorColor.Fprintf(p.errorOutput, "[ERROR] %s: %v\n", context, err)
	} else {
		errorColor.Fprintf(p.errorOutput, "[ERROR] %v\n", err)
	}
}

// Success displays a success message
func (p *TerminalPresenter) Success(message string) {
	if p.quiet {
		return
	}

	successColor := color.New(color.FgGreen, color.Bold)
	successColor.Fprintf(p.output, "✓ %s\n", message)
}

// Warning displays a warning message
func (p *TerminalPresenter) Warning(message string) {
	if p.quiet {
		return
	}

	warningColor := color.New(color.FgYellow, color.Bold)
	warningColor.Fprintf(p.output, "⚠ %s\n", message)
}

// Info displays an informational message
func (p *TerminalPresenter) Info(message string) {
	if p.quiet {
		return
	}

	fmt.Fprintf(p.output, "%s\n", message)
}

// Section displays a section header with consistent formatting
func (p *TerminalPresenter) Section(title string) {
	if p.quiet {
		return
	}

	headerColor := color.New(color.Bold)
	separator := strings.Repeat("-", len(title))

	headerColor.Fprintf(p.output, "%s\n", title)
	headerColor.Fprintf(p.output, "%s\n", separator)
}

// Step displays one step result.
func (p *TerminalPresenter) Step(r plan.StepResult) {
	if p.quiet {
		return
	}

	var c *color.Color
	mark := "•"
	switch r.Status {
	case plan.StepCompleted:
		c, mark = color.New(color.FgGreen), "✓"
	case plan.StepFailed:
		c, mark = color.New(color.FgRed), "✗"
	case plan.StepBlocked:
		c, mark = color.New(color.FgYellow), "⊘"
	default:
		c = color.New(color.Faint)
	}

	c.Fprintf(p.output, "%s [%d] %s (%s) %s", mark, r.Index+1, r.Action, r.Status, r.Instruction)
	if d := r.Duration(); d > 0 {
		fmt.Fprintf(p.output, " [%s]", d.Round(time.Millisecond))
	}
	fmt.Fprintln(p.output)

	if len(r.Skills) > 0 {
		names := make([]string, len(r.Skills))
		for i, s := range r.Skills {
			names[i] = s.Name
		}
		fmt.Fprintf(p.output, "    skills: %s\n", strings.Join(names, ", "))
	}
	if r.Output != "" {
		for _, line := range strings.Split(strings.TrimRight(r.Output, "\n"), "\n") {
			fmt.Fprintf(p.output, "    %s\n", line)
		}
	}
	if r.Error != "" {
		color.New(color.FgRed).Fprintf(p.output, "    error: %s\n", r.Error)
	}
}

// Outcome displays a plan's terminal outcome.
func (p *TerminalPresenter) Outcome(o plan.Outcome) {
	if p.quiet {
		return
	}

	switch o.Kind {
	case plan.OutcomeCompleted:
		color.New(color.FgGreen, color.Bold).Fprintf(p.output, "Outcome: %s\n", o)
	case plan.OutcomeHandedOff:
		color.New(color.FgYellow, color.Bold).Fprintf(p.output, "Outcome: %s\n", o)
	case plan.OutcomeRejected:
		color.New(color.FgRed, color.Bold).Fprintf(p.output, "Outcome: %s\n", o)
	default:
		fmt.Fprintf(p.output, "Outcome: %s\n", o)
	}
}

// Candidates displays ranked match candidates.
func (p *TerminalPresenter) Candidates(candidates []matcher.Candidate) {
	if p.quiet {
		return
	}

	if len(candidates) == 0 {
		fmt.Fprintln(p.output, "no candidates")
		return
	}
	for i, c := range candidates {
		color.New(color.Bold).Fprintf(p.output, "%d. %s", i+1, c.Agent.Name)
		fmt.Fprintf(p.output, "  score=%.2f category=%s\n", c.Score, c.Agent.Category)
		if len(c.TriggerHits) > 0 {
			fmt.Fprintf(p.output, "    triggers: %s\n", strings.Join(c.TriggerHits, ", "))
		}
		if len(c.FocusHits) > 0 {
			fmt.Fprintf(p.output, "    focus: %s\n", strings.Join(c.FocusHits, ", "))
		}
	}
}

// JSON writes v as indented JSON. Quiet mode does not apply.
func (p *TerminalPresenter) JSON(v any) error {
	enc := json.NewEncoder(p.output)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Separator displays a visual separator
func (p *TerminalPresenter) Separator() {
	if p.quiet {
		return
	}

	separatorColor := color.New(color.Faint)
	separatorColor.Fprintf(p.output, "%s\n", strings.Repeat("-", 60))
}

// SetQuiet enables or disables quiet mode
func (p *TerminalPresenter) SetQuiet(quiet bool) {
	p.quiet = quiet
}

// IsQuiet returns whether quiet mode is enabled
func (p *TerminalPresenter) IsQuiet() bool {
	return p.quiet
}

// Global presenter instance for convenience
var defaultPresenter = New()

// Error displays an error message using the default presenter instance.
func Error(err error, context string) {
	defaultPresenter.Error(err, context)
}

// Success displays a success message using the default presenter instance.
func Success(message string) {
	defaultPresenter.Success(message)
}

// Warning displays a warning message using the default presenter instance.
func Warning(message string) {
	defaultPresenter.Warning(message)
}

// Info displays an informational message using the default presenter instance.
func Info(message string) {
	defaultPresenter.Info(message)
}

// Section displays a section header using the default presenter instance.
func Section(title string) {
	defaultPresenter.Section(title)
}

// Separator displays a visual separator using the default presenter instance.
func Separator() {
	defaultPresenter.Separator()
}

// SetQuiet enables or disables quiet mode for the default presenter instance.
func SetQuiet(quiet bool) {
	defaultPresenter.SetQuiet(quiet)
}

// IsQuiet returns whether quiet mode is enabled for the default presenter instance.
func IsQuiet() bool {
	return defaultPresenter.IsQuiet()
}
