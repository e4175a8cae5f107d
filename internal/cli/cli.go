// Package cli parses and runs the operator command language shared by
// fleetctl and fleet-console.
//
// A command is a name followed by a fixed number of arguments:
//
//	arm 0
//	takeoff 0 10
//	goto 0 5 0 -2
//	yaw 0 37.78 -122.41
//	mode 1 LOITER
//	rtl-all
//
// Because every command has a fixed arity, a flat argument list such as
// "arm 0 takeoff 0 10" splits into commands without separators.
package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/unklstewy/uav-fleet/pkg/fleet"
	"github.com/unklstewy/uav-fleet/pkg/vehicle"
)

// Argument kinds.
const (
	argIndex  = 'i'
	argFloat  = 'f'
	argMode   = 'm'
	argTarget = 't'
)

type definition struct {
	name  string
	args  string // one argument kind per byte
	usage string
	help  string
}

var definitions = []definition{
	{"status", "", "status", "Show every connected vehicle"},
	{"targets", "", "targets", "List configured targets"},
	{"add", "t", "add TARGET", "Add a target for the next connect"},
	{"connect", "", "connect", "Connect every target"},
	{"disconnect", "", "disconnect", "Close every link and clear targets"},
	{"arm", "i", "arm N", "Switch to GUIDED and arm vehicle N"},
	{"disarm", "i", "disarm N", "Disarm vehicle N"},
	{"takeoff", "if", "takeoff N ALT", "Take off vehicle N to ALT meters"},
	{"land", "i", "land N", "Land vehicle N"},
	{"rtl", "i", "rtl N", "Return vehicle N to launch"},
	{"mode", "im", "mode N MODE", "Set flight mode of vehicle N"},
	{"goto", "ifff", "goto N X Y Z", "Move vehicle N by a local NED offset in meters"},
	{"yaw", "iff", "yaw N LAT LON", "Point vehicle N toward a coordinate"},
	{"arm-all", "", "arm-all", "Arm every vehicle"},
	{"disarm-all", "", "disarm-all", "Disarm every vehicle"},
	{"takeoff-all", "f", "takeoff-all ALT", "Take off every armed vehicle"},
	{"land-all", "", "land-all", "Land every vehicle"},
	{"rtl-all", "", "rtl-all", "Return every vehicle to launch"},
}

func lookup(name string) (definition, bool) {
	for _, d := range definitions {
		if d.name == name {
			return d, true
		}
	}
	return definition{}, false
}

// ErrUnknownCommand is returned for a name not in the command language.
var ErrUnknownCommand = errors.New("unknown command")

// Command is one parsed operator command.
type Command struct {
	Name   string
	Index  int
	Values []float64
	Mode   vehicle.Mode
	Target string
}

// String renders c back in the command language.
func (c Command) String() string {
	d, _ := lookup(c.Name)
	parts := []string{c.Name}
	v := 0
	for _, k := range []byte(d.args) {
		switch k {
		case argIndex:
			parts = append(parts, strconv.Itoa(c.Index))
		case argFloat:
			parts = append(parts, strconv.FormatFloat(c.Values[v], 'g', -1, 64))
			v++
		case argMode:
			parts = append(parts, c.Mode.String())
		case argTarget:
			parts = append(parts, c.Target)
		}
	}
	return strings.Join(parts, " ")
}

// Parse splits args into commands.
func Parse(args []string) ([]Command, error) {
	var out []Command
	for len(args) > 0 {
		name := strings.ToLower(args[0])
		d, ok := lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, args[0])
		}
		if len(args)-1 < len(d.args) {
			return nil, fmt.Errorf("%s: missing arguments (usage: %s)", name, d.usage)
		}

		cmd, err := build(d, args[1:1+len(d.args)])
		if err != nil {
			return nil, err
		}
		out = append(out, cmd)
		args = args[1+len(d.args):]
	}
	return out, nil
}

// ParseLine parses a single console line. Extra arguments are an error.
func ParseLine(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, errors.New("empty command")
	}
	cmds, err := Parse(fields)
	if err != nil {
		return Command{}, err
	}
	if len(cmds) != 1 {
		d, _ := lookup(cmds[0].Name)
		return Command{}, fmt.Errorf("%s: too many arguments (usage: %s)", cmds[0].Name, d.usage)
	}
	return cmds[0], nil
}

func build(d definition, args []string) (Command, error) {
	cmd := Command{Name: d.name}
	for i, k := range []byte(d.args) {
		a := args[i]
		switch k {
		case argIndex:
			n, err := strconv.Atoi(a)
			if err != nil {
				return Command{}, fmt.Errorf("%s: invalid vehicle index %q", d.name, a)
			}
			cmd.Index = n
		case argFloat:
			f, err := strconv.ParseFloat(a, 64)
			if err != nil {
				return Command{}, fmt.Errorf("%s: invalid number %q", d.name, a)
			}
			cmd.Values = append(cmd.Values, f)
		case argMode:
			m, err := vehicle.ParseMode(a)
			if err != nil {
				return Command{}, fmt.Errorf("%s: %w", d.name, err)
			}
			cmd.Mode = m
		case argTarget:
			cmd.Target = a
		}
	}
	return cmd, nil
}

// Usage returns one line per command.
func Usage() string {
	var b strings.Builder
	for _, d := range definitions {
		fmt.Fprintf(&b, "  %-18s %s\n", d.usage, d.help)
	}
	return b.String()
}

// Executor runs commands against a registry.
type Executor struct {
	Registry *fleet.Registry
	Sampler  *fleet.Sampler
}

// Execute runs cmd and returns a human readable result. A batch command
// reports per-vehicle failures in the text and returns the joined error.
func (e *Executor) Execute(ctx context.Context, cmd Command) (string, error) {
	reg := e.Registry

	switch cmd.Name {
	case "status":
		return FormatSnapshots(e.Sampler.SampleAll()), nil

	case "targets":
		targets := reg.Targets()
		if len(targets) == 0 {
			return "no targets", nil
		}
		var b strings.Builder
		for i, t := range targets {
			fmt.Fprintf(&b, "%d  %s\n", i, t)
		}
		return strings.TrimRight(b.String(), "\n"), nil

	case "add":
		reg.AddTarget(cmd.Target)
		return fmt.Sprintf("added %s", cmd.Target), nil

	case "connect":
		n := reg.ConnectAll(ctx)
		return fmt.Sprintf("connected %d of %d targets", n, len(reg.Targets())), nil

	case "disconnect":
		reg.DisconnectAll()
		return "disconnected", nil

	case "arm":
		return e.single(cmd, reg.Arm(ctx, cmd.Index))
	case "disarm":
		return e.single(cmd, reg.Disarm(ctx, cmd.Index))
	case "takeoff":
		return e.single(cmd, reg.Takeoff(ctx, cmd.Index, cmd.Values[0]))
	case "land":
		return e.single(cmd, reg.Land(ctx, cmd.Index))
	case "rtl":
		return e.single(cmd, reg.RTL(ctx, cmd.Index))
	case "mode":
		return e.single(cmd, reg.SetMode(ctx, cmd.Index, cmd.Mode))
	case "goto":
		return e.single(cmd, reg.SendPosition(ctx, cmd.Index, cmd.Values[0], cmd.Values[1], cmd.Values[2]))

	case "yaw":
		deg, err := reg.YawTo(ctx, cmd.Index, cmd.Values[0], cmd.Values[1])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s: heading %.1f°", cmd, deg), nil

	case "arm-all":
		return batch(cmd, reg.ArmAll(ctx))
	case "disarm-all":
		return batch(cmd, reg.DisarmAll(ctx))
	case "takeoff-all":
		return batch(cmd, reg.TakeoffAll(ctx, cmd.Values[0]))
	case "land-all":
		return batch(cmd, reg.LandAll(ctx))
	case "rtl-all":
		return batch(cmd, reg.RTLAll(ctx))
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Name)
}

func (e *Executor) single(cmd Command, err error) (string, error) {
	if err != nil {
		return "", err
	}
	return cmd.String() + ": ok", nil
}

func batch(cmd Command, res fleet.BatchResult) (string, error) {
	text := fmt.Sprintf("%s: %d/%d succeeded", cmd, res.Succeeded, res.Attempted)
	if res.Skipped > 0 {
		text += fmt.Sprintf(", %d skipped", res.Skipped)
	}
	return text, res.Err()
}
