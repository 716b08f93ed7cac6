package command

import (
	"strings"
)

// ArgEncoding is how a verb carries its arguments on the bus.
type ArgEncoding int

const (
	// ArgsAsBody sends the arguments joined by spaces as the message body.
	ArgsAsBody ArgEncoding = iota
	// ArgsAsPath appends each argument as a topic segment and sends an empty body.
	ArgsAsPath
)

const (
	VerbHelp       = "help"
	VerbPing       = "ping"
	VerbStatus     = "status"
	VerbLogs       = "logs"
	VerbGitReset   = "gitreset"
	VerbRestartSrv = "restartsrv"
	VerbUpdate     = "update"
	VerbReboot     = "reboot"

	// fleetIDPlaceholder is replaced in usage strings by the fleet id column name.
	fleetIDPlaceholder = "RPI-ID"
)

// Verb describes an operator command verb.
type Verb struct {
	Name     string
	Encoding ArgEncoding
	// Args is the usage hint for the verb arguments.
	Args        string
	Description string
}

// Usage returns the usage line of the verb for the slash command.
func (v Verb) Usage(slashCommand string) string {
	parts := []string{slashCommand, v.Name, fleetIDPlaceholder}
	if v.Args != "" {
		parts = append(parts, v.Args)
	}

	return "`" + strings.Join(parts, " ") + "`: " + v.Description
}

// DefaultVerbs returns the verbs devices respond to.
func DefaultVerbs() []Verb {
	return []Verb{
		{
			Name:        VerbPing,
			Encoding:    ArgsAsBody,
			Args:        "texts",
			Description: "ping the selected Pi, which will be replied with the same input texts.",
		},
		{
			Name:        VerbStatus,
			Encoding:    ArgsAsPath,
			Args:        "[ssid|iface|up|ip|mac]",
			Description: "get the status of selected Pi, can be refined by selecting a parameter.",
		},
		{
			Name:     VerbLogs,
			Encoding: ArgsAsPath,
			Args:     "(mqtt|speedtest) [n]",
			Description: "Get the log stored in the selected Pi, must specify either `mqtt` or `speedtest` log. " +
				"Additionally, specify last `n` lines of the logs (default=20).",
		},
		{
			Name:     VerbGitReset,
			Encoding: ArgsAsPath,
			Args:     "(main|testing|experimental)",
			Description: "Reset the `sigcap-buddy` repository in the selected Pi to the latest of the " +
				"selected branch.",
		},
		{
			Name:        VerbRestartSrv,
			Encoding:    ArgsAsPath,
			Args:        "[mqtt|speedtest]",
			Description: "Restart all services in the selected Pi, can specify which service to restart.",
		},
		{
			Name:        VerbUpdate,
			Encoding:    ArgsAsPath,
			Description: "Run `pi-install.sh` script to update the selected Pi.",
		},
		{
			Name:        VerbReboot,
			Encoding:    ArgsAsPath,
			Description: "Reboot the selected Pi.",
		},
	}
}

// VerbTable holds the verbs accepted by the dispatcher, in registration order.
type VerbTable struct {
	verbs map[string]Verb
	order []string
}

// NewVerbTable returns a VerbTable with the given verbs, a later verb replaces an
// earlier verb of the same name.
func NewVerbTable(verbs ...Verb) *VerbTable {
	t := &VerbTable{verbs: make(map[string]Verb, len(verbs))}

	for _, v := range verbs {
		if _, exists := t.verbs[v.Name]; !exists {
			t.order = append(t.order, v.Name)
		}

		t.verbs[v.Name] = v
	}

	return t
}

// Lookup returns the verb by name.
func (t *VerbTable) Lookup(name string) (Verb, bool) {
	v, ok := t.verbs[name]
	return v, ok
}

// Names returns the verb names in registration order.
func (t *VerbTable) Names() []string {
	return append([]string{}, t.order...)
}

// Help returns the usage lines for every verb, separated by blank lines.
func (t *VerbTable) Help(slashCommand string) string {
	lines := make([]string, 0, len(t.order))
	for _, name := range t.order {
		lines = append(lines, t.verbs[name].Usage(slashCommand))
	}

	return strings.Join(lines, "\n\n")
}
