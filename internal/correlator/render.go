package correlator

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/nd-schmidt/pimonitor/internal/chat"
	"github.com/nd-schmidt/pimonitor/internal/render"
)

const (
	// DefaultInlineLimit is the log length past which logs are delivered as a file.
	DefaultInlineLimit = 3000

	indentUnit = "  "
)

// failureLabels prefixes the error text of a failed reply.
var failureLabels = map[string]string{
	VerbPing:       "Ping",
	VerbStatus:     "Status",
	VerbLogs:       "Logs",
	VerbGitReset:   "gitreset",
	VerbRestartSrv: "Restart service",
	VerbUpdate:     "Update",
	VerbReboot:     "Reboot",
}

// Render returns the chat message for the decoded result, posted as fleetID.
//
// Logs longer than inlineLimit characters are delivered as a file.
func Render(result Result, fleetID string, inlineLimit int) *chat.Message {
	if inlineLimit <= 0 {
		inlineLimit = DefaultInlineLimit
	}

	fenced := func(text string) *chat.Message {
		return chat.Sections(fleetID, render.Fence(text))
	}

	switch r := result.(type) {
	case *Failure:
		errText := r.Err
		if errText == "" {
			errText = "null"
		}

		return fenced(fmt.Sprintf("%s error: %s", failureLabels[r.VerbName], errText))

	case *Ping:
		if r.Empty {
			return fenced("Pong: <empty>")
		}

		return fenced("Pong: " + r.Pong)

	case *Status:
		value := r.Value
		if r.Selector != "" {
			value = map[string]interface{}{r.Selector: r.Value}
		}

		return fenced(dump(value, 0))

	case *Logs:
		filename, title := fleetID+".log", fleetID+" log"
		if r.Source != "" {
			filename = fmt.Sprintf("%s_%s.log", fleetID, r.Source)
			title = fmt.Sprintf("%s %s log", fleetID, r.Source)
		}

		if render.Length(r.Log) > inlineLimit {
			return &chat.Message{
				Username: fleetID,
				File:     &chat.File{Content: r.Log, Filename: filename, Title: title},
			}
		}

		return chat.Sections(fleetID, title+"\n"+render.Fence(r.Log))

	case *GitReset:
		branch := ""
		if r.Branch != "" {
			branch = r.Branch + " "
		}

		return fenced("gitreset success: " + branch + r.Stdout)

	case *Restart:
		labels := make(map[string]interface{}, len(r.ReturnCodes))
		for service, code := range r.ReturnCodes {
			labels[service] = "success"
			if code != 0 {
				labels[service] = "error"
			}
		}

		return fenced(dump(map[string]interface{}{"Restart service": labels}, 0))

	case *Update:
		return fenced("Update success!")

	case *Reboot:
		return fenced("Reboot success!")

	case *Unknown:
		return fenced("Err: Unknown mqtt command " + r.Type)

	default:
		return fenced(fmt.Sprintf("Err: Unknown mqtt command %T", result))
	}
}

// dump renders a decoded JSON value as indented key value lines, map keys in
// sorted order and list items numbered key-1, key-2.
func dump(value interface{}, indent int) string {
	prefix := strings.Repeat(indentUnit, indent)

	obj, ok := value.(map[string]interface{})
	if !ok {
		return prefix + scalar(value) + "\n"
	}

	keys := maps.Keys(obj)
	slices.Sort(keys)

	var b strings.Builder

	for _, key := range keys {
		switch v := obj[key].(type) {
		case []interface{}:
			for i, child := range v {
				fmt.Fprintf(&b, "%s%s-%d:\n", prefix, key, i+1)
				b.WriteString(dump(child, indent+1))
			}
		case map[string]interface{}:
			fmt.Fprintf(&b, "%s%s:\n", prefix, key)
			b.WriteString(dump(v, indent+1))
		default:
			fmt.Fprintf(&b, "%s%s: %s\n", prefix, key, scalar(v))
		}
	}

	return b.String()
}

func scalar(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
