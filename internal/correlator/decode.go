package correlator

import (
	"encoding/json"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/nd-schmidt/pimonitor/internal/model"
)

const (
	VerbPing       = "ping"
	VerbStatus     = "status"
	VerbLogs       = "logs"
	VerbGitReset   = "gitreset"
	VerbRestartSrv = "restartsrv"
	VerbUpdate     = "update"
	VerbReboot     = "reboot"
)

// Result is the decoded reply, one variant per verb.
type Result interface {
	// Verb returns the verb family of the result.
	Verb() string
}

// Failure is a reply where the device reported the command failed.
type Failure struct {
	VerbName string
	// Err is the device error as raw JSON text.
	Err string
}

// Ping echoes the operator text, Empty is set when the device returned no text.
type Ping struct {
	Pong  string
	Empty bool
}

// Status holds the full status map, or with a Selector only the selected field.
type Status struct {
	Selector string
	Value    interface{}
}

// Logs holds log text read from Source on the device.
type Logs struct {
	Source string
	Log    string
}

// GitReset is the result of resetting the device repository to Branch.
type GitReset struct {
	Branch string
	Stdout string
}

// Restart holds the return code of each restarted service.
type Restart struct {
	ReturnCodes map[string]int
}

// Update is a successful update.
type Update struct{}

// Reboot is a successful reboot.
type Reboot struct{}

// Unknown is a reply for a verb without a decoder.
type Unknown struct {
	Type string
}

func (r *Failure) Verb() string  { return r.VerbName }
func (r *Ping) Verb() string     { return VerbPing }
func (r *Status) Verb() string   { return VerbStatus }
func (r *Logs) Verb() string     { return VerbLogs }
func (r *GitReset) Verb() string { return VerbGitReset }
func (r *Restart) Verb() string  { return VerbRestartSrv }
func (r *Update) Verb() string   { return VerbUpdate }
func (r *Reboot) Verb() string   { return VerbReboot }
func (r *Unknown) Verb() string  { return "" }

// decoder decodes the out value of a successful reply.
type decoder func(reply *model.CommandReply, out interface{}) (Result, error)

var decoders = map[string]decoder{
	VerbPing:       decodePing,
	VerbStatus:     decodeStatus,
	VerbLogs:       decodeLogs,
	VerbGitReset:   decodeGitReset,
	VerbRestartSrv: decodeRestart,
	VerbUpdate:     func(*model.CommandReply, interface{}) (Result, error) { return &Update{}, nil },
	VerbReboot:     func(*model.CommandReply, interface{}) (Result, error) { return &Reboot{}, nil },
}

// Decode resolves the reply into its verb variant.
//
// A failed reply of a known verb decodes to Failure, a reply of an unknown verb
// decodes to Unknown regardless of its result.
func Decode(reply *model.CommandReply) (Result, error) {
	dec, known := decoders[reply.Verb]
	if !known {
		return &Unknown{Type: reply.Type()}, nil
	}

	if !reply.Succeeded() {
		return &Failure{VerbName: reply.Verb, Err: reply.Error}, nil
	}

	var out interface{}
	if len(reply.Out) > 0 {
		if err := json.Unmarshal(reply.Out, &out); err != nil {
			return nil, errors.Wrap(ErrMalformed, "out: "+err.Error())
		}
	}

	return dec(reply, out)
}

func decodeInto(out, target interface{}) error {
	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return err
	}

	if err := d.Decode(out); err != nil {
		return errors.Wrap(ErrMalformed, "out: "+err.Error())
	}

	return nil
}

func decodePing(_ *model.CommandReply, out interface{}) (Result, error) {
	var v struct {
		Pong *string `mapstructure:"pong"`
	}

	if err := decodeInto(out, &v); err != nil {
		return nil, err
	}

	if v.Pong == nil {
		return &Ping{Empty: true}, nil
	}

	return &Ping{Pong: *v.Pong}, nil
}

func decodeStatus(reply *model.CommandReply, out interface{}) (Result, error) {
	return &Status{Selector: reply.Selector(), Value: out}, nil
}

func decodeLogs(reply *model.CommandReply, out interface{}) (Result, error) {
	var v struct {
		Log *string `mapstructure:"log"`
	}

	if err := decodeInto(out, &v); err != nil {
		return nil, err
	}

	if v.Log == nil {
		return nil, errors.Wrap(ErrMissingField, "out.log")
	}

	return &Logs{Source: reply.Selector(), Log: *v.Log}, nil
}

func decodeGitReset(reply *model.CommandReply, out interface{}) (Result, error) {
	var v struct {
		Stdout string `mapstructure:"stdout"`
	}

	if err := decodeInto(out, &v); err != nil {
		return nil, err
	}

	return &GitReset{Branch: reply.Selector(), Stdout: v.Stdout}, nil
}

func decodeRestart(_ *model.CommandReply, out interface{}) (Result, error) {
	var v struct {
		ReturnCode map[string]int `mapstructure:"returncode"`
	}

	if err := decodeInto(out, &v); err != nil {
		return nil, err
	}

	if v.ReturnCode == nil {
		return nil, errors.Wrap(ErrMissingField, "out.returncode")
	}

	return &Restart{ReturnCodes: v.ReturnCode}, nil
}
