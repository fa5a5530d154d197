package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type CommandType string

const (
	CommandNavigate     CommandType = "navigate"
	CommandClick        CommandType = "click"
	CommandInput        CommandType = "input"
	CommandWait         CommandType = "wait"
	CommandInjectScript CommandType = "injectScript"
	CommandDone         CommandType = "done"
)

func (t CommandType) String() string {
	return string(t)
}

var (
	ErrUnknownCommandType = errors.New("unknown command type")
	ErrMissingCommandID   = errors.New("command id is missing")
)

type NavigationType string

const (
	NavigationStart NavigationType = "start"
	NavigationEnd   NavigationType = "end"
)

// SuccessURL is a server-declared pattern whose navigation reveals the ui surface.
type SuccessURL struct {
	URLPattern     string         `json:"urlPattern"`
	NavigationType NavigationType `json:"navigationType"`
}

type NavigateArgs struct {
	URL         string
	SuccessURLs []SuccessURL
}

type DoneArgs struct {
	Success      bool
	Data         Value
	Error        string
	ConnectionID string
	History      []*Object
}

// Command is one instruction from the remote orchestrator. Navigate and Done
// are set only for their own Type.
type Command struct {
	ID                 string
	Type               CommandType
	Args               *Object
	InjectScript       string
	CookieDomains      []string
	UserActionRequired bool

	Navigate *NavigateArgs
	Done     *DoneArgs
}

func (c *Command) IsWait() bool {
	return c != nil && c.Type == CommandWait
}

type rawCommand struct {
	ID                 json.RawMessage `json:"id"`
	Type               string          `json:"type"`
	Args               *Object         `json:"args,omitempty"`
	InjectScript       *string         `json:"injectScript,omitempty"`
	CookieDomains      []string        `json:"cookieDomains,omitempty"`
	UserActionRequired *bool           `json:"userActionRequired,omitempty"`
	URL                string          `json:"url,omitempty"`
	SuccessURLs        []SuccessURL    `json:"successUrls,omitempty"`
	Success            *bool           `json:"success,omitempty"`
	Data               *Value          `json:"data,omitempty"`
	Error              string          `json:"error,omitempty"`
}

// ParseCommand decodes a command event payload. Variant fields are read from
// the top level first and from args second.
func ParseCommand(data []byte) (*Command, error) {
	var raw rawCommand
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}

	id, err := parseID(raw.ID)
	if err != nil {
		return nil, err
	}

	typ, ok := normalizeCommandType(raw.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommandType, raw.Type)
	}

	cmd := &Command{
		ID:            id,
		Type:          typ,
		Args:          raw.Args,
		CookieDomains: raw.CookieDomains,
	}
	if cmd.Args == nil {
		cmd.Args = NewObject()
	}
	if raw.InjectScript != nil {
		cmd.InjectScript = *raw.InjectScript
	} else {
		cmd.InjectScript = cmd.Args.GetString("injectScript")
	}
	if raw.UserActionRequired != nil {
		cmd.UserActionRequired = *raw.UserActionRequired
	} else if v, ok := cmd.Args.Get("userActionRequired"); ok {
		cmd.UserActionRequired = v.Truthy()
	}

	switch typ {
	case CommandNavigate:
		nav, err := parseNavigateArgs(raw, cmd.Args)
		if err != nil {
			return nil, err
		}
		cmd.Navigate = nav
	case CommandDone:
		cmd.Done = parseDoneArgs(raw, cmd.Args)
	}

	return cmd, nil
}

// parseID accepts string or numeric ids. Numeric ids become their decimal
// string and are written back quoted.
func parseID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", ErrMissingCommandID
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", ErrMissingCommandID
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("decode command id: %w", err)
	}
	return n.String(), nil
}

func normalizeCommandType(s string) (CommandType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "navigate":
		return CommandNavigate, true
	case "click":
		return CommandClick, true
	case "input":
		return CommandInput, true
	case "wait":
		return CommandWait, true
	case "injectscript", "inject_script", "inject":
		return CommandInjectScript, true
	case "done":
		return CommandDone, true
	}
	return "", false
}

func parseNavigateArgs(raw rawCommand, args *Object) (*NavigateArgs, error) {
	nav := &NavigateArgs{
		URL:         raw.URL,
		SuccessURLs: raw.SuccessURLs,
	}
	if nav.URL == "" {
		nav.URL = args.GetString("url")
	}
	if nav.SuccessURLs == nil {
		if v, ok := args.Get("successUrls"); ok && !v.IsNull() {
			data, err := v.MarshalJSON()
			if err != nil {
				return nil, err
			}
			if err := json.Unmarshal(data, &nav.SuccessURLs); err != nil {
				return nil, fmt.Errorf("decode successUrls: %w", err)
			}
		}
	}
	for i := range nav.SuccessURLs {
		if nav.SuccessURLs[i].NavigationType == "" {
			nav.SuccessURLs[i].NavigationType = NavigationEnd
		}
	}
	return nav, nil
}

func parseDoneArgs(raw rawCommand, args *Object) *DoneArgs {
	done := &DoneArgs{Error: raw.Error}

	if raw.Success != nil {
		done.Success = *raw.Success
	} else if v, ok := args.Get("success"); ok {
		done.Success = v.Truthy()
	}

	if raw.Data != nil {
		done.Data = *raw.Data
	} else if v, ok := args.Get("data"); ok {
		done.Data = v
	}

	if done.Error == "" {
		done.Error = args.GetString("error")
	}

	if obj, ok := done.Data.AsObject(); ok {
		done.ConnectionID = obj.GetString("connectionId")
		if done.Error == "" {
			done.Error = obj.GetString("error")
		}
		if hv, ok := obj.Get("history"); ok {
			if items, ok := hv.AsArray(); ok {
				for _, item := range items {
					if o, ok := item.AsObject(); ok {
						done.History = append(done.History, o)
					}
				}
			}
		}
	}
	return done
}

// MarshalJSON writes the command back in its wire shape.
func (c *Command) MarshalJSON() ([]byte, error) {
	raw := rawCommand{
		Type:          string(c.Type),
		Args:          c.Args,
		CookieDomains: c.CookieDomains,
	}
	id, err := json.Marshal(c.ID)
	if err != nil {
		return nil, err
	}
	raw.ID = id
	if raw.Args == nil {
		raw.Args = NewObject()
	}
	if c.InjectScript != "" {
		script := c.InjectScript
		raw.InjectScript = &script
	}
	if c.UserActionRequired {
		uar := true
		raw.UserActionRequired = &uar
	}
	if c.Navigate != nil {
		raw.URL = c.Navigate.URL
		raw.SuccessURLs = c.Navigate.SuccessURLs
	}
	if c.Done != nil {
		success := c.Done.Success
		raw.Success = &success
		if !c.Done.Data.IsNull() {
			data := c.Done.Data
			raw.Data = &data
		}
		raw.Error = c.Done.Error
	}
	return json.Marshal(raw)
}

// PeekCommandID returns the id of a command payload that may otherwise be
// invalid, or "" when none can be read.
func PeekCommandID(data []byte) string {
	var raw struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return ""
	}
	id, err := parseID(raw.ID)
	if err != nil {
		return ""
	}
	return id
}
