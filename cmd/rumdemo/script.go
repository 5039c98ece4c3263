package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"goa.design/rum/runtime/rum/command"
	"goa.design/rum/runtime/rum/rumcontext"
)

type (
	// scriptLine is one line of a JSON-lines command script.
	scriptLine struct {
		// Offset is the time of the line relative to the script start.
		Offset       string         `json:"offset"`
		Kind         string         `json:"kind"`
		Key          string         `json:"key,omitempty"`
		Name         string         `json:"name,omitempty"`
		Path         string         `json:"path,omitempty"`
		Type         string         `json:"type,omitempty"`
		Message      string         `json:"message,omitempty"`
		Source       string         `json:"source,omitempty"`
		Stack        string         `json:"stack,omitempty"`
		URL          string         `json:"url,omitempty"`
		Method       string         `json:"method,omitempty"`
		ResourceKind string         `json:"resource_kind,omitempty"`
		StatusCode   int            `json:"status_code,omitempty"`
		Size         int64          `json:"size,omitempty"`
		Duration     string         `json:"duration,omitempty"`
		State        string         `json:"state,omitempty"`
		Attributes   map[string]any `json:"attributes,omitempty"`
	}

	// step is a decoded script line: either a command or a change of the
	// environment the commands run in.
	step struct {
		cmd command.Command
		// appState is set by app_state lines.
		appState *rumcontext.AppState
		// release is the key of a view host destroyed by host_gone lines.
		release string
	}
)

// decodeScript reads a JSON-lines script. Offsets are applied to base.
// Empty lines and lines starting with # are skipped.
func decodeScript(r io.Reader, base time.Time) ([]step, error) {
	var steps []step
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var line scriptLine
		if err := json.Unmarshal([]byte(text), &line); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		s, err := line.step(base)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		steps = append(steps, s)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return steps, nil
}

func (l scriptLine) step(base time.Time) (step, error) {
	at := base
	if l.Offset != "" {
		off, err := time.ParseDuration(l.Offset)
		if err != nil {
			return step{}, fmt.Errorf("invalid offset %q: %w", l.Offset, err)
		}
		at = base.Add(off)
	}
	b := command.NewBase(at, l.Attributes)
	id := command.ViewIdentity{Key: l.Key}

	switch l.Kind {
	case "start_view":
		if l.Key == "" {
			return step{}, fmt.Errorf("start_view requires a key")
		}
		return step{cmd: command.StartView{Base: b, Identity: id, Name: l.Name, Path: l.Path}}, nil
	case "stop_view":
		return step{cmd: command.StopView{Base: b, Identity: id}}, nil
	case "add_view_timing":
		return step{cmd: command.AddViewTiming{Base: b, Name: l.Name}}, nil
	case "start_action":
		return step{cmd: command.StartUserAction{Base: b, Type: command.ActionType(l.Type), Name: l.Name}}, nil
	case "stop_action":
		return step{cmd: command.StopUserAction{Base: b, Type: command.ActionType(l.Type), Name: l.Name}}, nil
	case "add_action":
		return step{cmd: command.AddUserAction{Base: b, Type: command.ActionType(l.Type), Name: l.Name}}, nil
	case "add_error":
		return step{cmd: command.AddError{
			Base:    b,
			Message: l.Message,
			Type:    l.Type,
			Source:  command.ErrorSource(l.Source),
			Stack:   l.Stack,
		}}, nil
	case "start_resource":
		return step{cmd: command.StartResource{Base: b, Key: l.Key, URL: l.URL, Method: l.Method}}, nil
	case "stop_resource":
		return step{cmd: command.StopResource{
			Base:       b,
			Key:        l.Key,
			Kind:       command.ResourceKind(l.ResourceKind),
			StatusCode: l.StatusCode,
			Size:       l.Size,
		}}, nil
	case "stop_resource_error":
		return step{cmd: command.StopResourceWithError{Base: b, Key: l.Key, Message: l.Message, StatusCode: l.StatusCode}}, nil
	case "add_long_task":
		d, err := time.ParseDuration(l.Duration)
		if err != nil {
			return step{}, fmt.Errorf("invalid duration %q: %w", l.Duration, err)
		}
		return step{cmd: command.AddLongTask{Base: b, Duration: d}}, nil
	case "stop_session":
		return step{cmd: command.StopSession{Base: b}}, nil
	case "app_state":
		st := rumcontext.AppState(l.State)
		switch st {
		case rumcontext.AppStateForeground, rumcontext.AppStateBackground:
		default:
			return step{}, fmt.Errorf("invalid app state %q", l.State)
		}
		return step{appState: &st}, nil
	case "host_gone":
		if l.Key == "" {
			return step{}, fmt.Errorf("host_gone requires a key")
		}
		return step{release: l.Key}, nil
	default:
		return step{}, fmt.Errorf("unknown kind %q", l.Kind)
	}
}
