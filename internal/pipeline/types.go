package pipeline

import (
	"encoding/json"
	"fmt"
)

// ActionType is the execution kind of an action. The controller sends it as
// a free-form string; only "Container" is known today.
type ActionType string

const ActionTypeContainer ActionType = "Container"

// Known reports whether t is one of the execution kinds the controller is
// known to emit.
func (t ActionType) Known() bool {
	switch t {
	case ActionTypeContainer:
		return true
	}
	return false
}

// Action is a single step of a pipeline as reported by the controller.
type Action struct {
	ID           int        `json:"id"`
	PipelineID   int        `json:"pipeline_id"`
	Name         string     `json:"name"`
	ContainerURI string     `json:"container_uri"`
	Commands     []string   `json:"commands"`
	Type         ActionType `json:"type"`
	Status       Status     `json:"status"`
	Logs         []string   `json:"logs"` // nil when the action has not produced any yet
}

// Pipeline is a CI run grouping one or more actions.
type Pipeline struct {
	ID            int      `json:"id"`
	RepositoryURL string   `json:"repository_url"`
	Name          string   `json:"name"`
	Actions       []Action `json:"actions"`
}

// Status returns the aggregate status of the pipeline's actions.
// Only meaningful when the pipeline was fetched in verbose mode.
func (p Pipeline) Status() Status {
	return DeriveStatus(p.Actions)
}

// MissingFieldError is returned when a decoded record lacks a required field.
type MissingFieldError struct {
	Record string
	Field  string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: missing required field %q", e.Record, e.Field)
}

// wireAction mirrors Action with pointer fields so absent keys can be told
// apart from zero values.
type wireAction struct {
	ID           *int        `json:"id"`
	PipelineID   *int        `json:"pipeline_id"`
	Name         *string     `json:"name"`
	ContainerURI *string     `json:"container_uri"`
	Commands     *[]string   `json:"commands"`
	Type         *ActionType `json:"type"`
	Status       *Status     `json:"status"`
	Logs         []string    `json:"logs"`
}

// UnmarshalJSON decodes an action, failing when any required field is absent.
func (a *Action) UnmarshalJSON(data []byte) error {
	var w wireAction
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch {
	case w.ID == nil:
		return &MissingFieldError{Record: "action", Field: "id"}
	case w.PipelineID == nil:
		return &MissingFieldError{Record: "action", Field: "pipeline_id"}
	case w.Name == nil:
		return &MissingFieldError{Record: "action", Field: "name"}
	case w.ContainerURI == nil:
		return &MissingFieldError{Record: "action", Field: "container_uri"}
	case w.Commands == nil:
		return &MissingFieldError{Record: "action", Field: "commands"}
	case w.Type == nil:
		return &MissingFieldError{Record: "action", Field: "type"}
	case w.Status == nil:
		return &MissingFieldError{Record: "action", Field: "status"}
	}
	*a = Action{
		ID:           *w.ID,
		PipelineID:   *w.PipelineID,
		Name:         *w.Name,
		ContainerURI: *w.ContainerURI,
		Commands:     *w.Commands,
		Type:         *w.Type,
		Status:       *w.Status,
		Logs:         w.Logs,
	}
	return nil
}

type wirePipeline struct {
	ID            *int     `json:"id"`
	RepositoryURL *string  `json:"repository_url"`
	Name          *string  `json:"name"`
	Actions       []Action `json:"actions"`
}

// UnmarshalJSON decodes a pipeline, failing when any required field is
// absent. Actions are optional: non-verbose responses may leave them out.
func (p *Pipeline) UnmarshalJSON(data []byte) error {
	var w wirePipeline
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch {
	case w.ID == nil:
		return &MissingFieldError{Record: "pipeline", Field: "id"}
	case w.RepositoryURL == nil:
		return &MissingFieldError{Record: "pipeline", Field: "repository_url"}
	case w.Name == nil:
		return &MissingFieldError{Record: "pipeline", Field: "name"}
	}
	*p = Pipeline{
		ID:            *w.ID,
		RepositoryURL: *w.RepositoryURL,
		Name:          *w.Name,
		Actions:       w.Actions,
	}
	return nil
}
