package pipeline

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

const actionJSON = `{
	"id": 21,
	"pipeline_id": 21,
	"name": "testing_hello_world",
	"container_uri": "debian:latest",
	"commands": ["cat License"],
	"type": "Container",
	"status": "ACTION_STATUS_COMPLETED",
	"logs": ["hello", "world"]
}`

func TestActionUnmarshal(t *testing.T) {
	var a Action
	if err := json.Unmarshal([]byte(actionJSON), &a); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if a.ID != 21 || a.PipelineID != 21 {
		t.Errorf("ids = %d/%d, want 21/21", a.ID, a.PipelineID)
	}
	if a.ContainerURI != "debian:latest" {
		t.Errorf("ContainerURI = %q, want %q", a.ContainerURI, "debian:latest")
	}
	if a.Type != ActionTypeContainer || !a.Type.Known() {
		t.Errorf("Type = %q, want known Container", a.Type)
	}
	if a.Status != StatusCompleted {
		t.Errorf("Status = %s, want %s", a.Status, StatusCompleted)
	}
	if len(a.Logs) != 2 || a.Logs[1] != "world" {
		t.Errorf("Logs = %v, want [hello world]", a.Logs)
	}
}

func TestActionUnmarshal_LogsAbsentVersusEmpty(t *testing.T) {
	var absent Action
	body := strings.Replace(actionJSON, `"logs": ["hello", "world"]`, `"logs": null`, 1)
	if err := json.Unmarshal([]byte(body), &absent); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if absent.Logs != nil {
		t.Errorf("Logs = %v, want nil", absent.Logs)
	}

	var empty Action
	body = strings.Replace(actionJSON, `"logs": ["hello", "world"]`, `"logs": []`, 1)
	if err := json.Unmarshal([]byte(body), &empty); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if empty.Logs == nil || len(empty.Logs) != 0 {
		t.Errorf("Logs = %#v, want empty non-nil slice", empty.Logs)
	}
}

func TestActionMarshal_KeepsLogsAbsentVersusEmpty(t *testing.T) {
	tests := []struct {
		name string
		logs []string
		want string
	}{
		{"not run", nil, `"logs":null`},
		{"no output", []string{}, `"logs":[]`},
		{"output", []string{"ok"}, `"logs":["ok"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(Action{Name: "build", Status: StatusCompleted, Logs: tt.logs})
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if !strings.Contains(string(data), tt.want) {
				t.Errorf("Marshal = %s, want it to contain %s", data, tt.want)
			}
		})
	}
}

func TestActionUnmarshal_UnknownTypeIsOpaque(t *testing.T) {
	var a Action
	body := strings.Replace(actionJSON, `"Container"`, `"Vm"`, 1)
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if a.Type != "Vm" || a.Type.Known() {
		t.Errorf("Type = %q known=%v, want opaque Vm", a.Type, a.Type.Known())
	}
}

func TestActionUnmarshal_MissingFields(t *testing.T) {
	fields := []string{"id", "pipeline_id", "name", "container_uri", "commands", "type", "status"}
	for _, f := range fields {
		t.Run(f, func(t *testing.T) {
			var raw map[string]any
			if err := json.Unmarshal([]byte(actionJSON), &raw); err != nil {
				t.Fatal(err)
			}
			delete(raw, f)
			body, _ := json.Marshal(raw)

			var a Action
			err := json.Unmarshal(body, &a)
			var missing *MissingFieldError
			if !errors.As(err, &missing) {
				t.Fatalf("expected MissingFieldError, got %v", err)
			}
			if missing.Field != f {
				t.Errorf("Field = %q, want %q", missing.Field, f)
			}
		})
	}
}

func TestActionUnmarshal_WrongTypes(t *testing.T) {
	cases := map[string]string{
		"id as string":       strings.Replace(actionJSON, `"id": 21`, `"id": "21"`, 1),
		"commands as string": strings.Replace(actionJSON, `["cat License"]`, `"cat License"`, 1),
		"unknown status":     strings.Replace(actionJSON, "ACTION_STATUS_COMPLETED", "DONE", 1),
		"numeric status":     strings.Replace(actionJSON, `"ACTION_STATUS_COMPLETED"`, `3`, 1),
	}
	for name, body := range cases {
		var a Action
		if err := json.Unmarshal([]byte(body), &a); err == nil {
			t.Errorf("%s: expected error, got %+v", name, a)
		}
	}
}

func TestPipelineUnmarshal_ActionsOptional(t *testing.T) {
	var p Pipeline
	body := `{"id": 7, "repository_url": "https://example.com/r.git", "name": "summary"}`
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if p.ID != 7 || p.Name != "summary" {
		t.Errorf("got %+v", p)
	}
	if p.Actions != nil {
		t.Errorf("Actions = %v, want nil", p.Actions)
	}
}

func TestPipelineUnmarshal_MissingName(t *testing.T) {
	var p Pipeline
	err := json.Unmarshal([]byte(`{"id": 7, "repository_url": "x"}`), &p)
	var missing *MissingFieldError
	if !errors.As(err, &missing) || missing.Field != "name" {
		t.Fatalf("expected missing name, got %v", err)
	}
}

func TestPipelineUnmarshal_BadNestedAction(t *testing.T) {
	var p Pipeline
	body := `{"id": 7, "repository_url": "x", "name": "n", "actions": [{"id": 1}]}`
	if err := json.Unmarshal([]byte(body), &p); err == nil {
		t.Fatal("expected error for incomplete nested action")
	}
}

func TestPipelineMarshal_RoundTripsWireStatus(t *testing.T) {
	p := Pipeline{ID: 1, Name: "n", RepositoryURL: "r", Actions: actions(StatusScheduled)}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"status":"ACTION_STATUS_SCHEDULED"`) {
		t.Errorf("marshalled = %s, want wire status string", data)
	}
}
