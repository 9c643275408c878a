package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/argushq/argus/pkg/provider/vision"
)

// fakeOps records tool operations and replays scripted results.
type fakeOps struct {
	snapshotRef string
	snapshotErr error
	personID    string
	registerErr error
	moveErr     error
	detection   vision.Result
	hasDet      bool
	names       []string
	namesErr    error

	moved      []string
	registered []string
}

func (f *fakeOps) TakeSnapshot(_ context.Context, _ string) (string, error) {
	return f.snapshotRef, f.snapshotErr
}

func (f *fakeOps) RegisterPerson(_ context.Context, _, name string) (string, error) {
	f.registered = append(f.registered, name)
	return f.personID, f.registerErr
}

func (f *fakeOps) MoveCamera(_ context.Context, _, direction string) error {
	f.moved = append(f.moved, direction)
	return f.moveErr
}

func (f *fakeOps) LatestDetection(string) (vision.Result, bool) {
	return f.detection, f.hasDet
}

func (f *fakeOps) PeopleNames(context.Context) ([]string, error) {
	return f.names, f.namesErr
}

func decode(t *testing.T, result string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(result), &m); err != nil {
		t.Fatalf("tool result is not JSON: %v (%q)", err, result)
	}
	return m
}

func TestDispatch_TakeSnapshot(t *testing.T) {
	d := NewDispatcher(&fakeOps{snapshotRef: "data:image/jpeg;base64,AAAA"}, nil)

	out := decode(t, d.Dispatch(context.Background(), "porch", "take_snapshot", "{}"))
	if out["status"] != "ok" || out["snapshot"] != "data:image/jpeg;base64,AAAA" {
		t.Errorf("result = %v", out)
	}
}

func TestDispatch_TakeSnapshotError(t *testing.T) {
	d := NewDispatcher(&fakeOps{snapshotErr: errors.New("camera offline")}, nil)

	out := decode(t, d.Dispatch(context.Background(), "porch", "take_snapshot", "{}"))
	if out["error"] == nil {
		t.Errorf("expected error result, got %v", out)
	}
}

func TestDispatch_RegisterPerson(t *testing.T) {
	ops := &fakeOps{personID: "p-1", names: []string{"Grace"}}
	d := NewDispatcher(ops, nil)

	out := decode(t, d.Dispatch(context.Background(), "porch", "register_person", `{"name": "Ada"}`))
	if out["status"] != "ok" || out["personId"] != "p-1" {
		t.Errorf("result = %v", out)
	}
	if len(ops.registered) != 1 || ops.registered[0] != "Ada" {
		t.Errorf("registered = %v", ops.registered)
	}
}

func TestDispatch_RegisterPersonDuplicateGuard(t *testing.T) {
	ops := &fakeOps{personID: "p-2", names: []string{"Jonathan"}}
	d := NewDispatcher(ops, nil)

	// "jonathon" is a near-duplicate of "Jonathan": the guard must refuse
	// without registering.
	out := decode(t, d.Dispatch(context.Background(), "porch", "register_person", `{"name": "Jonathon"}`))
	if out["status"] != "duplicate" || out["existing"] != "Jonathan" {
		t.Errorf("result = %v", out)
	}
	if len(ops.registered) != 0 {
		t.Errorf("near-duplicate was registered: %v", ops.registered)
	}
}

func TestDispatch_RegisterPersonEmptyName(t *testing.T) {
	d := NewDispatcher(&fakeOps{}, nil)

	out := decode(t, d.Dispatch(context.Background(), "porch", "register_person", `{"name": "  "}`))
	if out["error"] == nil {
		t.Errorf("expected error for empty name, got %v", out)
	}
}

func TestDispatch_PTZMove(t *testing.T) {
	ops := &fakeOps{}
	d := NewDispatcher(ops, nil)

	out := decode(t, d.Dispatch(context.Background(), "porch", "ptz_move", `{"direction": "left"}`))
	if out["status"] != "ok" {
		t.Errorf("result = %v", out)
	}
	if len(ops.moved) != 1 || ops.moved[0] != "left" {
		t.Errorf("moved = %v", ops.moved)
	}

	out = decode(t, d.Dispatch(context.Background(), "porch", "ptz_move", `{"direction": "backwards"}`))
	if out["error"] == nil {
		t.Errorf("expected error for bad direction, got %v", out)
	}
}

func TestDispatch_GetDetections(t *testing.T) {
	ops := &fakeOps{
		hasDet: true,
		detection: vision.Result{
			Objects: []vision.Object{{Label: "person", Confidence: 0.9}},
			People:  []vision.Person{{Confidence: 0.9}},
			Alarms:  []string{"Detected knife"},
		},
	}
	d := NewDispatcher(ops, nil)

	out := decode(t, d.Dispatch(context.Background(), "porch", "get_detections", "{}"))
	if out["status"] != "ok" {
		t.Fatalf("result = %v", out)
	}
	if out["people"] != float64(1) {
		t.Errorf("people = %v, want 1", out["people"])
	}
}

func TestDispatch_GetDetectionsEmpty(t *testing.T) {
	d := NewDispatcher(&fakeOps{}, nil)

	out := decode(t, d.Dispatch(context.Background(), "porch", "get_detections", "{}"))
	if out["status"] != "empty" {
		t.Errorf("result = %v", out)
	}
}

func TestDispatch_UnknownToolSentinel(t *testing.T) {
	d := NewDispatcher(&fakeOps{}, nil)

	out := decode(t, d.Dispatch(context.Background(), "porch", "open_garage", "{}"))
	if out["status"] != "unknown_tool" || out["tool"] != "open_garage" {
		t.Errorf("result = %v", out)
	}
}

func TestCatalogue_FixedNames(t *testing.T) {
	want := map[string]bool{
		"take_snapshot":   true,
		"register_person": true,
		"ptz_move":        true,
		"get_detections":  true,
	}
	cat := Catalogue()
	if len(cat) != len(want) {
		t.Fatalf("catalogue size = %d, want %d", len(cat), len(want))
	}
	for _, def := range cat {
		if !want[def.Name] {
			t.Errorf("unexpected tool %q", def.Name)
		}
		if def.Description == "" || def.Parameters == nil {
			t.Errorf("tool %q missing description or schema", def.Name)
		}
	}
}
