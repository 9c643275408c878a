// Package tools implements the fixed tool catalogue the voice agent can call
// during a session: take_snapshot, register_person, ptz_move, get_detections.
//
// Dispatch is synchronous: the session state machine blocks on the result so
// the tool output reaches the agent before the next inbound event is
// processed.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/argushq/argus/internal/observe"
	"github.com/argushq/argus/pkg/provider/realtime"
	"github.com/argushq/argus/pkg/provider/vision"
)

// duplicateNameThreshold is the Jaro-Winkler similarity above which a new
// person name is treated as a likely duplicate of an existing one. Spoken
// names arrive through a transcription layer, so "John" and "Jon" are almost
// certainly the same household member.
const duplicateNameThreshold = 0.92

// CameraOps is what the tool catalogue needs from the camera lifecycle
// manager. The manager implements it; tests use a fake.
type CameraOps interface {
	// TakeSnapshot captures and persists a fresh snapshot, returning a
	// reference to it.
	TakeSnapshot(ctx context.Context, cameraID string) (string, error)

	// RegisterPerson stores the most recently detected unknown person under
	// name and returns the new person ID.
	RegisterPerson(ctx context.Context, cameraID, name string) (string, error)

	// MoveCamera pans/tilts the camera in a cardinal direction.
	MoveCamera(ctx context.Context, cameraID, direction string) error

	// LatestDetection returns the cached most recent analysis result.
	LatestDetection(cameraID string) (vision.Result, bool)

	// PeopleNames lists the names of all known identities.
	PeopleNames(ctx context.Context) ([]string, error)
}

// Dispatcher executes tool calls against one camera.
type Dispatcher struct {
	ops     CameraOps
	metrics *observe.Metrics
}

// NewDispatcher creates a Dispatcher backed by ops.
func NewDispatcher(ops CameraOps, metrics *observe.Metrics) *Dispatcher {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Dispatcher{ops: ops, metrics: metrics}
}

// Catalogue returns the fixed tool definitions offered to the agent at
// session configuration time.
func Catalogue() []realtime.ToolDefinition {
	return []realtime.ToolDefinition{
		{
			Name:        "take_snapshot",
			Description: "Capture a fresh snapshot from this camera and store it.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        "register_person",
			Description: "Remember the person currently in view under a given name.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{
						"type":        "string",
						"description": "The person's name.",
					},
				},
				"required": []string{"name"},
			},
		},
		{
			Name:        "ptz_move",
			Description: "Pan or tilt the camera one step in a direction.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"direction": map[string]any{
						"type": "string",
						"enum": []string{"up", "down", "left", "right"},
					},
				},
				"required": []string{"direction"},
			},
		},
		{
			Name:        "get_detections",
			Description: "Report what was seen in the most recent analysis of this camera.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}
}

// Dispatch executes the named tool with raw JSON arguments and returns the
// JSON result to send back to the agent. Unknown tool names yield a sentinel
// unknown-tool result, never an error: the agent must always get an answer.
func (d *Dispatcher) Dispatch(ctx context.Context, cameraID, name, argsJSON string) string {
	start := time.Now()
	result, err := d.dispatch(ctx, cameraID, name, argsJSON)
	d.metrics.ToolDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		d.metrics.RecordToolCall(ctx, name, "error")
		slog.Warn("tool call failed", "camera", cameraID, "tool", name, "error", err)
		return marshalResult(map[string]any{"error": err.Error()})
	}
	d.metrics.RecordToolCall(ctx, name, "ok")
	return result
}

func (d *Dispatcher) dispatch(ctx context.Context, cameraID, name, argsJSON string) (string, error) {
	switch name {
	case "take_snapshot":
		ref, err := d.ops.TakeSnapshot(ctx, cameraID)
		if err != nil {
			return "", err
		}
		return marshalResult(map[string]any{"status": "ok", "snapshot": ref}), nil

	case "register_person":
		var args struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("tools: parse register_person arguments: %w", err)
		}
		if strings.TrimSpace(args.Name) == "" {
			return "", fmt.Errorf("tools: register_person requires a name")
		}
		return d.registerPerson(ctx, cameraID, strings.TrimSpace(args.Name))

	case "ptz_move":
		var args struct {
			Direction string `json:"direction"`
		}
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("tools: parse ptz_move arguments: %w", err)
		}
		switch args.Direction {
		case "up", "down", "left", "right":
		default:
			return "", fmt.Errorf("tools: ptz_move direction %q is not one of up/down/left/right", args.Direction)
		}
		if err := d.ops.MoveCamera(ctx, cameraID, args.Direction); err != nil {
			return "", err
		}
		return marshalResult(map[string]any{"status": "ok", "moved": args.Direction}), nil

	case "get_detections":
		res, ok := d.ops.LatestDetection(cameraID)
		if !ok {
			return marshalResult(map[string]any{"status": "empty", "message": "no analysis yet"}), nil
		}
		return marshalResult(map[string]any{
			"status":  "ok",
			"objects": res.Objects,
			"people":  len(res.People),
			"alarms":  res.Alarms,
		}), nil

	default:
		return marshalResult(map[string]any{
			"status": "unknown_tool",
			"tool":   name,
		}), nil
	}
}

// registerPerson guards against near-duplicate names before delegating to
// the camera manager.
func (d *Dispatcher) registerPerson(ctx context.Context, cameraID, name string) (string, error) {
	existing, err := d.ops.PeopleNames(ctx)
	if err != nil {
		return "", err
	}
	for _, known := range existing {
		score := matchr.JaroWinkler(strings.ToLower(name), strings.ToLower(known), false)
		if score >= duplicateNameThreshold {
			return marshalResult(map[string]any{
				"status":   "duplicate",
				"existing": known,
				"message":  fmt.Sprintf("a person named %q is already registered", known),
			}), nil
		}
	}

	id, err := d.ops.RegisterPerson(ctx, cameraID, name)
	if err != nil {
		return "", err
	}
	return marshalResult(map[string]any{"status": "ok", "personId": id, "name": name}), nil
}

func marshalResult(v map[string]any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return `{"error":"internal: unencodable tool result"}`
	}
	return string(data)
}
