// Package mcpserver exposes the validation engine as Model Context Protocol
// tools, so an LLM narrator can check its own output before it is shown to
// the players.
//
// Two tools are registered:
//
//   - validate_narrative: validates a narrative against expected entities and
//     returns the full validation result.
//   - list_scene_entities: returns the entity manifest of a location, or the
//     list of known locations when no location is given.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/scenecheck/internal/entity"
	"github.com/MrWong99/scenecheck/internal/narrative"
	"github.com/MrWong99/scenecheck/pkg/scene"
)

const serverName = "scenecheck"

// Validator is the engine surface the tools need. *narrative.Engine
// satisfies it.
type Validator interface {
	ValidateRequest(ctx context.Context, req narrative.Request) (*scene.ValidationResult, error)
	Manifest(ctx context.Context, location string) (scene.EntityManifest, error)
	Locations(ctx context.Context) ([]string, error)
}

// Server wraps an MCP server with the scenecheck tools registered.
type Server struct {
	mcpServer *mcp.Server
	validator Validator
}

// New creates a Server backed by v. version is reported to clients during
// initialisation.
func New(v Validator, version string) *Server {
	if version == "" {
		version = "dev"
	}
	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{Name: serverName, Version: version}, nil),
		validator: v,
	}
	mcp.AddTool(s.mcpServer, ValidateNarrativeTool(), s.validateNarrative)
	mcp.AddTool(s.mcpServer, ListSceneEntitiesTool(), s.listSceneEntities)
	return s
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcp.Server { return s.mcpServer }

// Run serves a single session over t until the client disconnects or ctx
// ends.
func (s *Server) Run(ctx context.Context, t mcp.Transport) error {
	if err := s.mcpServer.Run(ctx, t); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcpserver: %w", err)
	}
	return nil
}

// RunStdio serves over the process's stdin and stdout.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}

// ValidateNarrativeTool describes the validate_narrative tool.
func ValidateNarrativeTool() *mcp.Tool {
	return &mcp.Tool{
		Name: "validate_narrative",
		Description: "Checks which of the expected scene entities a narrative passage mentions. " +
			"Returns found and missing entity ids, an overall confidence in [0,1], per-match evidence and warnings. " +
			"Expected entities may be given by id only when location names a known scene.",
	}
}

// ListSceneEntitiesTool describes the list_scene_entities tool.
func ListSceneEntitiesTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "list_scene_entities",
		Description: "Returns the entities present at a scene location. With no location, lists the known locations.",
	}
}

// ValidateNarrativeInput is the argument of validate_narrative. It mirrors
// the HTTP request body with every entity field except id optional.
type ValidateNarrativeInput struct {
	Narrative        string                   `json:"narrative" jsonschema:"the narrative passage to check"`
	ExpectedEntities []EntityInput            `json:"expected_entities" jsonschema:"entities the passage should mention"`
	Location         string                   `json:"location,omitempty" jsonschema:"scene location used to fill in entities given by id only"`
	Config           *narrative.RequestConfig `json:"config,omitempty" jsonschema:"per-call overrides of the engine defaults"`
}

// EntityInput is an expected entity as accepted by validate_narrative.
type EntityInput struct {
	ID          string           `json:"id"`
	Name        string           `json:"name,omitempty"`
	Type        scene.EntityType `json:"type,omitempty"`
	Status      []string         `json:"status,omitempty"`
	Descriptors []string         `json:"descriptors,omitempty"`
	Archetype   string           `json:"archetype,omitempty"`
	Gender      scene.Gender     `json:"gender,omitempty"`
}

// Request converts the tool input into an engine request.
func (in ValidateNarrativeInput) Request() narrative.Request {
	expected := make([]scene.Entity, len(in.ExpectedEntities))
	for i, e := range in.ExpectedEntities {
		expected[i] = scene.Entity{
			ID:          e.ID,
			Name:        e.Name,
			Type:        e.Type,
			Status:      e.Status,
			Descriptors: e.Descriptors,
			Archetype:   e.Archetype,
			Gender:      e.Gender,
		}
	}
	return narrative.Request{
		Narrative:        in.Narrative,
		ExpectedEntities: expected,
		Location:         in.Location,
		Config:           in.Config,
	}
}

func (s *Server) validateNarrative(ctx context.Context, _ *mcp.CallToolRequest, input ValidateNarrativeInput) (*mcp.CallToolResult, scene.ValidationResult, error) {
	res, err := s.validator.ValidateRequest(ctx, input.Request())
	if err != nil {
		return nil, scene.ValidationResult{}, err
	}
	slog.Debug("mcp validate_narrative",
		"location", input.Location,
		"found", len(res.EntitiesFound),
		"missing", len(res.EntitiesMissing),
		"degraded", res.Degraded,
	)
	return nil, *res, nil
}

// ListSceneEntitiesInput is the argument of list_scene_entities.
type ListSceneEntitiesInput struct {
	Location string `json:"location,omitempty" jsonschema:"scene location; omit to list all locations"`
}

// SceneEntities is the result of list_scene_entities. Exactly one of
// Entities or Locations is populated.
type SceneEntities struct {
	Location  string         `json:"location,omitempty"`
	Entities  []scene.Entity `json:"entities,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Locations []string       `json:"locations,omitempty"`
}

func (s *Server) listSceneEntities(ctx context.Context, _ *mcp.CallToolRequest, input ListSceneEntitiesInput) (*mcp.CallToolResult, SceneEntities, error) {
	location := strings.TrimSpace(input.Location)
	if location == "" {
		locs, err := s.validator.Locations(ctx)
		if err != nil {
			return nil, SceneEntities{}, fmt.Errorf("list locations: %w", err)
		}
		return nil, SceneEntities{Locations: locs}, nil
	}

	m, err := s.validator.Manifest(ctx, location)
	if errors.Is(err, entity.ErrNotFound) {
		return nil, SceneEntities{}, fmt.Errorf("unknown location %q", location)
	}
	if err != nil {
		return nil, SceneEntities{}, fmt.Errorf("load manifest: %w", err)
	}
	out := SceneEntities{Location: m.Location, Entities: m.Entities}
	if !m.Timestamp.IsZero() {
		out.Timestamp = m.Timestamp.UTC().Format(time.RFC3339)
	}
	return nil, out, nil
}
