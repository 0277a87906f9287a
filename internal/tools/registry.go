// Package tools registers the portfolio tools and dispatches tools/call
// requests onto the domain services.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mcportfolio/mcportfolio/internal/modules/allocation"
	"github.com/mcportfolio/mcportfolio/internal/modules/blacklitterman"
	"github.com/mcportfolio/mcportfolio/internal/modules/calculations"
	"github.com/mcportfolio/mcportfolio/internal/modules/convex"
	"github.com/mcportfolio/mcportfolio/internal/modules/hierarchical"
	"github.com/mcportfolio/mcportfolio/internal/modules/marketdata"
	"github.com/mcportfolio/mcportfolio/internal/modules/optimization"
)

// ErrUnknownTool marks tools/call requests naming an unregistered tool.
var ErrUnknownTool = errors.New("unknown tool")

// ErrInvalidParams marks tools/call requests with undecodable arguments.
var ErrInvalidParams = errors.New("invalid params")

// Handler executes one tool call. The returned value becomes the data field
// of the success envelope.
type Handler func(ctx context.Context, args json.RawMessage) (interface{}, error)

// Tool is one registered tool.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
	handler     Handler
}

// Descriptor is the tools/list wire form of a tool.
type Descriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// Services bundles the domain services the tools dispatch onto.
type Services struct {
	MarketData     *marketdata.Service
	Optimization   *optimization.Service
	BlackLitterman *blacklitterman.Service
	Hierarchical   *hierarchical.Service
	Allocation     *allocation.Service
	Convex         *convex.Service
	Runs           *calculations.RunLog
	Version        string
}

// Registry holds the registered tools and records every invocation.
type Registry struct {
	tools  []*Tool
	byName map[string]*Tool
	runs   *calculations.RunLog
	log    zerolog.Logger
}

// NewRegistry builds the registry with the full tool set.
func NewRegistry(svc Services, log zerolog.Logger) *Registry {
	r := &Registry{
		byName: make(map[string]*Tool),
		runs:   svc.Runs,
		log:    log.With().Str("module", "tools").Logger(),
	}
	registerAll(r, svc)
	return r
}

func (r *Registry) register(t *Tool) {
	r.tools = append(r.tools, t)
	r.byName[t.Name] = t
}

// List returns descriptors for every registered tool in registration order.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, len(r.tools))
	for i, t := range r.tools {
		out[i] = Descriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		}
	}
	return out
}

// Call dispatches a tools/call request. Tool-level failures are reported in
// the envelope; only unknown tools and undecodable params return an error.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (map[string]interface{}, error) {
	t, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	start := time.Now()
	data, err := t.handler(ctx, args)
	duration := time.Since(start)

	if err != nil && errors.Is(err, ErrInvalidParams) {
		r.recordRun(ctx, name, duration, false)
		return nil, err
	}

	runID := r.recordRun(ctx, name, duration, err == nil)

	logEvent := r.log.Info()
	if err != nil {
		logEvent = r.log.Warn().Err(err)
	}
	logEvent.
		Str("tool", name).
		Str("run_id", runID).
		Dur("duration", duration).
		Bool("ok", err == nil).
		Msg("Tool call")

	if err != nil {
		return map[string]interface{}{
			"status":  "error",
			"message": err.Error(),
		}, nil
	}
	return map[string]interface{}{
		"status": "success",
		"data":   data,
	}, nil
}

func (r *Registry) recordRun(ctx context.Context, name string, duration time.Duration, ok bool) string {
	if r.runs == nil {
		return ""
	}
	return r.runs.Record(ctx, name, duration, ok)
}

func decode(args json.RawMessage, dst interface{}) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}
