package lotus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AetharaAI/LOTUS-sub001/eventbus"
)

// ToolRequest is the structured payload another module publishes to
// invoke a tool. The addressed module, tool name, parameters, and a
// uniquely-named response channel keep caller and callee fully decoupled.
type ToolRequest struct {
	Module          string                 `json:"module"`
	Tool            string                 `json:"tool"`
	Params          map[string]interface{} `json:"params,omitempty"`
	ResponseChannel string                 `json:"response_channel"`
}

// ToolResponse is the structured result of a tool invocation. Failures
// are reported here, never raised across the bus.
type ToolResponse struct {
	Module  string      `json:"module"`
	Tool    string      `json:"tool"`
	Success bool        `json:"success"`
	Result  interface{} `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// registerTools indexes the module's tools and subscribes the per-module
// tool request channel.
func (r *ModuleRunner) registerTools(ctx context.Context, tools []Tool) error {
	if len(tools) == 0 {
		return nil
	}
	r.mu.Lock()
	for _, tool := range tools {
		if tool.Func == nil {
			r.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrToolFuncNil, tool.Name)
		}
		r.tools[tool.Name] = tool
	}
	r.mu.Unlock()

	channel := toolRequestPrefix + r.descriptor.Name
	sub, err := r.bus.Subscribe(ctx, channel, r.handleToolRequest)
	if err != nil {
		return fmt.Errorf("failed to subscribe tool channel %q: %w", channel, err)
	}
	r.mu.Lock()
	r.subscriptions = append(r.subscriptions, sub)
	r.mu.Unlock()
	return nil
}

// Tools returns the names of the tools this runner exposes.
func (r *ModuleRunner) Tools() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// handleToolRequest decodes a ToolRequest from the bus, executes the
// addressed tool, and publishes a ToolResponse on the caller's response
// channel. All failure modes produce a structured unsuccessful response.
func (r *ModuleRunner) handleToolRequest(ctx context.Context, event eventbus.Event) error {
	fields, ok := event.Payload.(map[string]interface{})
	if !ok {
		r.logger.Warn("Ignoring malformed tool request",
			"module", r.descriptor.Name, "channel", event.Channel)
		return nil
	}

	toolName, _ := fields["tool"].(string)
	responseChannel, _ := fields["response_channel"].(string)
	params, _ := fields["params"].(map[string]interface{})

	if responseChannel == "" {
		r.logger.Warn("Tool request carries no response channel",
			"module", r.descriptor.Name, "tool", toolName)
		return nil
	}

	response := ToolResponse{Module: r.descriptor.Name, Tool: toolName}

	r.mu.Lock()
	tool, found := r.tools[toolName]
	r.mu.Unlock()

	switch {
	case !r.Enabled():
		response.Error = ErrModuleNotInitialized.Error()
	case !found:
		response.Error = fmt.Sprintf("%v: %s", ErrToolNotFound, toolName)
	default:
		result, err := r.executeTool(ctx, tool, params)
		if err != nil {
			response.Error = err.Error()
		} else {
			response.Success = true
			response.Result = result
		}
	}

	if err := r.bus.Publish(ctx, responseChannel, response); err != nil {
		r.logger.Error("Failed to publish tool response",
			"module", r.descriptor.Name, "tool", toolName, "error", err)
	}
	return nil
}

// executeTool runs a tool with panic containment.
func (r *ModuleRunner) executeTool(ctx context.Context, tool Tool, params map[string]interface{}) (result interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool %s panicked: %v", tool.Name, rec)
		}
	}()
	return tool.Func(ctx, params)
}

// InvokeTool publishes a tool request addressed to module.tool and waits
// for the structured response on a uniquely-named response channel. The
// context deadline bounds the wait; an expired wait yields ErrToolTimeout.
func InvokeTool(ctx context.Context, bus *eventbus.EventBus, module, tool string, params map[string]interface{}) (*ToolResponse, error) {
	responseChannel := toolResponsePrefix + uuid.New().String()
	responses := make(chan ToolResponse, 1)

	sub, err := bus.Subscribe(ctx, responseChannel, func(ctx context.Context, event eventbus.Event) error {
		fields, ok := event.Payload.(map[string]interface{})
		if !ok {
			return nil
		}
		response := ToolResponse{Module: module, Tool: tool}
		response.Success, _ = fields["success"].(bool)
		response.Result = fields["result"]
		response.Error, _ = fields["error"].(string)
		select {
		case responses <- response:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = bus.Unsubscribe(context.Background(), sub) }()

	request := ToolRequest{
		Module:          module,
		Tool:            tool,
		Params:          params,
		ResponseChannel: responseChannel,
	}
	if err := bus.Publish(ctx, toolRequestPrefix+module, request); err != nil {
		return nil, err
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	select {
	case response := <-responses:
		return &response, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s.%s", ErrToolTimeout, module, tool)
	}
}
