// MCP transport handler for the capability gateway using the official MCP
// Go SDK. Exposes negotiation and argument validation as MCP tools.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"caps-gateway/internal/caps"
	"caps-gateway/internal/config"
	"caps-gateway/internal/constraints"
	"caps-gateway/internal/extargs"
	"caps-gateway/internal/negotiation"
)

// === Tool Input/Output Types ===
// Capability dictionaries cross the tool boundary as plain JSON objects and
// are converted to typed dictionaries at the edge.

// NegotiateInput is the input schema for negotiate_capabilities.
type NegotiateInput struct {
	Capabilities        map[string]any `json:"capabilities,omitempty" jsonschema:"W3C capabilities payload with alwaysMatch/firstMatch"`
	DesiredCapabilities map[string]any `json:"desiredCapabilities,omitempty" jsonschema:"legacy flat capability dictionary, reported but never matched"`
	DefaultCapabilities map[string]any `json:"defaultCapabilities,omitempty" jsonschema:"overrides the server default capabilities for this call"`
}

// NegotiateOutput mirrors negotiation.Result. A match failure is reported in
// error/errorCode rather than failing the tool call, so clients can map it
// onto their protocol's error space.
type NegotiateOutput struct {
	DesiredCaps     map[string]any `json:"desiredCaps,omitempty"`
	ProcessedLegacy map[string]any `json:"processedJsonwpCapabilities,omitempty"`
	ProcessedW3C    map[string]any `json:"processedW3CCapabilities,omitempty"`
	Protocol        string         `json:"protocol"`
	Error           string         `json:"error,omitempty"`
	ErrorCode       string         `json:"errorCode,omitempty"`
}

// ValidateArgsInput is the input schema for validate_extension_args.
type ValidateArgsInput struct {
	Extension   string         `json:"extension" jsonschema:"extension identifier the args belong to,required"`
	Args        string         `json:"args,omitempty" jsonschema:"args blob: inline JSON/YAML or a path to a .json/.yaml file"`
	Constraints map[string]any `json:"constraints,omitempty" jsonschema:"argument constraints keyed by argument name"`
	Base        map[string]any `json:"base,omitempty" jsonschema:"base arguments the validated args are overlaid onto"`
}

// ValidateArgsOutput carries the merged, validated argument set.
type ValidateArgsOutput struct {
	Args map[string]any `json:"args"`
}

// ExtractSettingsInput is the input schema for extract_settings.
type ExtractSettingsInput struct {
	Capabilities map[string]any `json:"capabilities" jsonschema:"capability dictionary to pull settings directives from,required"`
}

// ExtractSettingsOutput returns the extracted settings and the remaining
// capabilities.
type ExtractSettingsOutput struct {
	Settings     map[string]any `json:"settings"`
	Capabilities map[string]any `json:"capabilities"`
}

// NewMCPServer creates an MCP server with the negotiation tools registered.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "caps-gateway",
			Version: config.Version,
		},
		&mcp.ServerOptions{
			Instructions: "Capability gateway - negotiates W3C automation-session capabilities " +
				"into canonical form and validates extension arguments against declared constraints.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name: "negotiate_capabilities",
		Description: "Negotiate a W3C capabilities payload against the server's constraints and " +
			"default capabilities. Match failures are returned in the result, not as tool errors.",
	}, h.mcpNegotiate)

	mcp.AddTool(server, &mcp.Tool{
		Name: "validate_extension_args",
		Description: "Parse an extension args blob, select one extension's block, validate it " +
			"against the given constraints, and overlay it onto the base arguments.",
	}, h.mcpValidateArgs)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "extract_settings",
		Description: "Pull settings[name] directives out of a capability dictionary.",
	}, h.mcpExtractSettings)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

func (h *Handler) mcpNegotiate(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input NegotiateInput,
) (*mcp.CallToolResult, NegotiateOutput, error) {
	w3c, err := dictFromAny(input.Capabilities)
	if err != nil {
		return nil, NegotiateOutput{}, fmt.Errorf("capabilities: %w", err)
	}
	legacy, err := dictFromAny(input.DesiredCapabilities)
	if err != nil {
		return nil, NegotiateOutput{}, fmt.Errorf("desiredCapabilities: %w", err)
	}
	defaults := h.defaults
	if input.DefaultCapabilities != nil {
		defaults, err = dictFromAny(input.DefaultCapabilities)
		if err != nil {
			return nil, NegotiateOutput{}, fmt.Errorf("defaultCapabilities: %w", err)
		}
	}

	result := h.negotiator.Negotiate(legacy, w3c, h.spec, defaults)

	out := NegotiateOutput{
		DesiredCaps:     dictToAny(result.DesiredCaps),
		ProcessedLegacy: dictToAny(result.ProcessedLegacy),
		Protocol:        result.Protocol,
	}
	if result.ProcessedW3C != nil {
		firstMatch := make([]any, len(result.ProcessedW3C.FirstMatch))
		for i, fm := range result.ProcessedW3C.FirstMatch {
			firstMatch[i] = dictToAny(fm)
		}
		out.ProcessedW3C = map[string]any{
			"alwaysMatch": dictToAny(result.ProcessedW3C.AlwaysMatch),
			"firstMatch":  firstMatch,
		}
	}
	if result.Err != nil {
		var negErr *negotiation.Error
		if errors.As(result.Err, &negErr) {
			out.ErrorCode = negErr.Code
			out.Error = negErr.Message
		} else {
			out.ErrorCode = negotiation.CapabilityMatchFailure
			out.Error = result.Err.Error()
		}
	}
	return nil, out, nil
}

func (h *Handler) mcpValidateArgs(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ValidateArgsInput,
) (*mcp.CallToolResult, ValidateArgsOutput, error) {
	if input.Extension == "" {
		return nil, ValidateArgsOutput{}, fmt.Errorf("extension is required")
	}

	spec, err := specFromAny(input.Constraints)
	if err != nil {
		return nil, ValidateArgsOutput{}, fmt.Errorf("constraints: %w", err)
	}
	base, err := dictFromAny(input.Base)
	if err != nil {
		return nil, ValidateArgsOutput{}, fmt.Errorf("base: %w", err)
	}

	supplied, err := h.parser.ParseExtensionArgs(input.Args, input.Extension)
	if err != nil {
		return nil, ValidateArgsOutput{}, h.mcpError(err)
	}
	merged, err := h.parser.ParseDriverPluginArgs(base, supplied, spec)
	if err != nil {
		return nil, ValidateArgsOutput{}, h.mcpError(err)
	}

	out := dictToAny(merged)
	if out == nil {
		out = map[string]any{}
	}
	return nil, ValidateArgsOutput{Args: out}, nil
}

func (h *Handler) mcpExtractSettings(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ExtractSettingsInput,
) (*mcp.CallToolResult, ExtractSettingsOutput, error) {
	d, err := dictFromAny(input.Capabilities)
	if err != nil {
		return nil, ExtractSettingsOutput{}, fmt.Errorf("capabilities: %w", err)
	}
	settings := caps.ExtractSettings(d)

	remaining := dictToAny(d)
	if remaining == nil {
		remaining = map[string]any{}
	}
	return nil, ExtractSettingsOutput{
		Settings:     dictToAny(settings),
		Capabilities: remaining,
	}, nil
}

// mcpError surfaces structured argument errors verbatim and hides anything
// unexpected.
func (h *Handler) mcpError(err error) error {
	var argErr *extargs.ArgError
	if errors.As(err, &argErr) {
		return argErr
	}
	if errors.Is(err, constraints.ErrValidation) {
		return err
	}
	h.logger.Error("mcp internal error", "error", err.Error())
	return fmt.Errorf("internal error")
}

// dictFromAny converts a decoded JSON object to a typed dictionary. A nil
// map stays nil so absence is distinguishable downstream.
func dictFromAny(m map[string]any) (caps.Dict, error) {
	if m == nil {
		return nil, nil
	}
	v, err := caps.FromInterface(m)
	if err != nil {
		return nil, err
	}
	d, _ := v.AsObject()
	return d, nil
}

// dictToAny converts a typed dictionary back to plain JSON data.
func dictToAny(d caps.Dict) map[string]any {
	if d == nil {
		return nil
	}
	out, _ := caps.Object(d).Interface().(map[string]any)
	return out
}

// specFromAny decodes a constraints spec from loose JSON data.
func specFromAny(m map[string]any) (constraints.Spec, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var spec constraints.Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, err
	}
	return spec, nil
}
