// Package mcpfrontend exposes the engine's Infer entry point as a Model
// Context Protocol tool, the way the teacher's cmd/mcp.go exposes
// deduplicate_chunks/retrieve_deduplicated: an AI-assistant-facing
// transport alongside HTTP and gRPC that never touches engine internals
// beyond calling Engine.Infer.
package mcpfrontend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nkazachenko/grps-core-go/pkg/engine"
	"github.com/nkazachenko/grps-core-go/pkg/message"
	"github.com/nkazachenko/grps-core-go/pkg/rcontext"
)

// Server wraps an *engine.Engine with an MCP tool surface.
type Server struct {
	eng *engine.Engine
}

// NewServer builds a Server for eng.
func NewServer(eng *engine.Engine) *Server {
	return &Server{eng: eng}
}

// MCPServer builds the *server.MCPServer with every tool registered,
// ready for server.ServeStdio or server.NewStreamableHTTPServer.
func (s *Server) MCPServer(name, version string) *server.MCPServer {
	srv := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(false),
	)
	s.registerTools(srv)
	return srv
}

func (s *Server) registerTools(srv *server.MCPServer) {
	inferTool := mcp.NewTool("grps_infer",
		mcp.WithDescription(`Run inference against a registered grps model.

WHEN TO USE: call this to send a tensor or string payload through a
model (or the configured pipeline) and get its result back synchronously.

INPUT: a model_name (empty runs the default pipeline) and exactly one of
str_data (string) or gtensors (array of {name, shape, dtype, data}).
OUTPUT: the engine's response message in the same shape.`),
		mcp.WithString("model_name",
			mcp.Description("Registered model key (\"name-version\"), or empty to run the configured pipeline"),
		),
		mcp.WithString("str_data",
			mcp.Description("Plain string payload, mutually exclusive with gtensors"),
		),
		mcp.WithArray("gtensors",
			mcp.Description("Array of tensor objects: {name, shape, dtype, data}, mutually exclusive with str_data"),
		),
	)
	srv.AddTool(inferTool, s.handleInfer)

	metaTool := mcp.NewTool("grps_models",
		mcp.WithDescription("List the model keys this grps instance has registered."),
	)
	srv.AddTool(metaTool, s.handleListModels)
}

// inferGTensor mirrors httpfrontend's wireTensor decoding so both
// transports accept the identical JSON tensor shape.
type inferGTensor struct {
	Name  string  `json:"name"`
	Shape []int64 `json:"shape"`
	DType string  `json:"dtype"`
	Data  []any   `json:"data"`
}

func (s *Server) handleInfer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	modelName, _ := args["model_name"].(string)

	in := &message.Message{}
	if str, ok := args["str_data"].(string); ok && str != "" {
		in.StrData = str
	} else if raw, ok := args["gtensors"]; ok {
		rawJSON, err := json.Marshal(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid gtensors: %v", err)), nil
		}
		var tensors []inferGTensor
		if err := json.Unmarshal(rawJSON, &tensors); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid gtensors: %v", err)), nil
		}
		for _, t := range tensors {
			converted, err := toTensor(t)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			in.GTensors = append(in.GTensors, *converted)
		}
	}

	out := &message.Message{}
	rc := rcontext.New(in)
	if err := s.eng.Infer(in, out, rc, modelName); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resultJSON, err := json.MarshalIndent(fromMessage(out), "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(resultJSON)), nil
}

func (s *Server) handleListModels(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keys := make([]string, 0, len(s.eng.Models))
	for k := range s.eng.Models {
		keys = append(keys, k)
	}
	resultJSON, _ := json.MarshalIndent(map[string]any{"models": keys}, "", "  ")
	return mcp.NewToolResultText(string(resultJSON)), nil
}

func toTensor(t inferGTensor) (*message.Tensor, error) {
	out := &message.Tensor{Name: t.Name, Shape: t.Shape}
	switch t.DType {
	case "int64":
		out.DType = message.DTypeInt64
		out.FlatInt64 = make([]int64, len(t.Data))
		for i, v := range t.Data {
			f, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("gtensors[%s]: data[%d] is not a number", t.Name, i)
			}
			out.FlatInt64[i] = int64(f)
		}
	case "int32":
		out.DType = message.DTypeInt32
		out.FlatInt32 = make([]int32, len(t.Data))
		for i, v := range t.Data {
			f, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("gtensors[%s]: data[%d] is not a number", t.Name, i)
			}
			out.FlatInt32[i] = int32(f)
		}
	case "float64":
		out.DType = message.DTypeFloat64
		out.FlatFloat64 = make([]float64, len(t.Data))
		for i, v := range t.Data {
			f, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("gtensors[%s]: data[%d] is not a number", t.Name, i)
			}
			out.FlatFloat64[i] = f
		}
	case "float32", "":
		out.DType = message.DTypeFloat32
		out.FlatFloat32 = make([]float32, len(t.Data))
		for i, v := range t.Data {
			f, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("gtensors[%s]: data[%d] is not a number", t.Name, i)
			}
			out.FlatFloat32[i] = float32(f)
		}
	default:
		return nil, fmt.Errorf("gtensors[%s]: unsupported dtype %q", t.Name, t.DType)
	}
	return out, nil
}

type outMessage struct {
	StrData  string         `json:"str_data,omitempty"`
	GTensors []inferGTensor `json:"gtensors,omitempty"`
}

func fromMessage(m *message.Message) outMessage {
	out := outMessage{StrData: m.StrData}
	for _, t := range m.GTensors {
		out.GTensors = append(out.GTensors, fromTensor(t))
	}
	return out
}

func fromTensor(t message.Tensor) inferGTensor {
	g := inferGTensor{Name: t.Name, Shape: t.Shape, DType: t.DType.String()}
	switch t.DType {
	case message.DTypeFloat32:
		for _, v := range t.FlatFloat32 {
			g.Data = append(g.Data, v)
		}
	case message.DTypeFloat64:
		for _, v := range t.FlatFloat64 {
			g.Data = append(g.Data, v)
		}
	case message.DTypeInt32:
		for _, v := range t.FlatInt32 {
			g.Data = append(g.Data, v)
		}
	case message.DTypeInt64:
		for _, v := range t.FlatInt64 {
			g.Data = append(g.Data, v)
		}
	}
	return g
}
