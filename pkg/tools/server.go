// Package tools exposes the orchestration services as MCP tools so agents can define and
// run orchestrations over stdio.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type Server struct {
	mcpServer      *server.MCPServer
	orchestrations *services.Orchestration
	executions     *services.Execution
	logger         *slog.Logger
}

func NewServer(
	orchestrations *services.Orchestration,
	executions *services.Execution,
	logger *slog.Logger,
	version string,
) *Server {
	s := &Server{
		orchestrations: orchestrations,
		executions:     executions,
		logger:         logger.With("module", "mcp_tools"),
	}

	s.mcpServer = server.NewMCPServer(
		"stepflow",
		version,
		server.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying server, mainly for transports other than stdio.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio blocks serving tool calls on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("create_orchestration",
		mcp.WithDescription("Create an orchestration from a list of steps"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Unique orchestration name"),
		),
		mcp.WithString("steps",
			mcp.Required(),
			mcp.Description("JSON array of steps: name, order, input_mapping, output_mapping, condition, parallel_group, role, max_retries, retry_delay, timeout"),
		),
		mcp.WithString("description",
			mcp.Description("What the orchestration does"),
		),
		mcp.WithString("tags",
			mcp.Description("Comma separated tags"),
		),
		mcp.WithString("input_schema",
			mcp.Description("Optional JSON Schema the execution input must satisfy"),
		),
	), s.handleCreateOrchestration)

	s.mcpServer.AddTool(mcp.NewTool("list_orchestrations",
		mcp.WithDescription("List orchestrations, optionally filtered by tags"),
		mcp.WithString("tags",
			mcp.Description("Comma separated tags; an orchestration matches when it has any of them"),
		),
		mcp.WithBoolean("active_only",
			mcp.Description("Only return active orchestrations"),
		),
	), s.handleListOrchestrations)

	s.mcpServer.AddTool(mcp.NewTool("get_orchestration",
		mcp.WithDescription("Get an orchestration by ID or name"),
		mcp.WithString("orchestration",
			mcp.Required(),
			mcp.Description("Orchestration ID or name"),
		),
	), s.handleGetOrchestration)

	s.mcpServer.AddTool(mcp.NewTool("execute_orchestration",
		mcp.WithDescription("Start an execution in the background and return its ID"),
		mcp.WithString("orchestration",
			mcp.Required(),
			mcp.Description("Orchestration ID or name"),
		),
		mcp.WithString("input",
			mcp.Description("Execution input; parsed as JSON when possible, otherwise used as a plain string"),
		),
		mcp.WithString("role_assignments",
			mcp.Description("JSON object mapping step names to worker roles"),
		),
	), s.handleExecuteOrchestration)

	s.mcpServer.AddTool(mcp.NewTool("get_execution_status",
		mcp.WithDescription("Get the status, context and step logs of an execution"),
		mcp.WithString("execution_id",
			mcp.Required(),
			mcp.Description("Execution ID"),
		),
	), s.handleGetExecutionStatus)

	s.mcpServer.AddTool(mcp.NewTool("list_executions",
		mcp.WithDescription("List the most recent executions of an orchestration"),
		mcp.WithString("orchestration",
			mcp.Required(),
			mcp.Description("Orchestration ID or name"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of executions to return"),
		),
	), s.handleListExecutions)
}

func getArgs(request mcp.CallToolRequest) map[string]any {
	if args, ok := request.Params.Arguments.(map[string]any); ok {
		return args
	}

	return make(map[string]any)
}

func stringArg(args map[string]any, name string) string {
	value, _ := args[name].(string)

	return strings.TrimSpace(value)
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}

	tags := []string{}

	for _, tag := range strings.Split(raw, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}

	return tags
}

func jsonResult(value any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}

	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleCreateOrchestration(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)

	name := stringArg(args, "name")
	if name == "" {
		return mcp.NewToolResultError("name parameter is required"), nil
	}

	rawSteps := stringArg(args, "steps")
	if rawSteps == "" {
		return mcp.NewToolResultError("steps parameter is required"), nil
	}

	var steps []*models.OrchestrationStep
	if err := json.Unmarshal([]byte(rawSteps), &steps); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("steps must be a JSON array: %v", err)), nil
	}

	req := services.CreateOrchestrationRequest{
		Name:        name,
		Description: stringArg(args, "description"),
		Tags:        splitTags(stringArg(args, "tags")),
		Steps:       steps,
		CreatedBy:   "mcp",
	}

	if rawSchema := stringArg(args, "input_schema"); rawSchema != "" {
		if err := json.Unmarshal([]byte(rawSchema), &req.InputSchema); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("input_schema must be a JSON object: %v", err)), nil
		}
	}

	orchestration, err := s.orchestrations.Create(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create orchestration: %v", err)), nil
	}

	s.logger.InfoContext(ctx, "Orchestration created via tool", "id", orchestration.ID, "name", orchestration.Name)

	return jsonResult(orchestration)
}

func (s *Server) handleListOrchestrations(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)

	req := services.ListOrchestrationsRequest{Tags: splitTags(stringArg(args, "tags"))}

	if activeOnly, _ := args["active_only"].(bool); activeOnly {
		req.IsActive = &activeOnly
	}

	orchestrations, err := s.orchestrations.List(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list orchestrations: %v", err)), nil
	}

	return jsonResult(orchestrations)
}

func (s *Server) handleGetOrchestration(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref := stringArg(getArgs(request), "orchestration")
	if ref == "" {
		return mcp.NewToolResultError("orchestration parameter is required"), nil
	}

	orchestration, err := s.orchestrations.Get(ctx, ref)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get orchestration: %v", err)), nil
	}

	return jsonResult(orchestration)
}

func (s *Server) handleExecuteOrchestration(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)

	ref := stringArg(args, "orchestration")
	if ref == "" {
		return mcp.NewToolResultError("orchestration parameter is required"), nil
	}

	req := services.ExecuteRequest{OrchestrationID: ref, UserID: "mcp"}

	if rawInput, ok := args["input"].(string); ok && rawInput != "" {
		req.Input = rawInput

		var decoded any
		if err := json.Unmarshal([]byte(rawInput), &decoded); err == nil {
			req.Input = decoded
		}
	}

	if rawRoles := stringArg(args, "role_assignments"); rawRoles != "" {
		if err := json.Unmarshal([]byte(rawRoles), &req.RoleAssignments); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("role_assignments must be a JSON object of strings: %v", err)), nil
		}
	}

	execution, err := s.executions.Execute(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to execute orchestration: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"execution_id":     execution.ID,
		"orchestration_id": execution.OrchestrationID,
		"status":           execution.Status,
	})
}

func (s *Server) handleGetExecutionStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := stringArg(getArgs(request), "execution_id")
	if id == "" {
		return mcp.NewToolResultError("execution_id parameter is required"), nil
	}

	execution, err := s.executions.GetStatus(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get execution: %v", err)), nil
	}

	return jsonResult(execution)
}

func (s *Server) handleListExecutions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)

	ref := stringArg(args, "orchestration")
	if ref == "" {
		return mcp.NewToolResultError("orchestration parameter is required"), nil
	}

	orchestration, err := s.orchestrations.Get(ctx, ref)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get orchestration: %v", err)), nil
	}

	limit := 0
	if raw, ok := args["limit"].(float64); ok {
		limit = int(raw)
	}

	executions, err := s.executions.List(ctx, orchestration.ID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list executions: %v", err)), nil
	}

	return jsonResult(executions)
}
