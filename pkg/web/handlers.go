// Package web provides HTTP handlers and REST API endpoints for orchestration management.
package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// RoleLister reports the worker roles available to runs.
type RoleLister interface {
	Roles() []string
}

type APIHandlers struct {
	orchestrationService *services.Orchestration
	executionService     *services.Execution
	validator            *validator.Validate
	workers              RoleLister
}

func NewAPIHandlers(
	orchestrationService *services.Orchestration,
	executionService *services.Execution,
	validator *validator.Validate,
	workers RoleLister,
) *APIHandlers {
	return &APIHandlers{
		orchestrationService: orchestrationService,
		executionService:     executionService,
		validator:            validator,
		workers:              workers,
	}
}

// Register mounts every route on the app.
func (h *APIHandlers) Register(app fiber.Router) {
	o := app.Group("/orchestrations")
	o.Get("/", h.ListOrchestrations)
	o.Post("/", h.CreateOrchestration)
	o.Get("/:id", h.GetOrchestration)
	o.Patch("/:id", h.UpdateOrchestration)
	o.Delete("/:id", h.DeleteOrchestration)
	o.Post("/:id/execute", h.ExecuteOrchestration)
	o.Get("/:id/executions", h.ListExecutions)

	app.Get("/executions/:id", h.GetExecution)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	roles := h.workers.Roles()
	workersOk := len(roles) > 0

	workersCheck := "No workers registered"
	if workersOk {
		workersCheck = "Workers available: " + strings.Join(roles, ", ")
	}

	repositoryCheck, repOk := h.orchestrationService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Stepflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if workersOk && repOk {
		status = "healthy"
		message = "Stepflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"workers":    workersCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) ListOrchestrations(c fiber.Ctx) error {
	req, err := parseListOrchestrationsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	orchestrations, err := h.orchestrationService.List(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"orchestrations": orchestrations,
		"total_count":    len(orchestrations),
	})
}

// parseListOrchestrationsRequest reads ?tags=a,b and ?is_active=true.
func parseListOrchestrationsRequest(c fiber.Ctx) (*services.ListOrchestrationsRequest, error) {
	req := &services.ListOrchestrationsRequest{}

	if tags := c.Query("tags"); tags != "" {
		for _, tag := range strings.Split(tags, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				req.Tags = append(req.Tags, tag)
			}
		}
	}

	if activeStr := c.Query("is_active"); activeStr != "" {
		active, err := strconv.ParseBool(activeStr)
		if err != nil {
			return nil, err
		}

		req.IsActive = &active
	}

	return req, nil
}

func (h *APIHandlers) CreateOrchestration(c fiber.Ctx) error {
	var req CreateOrchestrationRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.orchestrationService.Create(c.Context(), services.CreateOrchestrationRequest{
		Name:        req.Name,
		Description: req.Description,
		Tags:        req.Tags,
		IsActive:    req.IsActive,
		Steps:       req.Steps,
		InputSchema: req.InputSchema,
		CreatedBy:   req.CreatedBy,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

// GetOrchestration accepts either the orchestration ID or its name.
func (h *APIHandlers) GetOrchestration(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Orchestration ID is required")
	}

	orchestration, err := h.orchestrationService.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(orchestration)
}

func (h *APIHandlers) UpdateOrchestration(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Orchestration ID is required")
	}

	var req UpdateOrchestrationRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.orchestrationService.Update(c.Context(), id, services.UpdateOrchestrationRequest{
		Name:        req.Name,
		Description: req.Description,
		Tags:        req.Tags,
		IsActive:    req.IsActive,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteOrchestration(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Orchestration ID is required")
	}

	if err := h.orchestrationService.Delete(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ExecuteOrchestration starts a run and answers 202 without waiting for it.
func (h *APIHandlers) ExecuteOrchestration(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Orchestration ID is required")
	}

	var req ExecuteOrchestrationRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	execution, err := h.executionService.Execute(c.Context(), services.ExecuteRequest{
		OrchestrationID: id,
		Input:           req.Input,
		RoleAssignments: req.RoleAssignments,
		UserID:          req.UserID,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(ExecutionAccepted{
		ExecutionID:     execution.ID,
		OrchestrationID: execution.OrchestrationID,
		Status:          models.ExecutionStatusRunning,
	})
}

func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Orchestration ID is required")
	}

	limit := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 0 {
			return badRequest(c, "Invalid query parameters: limit must be a non-negative integer")
		}

		limit = parsed
	}

	orchestration, err := h.orchestrationService.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	executions, err := h.executionService.List(c.Context(), orchestration.ID, limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"executions":  executions,
		"total_count": len(executions),
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.executionService.GetStatus(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}
