package controllers

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/CostLensHQ/CostLens/app/models"
	"github.com/CostLensHQ/CostLens/internal/pkg/database"
	"github.com/CostLensHQ/CostLens/internal/pkg/metrics/counter"
	"github.com/CostLensHQ/CostLens/internal/pkg/pipeline"
	"github.com/CostLensHQ/CostLens/internal/pkg/usercontext"
)

type triggerPipelineRequest struct {
	OrgSlug string `json:"org_slug"`
	Kind    string `json:"kind"`
}

// HandleTriggerPipeline forwards a run request to the pipeline engine for an
// org the caller belongs to. Quota enforcement itself lives in the engine;
// this only refuses orgs whose billing state allows no runs at all.
func HandleTriggerPipeline(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var req triggerPipelineRequest
	if err := c.BodyParser(&req); err != nil || req.Kind == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	if !models.IsValidOrgSlug(req.OrgSlug) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid organization slug"})
	}

	db := database.GetDB()
	var org models.Organization
	if err := db.Where("slug = ?", req.OrgSlug).First(&org).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Organization not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load organization"})
	}

	var membership models.OrganizationMember
	err := db.Where("organization_id = ? AND user_id = ? AND status = ?",
		org.ID, userCtx.UserID, models.MemberStatusActive).First(&membership).Error
	if err != nil {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Not a member of this organization"})
	}

	if org.PipelinesPerDay <= 0 {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "no_pipeline_quota", "message": "The current plan includes no pipeline runs"})
	}

	// Soft daily gate from the Redis counters; the engine enforces the hard
	// limit. A counter read error does not block the trigger.
	if runs, err := counter.PipelineRunsToday(org.ID); err == nil && runs >= int64(org.PipelinesPerDay) {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "daily_quota_reached", "message": "Daily pipeline quota reached for the current plan"})
	}

	client := pipeline.NewClientFromEnv()
	ctx, cancel := context.WithTimeout(c.UserContext(), 20*time.Second)
	defer cancel()

	run, err := client.Trigger(ctx, org.Slug, req.Kind)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "pipeline_engine_error", "message": "Pipeline engine unavailable"})
	}

	if err := counter.AddPipelineRun(org.ID); err != nil {
		log.Printf("Warning: pipeline run counter for org %s failed: %v", org.Slug, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(run)
}

// HandlePipelineStatus proxies a run status lookup.
func HandlePipelineStatus(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	runID := c.Params("id")
	if runID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Missing run id"})
	}

	client := pipeline.NewClientFromEnv()
	ctx, cancel := context.WithTimeout(c.UserContext(), 10*time.Second)
	defer cancel()

	run, err := client.Status(ctx, runID)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "pipeline_engine_error", "message": "Pipeline engine unavailable"})
	}
	return c.JSON(run)
}
