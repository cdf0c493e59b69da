package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/CostLensHQ/CostLens/app/models"
	"github.com/CostLensHQ/CostLens/app/repository"
	"github.com/CostLensHQ/CostLens/internal/pkg/usercontext"
)

type createOrgRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// HandleCreateOrganization creates a tenant; the creator becomes its owner.
// Slugs are immutable after creation.
func HandleCreateOrganization(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var req createOrgRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}

	org := models.Organization{
		Name:          strings.TrimSpace(req.Name),
		Slug:          strings.TrimSpace(req.Slug),
		PlanID:        "free",
		BillingStatus: models.BillingStatusFree,
	}
	if err := org.Validate(); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	repo := repository.GetGlobalFactory().GetOrganizationRepository()
	if err := repo.Create(&org, userCtx.UserID); err != nil {
		if strings.Contains(err.Error(), "Duplicate entry") {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "slug_taken", "message": "This organization slug is already in use"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to create organization"})
	}

	return c.Status(fiber.StatusCreated).JSON(org)
}

// HandleGetOrganization returns the org record including its billing mirror
// and derived limits. Members only.
func HandleGetOrganization(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	slug := c.Params("slug")
	if !models.IsValidOrgSlug(slug) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid organization slug"})
	}

	repo := repository.GetGlobalFactory().GetOrganizationRepository()
	org, err := repo.GetBySlug(slug)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Organization not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load organization"})
	}

	membership, err := repo.GetMembership(org.ID, userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Not a member of this organization"})
	}

	return c.JSON(fiber.Map{"organization": org, "role": membership.Role})
}

type inviteMemberRequest struct {
	UserID uint   `json:"user_id"`
	Role   string `json:"role"`
}

// HandleAddOrganizationMember adds an active member to the org. Owner only.
// The new member counts against the seat limit immediately.
func HandleAddOrganizationMember(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	slug := c.Params("slug")
	if !models.IsValidOrgSlug(slug) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid organization slug"})
	}

	var req inviteMemberRequest
	if err := c.BodyParser(&req); err != nil || req.UserID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	role := req.Role
	if role == "" {
		role = models.OrgRoleMember
	}

	repo := repository.GetGlobalFactory().GetOrganizationRepository()
	org, err := repo.GetBySlug(slug)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Organization not found"})
	}

	actor, err := repo.GetMembership(org.ID, userCtx.UserID)
	if err != nil || !actor.IsOwner() {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Only the organization owner can add members"})
	}

	activeMembers, err := repo.CountActiveMembers(org.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to count members"})
	}
	if activeMembers >= int64(org.SeatLimit) {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":   "seat_limit_reached",
			"message": "Seat limit reached for the current plan; upgrade to add more members",
		})
	}

	member := models.OrganizationMember{
		OrganizationID: org.ID,
		UserID:         req.UserID,
		Role:           role,
		Status:         models.MemberStatusActive,
	}
	if err := repo.AddMember(&member); err != nil {
		if strings.Contains(err.Error(), "Duplicate entry") {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "already_member", "message": "User is already a member"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to add member"})
	}

	return c.Status(fiber.StatusCreated).JSON(member)
}
