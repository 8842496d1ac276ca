package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/guild-tickets/internal/api/dto"
	"github.com/spec-kit/guild-tickets/internal/auth"
	"github.com/spec-kit/guild-tickets/internal/service"
	apperrors "github.com/spec-kit/guild-tickets/pkg/util/errorutil"
	"github.com/spec-kit/guild-tickets/pkg/util/validation"
)

// CategoriesHandler exposes the category registry to guild administrators.
type CategoriesHandler struct {
	categories *service.CategoryService
}

// NewCategoriesHandler constructs handler.
func NewCategoriesHandler(categories *service.CategoryService) *CategoriesHandler {
	return &CategoriesHandler{categories: categories}
}

// ListCategories GET /v1/guilds/:guildId/categories.
func (h *CategoriesHandler) ListCategories(c *fiber.Ctx) error {
	list, err := h.categories.ListByGuild(c.UserContext(), c.Params("guildId"))
	if err != nil {
		return err
	}
	items := make([]dto.CategoryResponse, 0, len(list))
	for i := range list {
		items = append(items, dto.NewCategoryResponse(&list[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// CreateCategory POST /v1/guilds/:guildId/categories.
func (h *CategoriesHandler) CreateCategory(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var input service.CategoryInput
	if err := c.BodyParser(&input); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	category, err := h.categories.Create(c.UserContext(), actor, c.Params("guildId"), input)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewCategoryResponse(category)})
}

// GetCategory GET /v1/categories/:id.
func (h *CategoriesHandler) GetCategory(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	category, err := h.categories.Get(c.UserContext(), c.Params("id"), false)
	if err != nil {
		return err
	}
	if category.GuildID != actor.GuildID {
		return apperrors.NewNotFound("category", map[string]any{"category_id": c.Params("id")})
	}
	return c.JSON(fiber.Map{"data": dto.NewCategoryResponse(category)})
}

// UpdateCategory PATCH /v1/categories/:id.
func (h *CategoriesHandler) UpdateCategory(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.CategoryPatchRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	category, err := h.categories.Update(c.UserContext(), actor, c.Params("id"), service.CategoryPatch{
		Name:            req.Name,
		Description:     req.Description,
		Emoji:           req.Emoji,
		ChannelName:     req.ChannelName,
		ParentChannelID: req.ParentChannelID,
		LogChannelID:    req.LogChannelID,
		ClearLogChannel: req.ClearLogChannel,
		OpeningMessage:  req.OpeningMessage,
		MemberLimit:     req.MemberLimit,
		TotalLimit:      req.TotalLimit,
		CooldownSeconds: req.CooldownSeconds,
		RequiredRoleIDs: req.RequiredRoleIDs,
		StaffRoleIDs:    req.StaffRoleIDs,
		ClaimingEnabled: req.ClaimingEnabled,
		RequireTopic:    req.RequireTopic,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewCategoryResponse(category)})
}

// DeleteCategory DELETE /v1/categories/:id.
func (h *CategoriesHandler) DeleteCategory(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	if err := h.categories.Delete(c.UserContext(), actor, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// AddQuestion POST /v1/categories/:id/questions.
func (h *CategoriesHandler) AddQuestion(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var input service.QuestionInput
	if err := c.BodyParser(&input); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	question, err := h.categories.AddQuestion(c.UserContext(), actor, c.Params("id"), input)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewQuestionResponse(question)})
}

// UpdateQuestion PATCH /v1/categories/:id/questions/:questionId.
func (h *CategoriesHandler) UpdateQuestion(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.QuestionPatchRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	question, err := h.categories.UpdateQuestion(c.UserContext(), actor, c.Params("id"), c.Params("questionId"), service.QuestionPatch{
		Label:       req.Label,
		Placeholder: req.Placeholder,
		Required:    req.Required,
		Style:       req.Style,
		MinLength:   req.MinLength,
		MaxLength:   req.MaxLength,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewQuestionResponse(question)})
}

// DeleteQuestion DELETE /v1/categories/:id/questions/:questionId.
func (h *CategoriesHandler) DeleteQuestion(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	if err := h.categories.DeleteQuestion(c.UserContext(), actor, c.Params("id"), c.Params("questionId")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// ReorderQuestions PUT /v1/categories/:id/questions/order.
func (h *CategoriesHandler) ReorderQuestions(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.ReorderQuestionsRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := validation.Struct(req); err != nil {
		return err
	}
	questions, err := h.categories.ReorderQuestions(c.UserContext(), actor, c.Params("id"), req.QuestionIDs)
	if err != nil {
		return err
	}
	items := make([]dto.QuestionResponse, 0, len(questions))
	for i := range questions {
		items = append(items, dto.NewQuestionResponse(&questions[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}
