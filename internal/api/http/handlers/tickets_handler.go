package handlers

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/guild-tickets/internal/api/dto"
	"github.com/spec-kit/guild-tickets/internal/auth"
	"github.com/spec-kit/guild-tickets/internal/service"
	apperrors "github.com/spec-kit/guild-tickets/pkg/util/errorutil"
	"github.com/spec-kit/guild-tickets/pkg/util/validation"
)

// TicketsHandler exposes the ticket lifecycle.
type TicketsHandler struct {
	tickets  *service.TicketService
	archives *service.ArchiveService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(tickets *service.TicketService, archives *service.ArchiveService) *TicketsHandler {
	return &TicketsHandler{tickets: tickets, archives: archives}
}

// CreateTicket POST /v1/tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := validation.Struct(req); err != nil {
		return err
	}

	ticket, err := h.tickets.Create(c.UserContext(), service.CreateTicketInput{
		CategoryID: req.CategoryID,
		Actor:      actor,
		Topic:      req.Topic,
		Answers:    req.AnswerMap(),
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// GetTicket GET /v1/tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	ticket, err := h.tickets.Get(c.UserContext(), c.Params("id"), actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// GetTicketByChannel GET /v1/channels/:channelId/ticket.
func (h *TicketsHandler) GetTicketByChannel(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	ticket, err := h.tickets.GetByChannel(c.UserContext(), c.Params("channelId"), actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// ListTickets GET /v1/guilds/:guildId/tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	filter, err := parseTicketQuery(c)
	if err != nil {
		return err
	}
	tickets, err := h.tickets.List(c.UserContext(), actor, filter)
	if err != nil {
		return err
	}
	items := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, dto.NewTicketResponse(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// ListAnswers GET /v1/tickets/:id/answers.
func (h *TicketsHandler) ListAnswers(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	answers, err := h.tickets.Answers(c.UserContext(), c.Params("id"), actor)
	if err != nil {
		return err
	}
	items := make([]dto.AnswerResponse, 0, len(answers))
	for _, a := range answers {
		items = append(items, dto.AnswerResponse{QuestionID: a.QuestionID, UserID: a.UserID, Value: a.Value})
	}
	return c.JSON(fiber.Map{"data": items})
}

// ClaimTicket POST /v1/tickets/:id/claim.
func (h *TicketsHandler) ClaimTicket(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	ticket, err := h.tickets.Claim(c.UserContext(), c.Params("id"), actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// UnclaimTicket POST /v1/tickets/:id/unclaim.
func (h *TicketsHandler) UnclaimTicket(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	ticket, err := h.tickets.Unclaim(c.UserContext(), c.Params("id"), actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// CloseTicket POST /v1/tickets/:id/close.
func (h *TicketsHandler) CloseTicket(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.CloseTicketRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	if err := validation.Struct(req); err != nil {
		return err
	}
	ticket, err := h.tickets.Close(c.UserContext(), c.Params("id"), actor, req.Reason)
	if err != nil {
		return err
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// DeleteTicket DELETE /v1/tickets/:id.
func (h *TicketsHandler) DeleteTicket(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	if err := h.tickets.Delete(c.UserContext(), c.Params("id"), actor); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// GetTranscript GET /v1/tickets/:id/transcript.
func (h *TicketsHandler) GetTranscript(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	ticket, err := h.tickets.Get(c.UserContext(), c.Params("id"), actor)
	if err != nil {
		return err
	}
	doc, err := h.archives.GenerateTranscript(c.UserContext(), ticket.ID)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, doc.ContentType)
	c.Set(fiber.HeaderContentDisposition, `inline; filename="`+doc.Filename+`"`)
	return c.Send(doc.Body)
}

// GetArchiveState GET /v1/tickets/:id/archive.
func (h *TicketsHandler) GetArchiveState(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	ticket, err := h.tickets.Get(c.UserContext(), c.Params("id"), actor)
	if err != nil {
		return err
	}
	state, err := h.archives.State(c.UserContext(), ticket.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ArchiveStateResponse{
		Status:      state.Status,
		Attempts:    state.Attempts,
		LastError:   state.LastError,
		UpdatedAt:   state.UpdatedAt,
		CompletedAt: state.CompletedAt,
	}})
}

func parseTicketQuery(c *fiber.Ctx) (service.TicketListFilter, error) {
	filter := service.TicketListFilter{}
	if category := c.Query("category_id"); category != "" {
		filter.CategoryID = &category
	}
	if open := c.Query("open"); open != "" {
		parsed, err := strconv.ParseBool(open)
		if err != nil {
			return filter, apperrors.NewValidationError("open must be a boolean", map[string]any{"open": open})
		}
		filter.Open = &parsed
	}
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	if pageSize > 100 {
		pageSize = 100
	}
	filter.Offset = (page - 1) * pageSize
	filter.Limit = pageSize
	return filter, nil
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
