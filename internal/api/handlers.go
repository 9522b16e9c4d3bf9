package api

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/bilgisen/contentgen/internal/auth"
	"github.com/bilgisen/contentgen/internal/content"
	"github.com/bilgisen/contentgen/internal/middleware"
	"github.com/bilgisen/contentgen/internal/models"
	"github.com/bilgisen/contentgen/internal/queue"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// QueueInspector exposes queue state to the admin endpoints.
type QueueInspector interface {
	Stats(ctx context.Context, name string) (queue.Stats, error)
	Failed(ctx context.Context, name string, limit int) ([]queue.Job, error)
}

// CacheClearer drops the processed-job markers.
type CacheClearer interface {
	Clear(ctx context.Context) (int, error)
}

// Deps are the services the handlers delegate to.
type Deps struct {
	Content *content.Service
	Auth    *auth.Service
	Queues  QueueInspector
	Dedupe  CacheClearer
	Log     zerolog.Logger
}

type Handlers struct {
	content  *content.Service
	auth     *auth.Service
	queues   QueueInspector
	dedupe   CacheClearer
	markdown goldmark.Markdown
	log      zerolog.Logger
}

func NewHandlers(deps Deps) *Handlers {
	return &Handlers{
		content:  deps.Content,
		auth:     deps.Auth,
		queues:   deps.Queues,
		dedupe:   deps.Dedupe,
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
		log:      deps.Log.With().Str("component", "api").Logger(),
	}
}

type registerRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type generateRequest struct {
	Title  string `json:"title" validate:"max=200"`
	Prompt string `json:"prompt" validate:"required,max=5000"`
	Type   string `json:"type" validate:"required"`
}

type updateRequest struct {
	Title *string `json:"title" validate:"omitempty,min=1,max=200"`
	Body  *string `json:"body"`
	Type  *string `json:"type"`
}

type listQuery struct {
	Search string `query:"search" validate:"max=200"`
}

type commentRequest struct {
	Name string `json:"name" validate:"max=100"`
	Body string `json:"body" validate:"required,max=2000"`
}

type adminQuery struct {
	Failed int `query:"failed" validate:"min=0,max=100"`
}

type authResponse struct {
	AccessToken string       `json:"access_token"`
	User        *models.User `json:"user"`
}

type contentResponse struct {
	*models.Content
	HTML string `json:"html"`
}

// HealthCheck handles the /health endpoint
func (h *Handlers) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"version": Version,
		"time":    time.Now().Format(time.RFC3339),
	})
}

// Register handles POST /api/v1/auth/register
func (h *Handlers) Register(c *fiber.Ctx) error {
	req := middleware.Validated[registerRequest](c)

	user, token, err := h.auth.Register(c.UserContext(), req.Name, req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(authResponse{AccessToken: token, User: user})
}

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(c *fiber.Ctx) error {
	req := middleware.Validated[loginRequest](c)

	user, token, err := h.auth.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(authResponse{AccessToken: token, User: user})
}

// GenerateContent handles POST /api/v1/content/generate
func (h *Handlers) GenerateContent(c *fiber.Ctx) error {
	req := middleware.Validated[generateRequest](c)

	result, err := h.content.Generate(c.UserContext(), middleware.UserID(c), content.GenerateInput{
		Title:  req.Title,
		Prompt: req.Prompt,
		Type:   models.ContentType(req.Type),
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message":       "Content generation scheduled",
		"jobId":         result.JobID,
		"contentId":     result.Content.ID.Hex(),
		"expectedDelay": fmt.Sprintf("%d seconds", int(result.Delay.Seconds())),
	})
}

// ListContent handles GET /api/v1/content
func (h *Handlers) ListContent(c *fiber.Ctx) error {
	query := middleware.QueryParams[listQuery](c)

	items, err := h.content.List(c.UserContext(), middleware.UserID(c), query.Search)
	if err != nil {
		return err
	}
	return c.JSON(items)
}

// GetContent handles GET /api/v1/content/:id
func (h *Handlers) GetContent(c *fiber.Ctx) error {
	item, err := h.content.Get(c.UserContext(), c.Params("id"), middleware.UserID(c))
	if err != nil {
		return err
	}
	return c.JSON(h.render(item))
}

// UpdateContent handles PATCH /api/v1/content/:id
func (h *Handlers) UpdateContent(c *fiber.Ctx) error {
	req := middleware.Validated[updateRequest](c)

	update := models.ContentUpdate{Title: req.Title, Body: req.Body}
	if req.Type != nil {
		t := models.ContentType(*req.Type)
		update.Type = &t
	}

	item, err := h.content.Update(c.UserContext(), c.Params("id"), middleware.UserID(c), update)
	if err != nil {
		return err
	}
	return c.JSON(h.render(item))
}

// DeleteContent handles DELETE /api/v1/content/:id
func (h *Handlers) DeleteContent(c *fiber.Ctx) error {
	if err := h.content.Delete(c.UserContext(), c.Params("id"), middleware.UserID(c)); err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"status":  "deleted",
		"message": "Content deleted successfully",
	})
}

// GetPublicContent handles GET /api/v1/public/content/:id
func (h *Handlers) GetPublicContent(c *fiber.Ctx) error {
	item, err := h.content.GetPublished(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(h.render(item))
}

// AddComment handles POST /api/v1/public/content/:id/comments
func (h *Handlers) AddComment(c *fiber.Ctx) error {
	req := middleware.Validated[commentRequest](c)

	comment, err := h.content.AddComment(c.UserContext(), c.Params("id"), req.Name, req.Body)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(comment)
}

// QueueStats handles GET /api/v1/admin/queues
func (h *Handlers) QueueStats(c *fiber.Ctx) error {
	query := middleware.QueryParams[adminQuery](c)

	type queueReport struct {
		queue.Stats
		FailedJobs []queue.Job `json:"failedJobs,omitempty"`
	}

	reports := make([]queueReport, 0, 2)
	for _, name := range []string{models.QueueContentGeneration, models.QueueCommentAnalysis} {
		stats, err := h.queues.Stats(c.UserContext(), name)
		if err != nil {
			return err
		}
		report := queueReport{Stats: stats}
		if query.Failed > 0 {
			if report.FailedJobs, err = h.queues.Failed(c.UserContext(), name, query.Failed); err != nil {
				return err
			}
		}
		reports = append(reports, report)
	}

	return c.JSON(fiber.Map{"queues": reports})
}

// ClearDedupe handles DELETE /api/v1/admin/dedupe
func (h *Handlers) ClearDedupe(c *fiber.Ctx) error {
	n, err := h.dedupe.Clear(c.UserContext())
	if err != nil {
		return err
	}
	h.log.Info().Int("cleared", n).Str("ip", c.IP()).Msg("processed-job markers cleared")
	return c.JSON(fiber.Map{"cleared": n})
}

func (h *Handlers) render(item *models.Content) contentResponse {
	var buf bytes.Buffer
	if err := h.markdown.Convert([]byte(item.Body), &buf); err != nil {
		h.log.Warn().Err(err).Str("content_id", item.ID.Hex()).Msg("markdown rendering failed")
		return contentResponse{Content: item}
	}
	return contentResponse{Content: item, HTML: buf.String()}
}
