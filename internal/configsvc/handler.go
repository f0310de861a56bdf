package configsvc

import (
	"bytes"
	"errors"

	"github.com/gofiber/fiber/v2"

	"fieldconfig-backend/internal/api"
	"fieldconfig-backend/internal/instrument"
	"fieldconfig-backend/internal/template"
)

// Handler serves the canonical configuration REST surface that portal
// sessions talk to through the gateway.
type Handler struct {
	svc     *Service
	history *instrument.HistoryHandler
}

func NewHandler(svc *Service, history *instrument.HistoryHandler) *Handler {
	return &Handler{svc: svc, history: history}
}

func RegisterRoutes(app *fiber.App, h *Handler) {
	items := app.Group("/api/items")

	items.Get("/config", h.GetConfig)
	items.Post("/config", h.SaveConfig)
	items.Post("/upload-template-json", h.SaveConfig)
	items.Post("/sync-fields", h.SyncFields)
	items.Get("/metadata", h.Metadata)
	if h.history != nil {
		items.Get("/config/history", h.history.List)
	}
}

// GetConfig returns the bare descriptor array in insertion order.
func (h *Handler) GetConfig(c *fiber.Ctx) error {
	seq, err := h.svc.Config(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(seq)
}

func (h *Handler) SaveConfig(c *fiber.Ctx) error {
	seq, err := template.DecodeUpload(bytes.NewReader(c.Body()))
	if err != nil {
		return api.NewAppError("INVALID_PAYLOAD", fiber.StatusBadRequest, "Data must be a list of field configurations: "+err.Error())
	}
	source := "api"
	if c.Path() == "/api/items/upload-template-json" {
		source = "upload"
	}
	msg, err := h.svc.Save(c.UserContext(), seq, source)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": msg})
}

func (h *Handler) SyncFields(c *fiber.Ctx) error {
	_, msg, err := h.svc.Sync(c.UserContext())
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"message": msg})
}

// Metadata passes the upstream document through byte for byte.
func (h *Handler) Metadata(c *fiber.Ctx) error {
	raw, err := h.svc.RawMetadata(c.UserContext())
	if err != nil {
		return mapError(err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(raw)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrNoSource):
		return api.NewAppError("NO_UPSTREAM", fiber.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ErrNoUpstreamFields):
		return api.NewAppError("NOT_FOUND", fiber.StatusNotFound, "No fields found in upstream metadata")
	case errors.Is(err, ErrUpstream):
		return api.NewAppError("UPSTREAM_ERROR", fiber.StatusBadGateway, "Sync failed: "+err.Error())
	}
	return err
}
