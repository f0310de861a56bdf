package api

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"fieldconfig-backend/internal/fieldconfig"
	"fieldconfig-backend/internal/session"
	"fieldconfig-backend/internal/storage"
	"fieldconfig-backend/internal/template"
)

// PortalHandler exposes editing-session operations over HTTP.
type PortalHandler struct {
	sessions    *session.Manager
	archive     storage.Archive
	maxFileSize int64
	log         *zap.Logger
}

func NewPortalHandler(m *session.Manager, archive storage.Archive, maxFileSize int64, log *zap.Logger) *PortalHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PortalHandler{sessions: m, archive: archive, maxFileSize: maxFileSize, log: log}
}

func RegisterPortalRoutes(app *fiber.App, h *PortalHandler) {
	portal := app.Group("/api/portal")
	portal.Post("/sessions", h.CreateSession)

	p := portal.Group("", SessionMiddleware(h.sessions))
	p.Delete("/sessions/current", h.CloseSession)

	p.Get("/config", h.ListFields)
	p.Get("/fields/:key", h.GetField)
	p.Patch("/fields/:key", h.UpdateField)
	p.Post("/fields/:key/toggle", h.ToggleField)
	p.Post("/fields/:key/slots", h.AddSlot)
	p.Put("/fields/:key/slots/:index", h.SetSlot)
	p.Delete("/fields/:key/slots/:index", h.RemoveSlot)

	p.Get("/templates", h.ListTemplates)
	p.Get("/templates/export", h.ExportTemplate)
	p.Post("/templates/upload", h.UploadTemplate)
	p.Post("/templates/:index/select", h.SelectTemplate)

	p.Post("/save", h.Save)
	p.Post("/sync", h.Sync)
	p.Post("/reload", h.Reload)
	p.Get("/schema", h.SchemaInfo)
	p.Post("/schema/normalize", h.NormalizeSchema)

	p.Get("/form", h.Form)
	p.Get("/groups", h.Groups)
	p.Post("/groups/expand-all", h.ExpandAll)
	p.Post("/groups/collapse-all", h.CollapseAll)
	p.Post("/groups/:name/toggle", h.ToggleGroup)

	p.Get("/notifications", h.Notifications)
	p.Delete("/notifications/:id", h.DismissNotification)
	p.Get("/changes", h.Changes)
}

// --- sessions ---

func (h *PortalHandler) CreateSession(c *fiber.Ctx) error {
	s, token, err := h.sessions.Create(c.UserContext())
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": fiber.Map{
		"id":            s.ID,
		"token":         token,
		"fields":        s.Fields(""),
		"templates":     s.Templates(),
		"notifications": s.Notices().Active(),
	}})
}

func (h *PortalHandler) CloseSession(c *fiber.Ctx) error {
	s := GetSession(c)
	h.sessions.Close(s.ID)
	return c.SendStatus(fiber.StatusNoContent)
}

// --- fields ---

func (h *PortalHandler) ListFields(c *fiber.Ctx) error {
	s := GetSession(c)
	return c.JSON(fiber.Map{"data": s.Fields(c.Query("q")), "dirty": s.Dirty()})
}

func (h *PortalHandler) GetField(c *fiber.Ctx) error {
	d, ok := GetSession(c).Field(c.Params("key"))
	if !ok {
		return NotFound("field", c.Params("key"))
	}
	return c.JSON(fiber.Map{"data": d})
}

type fieldUpdateRequest struct {
	Attr  string `json:"attr"`
	Value any    `json:"value"`
}

func (r fieldUpdateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Attr, validation.Required, validation.In(
			string(fieldconfig.AttrLabel),
			string(fieldconfig.AttrDefaultValue),
			string(fieldconfig.AttrSection),
			string(fieldconfig.AttrDisplay),
			string(fieldconfig.AttrMandatory),
		)),
	)
}

func (h *PortalHandler) UpdateField(c *fiber.Ctx) error {
	var req fieldUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return InvalidPayload("Invalid JSON body")
	}
	if err := req.Validate(); err != nil {
		return ValidationFailed(err)
	}
	s := GetSession(c)
	key := c.Params("key")
	if _, ok := s.Field(key); !ok {
		return NotFound("field", key)
	}
	changed := s.UpdateField(key, fieldconfig.Attr(req.Attr), req.Value)
	return h.fieldResult(c, s, key, changed)
}

type toggleRequest struct {
	Attr string `json:"attr"`
}

func (h *PortalHandler) ToggleField(c *fiber.Ctx) error {
	var req toggleRequest
	if err := c.BodyParser(&req); err != nil {
		return InvalidPayload("Invalid JSON body")
	}
	err := validation.Validate(req.Attr, validation.Required,
		validation.In(string(fieldconfig.AttrDisplay), string(fieldconfig.AttrMandatory)))
	if err != nil {
		return ValidationFailed(validation.Errors{"attr": err})
	}
	s := GetSession(c)
	key := c.Params("key")
	if _, ok := s.Field(key); !ok {
		return NotFound("field", key)
	}
	changed := s.ToggleField(key, fieldconfig.Attr(req.Attr))
	return h.fieldResult(c, s, key, changed)
}

func (h *PortalHandler) AddSlot(c *fiber.Ctx) error {
	s := GetSession(c)
	key := c.Params("key")
	if _, ok := s.Field(key); !ok {
		return NotFound("field", key)
	}
	return h.fieldResult(c, s, key, s.AddSlot(key))
}

type slotRequest struct {
	Value string `json:"value"`
}

func (h *PortalHandler) SetSlot(c *fiber.Ctx) error {
	idx, err := strconv.Atoi(c.Params("index"))
	if err != nil {
		return InvalidPayload("Slot index must be a number")
	}
	var req slotRequest
	if err := c.BodyParser(&req); err != nil {
		return InvalidPayload("Invalid JSON body")
	}
	s := GetSession(c)
	key := c.Params("key")
	if _, ok := s.Field(key); !ok {
		return NotFound("field", key)
	}
	return h.fieldResult(c, s, key, s.SetSlot(key, idx, req.Value))
}

func (h *PortalHandler) RemoveSlot(c *fiber.Ctx) error {
	idx, err := strconv.Atoi(c.Params("index"))
	if err != nil {
		return InvalidPayload("Slot index must be a number")
	}
	s := GetSession(c)
	key := c.Params("key")
	if _, ok := s.Field(key); !ok {
		return NotFound("field", key)
	}
	return h.fieldResult(c, s, key, s.RemoveSlot(key, idx))
}

func (h *PortalHandler) fieldResult(c *fiber.Ctx, s *session.Session, key string, changed bool) error {
	d, _ := s.Field(key)
	return c.JSON(fiber.Map{"data": d, "changed": changed, "dirty": s.Dirty()})
}

// --- templates ---

func (h *PortalHandler) ListTemplates(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": GetSession(c).Templates()})
}

func (h *PortalHandler) SelectTemplate(c *fiber.Ctx) error {
	idx, err := strconv.Atoi(c.Params("index"))
	if err != nil {
		return InvalidPayload("Template index must be a number")
	}
	s := GetSession(c)
	if err := s.SelectTemplate(idx); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": s.Fields(""), "templates": s.Templates()})
}

// UploadTemplate accepts a multipart "file" field or a raw JSON body named
// by the "name" query parameter.
func (h *PortalHandler) UploadTemplate(c *fiber.Ctx) error {
	s := GetSession(c)

	name := c.Query("name")
	var raw []byte
	if fh, err := c.FormFile("file"); err == nil {
		if h.maxFileSize > 0 && fh.Size > h.maxFileSize {
			return NewAppError("FILE_TOO_LARGE", fiber.StatusRequestEntityTooLarge,
				fmt.Sprintf("File too large: %d bytes (max %d)", fh.Size, h.maxFileSize))
		}
		src, err := fh.Open()
		if err != nil {
			return fmt.Errorf("open uploaded file: %w", err)
		}
		defer src.Close()
		if raw, err = io.ReadAll(src); err != nil {
			return fmt.Errorf("read uploaded file: %w", err)
		}
		if name == "" {
			name = fh.Filename
		}
	} else {
		raw = c.Body()
		if h.maxFileSize > 0 && int64(len(raw)) > h.maxFileSize {
			return NewAppError("FILE_TOO_LARGE", fiber.StatusRequestEntityTooLarge, "Upload too large")
		}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return InvalidPayload("Missing template file")
	}
	if name == "" {
		name = "Uploaded template"
	}

	origin := template.LocalUpload{FileName: name, UploadedAt: time.Now()}
	if h.archive != nil {
		key, err := h.archive.Save(c.UserContext(), s.ID, uuid.NewString(), name, bytes.NewReader(raw))
		if err != nil {
			h.log.Warn("archive upload", zap.String("session", s.ID), zap.Error(err))
		} else {
			origin.ArchiveKey = key
		}
	}

	idx, err := s.UploadTemplate(name, bytes.NewReader(raw), origin)
	if err != nil {
		if origin.ArchiveKey != "" {
			_ = h.archive.Delete(c.UserContext(), origin.ArchiveKey)
		}
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"data":      s.Fields(""),
		"index":     idx,
		"templates": s.Templates(),
	})
}

func (h *PortalHandler) ExportTemplate(c *fiber.Ctx) error {
	f := template.Format(strings.ToLower(c.Query("format", string(template.FormatJSON))))
	if err := f.Validate(); err != nil {
		return ValidationFailed(validation.Errors{"format": err})
	}
	var buf bytes.Buffer
	if err := GetSession(c).Export(&buf, f); err != nil {
		return fmt.Errorf("export template: %w", err)
	}
	c.Set(fiber.HeaderContentType, f.ContentType())
	c.Attachment(template.ExportFilename(f, time.Now()))
	return c.Send(buf.Bytes())
}

// --- remote operations ---

func (h *PortalHandler) Save(c *fiber.Ctx) error {
	s := GetSession(c)
	msg, err := s.Save(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": msg, "data": s.Fields("")})
}

func (h *PortalHandler) Sync(c *fiber.Ctx) error {
	s := GetSession(c)
	msg, err := s.Sync(c.UserContext(), c.QueryBool("force"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": msg, "data": s.Fields("")})
}

func (h *PortalHandler) Reload(c *fiber.Ctx) error {
	s := GetSession(c)
	if err := s.Reload(c.UserContext(), c.QueryBool("force")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": s.Fields("")})
}

func (h *PortalHandler) SchemaInfo(c *fiber.Ctx) error {
	res, ok := GetSession(c).SchemaInfo()
	if !ok {
		return NotFound("schema", "no schema document loaded")
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"kind":   res.Kind.String(),
		"schema": res.Schema,
		"fields": res.Fields,
	}})
}

func (h *PortalHandler) NormalizeSchema(c *fiber.Ctx) error {
	s := GetSession(c)
	idx, res, err := s.NormalizeSchema(c.UserContext())
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"data":      res.Fields,
		"index":     idx,
		"kind":      res.Kind.String(),
		"schema":    res.Schema,
		"templates": s.Templates(),
	})
}

// --- views ---

func (h *PortalHandler) Form(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": GetSession(c).Form()})
}

func (h *PortalHandler) Groups(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": GetSession(c).Groups()})
}

func (h *PortalHandler) ToggleGroup(c *fiber.Ctx) error {
	expanded := GetSession(c).ToggleGroup(c.Params("name"))
	return c.JSON(fiber.Map{"data": fiber.Map{"name": c.Params("name"), "expanded": expanded}})
}

func (h *PortalHandler) ExpandAll(c *fiber.Ctx) error {
	s := GetSession(c)
	s.SetAllGroups(true)
	return c.JSON(fiber.Map{"data": s.Groups()})
}

func (h *PortalHandler) CollapseAll(c *fiber.Ctx) error {
	s := GetSession(c)
	s.SetAllGroups(false)
	return c.JSON(fiber.Map{"data": s.Groups()})
}

func (h *PortalHandler) Notifications(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": GetSession(c).Notices().Active()})
}

func (h *PortalHandler) DismissNotification(c *fiber.Ctx) error {
	if !GetSession(c).Notices().Dismiss(c.Params("id")) {
		return NotFound("notification", c.Params("id"))
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *PortalHandler) Changes(c *fiber.Ctx) error {
	s := GetSession(c)
	changes := s.PendingChanges()
	if changes == nil {
		changes = []fieldconfig.Change{}
	}
	return c.JSON(fiber.Map{"data": changes, "dirty": s.Dirty()})
}
