package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/charlesng35/storefront/internal/ingest"
	"github.com/charlesng35/storefront/internal/models"
	"github.com/charlesng35/storefront/internal/services"
	"github.com/charlesng35/storefront/internal/storage"
	apperrors "github.com/charlesng35/storefront/pkg/errors"
	"github.com/charlesng35/storefront/pkg/response"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	// uploadField is the only multipart field name accepted for file parts.
	uploadField = "file"
)

// ItemHandler exposes the catalog item endpoints. Multipart bodies are drained
// through the ingest pipeline so attachment bytes are limit-checked and spooled
// before any relational write happens.
type ItemHandler struct {
	svc      *services.CatalogService
	pipeline *ingest.Pipeline
}

func NewItemHandler(svc *services.CatalogService, pipeline *ingest.Pipeline) *ItemHandler {
	return &ItemHandler{svc: svc, pipeline: pipeline}
}

type categoryDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type attachmentDTO struct {
	ID          string `json:"id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	ByteSize    int64  `json:"byte_size"`
	Checksum    string `json:"checksum"`
	Position    int    `json:"position"`
	URL         string `json:"url"`
	CreatedAt   string `json:"created_at"`
}

type itemDTO struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	SKU         string          `json:"sku"`
	Price       decimal.Decimal `json:"price"`
	CategoryID  *string         `json:"category_id,omitempty"`
	Category    *categoryDTO    `json:"category,omitempty"`
	Disabled    bool            `json:"disabled"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Attachments []attachmentDTO `json:"attachments"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
}

func mapAttachment(itemID string, att *models.Attachment) attachmentDTO {
	return attachmentDTO{
		ID:          att.ID,
		FileName:    att.FileName,
		ContentType: att.ContentType,
		ByteSize:    att.ByteSize,
		Checksum:    att.Checksum,
		Position:    att.Position,
		URL:         fmt.Sprintf("/api/items/%s/attachments/%s", itemID, att.ID),
		CreatedAt:   att.CreatedAt.Format(time.RFC3339),
	}
}

func mapItem(item *models.CatalogItem) itemDTO {
	dto := itemDTO{
		ID:          item.ID,
		Name:        item.Name,
		Description: item.Description,
		SKU:         item.SKU,
		Price:       item.Price,
		CategoryID:  item.CategoryID,
		Disabled:    item.Disabled,
		Metadata:    json.RawMessage(item.Metadata),
		Attachments: make([]attachmentDTO, 0, len(item.Attachments)),
		CreatedAt:   item.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   item.UpdatedAt.Format(time.RFC3339),
	}
	if item.Category != nil {
		dto.Category = &categoryDTO{
			ID:   item.Category.ID,
			Name: item.Category.Name,
			Slug: item.Category.Slug,
		}
	}
	for i := range item.Attachments {
		dto.Attachments = append(dto.Attachments, mapAttachment(item.ID, &item.Attachments[i]))
	}
	return dto
}

// itemPayload is the create request body, shared by the JSON path and the
// multipart value-field path.
type itemPayload struct {
	Name        string          `json:"name" validate:"required,max=160"`
	Description string          `json:"description"`
	SKU         string          `json:"sku" validate:"required,sku,max=64"`
	Price       decimal.Decimal `json:"price" validate:"gte=0"`
	CategoryID  string          `json:"category_id" validate:"omitempty,max=64"`
	Disabled    bool            `json:"disabled"`
	Metadata    map[string]any  `json:"metadata"`
}

// itemPatch is the update request body. Nil pointers leave the field alone; a
// present empty category_id clears the category.
type itemPatch struct {
	Name              *string          `json:"name" validate:"omitempty,max=160"`
	Description       *string          `json:"description"`
	SKU               *string          `json:"sku" validate:"omitempty,sku,max=64"`
	Price             *decimal.Decimal `json:"price" validate:"omitempty,gte=0"`
	CategoryID        *string          `json:"category_id" validate:"omitempty,max=64"`
	Disabled          *bool            `json:"disabled"`
	Metadata          map[string]any   `json:"metadata"`
	RemoveAttachments []string         `json:"remove_attachments" validate:"omitempty,dive,uuid4"`
}

// List handles GET /api/items
func (h *ItemHandler) List(c *gin.Context) {
	if h == nil || h.svc == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	page := parseIntQuery(c, "page", 1)
	if page < 1 {
		page = 1
	}
	perPage := parseIntQuery(c, "per_page", defaultPageSize)
	if perPage < 1 {
		perPage = defaultPageSize
	}
	if perPage > maxPageSize {
		perPage = maxPageSize
	}

	opts := services.ListItemsOptions{
		Page:            page,
		PerPage:         perPage,
		CategoryID:      strings.TrimSpace(c.Query("category_id")),
		Search:          strings.TrimSpace(c.Query("search")),
		IncludeDisabled: strings.EqualFold(c.Query("include_disabled"), "true"),
	}

	items, total, err := h.svc.ListItems(requestContext(c), opts)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	dtos := make([]itemDTO, 0, len(items))
	for i := range items {
		dtos = append(dtos, mapItem(&items[i]))
	}

	response.SuccessWithMeta(c, http.StatusOK, dtos, response.NewMeta(page, perPage, total))
}

// Get handles GET /api/items/:id
func (h *ItemHandler) Get(c *gin.Context) {
	if h == nil || h.svc == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.Error(c, apperrors.NewBadRequest("item id is required"))
		return
	}

	item, err := h.svc.GetItem(requestContext(c), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response.Success(c, http.StatusOK, mapItem(item))
}

// Create handles POST /api/items
func (h *ItemHandler) Create(c *gin.Context) {
	if h == nil || h.svc == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	var payload itemPayload
	var uploads []*ingest.StagedFile

	if isMultipart(c) {
		form, ok := h.consumeMultipart(c)
		if !ok {
			return
		}
		defer form.Discard()

		if !decodeItemForm(c, form, &payload) {
			return
		}
		if !validatePayload(c, &payload) {
			return
		}
		uploads = form.Files
	} else if !bindAndValidate(c, &payload) {
		return
	}

	item, err := h.svc.CreateItem(requestContext(c), services.CreateItemInput{
		Name:        payload.Name,
		Description: payload.Description,
		SKU:         payload.SKU,
		Price:       payload.Price,
		CategoryID:  payload.CategoryID,
		Disabled:    payload.Disabled,
		Metadata:    payload.Metadata,
		Uploads:     uploads,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, mapItem(item))
}

// Update handles PUT /api/items/:id
func (h *ItemHandler) Update(c *gin.Context) {
	if h == nil || h.svc == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.Error(c, apperrors.NewBadRequest("item id is required"))
		return
	}

	var patch itemPatch
	var uploads []*ingest.StagedFile

	if isMultipart(c) {
		form, ok := h.consumeMultipart(c)
		if !ok {
			return
		}
		defer form.Discard()

		if !decodeItemPatchForm(c, form, &patch) {
			return
		}
		if !validatePayload(c, &patch) {
			return
		}
		uploads = form.Files
	} else if !bindAndValidate(c, &patch) {
		return
	}

	item, err := h.svc.UpdateItem(requestContext(c), id, services.UpdateItemInput{
		Name:              patch.Name,
		Description:       patch.Description,
		SKU:               patch.SKU,
		Price:             patch.Price,
		CategoryID:        patch.CategoryID,
		Disabled:          patch.Disabled,
		Metadata:          patch.Metadata,
		RemoveAttachments: patch.RemoveAttachments,
		Uploads:           uploads,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response.Success(c, http.StatusOK, mapItem(item))
}

// Delete handles DELETE /api/items/:id
func (h *ItemHandler) Delete(c *gin.Context) {
	if h == nil || h.svc == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.Error(c, apperrors.NewBadRequest("item id is required"))
		return
	}

	if err := h.svc.DeleteItem(requestContext(c), id); err != nil {
		respondServiceError(c, err)
		return
	}

	response.Message(c, http.StatusOK, "item deleted")
}

func isMultipart(c *gin.Context) bool {
	return c.ContentType() == "multipart/form-data"
}

// consumeMultipart drains the request body through the ingest pipeline. The
// auth middleware has already vetted the caller, so spooling bytes here is
// safe. On failure the pipeline has discarded its own spool files.
func (h *ItemHandler) consumeMultipart(c *gin.Context) (*ingest.Form, bool) {
	if h.pipeline == nil {
		response.Error(c, apperrors.ErrMalformedUpload)
		return nil, false
	}

	reader, err := c.Request.MultipartReader()
	if err != nil {
		response.Error(c, apperrors.ErrMalformedUpload.WithInternal(err))
		return nil, false
	}

	form, err := h.pipeline.Consume(requestContext(c), reader)
	if err != nil {
		response.Error(c, err)
		return nil, false
	}

	return form, true
}

var (
	createFormFields = map[string]struct{}{
		"name": {}, "description": {}, "sku": {}, "price": {},
		"category_id": {}, "disabled": {}, "metadata": {},
	}
	updateFormFields = map[string]struct{}{
		"name": {}, "description": {}, "sku": {}, "price": {},
		"category_id": {}, "disabled": {}, "metadata": {}, "remove_attachments": {},
	}
)

func checkFormFields(c *gin.Context, form *ingest.Form, allowed map[string]struct{}) bool {
	for key := range form.Values {
		if _, ok := allowed[key]; !ok {
			response.Error(c, apperrors.NewBadRequest(fmt.Sprintf("unknown form field %q", key)))
			return false
		}
	}
	for _, file := range form.Files {
		if file.FieldName != uploadField {
			response.Error(c, apperrors.NewBadRequest(fmt.Sprintf("unexpected file field %q, files go in %q", file.FieldName, uploadField)))
			return false
		}
	}
	return true
}

func decodeItemForm(c *gin.Context, form *ingest.Form, payload *itemPayload) bool {
	if !checkFormFields(c, form, createFormFields) {
		return false
	}

	payload.Name = strings.TrimSpace(form.Value("name"))
	payload.Description = form.Value("description")
	payload.SKU = strings.TrimSpace(form.Value("sku"))
	payload.CategoryID = strings.TrimSpace(form.Value("category_id"))

	if raw := form.Value("price"); raw != "" {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			response.Error(c, apperrors.NewBadRequest("price must be a decimal number"))
			return false
		}
		payload.Price = price
	}
	if raw := form.Value("disabled"); raw != "" {
		disabled, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, apperrors.NewBadRequest("disabled must be a boolean"))
			return false
		}
		payload.Disabled = disabled
	}
	if raw := form.Value("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload.Metadata); err != nil {
			response.Error(c, apperrors.NewBadRequest("metadata must be a JSON object"))
			return false
		}
	}

	return true
}

func decodeItemPatchForm(c *gin.Context, form *ingest.Form, patch *itemPatch) bool {
	if !checkFormFields(c, form, updateFormFields) {
		return false
	}

	if raw, ok := form.Values["name"]; ok {
		name := strings.TrimSpace(raw[0])
		patch.Name = &name
	}
	if raw, ok := form.Values["description"]; ok {
		patch.Description = &raw[0]
	}
	if raw, ok := form.Values["sku"]; ok {
		sku := strings.TrimSpace(raw[0])
		patch.SKU = &sku
	}
	if raw, ok := form.Values["category_id"]; ok {
		categoryID := strings.TrimSpace(raw[0])
		patch.CategoryID = &categoryID
	}
	if raw, ok := form.Values["price"]; ok {
		price, err := decimal.NewFromString(raw[0])
		if err != nil {
			response.Error(c, apperrors.NewBadRequest("price must be a decimal number"))
			return false
		}
		patch.Price = &price
	}
	if raw, ok := form.Values["disabled"]; ok {
		disabled, err := strconv.ParseBool(raw[0])
		if err != nil {
			response.Error(c, apperrors.NewBadRequest("disabled must be a boolean"))
			return false
		}
		patch.Disabled = &disabled
	}
	if raw := form.Value("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &patch.Metadata); err != nil {
			response.Error(c, apperrors.NewBadRequest("metadata must be a JSON object"))
			return false
		}
	}
	// remove_attachments repeats once per id.
	patch.RemoveAttachments = append(patch.RemoveAttachments, form.Values["remove_attachments"]...)

	return true
}

// respondServiceError translates catalog service sentinels into API errors.
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrItemNotFound):
		response.Error(c, apperrors.NewNotFound("item"))
	case errors.Is(err, services.ErrAttachmentNotFound):
		response.Error(c, apperrors.NewNotFound("attachment"))
	case errors.Is(err, services.ErrCategoryNotFound):
		response.Error(c, apperrors.NewBadRequest("category does not exist"))
	case errors.Is(err, services.ErrSKUConflict):
		response.Error(c, apperrors.ErrConflict.WithMessage("SKU is already in use"))
	case errors.Is(err, services.ErrNameRequired):
		response.Error(c, apperrors.NewBadRequest("name is required"))
	case errors.Is(err, services.ErrSKURequired):
		response.Error(c, apperrors.NewBadRequest("sku is required"))
	case errors.Is(err, services.ErrNegativePrice):
		response.Error(c, apperrors.NewBadRequest("price must not be negative"))
	case storage.IsTransient(err):
		response.Error(c, apperrors.ErrStorageUnavailable)
	default:
		response.Error(c, err)
	}
}
