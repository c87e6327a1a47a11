package handlers

import (
	"fmt"
	"io"

	"github.com/amirphl/event-rsvp-engine/app/dto"
	businessflow "github.com/amirphl/event-rsvp-engine/business_flow"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
)

const maxImportBytes = 10 << 20

// ContactHandlerInterface defines the contract for group and contact handlers
type ContactHandlerInterface interface {
	CreateGroup(c fiber.Ctx) error
	ListGroups(c fiber.Ctx) error
	ListContacts(c fiber.Ctx) error
	ImportContacts(c fiber.Ctx) error
	DeleteGroupContacts(c fiber.Ctx) error
	ExportItineraries(c fiber.Ctx) error
}

// ContactHandler handles contact groups, imports and itinerary exports
type ContactHandler struct {
	baseHandler
	contactFlow businessflow.ContactFlow
}

// NewContactHandler creates a new contact handler
func NewContactHandler(contactFlow businessflow.ContactFlow, log zerolog.Logger) *ContactHandler {
	return &ContactHandler{
		baseHandler: newBaseHandler(log, "contact_handler"),
		contactFlow: contactFlow,
	}
}

// CreateGroup creates a contact group
// @Summary Create Group
// @Tags Contacts
// @Accept json
// @Produce json
// @Param request body dto.CreateGroupRequest true "Group data"
// @Success 201 {object} dto.APIResponse{data=dto.CreateGroupResponse}
// @Router /api/v1/groups [post]
func (h *ContactHandler) CreateGroup(c fiber.Ctx) error {
	var req dto.CreateGroupRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}
	req.OperatorID, _ = operatorID(c)

	ctx, cancel := createRequestContext(c, "/api/v1/groups")
	defer cancel()

	result, err := h.contactFlow.CreateGroup(ctx, &req, clientMetadata(c))
	if err != nil {
		return h.flowError(c, err, "Failed to create group", "CREATE_GROUP_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Group created successfully", result)
}

// ListGroups lists every group with its contact count
// @Summary List Groups
// @Tags Contacts
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.ListGroupsResponse}
// @Router /api/v1/groups [get]
func (h *ContactHandler) ListGroups(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(c, "/api/v1/groups")
	defer cancel()

	result, err := h.contactFlow.ListGroups(ctx)
	if err != nil {
		return h.flowError(c, err, "Failed to list groups", "LIST_GROUPS_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Groups retrieved successfully", result)
}

// ListContacts pages through a group's contacts
// @Summary List Contacts
// @Tags Contacts
// @Produce json
// @Param id path int true "Group ID"
// @Success 200 {object} dto.APIResponse{data=dto.ListContactsResponse}
// @Router /api/v1/groups/{id}/contacts [get]
func (h *ContactHandler) ListContacts(c fiber.Ctx) error {
	groupID, ok := pathID(c, "id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid group id", "INVALID_GROUP_ID", nil)
	}
	page, limit := pageParams(c)

	ctx, cancel := createRequestContext(c, "/api/v1/groups/{id}/contacts")
	defer cancel()

	result, err := h.contactFlow.ListContacts(ctx, &dto.ListContactsRequest{
		GroupID: groupID,
		Page:    page,
		Limit:   limit,
	})
	if err != nil {
		return h.flowError(c, err, "Failed to list contacts", "LIST_CONTACTS_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Contacts retrieved successfully", result)
}

// ImportContacts loads contacts from an uploaded CSV or XLSX sheet
// @Summary Import Contacts
// @Tags Contacts
// @Accept multipart/form-data
// @Produce json
// @Param id path int true "Group ID"
// @Param file formData file true "CSV or XLSX sheet"
// @Success 200 {object} dto.APIResponse{data=dto.ImportContactsResponse}
// @Router /api/v1/groups/{id}/contacts/import [post]
func (h *ContactHandler) ImportContacts(c fiber.Ctx) error {
	groupID, ok := pathID(c, "id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid group id", "INVALID_GROUP_ID", nil)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil || fileHeader == nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "file is required", "INVALID_FILE", nil)
	}
	if fileHeader.Size > maxImportBytes {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "File too large", "FILE_TOO_LARGE", nil)
	}

	file, err := fileHeader.Open()
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "invalid file", "INVALID_FILE", err.Error())
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxImportBytes))
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "invalid file", "INVALID_FILE", err.Error())
	}

	opID, _ := operatorID(c)
	ctx, cancel := createRequestContext(c, "/api/v1/groups/{id}/contacts/import")
	defer cancel()

	result, err := h.contactFlow.ImportContacts(ctx, &dto.ImportContactsRequest{
		OperatorID: opID,
		GroupID:    groupID,
		FileName:   fileHeader.Filename,
		Data:       data,
	}, clientMetadata(c))
	if err != nil {
		return h.flowError(c, err, "Failed to import contacts", "IMPORT_CONTACTS_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Contacts imported", result)
}

// DeleteGroupContacts removes a group's contacts, and the group itself when delete_group=true
// @Summary Delete Group Contacts
// @Tags Contacts
// @Produce json
// @Param id path int true "Group ID"
// @Param delete_group query bool false "Also delete the group"
// @Success 200 {object} dto.APIResponse{data=dto.DeleteGroupContactsResponse}
// @Failure 409 {object} dto.APIResponse "Group still has campaigns"
// @Router /api/v1/groups/{id}/contacts [delete]
func (h *ContactHandler) DeleteGroupContacts(c fiber.Ctx) error {
	groupID, ok := pathID(c, "id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid group id", "INVALID_GROUP_ID", nil)
	}
	opID, _ := operatorID(c)

	ctx, cancel := createRequestContext(c, "/api/v1/groups/{id}/contacts")
	defer cancel()

	result, err := h.contactFlow.DeleteGroupContacts(ctx, &dto.DeleteGroupContactsRequest{
		OperatorID:  opID,
		GroupID:     groupID,
		DeleteGroup: c.Query("delete_group") == "true",
	}, clientMetadata(c))
	if err != nil {
		return h.flowError(c, err, "Failed to delete contacts", "DELETE_CONTACTS_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Contacts deleted", result)
}

// ExportItineraries streams the group's travel itineraries as an XLSX workbook
// @Summary Export Itineraries
// @Tags Contacts
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param id path int true "Group ID"
// @Success 200 {string} string "XLSX file"
// @Router /api/v1/groups/{id}/itineraries/export [get]
func (h *ContactHandler) ExportItineraries(c fiber.Ctx) error {
	groupID, ok := pathID(c, "id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid group id", "INVALID_GROUP_ID", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/groups/{id}/itineraries/export")
	defer cancel()

	export, err := h.contactFlow.ExportItineraries(ctx, groupID)
	if err != nil {
		return h.flowError(c, err, "Failed to export itineraries", "EXPORT_ITINERARIES_FAILED")
	}

	c.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName))
	return c.Send(export.Content)
}
