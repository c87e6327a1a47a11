package businessflow

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/amirphl/event-rsvp-engine/app/dto"
	"github.com/amirphl/event-rsvp-engine/models"
	"github.com/amirphl/event-rsvp-engine/repository"
	"github.com/amirphl/event-rsvp-engine/utils"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const (
	groupEntity       = "contact_group"
	minPhoneDigits    = 7
	maxImportErrors   = 50
	itinerarySheet    = "Itineraries"
	itineraryFileName = "itineraries_%s.xlsx"
)

// Accepted header spellings, lower-cased
var (
	nameHeaders  = []string{"full_name", "name", "participant_name", "full name"}
	phoneHeaders = []string{"phone_number", "phone", "mobile", "whatsapp", "phone number"}
	emailHeaders = []string{"email", "email_address"}
)

var itineraryHeader = []any{
	"Contact", "Phone", "Person",
	"Arrival Date", "Arrival Time", "Arrival Transport", "Arrival From", "Arrival To",
	"Return Date", "Return Time", "Return Transport", "Return From", "Return To",
	"Source",
}

// ContactFlow manages groups, their contacts and the itinerary export
type ContactFlow interface {
	CreateGroup(ctx context.Context, req *dto.CreateGroupRequest, metadata *ClientMetadata) (*dto.CreateGroupResponse, error)
	ListGroups(ctx context.Context) (*dto.ListGroupsResponse, error)
	ListContacts(ctx context.Context, req *dto.ListContactsRequest) (*dto.ListContactsResponse, error)
	ImportContacts(ctx context.Context, req *dto.ImportContactsRequest, metadata *ClientMetadata) (*dto.ImportContactsResponse, error)
	DeleteGroupContacts(ctx context.Context, req *dto.DeleteGroupContactsRequest, metadata *ClientMetadata) (*dto.DeleteGroupContactsResponse, error)
	ExportItineraries(ctx context.Context, groupID uint) (*dto.ItineraryExport, error)
}

// ContactFlowImpl implements ContactFlow
type ContactFlowImpl struct {
	groupRepo      repository.ContactGroupRepository
	contactRepo    repository.ContactRepository
	campaignRepo   repository.CampaignRepository
	itineraryRepo  repository.TravelItineraryRepository
	auditRepo      repository.AuditLogRepository
	defaultCountry string
	db             *gorm.DB
}

// NewContactFlow creates a new contact flow. defaultCountry is prefixed to national numbers on import.
func NewContactFlow(
	groupRepo repository.ContactGroupRepository,
	contactRepo repository.ContactRepository,
	campaignRepo repository.CampaignRepository,
	itineraryRepo repository.TravelItineraryRepository,
	auditRepo repository.AuditLogRepository,
	defaultCountry string,
	db *gorm.DB,
) ContactFlow {
	return &ContactFlowImpl{
		groupRepo:      groupRepo,
		contactRepo:    contactRepo,
		campaignRepo:   campaignRepo,
		itineraryRepo:  itineraryRepo,
		auditRepo:      auditRepo,
		defaultCountry: defaultCountry,
		db:             db,
	}
}

func (s *ContactFlowImpl) CreateGroup(ctx context.Context, req *dto.CreateGroupRequest, metadata *ClientMetadata) (*dto.CreateGroupResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, NewBusinessError("CREATE_GROUP_VALIDATION_FAILED", "Group name is required", ErrGroupNameRequired)
	}

	group := &models.ContactGroup{
		Name:        name,
		EventName:   req.EventName,
		Description: req.Description,
		EventInfo:   req.EventInfo,
	}
	if err := s.groupRepo.Save(ctx, group); err != nil {
		return nil, NewBusinessError("CREATE_GROUP_FAILED", "Failed to create group", err)
	}

	return &dto.CreateGroupResponse{
		Message: "Group created successfully",
		Group:   ToGroupDTO(group, 0),
	}, nil
}

func (s *ContactFlowImpl) ListGroups(ctx context.Context) (*dto.ListGroupsResponse, error) {
	groups, err := s.groupRepo.ByFilter(ctx, models.ContactGroupFilter{}, "created_at DESC, id DESC", 0, 0)
	if err != nil {
		return nil, NewBusinessError("LIST_GROUPS_FAILED", "Failed to list groups", err)
	}

	items := make([]dto.GroupDTO, 0, len(groups))
	for _, g := range groups {
		count, err := s.contactRepo.CountByGroup(ctx, g.ID)
		if err != nil {
			return nil, NewBusinessError("LIST_GROUPS_FAILED", "Failed to count contacts", err)
		}
		items = append(items, ToGroupDTO(g, count))
	}
	return &dto.ListGroupsResponse{Message: "Groups retrieved successfully", Items: items}, nil
}

func (s *ContactFlowImpl) ListContacts(ctx context.Context, req *dto.ListContactsRequest) (*dto.ListContactsResponse, error) {
	page, limit, err := normalizePage(req.Page, req.Limit)
	if err != nil {
		return nil, NewBusinessError("LIST_CONTACTS_VALIDATION_FAILED", "Invalid pagination", err)
	}
	if _, err := s.loadGroup(ctx, req.GroupID); err != nil {
		return nil, NewBusinessError("LIST_CONTACTS_FAILED", "Failed to get group", err)
	}

	filter := models.ContactFilter{GroupID: &req.GroupID}
	total, err := s.contactRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("LIST_CONTACTS_FAILED", "Failed to count contacts", err)
	}
	rows, err := s.contactRepo.ByFilter(ctx, filter, "id ASC", limit, (page-1)*limit)
	if err != nil {
		return nil, NewBusinessError("LIST_CONTACTS_FAILED", "Failed to list contacts", err)
	}

	items := make([]dto.ContactDTO, 0, len(rows))
	for _, c := range rows {
		items = append(items, ToContactDTO(c))
	}
	return &dto.ListContactsResponse{
		Message:    "Contacts retrieved successfully",
		Items:      items,
		Pagination: paginationInfo(total, page, limit),
	}, nil
}

// ImportContacts loads a CSV or XLSX sheet into a group. Rows whose number is already in the
// group, or repeated in the sheet, are skipped.
func (s *ContactFlowImpl) ImportContacts(ctx context.Context, req *dto.ImportContactsRequest, metadata *ClientMetadata) (*dto.ImportContactsResponse, error) {
	group, err := s.loadGroup(ctx, req.GroupID)
	if err != nil {
		return nil, NewBusinessError("IMPORT_CONTACTS_FAILED", "Failed to get group", err)
	}

	rows, err := readSheet(req.FileName, req.Data)
	if err != nil {
		return nil, NewBusinessError("IMPORT_CONTACTS_VALIDATION_FAILED", "Failed to read contact sheet", err)
	}
	parsed, err := s.parseContacts(rows)
	if err != nil {
		return nil, NewBusinessError("IMPORT_CONTACTS_VALIDATION_FAILED", "Invalid contact sheet", err)
	}

	resp := &dto.ImportContactsResponse{Invalid: parsed.invalid, Errors: parsed.errors}
	err = repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		existing, err := s.contactRepo.ListByGroup(txCtx, group.ID)
		if err != nil {
			return err
		}
		seen := make(map[string]struct{}, len(existing)+len(parsed.contacts))
		for _, c := range existing {
			seen[c.PhoneNumber] = struct{}{}
		}

		fresh := make([]*models.Contact, 0, len(parsed.contacts))
		for _, c := range parsed.contacts {
			if _, dup := seen[c.PhoneNumber]; dup {
				resp.Skipped++
				continue
			}
			seen[c.PhoneNumber] = struct{}{}
			c.GroupID = group.ID
			fresh = append(fresh, c)
		}
		if len(fresh) == 0 {
			return nil
		}
		if err := s.contactRepo.SaveBatch(txCtx, fresh); err != nil {
			return err
		}
		resp.Imported = len(fresh)
		return nil
	})

	_ = createAuditLog(ctx, s.auditRepo, auditEntry{
		operatorID:  req.OperatorID,
		action:      models.AuditActionContactsImported,
		entityType:  groupEntity,
		entityID:    group.ID,
		description: fmt.Sprintf("Imported %d contacts from %s (%d skipped, %d invalid)", resp.Imported, req.FileName, resp.Skipped, resp.Invalid),
		success:     err == nil,
		err:         err,
	}, metadata)
	if err != nil {
		return nil, NewBusinessError("IMPORT_CONTACTS_FAILED", "Failed to import contacts", err)
	}

	resp.Message = "Contacts imported successfully"
	return resp, nil
}

type parsedContacts struct {
	contacts []*models.Contact
	invalid  int
	errors   []string
}

func (s *ContactFlowImpl) parseContacts(rows [][]string) (*parsedContacts, error) {
	if len(rows) < 2 {
		return nil, ErrImportEmpty
	}

	header := rows[0]
	nameCol := findColumn(header, nameHeaders)
	phoneCol := findColumn(header, phoneHeaders)
	emailCol := findColumn(header, emailHeaders)
	if nameCol < 0 || phoneCol < 0 {
		return nil, ErrImportHeaderMissing
	}

	out := &parsedContacts{}
	for i, row := range rows[1:] {
		line := i + 2
		name := cell(row, nameCol)
		rawPhone := cell(row, phoneCol)
		if name == "" && rawPhone == "" {
			continue
		}

		phone := utils.NormalizePhone(rawPhone, s.defaultCountry)
		switch {
		case name == "":
			out.reject(line, "missing name")
			continue
		case len(phone) < minPhoneDigits:
			out.reject(line, fmt.Sprintf("invalid phone number %q", rawPhone))
			continue
		}

		c := &models.Contact{FullName: name, PhoneNumber: phone}
		if email := cell(row, emailCol); email != "" {
			c.Email = &email
		}
		out.contacts = append(out.contacts, c)
	}
	return out, nil
}

func (p *parsedContacts) reject(line int, reason string) {
	p.invalid++
	if len(p.errors) < maxImportErrors {
		p.errors = append(p.errors, fmt.Sprintf("row %d: %s", line, reason))
	}
}

// readSheet returns the rows of a CSV file or of the first XLSX worksheet
func readSheet(fileName string, data []byte) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".csv":
		r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
		r.FieldsPerRecord = -1
		r.TrimLeadingSpace = true
		var rows [][]string
		for {
			rec, err := r.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, err
			}
			rows = append(rows, rec)
		}
		return rows, nil
	case ".xlsx":
		xl, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer func() { _ = xl.Close() }()
		sheets := xl.GetSheetList()
		if len(sheets) == 0 {
			return nil, ErrImportEmpty
		}
		return xl.GetRows(sheets[0])
	}
	return nil, ErrUnsupportedImportFormat
}

func findColumn(header []string, names []string) int {
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for _, n := range names {
			if h == n {
				return i
			}
		}
	}
	return -1
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

// DeleteGroupContacts removes every contact of a group with their conversations and documents,
// and the group itself when asked
func (s *ContactFlowImpl) DeleteGroupContacts(ctx context.Context, req *dto.DeleteGroupContactsRequest, metadata *ClientMetadata) (*dto.DeleteGroupContactsResponse, error) {
	var deleted int64
	err := repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		group, err := s.loadGroup(txCtx, req.GroupID)
		if err != nil {
			return err
		}
		if req.DeleteGroup {
			inUse, err := s.campaignRepo.Exists(txCtx, models.CampaignFilter{GroupID: &group.ID})
			if err != nil {
				return err
			}
			if inUse {
				return ErrGroupInUse
			}
		}
		deleted, err = s.contactRepo.DeleteByGroup(txCtx, group.ID)
		if err != nil {
			return err
		}
		if req.DeleteGroup {
			return s.groupRepo.Delete(txCtx, group.ID)
		}
		return nil
	})

	_ = createAuditLog(ctx, s.auditRepo, auditEntry{
		operatorID:  req.OperatorID,
		action:      models.AuditActionContactsDeleted,
		entityType:  groupEntity,
		entityID:    req.GroupID,
		description: fmt.Sprintf("Deleted %d contacts (group removed: %t)", deleted, req.DeleteGroup),
		success:     err == nil,
		err:         err,
	}, metadata)
	if err != nil {
		return nil, NewBusinessError("DELETE_CONTACTS_FAILED", "Failed to delete contacts", err)
	}

	return &dto.DeleteGroupContactsResponse{
		Message: "Contacts deleted successfully",
		Deleted: deleted,
	}, nil
}

// ExportItineraries renders every itinerary of a group as an XLSX workbook
func (s *ContactFlowImpl) ExportItineraries(ctx context.Context, groupID uint) (*dto.ItineraryExport, error) {
	group, err := s.loadGroup(ctx, groupID)
	if err != nil {
		return nil, NewBusinessError("EXPORT_ITINERARIES_FAILED", "Failed to get group", err)
	}
	rows, err := s.itineraryRepo.ListByGroup(ctx, group.ID)
	if err != nil {
		return nil, NewBusinessError("EXPORT_ITINERARIES_FAILED", "Failed to list itineraries", err)
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	if err := xl.SetSheetName(xl.GetSheetName(0), itinerarySheet); err != nil {
		return nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to prepare sheet", err)
	}
	if err := xl.SetSheetRow(itinerarySheet, "A1", &itineraryHeader); err != nil {
		return nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write header", err)
	}

	for i, it := range rows {
		var contactName, phone string
		if it.Contact != nil {
			contactName, phone = it.Contact.FullName, it.Contact.PhoneNumber
		}
		record := []any{
			contactName, phone, it.PersonName,
			deref(it.ArrivalDate), deref(it.ArrivalTime), deref(it.ArrivalTransportNo), deref(it.ArrivalFrom), deref(it.ArrivalTo),
			deref(it.ReturnDate), deref(it.ReturnTime), deref(it.ReturnTransportNo), deref(it.ReturnFrom), deref(it.ReturnTo),
			it.Source,
		}
		cellRef, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := xl.SetSheetRow(itinerarySheet, cellRef, &record); err != nil {
			return nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write row", err)
		}
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}
	return &dto.ItineraryExport{
		FileName: fmt.Sprintf(itineraryFileName, sanitizeFileName(group.Name)),
		Content:  buf.Bytes(),
	}, nil
}

func sanitizeFileName(name string) string {
	replacer := strings.NewReplacer(" ", "_", "/", "_", "\\", "_", ":", "_", "\"", "", "'", "")
	safe := replacer.Replace(strings.TrimSpace(name))
	if safe == "" {
		return "group"
	}
	return strings.ToLower(safe)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (s *ContactFlowImpl) loadGroup(ctx context.Context, id uint) (*models.ContactGroup, error) {
	if id == 0 {
		return nil, ErrGroupNotFound
	}
	group, err := s.groupRepo.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, ErrGroupNotFound
	}
	return group, nil
}
