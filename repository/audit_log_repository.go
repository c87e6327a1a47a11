// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/event-rsvp-engine/models"
	"gorm.io/gorm"
)

// AuditLogRepositoryImpl implements AuditLogRepository interface
type AuditLogRepositoryImpl struct {
	*BaseRepository[models.AuditLog, models.AuditLogFilter]
}

// NewAuditLogRepository creates a new audit log repository
func NewAuditLogRepository(db *gorm.DB) AuditLogRepository {
	return &AuditLogRepositoryImpl{
		BaseRepository: NewBaseRepository[models.AuditLog, models.AuditLogFilter](db),
	}
}

// ListByOperator retrieves audit logs for a specific operator with pagination
func (r *AuditLogRepositoryImpl) ListByOperator(ctx context.Context, operatorID uint, limit, offset int) ([]*models.AuditLog, error) {
	logs, err := r.ByFilter(ctx, models.AuditLogFilter{OperatorID: &operatorID}, "created_at DESC", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs by operator: %w", err)
	}
	return logs, nil
}

// ListByAction retrieves audit logs for a specific action with pagination
func (r *AuditLogRepositoryImpl) ListByAction(ctx context.Context, action string, limit, offset int) ([]*models.AuditLog, error) {
	logs, err := r.ByFilter(ctx, models.AuditLogFilter{Action: &action}, "created_at DESC", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs by action: %w", err)
	}
	return logs, nil
}

// ByFilter retrieves audit logs based on filter criteria
func (r *AuditLogRepositoryImpl) ByFilter(ctx context.Context, filter models.AuditLogFilter, orderBy string, limit, offset int) ([]*models.AuditLog, error) {
	var logs []*models.AuditLog
	query := paginate(r.applyFilter(r.getDB(ctx), filter), orderBy, limit, offset)
	if err := query.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// Count returns the number of audit logs matching the filter
func (r *AuditLogRepositoryImpl) Count(ctx context.Context, filter models.AuditLogFilter) (int64, error) {
	var count int64
	err := r.applyFilter(r.getDB(ctx).Model(&models.AuditLog{}), filter).Count(&count).Error
	return count, err
}

// Exists checks if any audit log matching the filter exists
func (r *AuditLogRepositoryImpl) Exists(ctx context.Context, filter models.AuditLogFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *AuditLogRepositoryImpl) applyFilter(db *gorm.DB, filter models.AuditLogFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.OperatorID != nil {
		db = db.Where("operator_id = ?", *filter.OperatorID)
	}
	if filter.Action != nil {
		db = db.Where("action = ?", *filter.Action)
	}
	if filter.Success != nil {
		db = db.Where("success = ?", *filter.Success)
	}
	if filter.RequestID != nil {
		db = db.Where("request_id = ?", *filter.RequestID)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at < ?", *filter.CreatedBefore)
	}
	return db
}
