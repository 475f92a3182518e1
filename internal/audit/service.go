package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"
)

var (
	ErrAlreadyUndone = errors.New("this change has already been undone")
	ErrNotUndoable   = errors.New("this change cannot be undone")
)

// undoable lists the entity types whose changes can be reverted. Bills and
// stock movements are excluded: they have their own compensating operations.
var undoable = map[string]func() interface{}{
	"expense":          func() interface{} { return &models.Expense{} },
	"expense_category": func() interface{} { return &models.ExpenseCategory{} },
	"customer":         func() interface{} { return &models.Customer{} },
	"category":         func() interface{} { return &models.Category{} },
	"brand":            func() interface{} { return &models.Brand{} },
}

func IsUndoable(entityType string) bool {
	_, ok := undoable[entityType]
	return ok
}

type LogOptions struct {
	TenantID    *uint
	BranchID    *uint
	UserID      uint
	UserName    string
	EntityType  string
	EntityID    uint
	Action      models.AuditAction
	Description string
	Before      any
	After       any
}

// WriteLog stores one audit entry using db, which may be a transaction.
func WriteLog(db *gorm.DB, opts LogOptions) error {
	entry := models.AuditLog{
		TenantID:    opts.TenantID,
		BranchID:    opts.BranchID,
		UserID:      opts.UserID,
		UserName:    opts.UserName,
		EntityType:  opts.EntityType,
		EntityID:    opts.EntityID,
		Action:      opts.Action,
		Description: opts.Description,
		BeforeData:  marshalOrNull(opts.Before),
		AfterData:   marshalOrNull(opts.After),
	}

	if err := db.Create(&entry).Error; err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// jsonb columns need a JSON literal, never an empty string.
func marshalOrNull(v any) string {
	if v == nil {
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// UndoLog reverts the change recorded by log logID and records the revert.
func UndoLog(db *gorm.DB, logID, userID uint, userName string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var entry models.AuditLog
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&entry, logID).Error; err != nil {
			return fmt.Errorf("load audit log: %w", err)
		}
		if entry.IsUndone {
			return ErrAlreadyUndone
		}
		newModel, ok := undoable[entry.EntityType]
		if !ok {
			return ErrNotUndoable
		}

		switch entry.Action {
		case models.AuditActionCreate:
			if err := tx.Delete(newModel(), "id = ?", entry.EntityID).Error; err != nil {
				return fmt.Errorf("delete %s: %w", entry.EntityType, err)
			}
		case models.AuditActionUpdate:
			obj := newModel()
			if err := json.Unmarshal([]byte(entry.BeforeData), obj); err != nil {
				return fmt.Errorf("decode previous %s: %w", entry.EntityType, err)
			}
			if err := tx.Omit(clause.Associations).Save(obj).Error; err != nil {
				return fmt.Errorf("restore %s: %w", entry.EntityType, err)
			}
		case models.AuditActionDelete:
			obj := newModel()
			if err := json.Unmarshal([]byte(entry.BeforeData), obj); err != nil {
				return fmt.Errorf("decode deleted %s: %w", entry.EntityType, err)
			}
			if err := tx.Omit(clause.Associations).Create(obj).Error; err != nil {
				return fmt.Errorf("recreate %s: %w", entry.EntityType, err)
			}
		default:
			return ErrNotUndoable
		}

		now := time.Now()
		if err := tx.Model(&entry).Updates(map[string]interface{}{
			"is_undone": true,
			"undone_by": userID,
			"undone_at": now,
		}).Error; err != nil {
			return fmt.Errorf("mark audit log undone: %w", err)
		}

		return tx.Create(&models.AuditLog{
			TenantID:    entry.TenantID,
			BranchID:    entry.BranchID,
			UserID:      userID,
			UserName:    userName,
			EntityType:  entry.EntityType,
			EntityID:    entry.EntityID,
			Action:      models.AuditActionUndo,
			Description: fmt.Sprintf("Undone: %s", entry.Description),
			BeforeData:  entry.AfterData,
			AfterData:   entry.BeforeData,
		}).Error
	})
}
