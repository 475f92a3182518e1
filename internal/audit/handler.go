package audit

import (
	"errors"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/auth"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/cache"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/database"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"

	"github.com/gofiber/fiber/v2"
)

type AuditLogResponse struct {
	ID          uint               `json:"id"`
	CreatedAt   string             `json:"created_at"`
	BranchID    *uint              `json:"branch_id"`
	UserID      uint               `json:"user_id"`
	UserName    string             `json:"user_name"`
	EntityType  string             `json:"entity_type"`
	EntityID    uint               `json:"entity_id"`
	Action      models.AuditAction `json:"action"`
	Description string             `json:"description"`
	Undoable    bool               `json:"undoable"`
	IsUndone    bool               `json:"is_undone"`
	UndoneBy    *uint              `json:"undone_by"`
	UndoneAt    *string            `json:"undone_at"`
}

// GET /api/audit-logs?entity_type=expense&entity_id=1&branch_id=1&user_id=2
func ListAuditLogsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID, err := auth.ResolveTenantID(c, nil)
		if err != nil {
			return err
		}
		branchID, err := auth.BranchFilter(c, tenantID)
		if err != nil {
			return err
		}

		dbq := database.DB.Model(&models.AuditLog{}).Where("tenant_id = ?", tenantID)
		if branchID != nil {
			dbq = dbq.Where("branch_id = ?", *branchID)
		}
		if entityType := c.Query("entity_type"); entityType != "" {
			dbq = dbq.Where("entity_type = ?", entityType)
		}
		if eid, err := auth.QueryUint(c, "entity_id"); err != nil {
			return err
		} else if eid != nil {
			dbq = dbq.Where("entity_id = ?", *eid)
		}
		if uid, err := auth.QueryUint(c, "user_id"); err != nil {
			return err
		} else if uid != nil {
			dbq = dbq.Where("user_id = ?", *uid)
		}

		limit := c.QueryInt("limit", 100)
		if limit <= 0 || limit > 500 {
			limit = 100
		}

		var logs []models.AuditLog
		if err := dbq.Order("created_at DESC, id DESC").Limit(limit).Find(&logs).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Audit logs could not be listed")
		}

		resp := make([]AuditLogResponse, 0, len(logs))
		for _, l := range logs {
			var undoneAt *string
			if l.UndoneAt != nil {
				formatted := l.UndoneAt.Format("2006-01-02 15:04:05")
				undoneAt = &formatted
			}
			resp = append(resp, AuditLogResponse{
				ID:          l.ID,
				CreatedAt:   l.CreatedAt.Format("2006-01-02 15:04:05"),
				BranchID:    l.BranchID,
				UserID:      l.UserID,
				UserName:    l.UserName,
				EntityType:  l.EntityType,
				EntityID:    l.EntityID,
				Action:      l.Action,
				Description: l.Description,
				Undoable:    !l.IsUndone && l.Action != models.AuditActionUndo && IsUndoable(l.EntityType),
				IsUndone:    l.IsUndone,
				UndoneBy:    l.UndoneBy,
				UndoneAt:    undoneAt,
			})
		}

		return c.JSON(resp)
	}
}

// POST /api/audit-logs/:id/undo
func UndoAuditLogHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		logID, err := auth.ParamUint(c, "id")
		if err != nil {
			return err
		}
		id, err := auth.CurrentIdentity(c)
		if err != nil {
			return err
		}
		tenantID, err := auth.ResolveTenantID(c, nil)
		if err != nil {
			return err
		}

		var entry models.AuditLog
		if err := database.DB.First(&entry, "id = ? AND tenant_id = ?", logID, tenantID).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Audit log not found")
		}

		// branch admins may only revert changes made in their own branch
		if id.Role.BranchBound() {
			if id.BranchID == nil || entry.BranchID == nil || *entry.BranchID != *id.BranchID {
				return fiber.NewError(fiber.StatusForbidden, "You can only undo changes of your own branch")
			}
		}

		if err := UndoLog(database.DB, logID, id.UserID, auth.CurrentUserName(c)); err != nil {
			switch {
			case errors.Is(err, ErrAlreadyUndone), errors.Is(err, ErrNotUndoable):
				return fiber.NewError(fiber.StatusConflict, err.Error())
			default:
				return fiber.NewError(fiber.StatusBadRequest, "Change could not be undone")
			}
		}
		cache.InvalidateTenant(c.UserContext(), tenantID)

		return c.JSON(fiber.Map{"message": "Change undone"})
	}
}
