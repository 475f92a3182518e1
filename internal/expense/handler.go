package expense

import (
	"fmt"
	"sort"
	"strings"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/audit"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/auth"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/cache"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/database"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/logger"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/query"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// -------------------------
// DTOs
// -------------------------

type ExpenseCategoryResponse struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

type CreateExpenseCategoryRequest struct {
	TenantID *uint  `json:"tenant_id"` // superadmins
	Name     string `json:"name"`
}

type UpdateExpenseCategoryRequest struct {
	Name *string `json:"name"`
}

type CreateExpenseRequest struct {
	BranchID    *uint              `json:"branch_id"`
	CategoryID  uint               `json:"category_id"`
	Date        string             `json:"date"` // YYYY-MM-DD, defaults to today
	Amount      decimal.Decimal    `json:"amount"`
	PaymentMode models.PaymentMode `json:"payment_mode"`
	Description string             `json:"description"`
}

type UpdateExpenseRequest struct {
	CategoryID  *uint               `json:"category_id"`
	Date        *string             `json:"date"`
	Amount      *decimal.Decimal    `json:"amount"`
	PaymentMode *models.PaymentMode `json:"payment_mode"`
	Description *string             `json:"description"`
}

type ExpenseResponse struct {
	ID          uint               `json:"id"`
	BranchID    uint               `json:"branch_id"`
	CategoryID  uint               `json:"category_id"`
	Category    string             `json:"category"`
	Date        string             `json:"date"`
	Amount      decimal.Decimal    `json:"amount"`
	PaymentMode models.PaymentMode `json:"payment_mode"`
	Description string             `json:"description"`
	CreatedBy   uint               `json:"created_by"`
}

type SummaryItem struct {
	CategoryID   uint            `json:"category_id"`
	CategoryName string          `json:"category_name"`
	Count        int             `json:"count"`
	Total        decimal.Decimal `json:"total"`
}

type SummaryResponse struct {
	BranchID   *uint           `json:"branch_id"`
	From       string          `json:"from,omitempty"`
	To         string          `json:"to,omitempty"`
	Items      []SummaryItem   `json:"items"`
	GrandTotal decimal.Decimal `json:"grand_total"`
}

// -------------------------
// Helpers
// -------------------------

func categoryNameTaken(tenantID uint, name string, exceptID uint) bool {
	var count int64
	database.DB.Model(&models.ExpenseCategory{}).
		Where("tenant_id = ? AND LOWER(name) = ? AND id <> ?", tenantID, strings.ToLower(name), exceptID).
		Count(&count)
	return count > 0
}

func loadCategory(tenantID, id uint) (*models.ExpenseCategory, error) {
	var cat models.ExpenseCategory
	if err := database.DB.Where("tenant_id = ?", tenantID).First(&cat, id).Error; err != nil {
		return nil, fiber.NewError(fiber.StatusNotFound, "Expense category not found")
	}
	return &cat, nil
}

// loadExpense enforces the caller's branch on top of the tenant.
func loadExpense(c *fiber.Ctx) (*models.Expense, error) {
	id, err := auth.ParamUint(c, "id")
	if err != nil {
		return nil, err
	}
	tenantID, err := auth.ResolveTenantID(c, nil)
	if err != nil {
		return nil, err
	}
	branchID, err := auth.BranchFilter(c, tenantID)
	if err != nil {
		return nil, err
	}

	dbq := database.DB.Preload("Category").Where("tenant_id = ?", tenantID)
	if branchID != nil {
		dbq = dbq.Where("branch_id = ?", *branchID)
	}
	var exp models.Expense
	if err := dbq.First(&exp, id).Error; err != nil {
		return nil, fiber.NewError(fiber.StatusNotFound, "Expense not found")
	}
	return &exp, nil
}

// bare drops the loaded associations so audit snapshots can be restored as-is.
func bare(e models.Expense) *models.Expense {
	e.Category = models.ExpenseCategory{}
	e.Branch = models.Branch{}
	return &e
}

func validateExpense(e *models.Expense) error {
	if !e.Amount.IsPositive() {
		return fiber.NewError(fiber.StatusBadRequest, "amount must be greater than 0")
	}
	if e.PaymentMode == "" {
		e.PaymentMode = models.PaymentCash
	}
	if !e.PaymentMode.Valid() {
		return fiber.NewError(fiber.StatusBadRequest, "payment_mode is invalid")
	}
	e.Amount = e.Amount.Round(2)
	return nil
}

func writeExpenseLog(tx *gorm.DB, actor auth.Actor, e *models.Expense, catName string, action models.AuditAction, before, after any) error {
	return audit.WriteLog(tx, audit.LogOptions{
		TenantID:    &e.TenantID,
		BranchID:    &e.BranchID,
		UserID:      actor.UserID,
		UserName:    actor.Name,
		EntityType:  "expense",
		EntityID:    e.ID,
		Action:      action,
		Description: fmt.Sprintf("Expense %sd: %s - %s", action, catName, e.Amount.StringFixed(2)),
		Before:      before,
		After:       after,
	})
}

func writeCategoryLog(tx *gorm.DB, actor auth.Actor, cat *models.ExpenseCategory, action models.AuditAction, before, after any) error {
	return audit.WriteLog(tx, audit.LogOptions{
		TenantID:    &cat.TenantID,
		UserID:      actor.UserID,
		UserName:    actor.Name,
		EntityType:  "expense_category",
		EntityID:    cat.ID,
		Action:      action,
		Description: fmt.Sprintf("Expense category %s %sd", cat.Name, action),
		Before:      before,
		After:       after,
	})
}

// -------------------------
// ExpenseCategory CRUD
// -------------------------

// GET /api/expense-categories
func ListExpenseCategoriesHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID, err := auth.ResolveTenantID(c, nil)
		if err != nil {
			return err
		}
		var cats []models.ExpenseCategory
		if err := database.DB.Where("tenant_id = ?", tenantID).Order("name asc").Find(&cats).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Expense categories could not be listed")
		}

		res := make([]ExpenseCategoryResponse, 0, len(cats))
		for _, cat := range cats {
			res = append(res, ExpenseCategoryResponse{ID: cat.ID, Name: cat.Name})
		}
		return c.JSON(res)
	}
}

// POST /api/expense-categories
func CreateExpenseCategoryHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateExpenseCategoryRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		tenantID, err := auth.ResolveTenantID(c, body.TenantID)
		if err != nil {
			return err
		}

		body.Name = strings.TrimSpace(body.Name)
		if body.Name == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Name is required")
		}
		if categoryNameTaken(tenantID, body.Name, 0) {
			return fiber.NewError(fiber.StatusConflict, "An expense category with this name already exists")
		}
		actor := auth.CurrentActor(c)

		cat := models.ExpenseCategory{TenantID: tenantID, Name: body.Name}
		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&cat).Error; err != nil {
				return err
			}
			return writeCategoryLog(tx, actor, &cat, models.AuditActionCreate, nil, &cat)
		})
		if err != nil {
			logger.Log.WithError(err).WithField("tenant_id", tenantID).Error("expense category create failed")
			return fiber.NewError(fiber.StatusInternalServerError, "Expense category could not be created")
		}

		return c.Status(fiber.StatusCreated).JSON(ExpenseCategoryResponse{ID: cat.ID, Name: cat.Name})
	}
}

// PUT /api/expense-categories/:id
func UpdateExpenseCategoryHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := auth.ParamUint(c, "id")
		if err != nil {
			return err
		}
		tenantID, err := auth.ResolveTenantID(c, nil)
		if err != nil {
			return err
		}
		cat, err := loadCategory(tenantID, id)
		if err != nil {
			return err
		}

		var body UpdateExpenseCategoryRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		before := *cat
		if body.Name != nil {
			name := strings.TrimSpace(*body.Name)
			if name == "" {
				return fiber.NewError(fiber.StatusBadRequest, "Name cannot be empty")
			}
			if categoryNameTaken(tenantID, name, cat.ID) {
				return fiber.NewError(fiber.StatusConflict, "An expense category with this name already exists")
			}
			cat.Name = name
		}
		actor := auth.CurrentActor(c)

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Save(cat).Error; err != nil {
				return err
			}
			return writeCategoryLog(tx, actor, cat, models.AuditActionUpdate, &before, cat)
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Expense category could not be updated")
		}

		return c.JSON(ExpenseCategoryResponse{ID: cat.ID, Name: cat.Name})
	}
}

// DELETE /api/expense-categories/:id
func DeleteExpenseCategoryHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := auth.ParamUint(c, "id")
		if err != nil {
			return err
		}
		tenantID, err := auth.ResolveTenantID(c, nil)
		if err != nil {
			return err
		}
		cat, err := loadCategory(tenantID, id)
		if err != nil {
			return err
		}

		var used int64
		database.DB.Model(&models.Expense{}).Where("category_id = ?", cat.ID).Count(&used)
		if used > 0 {
			return fiber.NewError(fiber.StatusConflict, "Expense category is in use")
		}
		actor := auth.CurrentActor(c)

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Delete(&models.ExpenseCategory{}, cat.ID).Error; err != nil {
				return err
			}
			return writeCategoryLog(tx, actor, cat, models.AuditActionDelete, cat, nil)
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Expense category could not be deleted")
		}

		return c.SendStatus(fiber.StatusNoContent)
	}
}

// -------------------------
// Expense CRUD
// -------------------------

// POST /api/expenses
func CreateExpenseHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateExpenseRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if body.CategoryID == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "category_id is required")
		}

		tenantID, err := auth.ResolveTenantID(c, nil)
		if err != nil {
			return err
		}
		branchID, err := auth.ResolveBranchID(c, tenantID, body.BranchID)
		if err != nil {
			return err
		}
		d, err := query.ParseDate(body.Date)
		if err != nil {
			return err
		}
		cat, err := loadCategory(tenantID, body.CategoryID)
		if err != nil {
			return err
		}
		actor := auth.CurrentActor(c)

		exp := models.Expense{
			TenantID:    tenantID,
			BranchID:    branchID,
			CategoryID:  cat.ID,
			Date:        d,
			Amount:      body.Amount,
			PaymentMode: body.PaymentMode,
			Description: strings.TrimSpace(body.Description),
			CreatedBy:   actor.UserID,
		}
		if err := validateExpense(&exp); err != nil {
			return err
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Omit("Branch", "Category").Create(&exp).Error; err != nil {
				return err
			}
			return writeExpenseLog(tx, actor, &exp, cat.Name, models.AuditActionCreate, nil, bare(exp))
		})
		if err != nil {
			logger.Log.WithError(err).WithField("branch_id", branchID).Error("expense create failed")
			return fiber.NewError(fiber.StatusInternalServerError, "Expense could not be saved")
		}

		cache.InvalidateTenant(c.UserContext(), tenantID)
		exp.Category = *cat
		return c.Status(fiber.StatusCreated).JSON(toResponse(exp))
	}
}

// GET /api/expenses/:id
func GetExpenseHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		exp, err := loadExpense(c)
		if err != nil {
			return err
		}
		return c.JSON(toResponse(*exp))
	}
}

// PUT /api/expenses/:id
func UpdateExpenseHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		exp, err := loadExpense(c)
		if err != nil {
			return err
		}
		var body UpdateExpenseRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		before := bare(*exp)
		if body.CategoryID != nil && *body.CategoryID != exp.CategoryID {
			cat, err := loadCategory(exp.TenantID, *body.CategoryID)
			if err != nil {
				return err
			}
			exp.CategoryID = cat.ID
			exp.Category = *cat
		}
		if body.Date != nil {
			d, err := query.ParseDate(*body.Date)
			if err != nil {
				return err
			}
			exp.Date = d
		}
		if body.Amount != nil {
			exp.Amount = *body.Amount
		}
		if body.PaymentMode != nil {
			exp.PaymentMode = *body.PaymentMode
		}
		if body.Description != nil {
			exp.Description = strings.TrimSpace(*body.Description)
		}
		if err := validateExpense(exp); err != nil {
			return err
		}
		actor := auth.CurrentActor(c)

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Omit("Branch", "Category").Save(exp).Error; err != nil {
				return err
			}
			return writeExpenseLog(tx, actor, exp, exp.Category.Name, models.AuditActionUpdate, before, bare(*exp))
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Expense could not be updated")
		}

		cache.InvalidateTenant(c.UserContext(), exp.TenantID)
		return c.JSON(toResponse(*exp))
	}
}

// DELETE /api/expenses/:id
func DeleteExpenseHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		exp, err := loadExpense(c)
		if err != nil {
			return err
		}
		actor := auth.CurrentActor(c)

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Delete(&models.Expense{}, exp.ID).Error; err != nil {
				return err
			}
			return writeExpenseLog(tx, actor, exp, exp.Category.Name, models.AuditActionDelete, bare(*exp), nil)
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Expense could not be deleted")
		}

		cache.InvalidateTenant(c.UserContext(), exp.TenantID)
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// GET /api/expenses?from=...&to=...&category_id=...&branch_id=...&page=1&limit=50
func ListExpensesHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID, err := auth.ResolveTenantID(c, nil)
		if err != nil {
			return err
		}
		branchID, err := auth.BranchFilter(c, tenantID)
		if err != nil {
			return err
		}
		categoryID, err := auth.QueryUint(c, "category_id")
		if err != nil {
			return err
		}
		rng, err := query.DateRange(c)
		if err != nil {
			return err
		}
		page := query.Paging(c)

		dbq := database.DB.Model(&models.Expense{}).Where("tenant_id = ?", tenantID)
		if branchID != nil {
			dbq = dbq.Where("branch_id = ?", *branchID)
		}
		if categoryID != nil {
			dbq = dbq.Where("category_id = ?", *categoryID)
		}
		dbq = rng.Where(dbq, "date")

		var total int64
		if err := dbq.Count(&total).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Expenses could not be counted")
		}
		var rows []models.Expense
		if err := page.Apply(dbq.Preload("Category").Order("date desc, id desc")).Find(&rows).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Expenses could not be listed")
		}

		items := make([]ExpenseResponse, 0, len(rows))
		for _, r := range rows {
			items = append(items, toResponse(r))
		}
		return c.JSON(fiber.Map{
			"items": items,
			"total": total,
			"page":  page.Page,
			"limit": page.Limit,
		})
	}
}

// -------------------------
// Expense summary by category
// GET /api/expenses/summary?from=2026-03-01&to=2026-03-31[&branch_id=1]
// -------------------------
func ExpenseSummaryHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID, err := auth.ResolveTenantID(c, nil)
		if err != nil {
			return err
		}
		branchID, err := auth.BranchFilter(c, tenantID)
		if err != nil {
			return err
		}
		rng, err := query.DateRange(c)
		if err != nil {
			return err
		}

		dbq := database.DB.Preload("Category").Where("tenant_id = ?", tenantID)
		if branchID != nil {
			dbq = dbq.Where("branch_id = ?", *branchID)
		}
		var rows []models.Expense
		if err := rng.Where(dbq, "date").Find(&rows).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Summary could not be calculated")
		}

		resp := Summarize(rows)
		resp.BranchID = branchID
		if c.Query("from") != "" {
			resp.From = c.Query("from")
		}
		if c.Query("to") != "" {
			resp.To = c.Query("to")
		}
		return c.JSON(resp)
	}
}

// Summarize groups expenses by category, largest total first.
func Summarize(rows []models.Expense) SummaryResponse {
	byCat := make(map[uint]*SummaryItem)
	grand := decimal.Zero
	for _, r := range rows {
		item, ok := byCat[r.CategoryID]
		if !ok {
			item = &SummaryItem{CategoryID: r.CategoryID, CategoryName: r.Category.Name, Total: decimal.Zero}
			byCat[r.CategoryID] = item
		}
		item.Count++
		item.Total = item.Total.Add(r.Amount)
		grand = grand.Add(r.Amount)
	}

	resp := SummaryResponse{Items: make([]SummaryItem, 0, len(byCat)), GrandTotal: grand}
	for _, item := range byCat {
		resp.Items = append(resp.Items, *item)
	}
	sort.Slice(resp.Items, func(i, j int) bool {
		if cmp := resp.Items[i].Total.Cmp(resp.Items[j].Total); cmp != 0 {
			return cmp > 0
		}
		return resp.Items[i].CategoryID < resp.Items[j].CategoryID
	})
	return resp
}

func toResponse(e models.Expense) ExpenseResponse {
	return ExpenseResponse{
		ID:          e.ID,
		BranchID:    e.BranchID,
		CategoryID:  e.CategoryID,
		Category:    e.Category.Name,
		Date:        e.Date.Format(query.DateLayout),
		Amount:      e.Amount,
		PaymentMode: e.PaymentMode,
		Description: e.Description,
		CreatedBy:   e.CreatedBy,
	}
}
