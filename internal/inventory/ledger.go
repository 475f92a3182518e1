package inventory

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/models"
)

var (
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrNoChange          = errors.New("adjustment does not change the stock")
	ErrReasonRequired    = errors.New("a reason is required for adjustments")
	ErrUnknownType       = errors.New("unknown stock transaction type")
	ErrProductNotFound   = errors.New("product not found")
	ErrBranchNotFound    = errors.New("branch not found")
)

// Movement describes one change to a branch's stock of a product.
// For adjustments Quantity is the counted (target) balance; for every other
// type it is the positive amount moved.
type Movement struct {
	TenantID      uint
	BranchID      uint
	ProductID     uint
	Type          models.StockTransactionType
	Quantity      int64
	Reason        string
	ReferenceType string
	ReferenceID   *uint
	CorrelationID string // groups the entries of one operation; generated when empty
	UserID        uint
}

func (m Movement) validate() error {
	if !m.Type.Valid() {
		return ErrUnknownType
	}
	if m.Type == models.StockAdjustment {
		if m.Quantity < 0 {
			return ErrInvalidQuantity
		}
		if m.Reason == "" {
			return ErrReasonRequired
		}
		return nil
	}
	if m.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	return nil
}

// delta is the signed change the movement applies on top of prev.
func (m Movement) delta(prev int64) int64 {
	switch m.Type {
	case models.StockIn, models.StockSaleReturn:
		return m.Quantity
	case models.StockOut, models.StockSale:
		return -m.Quantity
	default:
		return m.Quantity - prev
	}
}

// Apply records m in the ledger and moves the current stock to the new
// balance. It must run inside tx's transaction: the current stock row is
// locked so that concurrent movements on the same pair serialise.
func Apply(tx *gorm.DB, m Movement) (*models.StockLedger, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}

	var tenant models.Tenant
	if err := tx.Select("id", "auto_deactivate_on_zero_stock").First(&tenant, m.TenantID).Error; err != nil {
		return nil, fmt.Errorf("load tenant %d: %w", m.TenantID, err)
	}
	if err := ensureOwned(tx, &models.Branch{}, m.TenantID, m.BranchID, ErrBranchNotFound); err != nil {
		return nil, err
	}
	if err := ensureOwned(tx, &models.Product{}, m.TenantID, m.ProductID, ErrProductNotFound); err != nil {
		return nil, err
	}

	stock, err := lockCurrentStock(tx, m.TenantID, m.BranchID, m.ProductID)
	if err != nil {
		return nil, err
	}

	prev := stock.Quantity
	delta := m.delta(prev)
	if m.Type == models.StockAdjustment && delta == 0 {
		return nil, ErrNoChange
	}
	next := prev + delta
	if next < 0 {
		return nil, fmt.Errorf("%w: available %d, requested %d", ErrInsufficientStock, prev, -delta)
	}

	if m.CorrelationID == "" {
		m.CorrelationID = uuid.NewString()
	}

	entry := models.StockLedger{
		TenantID:      m.TenantID,
		BranchID:      m.BranchID,
		ProductID:     m.ProductID,
		Type:          m.Type,
		Quantity:      delta,
		PreviousStock: prev,
		CurrentStock:  next,
		Reason:        m.Reason,
		ReferenceType: m.ReferenceType,
		ReferenceID:   m.ReferenceID,
		CorrelationID: m.CorrelationID,
		CreatedBy:     m.UserID,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("write ledger entry: %w", err)
	}

	active := stock.IsActive
	switch {
	case next == 0 && tenant.AutoDeactivateOnZeroStock:
		active = false
	case next > 0:
		active = true
	}

	if err := tx.Model(&models.CurrentStock{}).Where("id = ?", stock.ID).Updates(map[string]interface{}{
		"quantity":       next,
		"is_active":      active,
		"last_ledger_id": entry.ID,
	}).Error; err != nil {
		return nil, fmt.Errorf("update current stock: %w", err)
	}

	return &entry, nil
}

func ensureOwned(tx *gorm.DB, model interface{}, tenantID, id uint, notFound error) error {
	var count int64
	if err := tx.Model(model).Where("id = ? AND tenant_id = ?", id, tenantID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return notFound
	}
	return nil
}

// lockCurrentStock returns the pair's current stock row locked for update,
// creating an empty one first when the pair has never moved.
func lockCurrentStock(tx *gorm.DB, tenantID, branchID, productID uint) (*models.CurrentStock, error) {
	var stock models.CurrentStock
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("branch_id = ? AND product_id = ?", branchID, productID).
		First(&stock).Error
	if err == nil {
		return &stock, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lock current stock: %w", err)
	}

	seed := models.CurrentStock{
		TenantID:  tenantID,
		BranchID:  branchID,
		ProductID: productID,
		IsActive:  true,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, fmt.Errorf("create current stock: %w", err)
	}

	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("branch_id = ? AND product_id = ?", branchID, productID).
		First(&stock).Error; err != nil {
		return nil, fmt.Errorf("lock current stock: %w", err)
	}
	return &stock, nil
}

// Mismatch is a pair whose current stock disagrees with its newest ledger entry.
type Mismatch struct {
	BranchID        uint  `json:"branch_id"`
	ProductID       uint  `json:"product_id"`
	CurrentQuantity int64 `json:"current_quantity"`
	LedgerBalance   int64 `json:"ledger_balance"`
}

// Verify lists every pair of the tenant (optionally one branch) breaking the
// current stock == latest ledger balance invariant. An empty result is healthy.
func Verify(db *gorm.DB, tenantID uint, branchID *uint) ([]Mismatch, error) {
	query := `
		SELECT cs.branch_id, cs.product_id,
		       cs.quantity AS current_quantity,
		       COALESCE(l.current_stock, 0) AS ledger_balance
		FROM current_stocks cs
		LEFT JOIN stock_ledgers l ON l.id = (
			SELECT MAX(l2.id) FROM stock_ledgers l2
			WHERE l2.branch_id = cs.branch_id AND l2.product_id = cs.product_id
		)
		WHERE cs.tenant_id = ? AND cs.quantity <> COALESCE(l.current_stock, 0)`
	args := []interface{}{tenantID}
	if branchID != nil {
		query += " AND cs.branch_id = ?"
		args = append(args, *branchID)
	}
	query += " ORDER BY cs.branch_id, cs.product_id"

	out := make([]Mismatch, 0)
	if err := db.Raw(query, args...).Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("verify stock: %w", err)
	}
	return out, nil
}
