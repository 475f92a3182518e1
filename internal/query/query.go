// Package query parses the list parameters shared by the list endpoints.
package query

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const DateLayout = "2006-01-02"

type Page struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

func (p Page) Offset() int { return (p.Page - 1) * p.Limit }

func (p Page) Apply(db *gorm.DB) *gorm.DB {
	return db.Offset(p.Offset()).Limit(p.Limit)
}

// Paging reads ?page and ?limit; limit is capped at 200.
func Paging(c *fiber.Ctx) Page {
	p := Page{Page: c.QueryInt("page", 1), Limit: c.QueryInt("limit", 50)}
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 || p.Limit > 200 {
		p.Limit = 50
	}
	return p
}

// Range is a half-open [From, To) interval of whole days.
type Range struct {
	From *time.Time
	To   *time.Time
}

// DateRange reads ?from and ?to (YYYY-MM-DD, both inclusive days).
func DateRange(c *fiber.Ctx) (Range, error) {
	var r Range
	if s := c.Query("from"); s != "" {
		d, err := time.ParseInLocation(DateLayout, s, time.Local)
		if err != nil {
			return r, fiber.NewError(fiber.StatusBadRequest, "from must be YYYY-MM-DD")
		}
		r.From = &d
	}
	if s := c.Query("to"); s != "" {
		d, err := time.ParseInLocation(DateLayout, s, time.Local)
		if err != nil {
			return r, fiber.NewError(fiber.StatusBadRequest, "to must be YYYY-MM-DD")
		}
		end := d.AddDate(0, 0, 1)
		r.To = &end
	}
	if r.From != nil && r.To != nil && !r.From.Before(*r.To) {
		return r, fiber.NewError(fiber.StatusBadRequest, "from must not be after to")
	}
	return r, nil
}

// Where restricts column to the range.
func (r Range) Where(db *gorm.DB, column string) *gorm.DB {
	if r.From != nil {
		db = db.Where(column+" >= ?", *r.From)
	}
	if r.To != nil {
		db = db.Where(column+" < ?", *r.To)
	}
	return db
}

// ParseDate parses an optional YYYY-MM-DD body field, defaulting to now.
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	d, err := time.ParseInLocation(DateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fiber.NewError(fiber.StatusBadRequest, "Date must be YYYY-MM-DD")
	}
	return d, nil
}
