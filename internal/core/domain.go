package core

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	KindExpense Kind = "expense"
	KindIncome  Kind = "income"
)

const (
	MaxCategoryName = 50
	MaxDescription  = 500
)

type (
	// Kind distinguishes the two entry tables. Expenses and incomes share
	// one shape and one repository implementation.
	Kind string

	Category struct {
		ID        string    `json:"id"`
		Name      string    `json:"name"`
		Icon      string    `json:"icon"`
		Color     string    `json:"color"`
		IsDefault bool      `json:"is_default"`
		CreatedAt time.Time `json:"created_at"`
	}

	// CategoryInput carries the caller-settable fields of a new category.
	CategoryInput struct {
		Name  string `json:"name"`
		Icon  string `json:"icon"`
		Color string `json:"color"`
	}

	// CategoryPatch is a partial update; nil fields are left unchanged.
	CategoryPatch struct {
		Name  *string `json:"name,omitempty"`
		Icon  *string `json:"icon,omitempty"`
		Color *string `json:"color,omitempty"`
	}

	Entry struct {
		ID          string          `json:"id"`
		Value       decimal.Decimal `json:"value"`
		CategoryID  string          `json:"category_id"`
		Date        string          `json:"date"`
		Description string          `json:"description"`
		CreatedAt   time.Time       `json:"created_at"`
		UpdatedAt   time.Time       `json:"updated_at"`
		Synced      bool            `json:"synced"`
	}

	EntryInput struct {
		Value       decimal.Decimal `json:"value"`
		CategoryID  string          `json:"category_id"`
		Date        string          `json:"date"`
		Description string          `json:"description"`
	}

	EntryPatch struct {
		Value       *decimal.Decimal `json:"value,omitempty"`
		CategoryID  *string          `json:"category_id,omitempty"`
		Date        *string          `json:"date,omitempty"`
		Description *string          `json:"description,omitempty"`
	}

	// EntryFilter narrows FetchAll. Month is "YYYY-MM"; empty fields match all.
	EntryFilter struct {
		Month      string `json:"month,omitempty"`
		CategoryID string `json:"category_id,omitempty"`
	}
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("record not found")
	ErrDefaultCategory = errors.New("default categories cannot be modified or deleted")
	ErrCategoryInUse   = errors.New("category still has entries")
	ErrEmptyPatch      = errors.New("nothing to update")

	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidDate      = errors.New("invalid date")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrEmptyDescription = errors.New("empty description")
	ErrEmptyCategory    = errors.New("empty category")
)

var (
	MaxValue = decimal.RequireFromString("999999999.99")

	colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)
	datePattern  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	monthPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)
)

// ValidationError reports the offending field. It matches ErrValidation
// with errors.Is so callers can branch on the category of failure.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func (k Kind) IsValid() bool {
	return k == KindExpense || k == KindIncome
}

// Table returns the storage table holding entries of this kind.
func (k Kind) Table() string {
	if k == KindIncome {
		return "incomes"
	}
	return "expenses"
}

// IDPrefix returns the prefix used for generated ids.
func (k Kind) IDPrefix() string {
	if k == KindIncome {
		return "inc"
	}
	return "exp"
}

func (in CategoryInput) Normalize() CategoryInput {
	return CategoryInput{
		Name:  strings.TrimSpace(in.Name),
		Icon:  strings.TrimSpace(in.Icon),
		Color: strings.TrimSpace(in.Color),
	}
}

func (in CategoryInput) Validate() error {
	if err := validateCategoryName(in.Name); err != nil {
		return err
	}
	if strings.TrimSpace(in.Icon) == "" {
		return invalid("icon", "required")
	}
	return validateColor(in.Color)
}

func (p CategoryPatch) IsEmpty() bool {
	return p.Name == nil && p.Icon == nil && p.Color == nil
}

// Apply returns c with the patch applied. The result still needs Validate.
func (p CategoryPatch) Apply(c Category) Category {
	if p.Name != nil {
		c.Name = strings.TrimSpace(*p.Name)
	}
	if p.Icon != nil {
		c.Icon = strings.TrimSpace(*p.Icon)
	}
	if p.Color != nil {
		c.Color = strings.TrimSpace(*p.Color)
	}
	return c
}

func (c Category) Validate() error {
	return CategoryInput{Name: c.Name, Icon: c.Icon, Color: c.Color}.Validate()
}

func validateCategoryName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return invalid("name", "required")
	}
	if utf8.RuneCountInString(name) > MaxCategoryName {
		return invalid("name", fmt.Sprintf("must be at most %d characters", MaxCategoryName))
	}
	return nil
}

func validateColor(color string) error {
	if !colorPattern.MatchString(color) {
		return invalid("color", "must be a #RRGGBB hex color")
	}
	return nil
}

func (in EntryInput) Normalize() EntryInput {
	return EntryInput{
		Value:       in.Value,
		CategoryID:  strings.TrimSpace(in.CategoryID),
		Date:        strings.TrimSpace(in.Date),
		Description: strings.TrimSpace(in.Description),
	}
}

func (in EntryInput) Validate() error {
	if err := ValidateValue(in.Value); err != nil {
		return err
	}
	if strings.TrimSpace(in.CategoryID) == "" {
		return invalid("category_id", ErrEmptyCategory.Error())
	}
	if err := ValidateDate(in.Date); err != nil {
		return err
	}
	return validateDescription(in.Description)
}

func (p EntryPatch) IsEmpty() bool {
	return p.Value == nil && p.CategoryID == nil && p.Date == nil && p.Description == nil
}

func (p EntryPatch) Apply(e Entry) Entry {
	if p.Value != nil {
		e.Value = *p.Value
	}
	if p.CategoryID != nil {
		e.CategoryID = strings.TrimSpace(*p.CategoryID)
	}
	if p.Date != nil {
		e.Date = strings.TrimSpace(*p.Date)
	}
	if p.Description != nil {
		e.Description = strings.TrimSpace(*p.Description)
	}
	return e
}

func (e Entry) Validate() error {
	return EntryInput{
		Value:       e.Value,
		CategoryID:  e.CategoryID,
		Date:        e.Date,
		Description: e.Description,
	}.Validate()
}

// ValidateValue accepts strictly positive amounts up to MaxValue.
func ValidateValue(v decimal.Decimal) error {
	if !v.IsPositive() {
		return invalid("value", ErrInvalidAmount.Error()+": must be greater than zero")
	}
	if v.GreaterThan(MaxValue) {
		return invalid("value", ErrInvalidAmount.Error()+": must be at most "+MaxValue.StringFixed(2))
	}
	return nil
}

// ValidateDate checks the YYYY-MM-DD shape and that the day exists.
func ValidateDate(date string) error {
	if !datePattern.MatchString(date) {
		return invalid("date", "must be YYYY-MM-DD")
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return invalid("date", ErrInvalidDate.Error())
	}
	return nil
}

// ValidateMonth checks the YYYY-MM shape used by filters and summaries.
func ValidateMonth(month string) error {
	if !monthPattern.MatchString(month) {
		return invalid("month", "must be YYYY-MM")
	}
	if _, err := time.Parse(MonthLayout, month); err != nil {
		return invalid("month", ErrInvalidMonth.Error())
	}
	return nil
}

func (f EntryFilter) Validate() error {
	if f.Month != "" {
		return ValidateMonth(f.Month)
	}
	return nil
}

func validateDescription(desc string) error {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return invalid("description", ErrEmptyDescription.Error())
	}
	if utf8.RuneCountInString(desc) > MaxDescription {
		return invalid("description", fmt.Sprintf("must be at most %d characters", MaxDescription))
	}
	return nil
}
