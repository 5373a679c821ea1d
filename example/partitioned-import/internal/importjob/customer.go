package importjob

import (
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
)

// Customer is one row of a customer CSV file: id,name,email.
type Customer struct {
	ID    int64  `gorm:"primaryKey;autoIncrement:false"`
	Name  string `gorm:"size:255;not null"`
	Email string `gorm:"size:255;not null"`
}

func (Customer) TableName() string { return "customers" }

// ParseCustomer maps one CSV line to a Customer. Quoted fields may contain commas.
func ParseCustomer(line string, lineNumber int64) (Customer, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = 3
	r.TrimLeadingSpace = true
	fields, err := r.Read()
	if err != nil {
		return Customer{}, fmt.Errorf("line %d: %w", lineNumber, err)
	}
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Customer{}, fmt.Errorf("line %d: invalid id %q: %w", lineNumber, fields[0], err)
	}
	return Customer{ID: id, Name: strings.TrimSpace(fields[1]), Email: fields[2]}, nil
}

// NormalizeCustomer lower-cases the e-mail address. Customers without one are filtered.
func NormalizeCustomer(ctx context.Context, c Customer) (*Customer, error) {
	email := strings.ToLower(strings.TrimSpace(c.Email))
	if email == "" {
		return nil, nil
	}
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: customer %d has malformed e-mail %q", ErrInvalidCustomer, c.ID, c.Email)
	}
	c.Email = email
	return &c, nil
}
