package handler

import (
	"strings"

	dErrors "storefront/pkg/domain-errors"
)

type AddItemRequest struct {
	ProductID string `json:"product_id" validate:"required,max=64"`
}

func (r *AddItemRequest) Validate() error {
	r.ProductID = strings.TrimSpace(r.ProductID)
	if r.ProductID == "" {
		return dErrors.New(dErrors.CodeValidation, "product_id is required")
	}
	return nil
}

// SetQuantityRequest sets a line quantity. Zero removes the line.
type SetQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required,min=0,max=99"`
}

func (r *SetQuantityRequest) Validate() error {
	return nil
}

// ManualVerificationRequest carries a YYYY-MM-DD birth date for the local
// age check.
type ManualVerificationRequest struct {
	BirthDate string `json:"birth_date" validate:"required,max=32"`
}

func (r *ManualVerificationRequest) Validate() error {
	r.BirthDate = strings.TrimSpace(r.BirthDate)
	if r.BirthDate == "" {
		return dErrors.New(dErrors.CodeValidation, "birth_date is required")
	}
	return nil
}
