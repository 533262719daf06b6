package service

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidInput is returned for empty lot lists and non-positive lots.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDegenerateResult is returned when the total quantity is zero.
	ErrDegenerateResult = errors.New("degenerate result")
)

// Purchase is a single buy lot. Build it with NewPurchase.
type Purchase struct {
	quantity decimal.Decimal
	price    decimal.Decimal
}

// NewPurchase validates and builds a purchase lot.
func NewPurchase(quantity, price decimal.Decimal) (Purchase, error) {
	if !quantity.IsPositive() {
		return Purchase{}, fmt.Errorf("%w: quantity must be positive, got %s", ErrInvalidInput, quantity)
	}
	if !price.IsPositive() {
		return Purchase{}, fmt.Errorf("%w: price must be positive, got %s", ErrInvalidInput, price)
	}
	return Purchase{quantity: quantity, price: price}, nil
}

func (p Purchase) Quantity() decimal.Decimal { return p.quantity }
func (p Purchase) Price() decimal.Decimal    { return p.price }

// WeightedAveragePrice returns sum(quantity*price) / sum(quantity).
//
// Lots are checked again here, so a zero-value Purchase is rejected as well.
func WeightedAveragePrice(purchases []Purchase) (decimal.Decimal, error) {
	if len(purchases) == 0 {
		return decimal.Zero, fmt.Errorf("%w: purchase list is empty", ErrInvalidInput)
	}

	totalCost := decimal.Zero
	totalQuantity := decimal.Zero
	for i, p := range purchases {
		if !p.quantity.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: lot %d has non-positive quantity %s", ErrInvalidInput, i, p.quantity)
		}
		if !p.price.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: lot %d has non-positive price %s", ErrInvalidInput, i, p.price)
		}
		totalCost = totalCost.Add(p.quantity.Mul(p.price))
		totalQuantity = totalQuantity.Add(p.quantity)
	}

	if totalQuantity.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: total quantity is zero", ErrDegenerateResult)
	}
	return totalCost.Div(totalQuantity), nil
}
