package calc

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrExceedsBalance        = errors.New("amount exceeds balance")
	ErrBorrowCapReached      = errors.New("borrow cap reached")
	ErrExceedsBorrowCapacity = errors.New("amount exceeds available borrows")
)

// ValidateAmount rejects nil, zero and negative amounts.
func ValidateAmount(amount *big.Int, operation string) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("invalid %s amount: %w", operation, ErrInvalidAmount)
	}
	return nil
}

// ValidateDeposit checks amount against the spendable balance.
func ValidateDeposit(amount, balance *big.Int) error {
	if err := ValidateAmount(amount, "deposit"); err != nil {
		return err
	}
	if amount.Cmp(orZero(balance)) > 0 {
		return fmt.Errorf("deposit %s > balance %s: %w", amount, orZero(balance), ErrExceedsBalance)
	}
	return nil
}

// ValidateBorrow checks a GHO amount against the account's headroom.
func ValidateBorrow(amount *big.Int, d AaveData) error {
	if err := ValidateAmount(amount, "borrow"); err != nil {
		return err
	}
	if d.BorrowCapReached {
		return ErrBorrowCapReached
	}
	if amount.Cmp(orZero(d.MaxAdditionalGho)) > 0 {
		return fmt.Errorf("borrow %s > max %s: %w", amount, orZero(d.MaxAdditionalGho), ErrExceedsBorrowCapacity)
	}
	return nil
}
