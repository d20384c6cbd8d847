package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// DefaultMemoLimit is the memo length accepted when none is configured.
const DefaultMemoLimit = 64

// TipRequest is the user's input for one tip.
type TipRequest struct {
	Recipient string
	Memo      string
	AmountEth string
}

// ValidationError is a local input failure. It never reaches the network.
// Errors compare equal under errors.Is when their codes match.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	var ve *ValidationError
	if !errors.As(target, &ve) {
		return false
	}
	return ve.Code == e.Code
}

var (
	ErrEmptyRecipient    = &ValidationError{Code: "EmptyRecipient", Message: "Recipient is required"}
	ErrNonPositiveAmount = &ValidationError{Code: "NonPositiveAmount", Message: "Amount must be greater than 0."}
	ErrInvalidAmount     = &ValidationError{Code: "InvalidAmount", Message: "Amount must be a decimal number."}
	ErrMemoTooLong       = &ValidationError{Code: "MemoTooLong", Message: "Memo is too long."}
)

// Validate checks req against the local rules and returns it with
// surrounding whitespace removed from the recipient and amount. A
// non-positive memoLimit selects DefaultMemoLimit.
func Validate(req TipRequest, memoLimit int) (TipRequest, error) {
	if memoLimit <= 0 {
		memoLimit = DefaultMemoLimit
	}

	req.Recipient = strings.TrimSpace(req.Recipient)
	req.AmountEth = strings.TrimSpace(req.AmountEth)

	if req.Recipient == "" {
		return TipRequest{}, ErrEmptyRecipient
	}

	if req.AmountEth == "" {
		return TipRequest{}, ErrNonPositiveAmount
	}
	amount, err := decimal.NewFromString(req.AmountEth)
	if err != nil {
		return TipRequest{}, ErrInvalidAmount
	}
	if !amount.IsPositive() {
		return TipRequest{}, ErrNonPositiveAmount
	}

	if err := CheckMemo(req.Memo, memoLimit); err != nil {
		return TipRequest{}, err
	}

	return req, nil
}

// CheckMemo reports ErrMemoTooLong when memo has more than limit
// characters. A non-positive limit selects DefaultMemoLimit.
func CheckMemo(memo string, limit int) error {
	if limit <= 0 {
		limit = DefaultMemoLimit
	}
	if utf8.RuneCountInString(memo) > limit {
		return &ValidationError{
			Code:    ErrMemoTooLong.Code,
			Message: fmt.Sprintf("Memo is limited to %d characters.", limit),
		}
	}
	return nil
}
