package pos

import "errors"

var (
	ErrInvalidTransition        = errors.New("invalid transition")
	ErrAlreadyTerminal          = errors.New("already terminal")
	ErrTableNotAvailable        = errors.New("table not available")
	ErrNoOpenOrder              = errors.New("no open order")
	ErrTableInUse               = errors.New("table still has an open order")
	ErrVoucherNotApplicable     = errors.New("voucher not applicable")
	ErrRedemptionExceedsBalance = errors.New("redemption exceeds balance")
	ErrConflict                 = errors.New("conflict")
	ErrDispatchFailure          = errors.New("dispatch failure")
	ErrNegativeAmount           = errors.New("negative payable amount")

	ErrTableNotFound   = errors.New("table not found")
	ErrOrderNotFound   = errors.New("order not found")
	ErrItemNotFound    = errors.New("order item not found")
	ErrDishNotFound    = errors.New("dish not found")
	ErrDishUnavailable = errors.New("dish unavailable")
	ErrMemberNotFound  = errors.New("member not found")

	ErrEmptyOrder         = errors.New("order requires at least one item")
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrInvalidPoints      = errors.New("invalid redeem points")
	ErrSameTable          = errors.New("source and target table are the same")
	ErrItemCancelDisabled = errors.New("item cancellation disabled")
	ErrTableDisabled      = errors.New("table disabled")
	ErrDuplicate          = errors.New("already exists")
)
