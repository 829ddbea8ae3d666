package live

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by repositories when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// ErrNegativeStock is returned by AdjustStock when the delta would take the
// stock on hand below zero; the stock is left unchanged.
var ErrNegativeStock = errors.New("stock would go negative")

// ErrConflict is returned when an insert collides with a uniqueness rule,
// such as a second open basket for the same customer and live.
var ErrConflict = errors.New("conflict")

type Kind int

const (
	KindUnknown Kind = iota
	KindInsufficientStock
	KindNotFound
	KindBackend
	KindPartialFinalization
	KindInvalidState
	KindInProgress
)

func (k Kind) String() string {
	switch k {
	case KindInsufficientStock:
		return "insufficient_stock"
	case KindNotFound:
		return "not_found"
	case KindBackend:
		return "backend_failure"
	case KindPartialFinalization:
		return "finalization_partial_failure"
	case KindInvalidState:
		return "invalid_state"
	case KindInProgress:
		return "in_progress"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by the basket and finalization
// services. Exactly one group of detail fields is meaningful per Kind.
type Error struct {
	Kind Kind
	Op   string

	// NotFound
	Entity string
	ID     string

	// InsufficientStock
	ProductID string
	Requested int
	Available int

	// PartialFinalization
	BasketID  string
	Step      Step
	Converted int

	Msg string
	Err error
}

func (e *Error) Error() string {
	var s string
	switch e.Kind {
	case KindInsufficientStock:
		s = fmt.Sprintf("%s: insufficient stock for product %s: requested %d, available %d", e.Op, e.ProductID, e.Requested, e.Available)
	case KindNotFound:
		s = fmt.Sprintf("%s: %s %s not found", e.Op, e.Entity, e.ID)
	case KindPartialFinalization:
		s = fmt.Sprintf("%s: stopped at basket %s (%s) after %d converted baskets", e.Op, e.BasketID, e.Step, e.Converted)
	default:
		s = fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil && !(e.Kind == KindNotFound && errors.Is(e.Err, ErrNotFound)) {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the Kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func insufficient(op, productID string, requested, available int) *Error {
	return &Error{Kind: KindInsufficientStock, Op: op, ProductID: productID, Requested: requested, Available: available}
}

func invalidState(op, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// fromRepo classifies a repository error: ErrNotFound becomes KindNotFound,
// everything else is a backend failure.
func fromRepo(op, entity, id string, err error) *Error {
	if errors.Is(err, ErrNotFound) {
		return &Error{Kind: KindNotFound, Op: op, Entity: entity, ID: id, Err: err}
	}
	return &Error{Kind: KindBackend, Op: op, Entity: entity, ID: id, Err: err}
}

func backend(op string, err error) *Error {
	return &Error{Kind: KindBackend, Op: op, Err: err}
}
