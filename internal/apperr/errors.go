// Package apperr holds the machine-readable error codes returned to API callers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation          Code = "VALIDATION_FAILED"
	CodeEventNotFound       Code = "EVENT_NOT_FOUND"
	CodeEventNotPurchasable Code = "EVENT_NOT_PURCHASABLE"
	CodeCapacityExceeded    Code = "CAPACITY_EXCEEDED"
	CodeInventoryNotFound   Code = "INVENTORY_NOT_FOUND"
	CodeSalesNotStarted     Code = "SALES_NOT_STARTED"
	CodeSalesEnded          Code = "SALES_ENDED"
	CodeMaxPerOrder         Code = "MAX_PER_ORDER_EXCEEDED"
	CodeRestrictedProduct   Code = "RESTRICTED_PRODUCT_REQUIRES_TICKET"
	CodeDiscountInvalid     Code = "DISCOUNT_INVALID"
	CodeOrderNotFound       Code = "ORDER_NOT_FOUND"
	CodeOrderNotPaid        Code = "ORDER_NOT_PAID"
	CodeExceedsRefundable   Code = "EXCEEDS_REFUNDABLE"
	CodeAlreadyRefunded     Code = "ALREADY_REFUNDED"
	CodeIdempotency         Code = "IDEMPOTENCY_CONFLICT"
	CodeTicketNotFound      Code = "TICKET_NOT_FOUND"
	CodeTicketVoid          Code = "TICKET_VOID"
	CodeTicketCheckedIn     Code = "TICKET_ALREADY_CHECKED_IN"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeForbidden           Code = "FORBIDDEN"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeInventoryBusy       Code = "INVENTORY_BUSY"
	CodeProvider            Code = "PAYMENT_PROVIDER_ERROR"
	CodeInternal            Code = "INTERNAL"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:          {http.StatusBadRequest, false, "validation failed", true},
	CodeEventNotFound:       {http.StatusNotFound, false, "event not found", false},
	CodeEventNotPurchasable: {http.StatusConflict, false, "event is not open for purchase", false},
	CodeCapacityExceeded:    {http.StatusConflict, false, "not enough capacity left", true},
	CodeInventoryNotFound:   {http.StatusUnprocessableEntity, false, "item is not sold for this event", true},
	CodeSalesNotStarted:     {http.StatusConflict, false, "sales have not started", true},
	CodeSalesEnded:          {http.StatusConflict, false, "sales have ended", true},
	CodeMaxPerOrder:         {http.StatusUnprocessableEntity, false, "per-order maximum exceeded", true},
	CodeRestrictedProduct:   {http.StatusUnprocessableEntity, false, "product requires a ticket in the same order", true},
	CodeDiscountInvalid:     {http.StatusUnprocessableEntity, false, "discount code cannot be applied", true},
	CodeOrderNotFound:       {http.StatusNotFound, false, "order not found", false},
	CodeOrderNotPaid:        {http.StatusConflict, false, "order is not paid", false},
	CodeExceedsRefundable:   {http.StatusUnprocessableEntity, false, "amount exceeds refundable balance", true},
	CodeAlreadyRefunded:     {http.StatusConflict, false, "order already refunded", false},
	CodeIdempotency:         {http.StatusConflict, false, "idempotency key reused with different parameters", false},
	CodeTicketNotFound:      {http.StatusNotFound, false, "ticket not found", false},
	CodeTicketVoid:          {http.StatusConflict, false, "ticket is void", false},
	CodeTicketCheckedIn:     {http.StatusConflict, false, "ticket already checked in", true},
	CodeUnauthorized:        {http.StatusUnauthorized, false, "authentication required", false},
	CodeForbidden:           {http.StatusForbidden, false, "not allowed", false},
	CodeRateLimited:         {http.StatusTooManyRequests, true, "too many requests", false},
	CodeInventoryBusy:       {http.StatusServiceUnavailable, true, "inventory is busy, retry shortly", false},
	CodeProvider:            {http.StatusBadGateway, true, "payment provider unavailable", false},
	CodeInternal:            {http.StatusInternalServerError, true, "internal server error", false},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the first *Error in err's chain, or nil.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns err's code, CodeInternal for untyped errors.
func CodeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.code
	}
	return CodeInternal
}

func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
