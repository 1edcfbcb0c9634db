package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidOrder    = errors.New("invalid order parameters")
	ErrMalformedEntry  = errors.New("malformed stream entry")
	ErrPublisherClosed = errors.New("status publisher closed")
	ErrAlreadyClaimed  = errors.New("order already claimed")
	ErrNoQuotes        = errors.New("no venue quotes available")
	ErrUnknownVenue    = errors.New("unknown venue")
	ErrRateLimited     = errors.New("rate limited")
)
