package service

import "errors"

var (
	ErrInvalidDate    = errors.New("invalid date, expected YYYY-MM-DD")
	ErrPipelineBusy   = errors.New("a pipeline run is already in progress")
	ErrMissingProduct = errors.New("product_id is required")
)
