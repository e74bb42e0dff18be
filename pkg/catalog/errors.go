package catalog

import "errors"

var (
	ErrPlanNotFound  = errors.New("plan not found")
	ErrInvalidPlan   = errors.New("invalid plan configuration")
	ErrDuplicatePlan = errors.New("plan already exists")
)
