package domain

// Outcome describes what the intake loop did with one delivery
type Outcome string

// Delivery outcomes
const (
	OutcomeProcessed Outcome = "PROCESSED"
	OutcomeSkipped   Outcome = "SKIPPED"
	OutcomeFailed    Outcome = "FAILED"
	OutcomeMalformed Outcome = "MALFORMED"
	OutcomeDeferred  Outcome = "DEFERRED"
	// OutcomeLost is a job that could not run after its message was auto-acknowledged
	OutcomeLost Outcome = "LOST"
)
