// Package model contains the domain types of the operation pipeline engine:
// operations, steps, resources, templates and the shared status enum.
//
// The types here are persistence- and transport-agnostic. The aggregate
// status rules (RecomputeAggregate, SuccessStatusFor, FailureStatusFor) are
// pure functions over these types; persistence lives in the store package and
// the state machine that drives the transitions lives in the engine package.
package model
