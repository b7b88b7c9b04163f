package hil

import "github.com/dshills/bankflow/graph"

// Predicate combinators. Thresholds like "high amount OR conversational
// completion OR low confidence" compose from small named predicates
// instead of one opaque function.

// Any reports true when at least one predicate matches.
func Any[S any](predicates ...graph.Predicate[S]) graph.Predicate[S] {
	return func(state S) bool {
		for _, p := range predicates {
			if p(state) {
				return true
			}
		}
		return false
	}
}

// All reports true when every predicate matches.
func All[S any](predicates ...graph.Predicate[S]) graph.Predicate[S] {
	return func(state S) bool {
		for _, p := range predicates {
			if !p(state) {
				return false
			}
		}
		return true
	}
}

// Not inverts a predicate.
func Not[S any](p graph.Predicate[S]) graph.Predicate[S] {
	return func(state S) bool {
		return !p(state)
	}
}
