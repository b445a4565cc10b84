// Package strategy maps tasks to execution strategies and implements the
// six execution disciplines of the hexaflow engine.
//
// Strategy selection ([Select]) is a pure function of a task's type,
// metadata, and optional preferred strategy; identical inputs always
// produce the same strategy.
//
// A [Runner] executes a batch of tasks under one strategy against the
// bounded worker pool. Every strategy records an individual result per
// task; a failed task never aborts its siblings, it only blocks tasks
// that declare a dependency on it.
package strategy
