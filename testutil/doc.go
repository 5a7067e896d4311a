// Package testutil provides shared test helpers: bounded test contexts,
// eventual-condition assertions, and an in-process worker node stub.
package testutil
