package testutil

import "testing"

// Given, When, and Then wrap subtests so scenario tests read as prose in
// verbose output without pulling in a BDD framework. Steps at the same level
// run sequentially and may share closure state.
func Given(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Given "+desc, fn)
}

func When(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("When "+desc, fn)
}

func Then(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Then "+desc, fn)
}
