package utils

import "testing"

func TestEvaluateCountFormula(t *testing.T) {
	cases := []struct {
		expr string
		want int
	}{
		{"12", 12},
		{"3*12", 36},
		{"3*12+5", 41},
		{"(2*6)+3", 15},
		{"2*(6+3)", 18},
		{"100-4*12", 52},
		{"48/4", 12},
		{"(10-4)/2", 3},
		{"-(2*3)+10", 4},
		{" 7 + 1 ", 8},
		{"0", 0},
	}
	for _, tc := range cases {
		got, err := EvaluateCountFormula(tc.expr)
		if err != nil {
			t.Errorf("EvaluateCountFormula(%q): unexpected error %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("EvaluateCountFormula(%q) = %d, want %d", tc.expr, got, tc.want)
		}
	}
}

func TestEvaluateCountFormulaRejectsInvalidInput(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"5/2",     // not a whole number
		"1/0",     // divide by zero
		"3*",      // dangling operator
		"(2+3",    // unbalanced paren
		"2+3)",    // trailing garbage
		"12 7",    // two numbers, no operator
		"abc",     // not arithmetic
		"2**3",    // unsupported operator
	}
	for _, expr := range cases {
		if _, err := EvaluateCountFormula(expr); err == nil {
			t.Errorf("EvaluateCountFormula(%q): expected error, got nil", expr)
			continue
		} else if !HasErrorCode(err, ErrorCodeValidation) {
			t.Errorf("EvaluateCountFormula(%q): expected VALIDATION error, got %v", expr, err)
		}
	}
}
