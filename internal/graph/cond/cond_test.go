package cond

import "testing"

func TestEvaluate_Comparisons(t *testing.T) {
	state := map[string]any{
		"status":  "ok",
		"count":   float64(3),
		"ready":   true,
		"tags":    []any{"a", "b"},
		"missing": nil,
	}
	cases := []struct {
		cond string
		want bool
	}{
		{"", true},
		{"status == 'ok'", true},
		{`status == "error"`, false},
		{"status != 'error'", true},
		{"count > 2", true},
		{"count >= 3", true},
		{"count < 3", false},
		{"count <= 2.5", false},
		{"count == 3", true},
		{"ready", true},
		{"!ready", false},
		{"not ready", false},
		{"missing == null", true},
		{"absent == null", true},
		{"status == 'ok' && count > 1", true},
		{"status == 'ok' and count > 10", false},
		{"count > 10 || ready", true},
		{"count > 10 or status == 'error'", false},
		{"'a' in tags", true},
		{"'z' in tags", false},
		{"'z' not in tags", true},
		{"'z' in status", false},
		{"'o' in status", true},
		{"status in ['ok', 'done']", true},
		{"status in ['error']", false},
		{"len(tags) == 2", true},
		{"len(status) > 1", true},
		{"len(absent) == 0", true},
		{"(count > 1) && (status == 'ok')", true},
		{"count == -1", false},
	}
	for _, tc := range cases {
		if got := Evaluate(tc.cond, state); got != tc.want {
			t.Errorf("Evaluate(%q) = %v, want %v", tc.cond, got, tc.want)
		}
	}
}

func TestEvaluate_BadConditionsAreFalse(t *testing.T) {
	state := map[string]any{"x": float64(1)}
	for _, cond := range []string{
		"x == ",
		"x = 1",
		"x ==",
		"((x)",
		"'unterminated",
		"x > 'one'", // eval error: cannot order number vs string
	} {
		if Evaluate(cond, state) {
			t.Errorf("Evaluate(%q) should be false", cond)
		}
	}
}

func TestParse_RejectsEscapeHatches(t *testing.T) {
	for _, cond := range []string{
		"obj.attr == 1",
		"x.__class__ == 1",
		"__import__ == 1",
		"exec('rm')",
		"foo(1)",
		"tags[0] == 'a'",
		"len.bit_length == 1",
	} {
		if err := Check(cond); err == nil {
			t.Errorf("Check(%q) should fail", cond)
		}
	}
}

func TestParse_LenIsTheOnlyCallable(t *testing.T) {
	if err := Check("len(tags) > 0"); err != nil {
		t.Fatalf("len call rejected: %v", err)
	}
	if err := Check("max(tags) > 0"); err == nil {
		t.Fatalf("non-len call accepted")
	}
}

func TestEvaluate_NumbersCompareAcrossIntAndFloat(t *testing.T) {
	state := map[string]any{"n": 5} // ints appear when state never crossed JSON
	if !Evaluate("n == 5.0", state) {
		t.Fatalf("int state value should equal float literal")
	}
	if !Evaluate("n > 4", state) {
		t.Fatalf("int state value should order against literals")
	}
}
