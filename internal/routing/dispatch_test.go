package routing

import "testing"

func TestDispatchResolve(t *testing.T) {
	table := NewDispatchTable("general").
		Exact("students_create", "students").
		Prefix("students_", "students").
		Prefix("fees_", "fees").
		Prefix("fees_reminders_", "reminders")

	cases := []struct {
		intent string
		want   string
	}{
		{"students_create", "students"},
		{"students_count", "students"},
		{"fees_pay", "fees"},
		{"fees_reminders_send", "reminders"}, // longest prefix wins
		{"greeting", "general"},
		{"", "general"},
	}
	for _, tc := range cases {
		if got := table.Resolve(tc.intent); got != tc.want {
			t.Fatalf("Resolve(%q)=%q want %q", tc.intent, got, tc.want)
		}
	}
}

func TestDispatchExactBeatsPrefix(t *testing.T) {
	table := NewDispatchTable("general").
		Exact("fees_overview", "general").
		Prefix("fees_", "fees")

	if got := table.Resolve("fees_overview"); got != "general" {
		t.Fatalf("exact rule should win, got %q", got)
	}
}

func TestDispatchRequiresDefault(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on empty default handler")
		}
	}()
	NewDispatchTable("")
}
