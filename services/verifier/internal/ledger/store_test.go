package ledger

import "testing"

func TestCapLimit(t *testing.T) {
	cases := []struct {
		name  string
		limit int
		want  int
	}{
		{"zero falls back to max", 0, maxListLimit},
		{"negative falls back to max", -5, maxListLimit},
		{"in range passes through", 50, 50},
		{"exactly max passes through", maxListLimit, maxListLimit},
		{"over max is clamped", maxListLimit + 1, maxListLimit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := capLimit(tc.limit); got != tc.want {
				t.Fatalf("capLimit(%d) = %d, want %d", tc.limit, got, tc.want)
			}
		})
	}
}
