package storage

import "testing"

func TestRolledOverCount(t *testing.T) {
	cases := []struct {
		name     string
		lastDate string
		count    int
		today    string
		want     int
	}{
		{"same day keeps count", "2025-06-01", 1, "2025-06-01", 1},
		{"previous day resets", "2025-05-31", 1, "2025-06-01", 0},
		{"old row resets", "2024-12-25", 7, "2025-06-01", 0},
		{"same day zero stays zero", "2025-06-01", 0, "2025-06-01", 0},
		{"future date resets", "2025-06-02", 3, "2025-06-01", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := RolledOverCount(tc.lastDate, tc.count, tc.today)
			if got != tc.want {
				t.Errorf("RolledOverCount(%q, %d, %q) = %d, want %d",
					tc.lastDate, tc.count, tc.today, got, tc.want)
			}
		})
	}
}
