package utils

import "testing"

func TestChunk(t *testing.T) {
	cases := []struct {
		name  string
		items []int
		size  int
		want  [][]int
	}{
		{"even split", []int{1, 2, 3, 4}, 2, [][]int{{1, 2}, {3, 4}}},
		{"remainder", []int{1, 2, 3, 4, 5}, 2, [][]int{{1, 2}, {3, 4}, {5}}},
		{"oversized chunk", []int{1, 2}, 10, [][]int{{1, 2}}},
		{"empty input", nil, 3, nil},
		{"zero size", []int{1}, 0, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Chunk(tc.items, tc.size)
			if len(got) != len(tc.want) {
				t.Fatalf("expected %d chunks, got %d", len(tc.want), len(got))
			}
			for i := range got {
				if len(got[i]) != len(tc.want[i]) {
					t.Fatalf("chunk %d: expected %v, got %v", i, tc.want[i], got[i])
				}
				for j := range got[i] {
					if got[i][j] != tc.want[i][j] {
						t.Fatalf("chunk %d: expected %v, got %v", i, tc.want[i], got[i])
					}
				}
			}
		})
	}
}
