package main

import "testing"

func TestParseCounts(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    int64 // total amount
		wantErr bool
	}{
		{"empty", nil, 0, false},
		{"several", []string{"10000=3", "100=7"}, 30700, false},
		{"missing separator", []string{"10000"}, 0, true},
		{"bad count", []string{"1000=x"}, 0, true},
		{"bad denomination", []string{"yen=1"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counts, err := parseCounts(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			var total int64
			for _, c := range counts {
				total += c.Amount()
			}
			if total != tt.want {
				t.Fatalf("total = %d, want %d", total, tt.want)
			}
		})
	}
}
