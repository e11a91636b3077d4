package edit

import "testing"

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{in: "42", want: 42},
		{in: "1.5", want: 1.5},
		{in: "01:30", want: 90},
		{in: "1:02:03", want: 3723},
		{in: "0:00:07.25", want: 7.25},
		{in: " 2:00 ", want: 120},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "1:2:3:4", wantErr: true},
		{in: "1:75", wantErr: true},
		{in: "-5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseTimestamp(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseTimestamp(%q) = %v, %v, want %v", tt.in, got, err, tt.want)
			}
		})
	}
}
