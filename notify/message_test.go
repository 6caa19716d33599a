package notify

import "testing"

func TestFromSelf(t *testing.T) {
	payload, err := encodeMessage("inst_a")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		payload string
		self    string
		want    bool
	}{
		{"own message", payload, "inst_a", true},
		{"peer message", payload, "inst_b", false},
		{"no identity", payload, "", false},
		{"garbage", "not json", "inst_a", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fromSelf(tt.payload, tt.self); got != tt.want {
				t.Errorf("fromSelf = %v, want %v", got, tt.want)
			}
		})
	}
}
