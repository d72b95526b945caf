package model

import (
	"strings"
	"testing"
)

func TestGenerateID_AllTypes(t *testing.T) {
	for _, idType := range []IDType{IDTypeRequest, IDTypeSwitch, IDTypeSession, IDTypeEvent} {
		t.Run(string(idType), func(t *testing.T) {
			id, err := GenerateID(idType)
			if err != nil {
				t.Fatalf("GenerateID(%s): %v", idType, err)
			}
			if !strings.HasPrefix(id, string(idType)+"_") {
				t.Errorf("id %q does not start with %s_", id, idType)
			}
			if !ValidateID(id) {
				t.Errorf("id %q fails validation", id)
			}
			parsed, err := ParseIDType(id)
			if err != nil {
				t.Fatalf("ParseIDType(%q): %v", id, err)
			}
			if parsed != idType {
				t.Errorf("round trip gave %q, want %q", parsed, idType)
			}
		})
	}
}

func TestGenerateID_RejectsUnknownType(t *testing.T) {
	if _, err := GenerateID("invalid"); err == nil {
		t.Error("GenerateID accepted an unknown type")
	}
}

func TestIDTypeValid(t *testing.T) {
	for _, valid := range []IDType{IDTypeRequest, IDTypeSwitch, IDTypeSession, IDTypeEvent} {
		if !valid.Valid() {
			t.Errorf("%s should be valid", valid)
		}
	}
	for _, invalid := range []IDType{"", "cmd", "task", "REQ"} {
		if invalid.Valid() {
			t.Errorf("%q should be invalid", invalid)
		}
	}
}

func TestGenerateID_Uniqueness(t *testing.T) {
	seen := make(map[string]bool, 100)
	for i := 0; i < 100; i++ {
		id, err := GenerateID(IDTypeRequest)
		if err != nil {
			t.Fatalf("GenerateID: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s after %d generations", id, i)
		}
		seen[id] = true
	}
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{"valid request", "req_1771722000_a3f2b7c1", true},
		{"valid switch", "sw_1771722060_b7c1d4e9", true},
		{"valid session", "sess_1771722000_c3d4e5f6", true},
		{"valid event", "evt_1771722600_d4e9f0a2", true},
		{"unknown prefix", "xxx_1771722000_a3f2b7c1", false},
		{"short timestamp", "req_177172200_a3f2b7c1", false},
		{"long timestamp", "req_17717220001_a3f2b7c1", false},
		{"uppercase hex", "req_1771722000_A3F2B7C1", false},
		{"short hex", "req_1771722000_a3f2b7c", false},
		{"long hex", "req_1771722000_a3f2b7c10", false},
		{"empty", "", false},
		{"no separators", "req1771722000a3f2b7c1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateID(tt.id); got != tt.valid {
				t.Errorf("ValidateID(%q) = %v, want %v", tt.id, got, tt.valid)
			}
		})
	}
}

func TestParseIDType_RejectsMalformed(t *testing.T) {
	for _, id := range []string{"invalid", "", "_1771722000_a3f2b7c1"} {
		if _, err := ParseIDType(id); err == nil {
			t.Errorf("ParseIDType(%q) accepted a malformed id", id)
		}
	}
}

func TestParseIDTimestamp(t *testing.T) {
	ts, err := ParseIDTimestamp("req_1771722000_a3f2b7c1")
	if err != nil {
		t.Fatalf("ParseIDTimestamp: %v", err)
	}
	if got := ts.Unix(); got != 1771722000 {
		t.Errorf("timestamp = %d, want 1771722000", got)
	}
}
