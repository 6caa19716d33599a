package id_test

import (
	"strings"
	"testing"
	"time"

	"github.com/xraph/periodic/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"TaskID", id.NewTaskID, "ptask_"},
		{"JobID", id.NewJobID, "job_"},
		{"ClaimID", id.NewClaimID, "claim_"},
		{"InstanceID", id.NewInstanceID, "inst_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"TaskID", id.NewTaskID, id.ParseTaskID},
		{"JobID", id.NewJobID, id.ParseJobID},
		{"InstanceID", id.NewInstanceID, id.ParseInstanceID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed != original {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	if _, err := id.ParseJobID(id.NewTaskID().String()); err == nil {
		t.Error("expected error parsing task ID as job ID")
	}
}

func TestParseInvalid(t *testing.T) {
	for _, s := range []string{"", "job", "_abc", "job_xyz", "job_0123", "JOB_01h2xcejqtf2nbrexx3vqjhp41", "job_81h2xcejqtf2nbrexx3vqjhp41", "01h2xcejqtf2nbrexx3vqjhp41"} {
		if _, err := id.Parse(s); err == nil {
			t.Errorf("Parse(%q): expected error", s)
		}
	}
}

func TestSortable(t *testing.T) {
	a := id.NewTaskID()
	time.Sleep(2 * time.Millisecond)
	b := id.NewTaskID()
	if a.String() >= b.String() {
		t.Errorf("expected %q < %q", a, b)
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("expected empty string, got %q", i.String())
	}
	v, err := i.Value()
	if err != nil || v != nil {
		t.Errorf("Value() = %v, %v; want nil, nil", v, err)
	}
}

func TestScan(t *testing.T) {
	original := id.NewJobID()

	var fromString id.ID
	if err := fromString.Scan(original.String()); err != nil {
		t.Fatalf("scan string: %v", err)
	}
	if fromString != original {
		t.Errorf("scan string mismatch")
	}

	var fromBytes id.ID
	if err := fromBytes.Scan([]byte(original.String())); err != nil {
		t.Fatalf("scan bytes: %v", err)
	}
	if fromBytes != original {
		t.Errorf("scan bytes mismatch")
	}

	var fromNil id.ID
	if err := fromNil.Scan(nil); err != nil || !fromNil.IsNil() {
		t.Errorf("scan nil: %v", err)
	}

	var bad id.ID
	if err := bad.Scan(42); err == nil {
		t.Error("expected error scanning int")
	}
}

func TestTypeIDFormat(t *testing.T) {
	s := id.NewClaimID().String()
	suffix := strings.TrimPrefix(s, "claim_")
	if len(suffix) != 26 {
		t.Fatalf("expected 26-char base32 suffix, got %q", suffix)
	}

	parsed, err := id.Parse("inst_01h2xcejqtf2nbrexx3vqjhp41")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Prefix() != id.PrefixInstance {
		t.Errorf("expected prefix %q, got %q", id.PrefixInstance, parsed.Prefix())
	}
}
