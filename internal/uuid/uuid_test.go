package uuid

import (
	"regexp"
	"testing"
)

// TestNew verifies generated record identifiers are canonical v4.
func TestNew(t *testing.T) {
	id := New()
	if id == "" {
		t.Fatal("Expected non-empty record id")
	}

	form := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	if !form.MatchString(id) {
		t.Errorf("Generated id does not match v4 form: %s", id)
	}
	if err := Validate(id); err != nil {
		t.Errorf("Validate rejected a generated id: %v", err)
	}
}

// TestNewUniqueness verifies generated identifiers do not collide.
func TestNewUniqueness(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		if ids[id] {
			t.Errorf("Duplicate record id generated: %s", id)
		}
		ids[id] = true
	}
}

// TestValidate covers the identifier forms a remote record may carry.
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{name: "canonical v4", id: "f47ac10b-58cc-4372-a567-0e02b2c3d479", wantErr: false},
		{name: "uppercase hex", id: "6BA7B810-9DAD-41D1-80B4-00C04FD430C8", wantErr: false},
		{name: "empty", id: "", wantErr: true},
		{name: "missing dashes", id: "f47ac10b58cc4372a5670e02b2c3d479", wantErr: true},
		{name: "wrong version", id: "f47ac10b-58cc-1372-a567-0e02b2c3d479", wantErr: true},
		{name: "wrong variant", id: "f47ac10b-58cc-4372-c567-0e02b2c3d479", wantErr: true},
		{name: "truncated", id: "f47ac10b-58cc-4372-a567", wantErr: true},
		{name: "arbitrary string", id: "t-remote", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}
