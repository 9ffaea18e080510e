package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"invalid breakpoint", fmt.Errorf("seed CLSI: %w", ErrInvalidBreakpoint), "BP001"},
		{"invalid vocabulary", fmt.Errorf("organism table: %w", ErrInvalidVocabulary), "VOC001"},
		{"unknown standard", errors.New("unknown standard BSAC/2020"), "BP002"},
		{"missing column", errors.New("missing required column \"Organism\""), "VAL003"},
		{"bad body", errors.New("invalid json: unexpected EOF"), "VAL005"},
		{"file too large", errors.New("file too large: 200MB exceeds limit"), "FILE001"},
		{"empty file", errors.New("empty file"), "FILE005"},
		{"job not found", errors.New("job not found: abc"), "JOB001"},
		{"busy", errors.New("too many runs in progress"), "JOB003"},
		{"duplicate key", errors.New("duplicate key value violates unique constraint"), "DB001"},
		{"connection refused", errors.New("dial tcp: connection refused"), "DB004"},
		{"canceled", errors.New("context canceled"), "REQ001"},
		{"deadline", errors.New("context deadline exceeded"), "REQ002"},
		{"generic timeout", errors.New("i/o timeout"), "DB006"},
		{"rate limit", errors.New("rate limit exceeded"), "RATE001"},
		{"unknown", errors.New("something odd"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError(%v).Code = %q, want %q", tt.err, got.Code, tt.wantCode)
			}
		})
	}
}

func TestMapError_CaseInsensitive(t *testing.T) {
	if got := MapError(errors.New("FILE TOO LARGE")); got.Code != "FILE001" {
		t.Errorf("Code = %q, want FILE001", got.Code)
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(errors.New("empty file"))
	want := "The uploaded file is empty (Code: FILE005). Please upload a CSV file with data rows"
	if got != want {
		t.Errorf("FormatUserError = %q, want %q", got, want)
	}
	if FormatUserError(nil) != "" {
		t.Error("FormatUserError(nil) should be empty")
	}
}

func TestIsUserFacing(t *testing.T) {
	if !IsUserFacing(errors.New("rate limit")) {
		t.Error("rate limit should be user facing")
	}
	if IsUserFacing(errors.New("segfault")) {
		t.Error("unknown error should not be user facing")
	}
	if IsUserFacing(nil) {
		t.Error("nil should not be user facing")
	}
}

func TestNewUserError(t *testing.T) {
	if NewUserError(nil) != nil {
		t.Fatal("NewUserError(nil) should be nil")
	}

	base := fmt.Errorf("load: %w", ErrInvalidBreakpoint)
	ue := NewUserError(base)
	if ue.User.Code != "BP001" {
		t.Errorf("Code = %q, want BP001", ue.User.Code)
	}
	if !errors.Is(ue, ErrInvalidBreakpoint) {
		t.Error("UserError should unwrap to the technical error")
	}
	if ue.Error() != ue.User.Message {
		t.Errorf("Error() = %q, want user message", ue.Error())
	}
}
