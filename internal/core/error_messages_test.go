package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{
			name:        "nil error returns empty",
			err:         nil,
			wantCode:    "",
			wantMessage: "",
		},
		{
			name:        "not found sentinel",
			err:         ErrNotFound,
			wantCode:    "EXP001",
			wantMessage: "Export not found",
		},
		{
			name:        "wrapped not ready",
			err:         fmt.Errorf("%w: export is processing", ErrNotReady),
			wantCode:    "EXP002",
			wantMessage: "Export not yet completed",
		},
		{
			name:        "artifact missing",
			err:         ErrArtifactMissing,
			wantCode:    "EXP003",
			wantMessage: "File not found",
		},
		{
			name:        "range not satisfiable",
			err:         ErrRangeNotSatisfiable,
			wantCode:    "EXP004",
			wantMessage: "Requested range is outside the file",
		},
		{
			name:        "shutting down",
			err:         ErrShuttingDown,
			wantCode:    "EXP005",
			wantMessage: "Service is shutting down",
		},
		{
			name:        "validation error carries its own text",
			err:         &ValidationError{Field: "country_code", Reason: `"XX" is not an ISO 3166-1 alpha-2 country code`},
			wantCode:    "VAL001",
			wantMessage: `invalid country_code: "XX" is not an ISO 3166-1 alpha-2 country code`,
		},
		{
			name:        "connection refused maps correctly",
			err:         errors.New("dial tcp: connection refused"),
			wantCode:    "DB001",
			wantMessage: "Unable to connect to database",
		},
		{
			name:        "timeout maps correctly",
			err:         errors.New("query page: context deadline exceeded"),
			wantCode:    "DB003",
			wantMessage: "Operation timed out",
		},
		{
			name:        "missing relation",
			err:         errors.New(`ERROR: relation "users" does not exist (SQLSTATE 42P01)`),
			wantCode:    "DB004",
			wantMessage: "Source table is not available",
		},
		{
			name:        "unknown error returns default",
			err:         errors.New("some random internal error"),
			wantCode:    "ERR000",
			wantMessage: "An unexpected error occurred",
		},
		{
			name:        "case insensitive matching",
			err:         errors.New("CONNECTION RESET by peer"),
			wantCode:    "DB002",
			wantMessage: "Database connection was interrupted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Message != tt.wantMessage {
				t.Errorf("MapError() message = %q, want %q", got.Message, tt.wantMessage)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	result := FormatUserError(ErrNotFound)

	expected := "Export not found (Code: EXP001). Check the export ID or start a new export"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error is not user facing",
			err:  nil,
			want: false,
		},
		{
			name: "sentinel is user facing",
			err:  ErrNotReady,
			want: true,
		},
		{
			name: "unknown error is not user facing",
			err:  errors.New("random internal error xyz"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}
