// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package validation

import (
	"strings"
	"testing"

	"github.com/tomtom215/cinecohort/internal/models"
)

func TestGetValidator_Singleton(t *testing.T) {
	t.Parallel()

	if GetValidator() != GetValidator() {
		t.Error("GetValidator() should return the same instance")
	}
}

func TestValidateStruct_CreateCohort(t *testing.T) {
	t.Parallel()

	depth := func(d int) *int { return &d }
	tests := []struct {
		name      string
		req       models.CreateCohortRequest
		wantField string
		wantTag   string
	}{
		{name: "valid", req: models.CreateCohortRequest{Name: "friends", SeedUsername: "dave_1", Depth: depth(2)}},
		{name: "missing name", req: models.CreateCohortRequest{SeedUsername: "dave"}, wantField: "name", wantTag: "required"},
		{name: "missing seed", req: models.CreateCohortRequest{Name: "friends"}, wantField: "seed_username", wantTag: "required"},
		{name: "bad username", req: models.CreateCohortRequest{Name: "friends", SeedUsername: "dave/../x"}, wantField: "seed_username", wantTag: "username"},
		{name: "depth too deep", req: models.CreateCohortRequest{Name: "f", SeedUsername: "dave", Depth: depth(9)}, wantField: "depth", wantTag: "max"},
		{name: "depth zero allowed", req: models.CreateCohortRequest{Name: "f", SeedUsername: "dave", Depth: depth(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			verr := ValidateStruct(&tt.req)
			if tt.wantField == "" {
				if verr != nil {
					t.Fatalf("ValidateStruct() = %v, want nil", verr)
				}
				return
			}
			if verr == nil {
				t.Fatal("ValidateStruct() = nil, want error")
			}
			errs := verr.Errors()
			if len(errs) != 1 {
				t.Fatalf("errors = %d, want 1: %v", len(errs), verr)
			}
			if errs[0].Field() != tt.wantField || errs[0].Tag() != tt.wantTag {
				t.Errorf("got %s/%s, want %s/%s", errs[0].Field(), errs[0].Tag(), tt.wantField, tt.wantTag)
			}
		})
	}
}

func TestValidateStruct_Messages(t *testing.T) {
	t.Parallel()

	verr := ValidateStruct(&models.SyncRequest{Mode: "partial"})
	if verr == nil {
		t.Fatal("expected oneof failure")
	}
	if got := verr.Error(); got != "mode must be one of: full incremental" {
		t.Errorf("message = %q", got)
	}

	year := 1800
	verr = ValidateStruct(&models.InsightFilters{ReleaseStart: &year})
	if verr == nil || !strings.Contains(verr.Error(), "release_start must be at least 1870") {
		t.Errorf("message = %v", verr)
	}

	long := strings.Repeat("x", 201)
	verr = ValidateStruct(&models.UpdateCohortRequest{Name: long})
	if verr == nil || verr.Error() != "name must be at most 200 characters" {
		t.Errorf("message = %v", verr)
	}
}

func TestToAPIError(t *testing.T) {
	t.Parallel()

	single := ValidateStruct(&models.UpdateCohortRequest{}).ToAPIError()
	if single.Code != "VALIDATION_FAILED" || single.Details["field"] != "name" {
		t.Errorf("single = %+v", single)
	}

	multi := ValidateStruct(&models.CreateCohortRequest{}).ToAPIError()
	fields, ok := multi.Details["fields"].([]map[string]interface{})
	if !ok || len(fields) != 2 {
		t.Fatalf("multi details = %+v", multi.Details)
	}
	if !strings.Contains(multi.Message, "; ") {
		t.Errorf("multi message = %q", multi.Message)
	}

	empty := (&RequestValidationError{}).ToAPIError()
	if empty.Message != "Validation failed" {
		t.Errorf("empty = %+v", empty)
	}
}
