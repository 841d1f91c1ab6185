package handlers

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func TestRunImportRequestDecodesSnakeCaseBody(t *testing.T) {
	profileID := uuid.New()
	body := `{
		"profile_id": "` + profileID.String() + `",
		"dry_run": true,
		"csv_data": "Job ID,Customer\nOC-1001,Jane",
		"start_row": 10,
		"max_rows": 250,
		"job_ids_filter": ["OC-1001", "OC-1002"]
	}`

	var req runImportRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.ProfileID != profileID {
		t.Errorf("ProfileID = %s, want %s", req.ProfileID, profileID)
	}
	if !req.DryRun {
		t.Error("DryRun not decoded")
	}
	if req.CSVData == "" {
		t.Error("CSVData not decoded")
	}
	if req.StartRow != 10 || req.MaxRows != 250 {
		t.Errorf("StartRow/MaxRows = %d/%d, want 10/250", req.StartRow, req.MaxRows)
	}
	if len(req.JobIDsFilter) != 2 || req.JobIDsFilter[0] != "OC-1001" {
		t.Errorf("JobIDsFilter = %v, want [OC-1001 OC-1002]", req.JobIDsFilter)
	}
}
