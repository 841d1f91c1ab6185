package importer

import (
	"time"

	"github.com/google/uuid"
)

type Request struct {
	ProfileID    uuid.UUID
	DryRun       bool
	CSVData      string
	StartRow     int
	MaxRows      int
	JobIDsFilter []string
	RequestedBy  *uuid.UUID
	RequestID    string
}

type ChunkInfo struct {
	StartRow     int  `json:"start_row"`
	MaxRows      int  `json:"max_rows"`
	TotalRows    int  `json:"total_rows"`
	ReturnedRows int  `json:"returned_rows"`
	HasMore      bool `json:"has_more"`
}

type Counts struct {
	Inserted   int `json:"inserted"`
	Updated    int `json:"updated"`
	Skipped    int `json:"skipped"`
	Duplicates int `json:"duplicates"`
	Warnings   int `json:"warnings"`
	Errors     int `json:"errors"`
}

type RowDetail struct {
	Row        int    `json:"row"`
	ExternalID string `json:"external_id,omitempty"`
	Field      string `json:"field,omitempty"`
	Message    string `json:"message"`
	RawValue   string `json:"raw_value,omitempty"`
}

type Details struct {
	Inserted []RowDetail `json:"inserted"`
	Updated  []RowDetail `json:"updated"`
	Skipped  []RowDetail `json:"skipped"`
	Warnings []RowDetail `json:"warnings"`
	Errors   []RowDetail `json:"errors"`
}

type Performance struct {
	FetchMs  int64 `json:"fetch_ms"`
	MapMs    int64 `json:"map_ms"`
	UpsertMs int64 `json:"upsert_ms"`
	TotalMs  int64 `json:"total_ms"`
}

type Result struct {
	Success   bool        `json:"success"`
	RunID     uuid.UUID   `json:"run_id"`
	DryRun    bool        `json:"dry_run"`
	ChunkInfo ChunkInfo   `json:"chunk_info"`
	Results   Counts      `json:"results"`
	Details   Details     `json:"details"`
	Metrics   Performance `json:"performance_metrics"`
}

// candidate is a fully normalized row ready for the upsert stage.
type candidate struct {
	Row           int
	ExternalID    string
	Email         string
	Name          string
	Phone         *string
	Address       *string
	Postcode      *string
	InstallDate   *time.Time
	EngineerID    *uuid.UUID
	AmountPennies *int64
	JobType       *string
	Status        string
	Hours         *float64
	HoursSet      bool
}
