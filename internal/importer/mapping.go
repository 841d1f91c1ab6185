package importer

import "strings"

// Canonical field names an import profile's column mapping can target.
// Headers that map to nothing are ignored deliberately.
const (
	fieldExternalID  = "external_id"
	fieldClientName  = "client_name"
	fieldClientEmail = "client_email"
	fieldClientPhone = "client_phone"
	fieldAddress     = "address"
	fieldPostcode    = "postcode"
	fieldInstallDate = "install_date"
	fieldEngineer    = "engineer"
	fieldAmount      = "amount"
	fieldJobType     = "job_type"
	fieldStatus      = "status"
	fieldDuration    = "duration"
	fieldNotes       = "notes"
)

// sourceRow is the fixed, typed shape a raw spreadsheet row is mapped into
// before any normalization. Every field is still the partner's string.
type sourceRow struct {
	RowNumber   int
	ExternalID  string
	ClientName  string
	ClientEmail string
	ClientPhone string
	Address     string
	Postcode    string
	InstallDate string
	Engineer    string
	Amount      string
	JobType     string
	Status      string
	Duration    string
	Notes       string
}

func normalizeHeaderKey(raw string) string {
	replacer := strings.NewReplacer(" ", "", "_", "", "-", "", ".", "", "/", "")
	return strings.ToLower(replacer.Replace(strings.TrimSpace(raw)))
}

// resolveColumnMapping turns the profile's canonical-field -> header-name map
// into canonical-field -> column-index, matching headers loosely (case,
// spacing and punctuation insensitive). Fields whose header is absent from
// the sheet are reported back so the run can surface a single warning.
func resolveColumnMapping(mapping map[string]string, headers []string) (map[string]int, []string) {
	headerIndex := make(map[string]int, len(headers))
	for idx, header := range headers {
		key := normalizeHeaderKey(strings.TrimPrefix(header, "\ufeff"))
		if _, seen := headerIndex[key]; !seen {
			headerIndex[key] = idx
		}
	}

	resolved := make(map[string]int, len(mapping))
	var missing []string
	for field, header := range mapping {
		trimmed := strings.TrimSpace(header)
		if trimmed == "" {
			continue
		}
		idx, ok := headerIndex[normalizeHeaderKey(trimmed)]
		if !ok {
			missing = append(missing, field)
			continue
		}
		resolved[field] = idx
	}
	return resolved, missing
}

func buildSourceRow(rowNumber int, record []string, mapping map[string]int) sourceRow {
	get := func(field string) string {
		idx, ok := mapping[field]
		if !ok || idx < 0 || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	return sourceRow{
		RowNumber:   rowNumber,
		ExternalID:  get(fieldExternalID),
		ClientName:  get(fieldClientName),
		ClientEmail: get(fieldClientEmail),
		ClientPhone: get(fieldClientPhone),
		Address:     get(fieldAddress),
		Postcode:    get(fieldPostcode),
		InstallDate: get(fieldInstallDate),
		Engineer:    get(fieldEngineer),
		Amount:      get(fieldAmount),
		JobType:     get(fieldJobType),
		Status:      get(fieldStatus),
		Duration:    get(fieldDuration),
		Notes:       get(fieldNotes),
	}
}
