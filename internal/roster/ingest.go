package roster

import (
	"strings"
	"time"

	"followup-caller/internal/apperr"
	"followup-caller/internal/phone"

	"github.com/go-playground/validator/v10"
)

// Row is one roster row as uploaded by operators. JSON keys follow the sheet headers.
type Row struct {
	Name            string `json:"Name" validate:"required"`
	Number          string `json:"Number" validate:"required"`
	ShiftName       string `json:"Shift Name"`
	ShiftTimings    string `json:"Shift Timings" validate:"required"`
	DressCode       string `json:"Dress Code"`
	WorkDescription string `json:"Work Description"`
	Date            string `json:"date" validate:"required"`
}

// Batch is an uploaded roster.
type Batch struct {
	BatchTag string `json:"batch_tag" validate:"required,max=128"`
	Rows     []Row  `json:"rows" validate:"required,min=1,max=2000,dive"`
}

// RowError reports a rejected row by its position in the upload.
type RowError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

var inputDateLayouts = []string{dateLayout, "02/01/2006"}

// Ingestor turns uploaded rows into shift records.
type Ingestor struct {
	validate *validator.Validate
	loc      *time.Location
}

func NewIngestor(loc *time.Location) *Ingestor {
	if loc == nil {
		loc = time.UTC
	}
	return &Ingestor{validate: validator.New(), loc: loc}
}

// ValidateBatch checks structural constraints on the upload.
func (in *Ingestor) ValidateBatch(b Batch) error {
	if err := in.validate.Struct(b); err != nil {
		return apperr.Wrap(apperr.KindValidation, "invalid roster batch", err)
	}
	return nil
}

// Build converts rows into records. Rows with a bad date or timings are reported and
// dropped. A bad phone number does not drop the row: the record is kept with
// PhoneValid=false so it stays visible but is never dialled.
func (in *Ingestor) Build(b Batch) ([]ShiftRecord, []RowError) {
	out := make([]ShiftRecord, 0, len(b.Rows))
	var rejected []RowError
	for i, row := range b.Rows {
		rec, err := in.buildRecord(b.BatchTag, row)
		if err != nil {
			rejected = append(rejected, RowError{Index: i, Error: err.Error()})
			continue
		}
		out = append(out, rec)
	}
	return out, rejected
}

func (in *Ingestor) buildRecord(batchTag string, row Row) (ShiftRecord, error) {
	date, err := canonicalDate(row.Date)
	if err != nil {
		return ShiftRecord{}, err
	}
	timings := strings.ReplaceAll(strings.TrimSpace(row.ShiftTimings), " ", "")
	if _, err := ShiftStart(date, timings, in.loc); err != nil {
		return ShiftRecord{}, err
	}

	number, valid := phone.NormalizeE164(row.Number)
	return ShiftRecord{
		Name:            strings.TrimSpace(row.Name),
		Phone:           number,
		PhoneValid:      valid,
		ShiftName:       strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(row.ShiftName), " Shift")),
		ShiftTimings:    timings,
		ShiftDate:       date,
		DressCode:       strings.TrimSpace(row.DressCode),
		WorkDescription: strings.TrimSpace(row.WorkDescription),
		BatchTag:        batchTag,
	}, nil
}

func canonicalDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range inputDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(dateLayout), nil
		}
	}
	return "", apperr.Validation("date must be YYYY-MM-DD or DD/MM/YYYY")
}
