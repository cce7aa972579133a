package entity

import "time"

// Document is a supporting file attached to an authorization request
type Document struct {
	ID              string     `json:"id"`
	Type            string     `json:"type" validate:"required"`
	FileName        string     `json:"file_name" validate:"required"`
	StoragePath     string     `json:"storage_path,omitempty"`
	MimeType        string     `json:"mime_type,omitempty"`
	IsValid         bool       `json:"is_valid"`
	ValidationNotes string     `json:"validation_notes,omitempty"`
	MissingFields   []string   `json:"missing_fields,omitempty"`
	UploadedAt      time.Time  `json:"uploaded_at"`
	ValidatedAt     *time.Time `json:"validated_at,omitempty"`
}

// IsValidated returns true once a validation result has been recorded
func (d *Document) IsValidated() bool {
	return d.ValidatedAt != nil
}

// DocumentValidation is the outcome of extracting and validating one document.
// Err is set when extraction or validation failed; the document then counts as invalid.
type DocumentValidation struct {
	DocumentID    string    `json:"document_id"`
	IsValid       bool      `json:"is_valid"`
	Notes         string    `json:"notes,omitempty"`
	MissingFields []string  `json:"missing_fields,omitempty"`
	ValidatedAt   time.Time `json:"validated_at"`
	Err           error     `json:"-"`
}

// Apply writes the validation outcome onto the document
func (v DocumentValidation) Apply(doc *Document) {
	validatedAt := v.ValidatedAt
	doc.IsValid = v.IsValid && v.Err == nil
	doc.ValidationNotes = v.Notes
	if v.Err != nil && doc.ValidationNotes == "" {
		doc.ValidationNotes = v.Err.Error()
	}
	doc.MissingFields = append([]string(nil), v.MissingFields...)
	doc.ValidatedAt = &validatedAt
}
