package domain

import "time"

// DocumentRecord is the metadata row of an uploaded document.
type DocumentRecord struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	OwnerEmail     string    `json:"owner_email,omitempty"`
	Category       string    `json:"category,omitempty"`
	Name           string    `json:"name"`
	CreatedAt      Timestamp `json:"created_at"`
	UpdatedAt      Timestamp `json:"updated_at"`
	ExpirationDate Date      `json:"expiration_date"`
	ReminderAt     Timestamp `json:"reminder_at"`
}

func (d DocumentRecord) RecordID() string { return d.ID }
func (d DocumentRecord) RecordOwner() string { return d.OwnerID }
func (d DocumentRecord) RecordCategory() string { return d.Category }
func (d DocumentRecord) RecordCreatedAt() time.Time { return d.CreatedAt.Time() }

func (d DocumentRecord) SearchFields() []string {
	return []string{d.Name, d.OwnerID, d.OwnerEmail}
}

// DocumentInput carries the fields a caller may set when registering a document.
type DocumentInput struct {
	OwnerID        string    `json:"owner_id"`
	OwnerEmail     string    `json:"owner_email"`
	Category       string    `json:"category"`
	Name           string    `json:"name"`
	ExpirationDate Date      `json:"expiration_date"`
	ReminderAt     Timestamp `json:"reminder_at"`
}

// DocumentPatch lists optional edits; nil fields are left unchanged. A
// non-nil empty Category moves the document out of every category.
type DocumentPatch struct {
	Name           *string    `json:"name,omitempty"`
	Category       *string    `json:"category,omitempty"`
	ExpirationDate *Date      `json:"expiration_date,omitempty"`
	ReminderAt     *Timestamp `json:"reminder_at,omitempty"`
}

func (p DocumentPatch) IsEmpty() bool {
	return p.Name == nil && p.Category == nil && p.ExpirationDate == nil && p.ReminderAt == nil
}

func (p DocumentPatch) Apply(doc *DocumentRecord) {
	if p.Name != nil {
		doc.Name = *p.Name
	}
	if p.Category != nil {
		doc.Category = *p.Category
	}
	if p.ExpirationDate != nil {
		doc.ExpirationDate = *p.ExpirationDate
	}
	if p.ReminderAt != nil {
		doc.ReminderAt = *p.ReminderAt
	}
}
