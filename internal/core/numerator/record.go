package numerator

import (
	"time"

	"backoffice/internal/core/id"
)

// Record is the engine's read model of a numbered document.
type Record struct {
	ID         id.ID     `db:"id"`
	Number     string    `db:"number"`
	OccurredOn time.Time `db:"occurred_on"`
	CreatedSeq int64     `db:"created_seq"`
	Active     bool      `db:"is_active"`
}

// Less orders records by (occurred_on, created_seq).
func (r Record) Less(o Record) bool {
	a, b := DateOf(r.OccurredOn), DateOf(o.OccurredOn)
	if !a.Equal(b) {
		return a.Before(b)
	}
	return r.CreatedSeq < o.CreatedSeq
}

// Document is implemented by every voucher-like entity that receives a number.
type Document interface {
	DocumentID() id.ID
	DocumentTenant() string
	DocumentNumber() string
	SetDocumentNumber(number string)
	DocumentDate() time.Time
	IsActive() bool
}
