package model

// Department groups doctors and owns one token sequence per calendar day.
type Department struct {
	Base
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description,omitempty"`
	IsActive    bool   `db:"is_active" json:"is_active"`
}
