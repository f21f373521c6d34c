package model

type Patient struct {
	Base
	Name                string  `db:"name" json:"name"`
	PhoneNumber         string  `db:"phone_number" json:"phone_number"`
	Email               string  `db:"email" json:"email,omitempty"`
	Age                 *int    `db:"age" json:"age,omitempty"`
	Gender              string  `db:"gender" json:"gender,omitempty"`
	Address             string  `db:"address" json:"address,omitempty"`
	EmergencyContact    string  `db:"emergency_contact" json:"emergency_contact,omitempty"`
	MedicalRecordNumber *string `db:"medical_record_number" json:"medical_record_number,omitempty"`
	WhatsAppEnabled     bool    `db:"whatsapp_enabled" json:"whatsapp_enabled"`
	IsActive            bool    `db:"is_active" json:"is_active"`
}

// PatientData carries the patient fields accepted on registration and
// booking. Phone number is the dedup key: an existing patient with the same
// phone is reused, the rest of the fields only apply on first contact.
type PatientData struct {
	Name             string `json:"name" binding:"required"`
	PhoneNumber      string `json:"phone_number" binding:"required,phone"`
	Email            string `json:"email" binding:"omitempty,email"`
	Age              *int   `json:"age"`
	Gender           string `json:"gender" binding:"omitempty,oneof=M F O"`
	Address          string `json:"address"`
	EmergencyContact string `json:"emergency_contact"`

	// Opt-in: WhatsApp delivery goes to the same phone number.
	WhatsAppEnabled bool `json:"whatsapp_enabled"`
}
