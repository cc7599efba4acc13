// internal/contacts/directory.go
package contacts

import (
	"context"
	"database/sql"
	"encoding/json"

	apperrors "reminder-orchestrator/internal/common/errors"
	"reminder-orchestrator/internal/models"
)

// Directory supplies the family circle for a patient.
type Directory interface {
	GetFamilyCircle(ctx context.Context, patientID string) (*models.FamilyCircle, error)
}

// PostgresDirectory reads family members, emergency contacts and doctors
// from the contact tables.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

const familyMembersQuery = `
SELECT id, name, relationship, language, priority, can_receive_alerts, enabled, targets
FROM family_members
WHERE patient_id = $1
ORDER BY priority ASC`

const emergencyContactsQuery = `
SELECT id, name, relationship, phone_number, language
FROM emergency_contacts
WHERE patient_id = $1
ORDER BY name ASC`

const doctorsQuery = `
SELECT id, name, email
FROM clinical_contacts
WHERE patient_id = $1 AND role = 'doctor'
ORDER BY name ASC`

func (d *PostgresDirectory) GetFamilyCircle(ctx context.Context, patientID string) (*models.FamilyCircle, error) {
	circle := &models.FamilyCircle{PatientID: patientID}

	rows, err := d.db.QueryContext(ctx, familyMembersQuery, patientID)
	if err != nil {
		return nil, apperrors.NewDirectoryFailureError(patientID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var member models.FamilyMember
		var targetsJSON []byte
		if err := rows.Scan(
			&member.ID, &member.Name, &member.Relationship, &member.Language,
			&member.Priority, &member.CanReceiveAlerts, &member.Enabled, &targetsJSON,
		); err != nil {
			return nil, apperrors.NewDirectoryFailureError(patientID, err)
		}
		if len(targetsJSON) > 0 {
			if err := json.Unmarshal(targetsJSON, &member.Targets); err != nil {
				return nil, apperrors.NewDirectoryFailureError(patientID, err)
			}
		}
		circle.FamilyMembers = append(circle.FamilyMembers, member)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDirectoryFailureError(patientID, err)
	}

	if circle.EmergencyContacts, err = d.emergencyContacts(ctx, patientID); err != nil {
		return nil, err
	}
	if circle.Doctors, err = d.doctors(ctx, patientID); err != nil {
		return nil, err
	}

	return circle, nil
}

func (d *PostgresDirectory) emergencyContacts(ctx context.Context, patientID string) ([]models.EmergencyContact, error) {
	rows, err := d.db.QueryContext(ctx, emergencyContactsQuery, patientID)
	if err != nil {
		return nil, apperrors.NewDirectoryFailureError(patientID, err)
	}
	defer rows.Close()

	var out []models.EmergencyContact
	for rows.Next() {
		var c models.EmergencyContact
		if err := rows.Scan(&c.ID, &c.Name, &c.Relationship, &c.PhoneNumber, &c.Language); err != nil {
			return nil, apperrors.NewDirectoryFailureError(patientID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *PostgresDirectory) doctors(ctx context.Context, patientID string) ([]models.ClinicalContact, error) {
	rows, err := d.db.QueryContext(ctx, doctorsQuery, patientID)
	if err != nil {
		return nil, apperrors.NewDirectoryFailureError(patientID, err)
	}
	defer rows.Close()

	var out []models.ClinicalContact
	for rows.Next() {
		var c models.ClinicalContact
		if err := rows.Scan(&c.ID, &c.Name, &c.Email); err != nil {
			return nil, apperrors.NewDirectoryFailureError(patientID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
