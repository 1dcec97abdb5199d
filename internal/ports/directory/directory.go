package directory

import (
	"context"
	"errors"
	"time"
)

var ErrPatientNotFound = errors.New("patient not found")

// Patient es lo mínimo que el core necesita del directorio de usuarios.
type Patient struct {
	ID          string
	FullName    string
	DateOfBirth *time.Time
}

// PatientDirectory resuelve datos básicos de un paciente.
type PatientDirectory interface {
	GetPatient(ctx context.Context, patientID string) (Patient, error)
}
