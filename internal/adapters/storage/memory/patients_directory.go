package memory

import (
	"context"
	"sync"

	"medical-photo-sharing/internal/ports/directory"
)

// PatientDirectory es el directorio in-memory del modo dev.
type PatientDirectory struct {
	mu   sync.RWMutex
	byID map[string]directory.Patient
}

func NewPatientDirectory() *PatientDirectory {
	return &PatientDirectory{byID: make(map[string]directory.Patient)}
}

func (d *PatientDirectory) Put(p directory.Patient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byID[p.ID] = p
}

func (d *PatientDirectory) GetPatient(ctx context.Context, patientID string) (directory.Patient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.byID[patientID]
	if !ok {
		return directory.Patient{}, directory.ErrPatientNotFound
	}
	return p, nil
}
