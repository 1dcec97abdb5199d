package patientsapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"medical-photo-sharing/internal/platform/httpclient"
	"medical-photo-sharing/internal/ports/directory"
)

var (
	ErrNotConfigured = errors.New("patients api not configured")
	ErrUnauthorized  = errors.New("patients api unauthorized")
	ErrUpstream      = errors.New("patients api upstream error")
)

type Config struct {
	BaseURL string
	APIKey  string

	// Si está vacío se usa "X-Api-Key".
	APIKeyHeader string
	Timeout      time.Duration
}

// Client implementa directory.PatientDirectory contra el servicio de usuarios.
type Client struct {
	http       *httpclient.Client
	configured bool
}

func NewClient(cfg Config) (*Client, error) {
	h := strings.TrimSpace(cfg.APIKeyHeader)
	if h == "" {
		h = "X-Api-Key"
	}
	apiKey := strings.TrimSpace(cfg.APIKey)

	hc, err := httpclient.New(httpclient.Options{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		Headers: map[string]string{h: apiKey},
	})
	if err != nil {
		return nil, err
	}
	return &Client{
		http:       hc,
		configured: hc.BaseURL != "" && apiKey != "",
	}, nil
}

func (c *Client) IsConfigured() bool {
	return c != nil && c.configured
}

type patientResponse struct {
	ID          string `json:"id"`
	FullName    string `json:"full_name"`
	DateOfBirth string `json:"date_of_birth"` // YYYY-MM-DD, opcional
}

// GetPatient: GET /v1/patients/{id}.
func (c *Client) GetPatient(ctx context.Context, patientID string) (directory.Patient, error) {
	if !c.IsConfigured() {
		return directory.Patient{}, ErrNotConfigured
	}
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return directory.Patient{}, directory.ErrPatientNotFound
	}

	var out patientResponse
	err := c.http.DoJSON(ctx, http.MethodGet, "/v1/patients/"+url.PathEscape(patientID), nil, &out)
	if err != nil {
		var se *httpclient.StatusError
		switch {
		case httpclient.IsNotFound(err):
			return directory.Patient{}, directory.ErrPatientNotFound
		case errors.As(err, &se) && (se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden):
			return directory.Patient{}, ErrUnauthorized
		default:
			return directory.Patient{}, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
	}

	p := directory.Patient{
		ID:       strings.TrimSpace(out.ID),
		FullName: strings.TrimSpace(out.FullName),
	}
	if p.ID == "" {
		p.ID = patientID
	}
	if dob := strings.TrimSpace(out.DateOfBirth); dob != "" {
		t, err := time.Parse("2006-01-02", dob)
		if err != nil {
			return directory.Patient{}, fmt.Errorf("%w: invalid date_of_birth: %v", ErrUpstream, err)
		}
		p.DateOfBirth = &t
	}
	return p, nil
}
