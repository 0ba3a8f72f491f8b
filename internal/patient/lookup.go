// Package patient resolves inbound phone numbers to patient records.
package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/LeventeLantos/patient-messaging/internal/apperr"
	"github.com/LeventeLantos/patient-messaging/internal/ctxutil"
	"github.com/LeventeLantos/patient-messaging/internal/model"
	"github.com/LeventeLantos/patient-messaging/internal/phone"
	"github.com/LeventeLantos/patient-messaging/internal/repo"
)

var ErrNoMatch = apperr.New(apperr.NoPatientMatch, "no patient for sender")

type Lookup struct {
	patients repo.PatientRepository
	log      *zap.Logger
	now      func() time.Time
}

func NewLookup(patients repo.PatientRepository, log *zap.Logger) *Lookup {
	return &Lookup{patients: patients, log: log, now: time.Now}
}

// FindPatientByPhone matches every stored representation of the number (62…, 0…, +62…).
// It returns ErrNoMatch when no live patient owns it.
func (l *Lookup) FindPatientByPhone(ctx context.Context, raw string) (*model.Patient, error) {
	alts := phone.Alternatives(raw)
	if len(alts) == 0 {
		return nil, ErrNoMatch
	}

	p, err := l.patients.FindByPhones(ctx, alts)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNoMatch
	}
	if err != nil {
		return nil, fmt.Errorf("find patient by phone: %w", err)
	}
	return p, nil
}

// FindOrCreateForOnboarding returns the patient owning the number, creating a pending
// stub for staff assignment when none exists. A concurrent create of the same number
// resolves to the winner's row.
func (l *Lookup) FindOrCreateForOnboarding(ctx context.Context, raw string) (*model.Patient, bool, error) {
	p, err := l.FindPatientByPhone(ctx, raw)
	if err == nil {
		return p, false, nil
	}
	if !errors.Is(err, ErrNoMatch) {
		return nil, false, err
	}
	if !phone.Valid(raw) {
		return nil, false, ErrNoMatch
	}

	now := l.now().UTC()
	stub := &model.Patient{
		PhoneNumber:        phone.Normalize(raw),
		VerificationStatus: model.VerificationPending,
		IsActive:           true,
		Onboarding:         true,
		CreatedAt:          now,
	}

	switch err := l.patients.Create(ctx, stub); {
	case err == nil:
		ctxutil.Logger(ctx, l.log).Info("onboarding patient created",
			zap.String("patient_id", stub.ID),
			zap.String("phone", stub.PhoneNumber),
		)
		return stub, true, nil
	case errors.Is(err, repo.ErrConflict):
		p, err := l.FindPatientByPhone(ctx, raw)
		return p, false, err
	default:
		return nil, false, fmt.Errorf("create onboarding patient: %w", err)
	}
}
