// Package simulated provides in-process gateways for local runs and demos.
//
// Results are derived from a digest of the submitted images, so the same
// scan always yields the same identity and the same scan plus face always
// yields the same assessment. A configurable latency mimics a remote call.
package simulated

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"

	"checkpoint/internal/processing/models"
	"checkpoint/internal/processing/ports"
	id "checkpoint/pkg/domain"
)

var (
	givenNames  = []string{"Amara", "Jonas", "Mei", "Tomasz", "Ines", "Kwame", "Leila", "Oskar"}
	familyNames = []string{"Okafor", "Lindqvist", "Tanaka", "Kowalski", "Duarte", "Mensah", "Haddad", "Berg"}
	countries   = []string{"NGA", "SWE", "JPN", "POL", "PRT", "GHA", "LBN", "NOR"}
	alertPool   = []string{"Watch-list Hit", "Expired Visa", "Document Tampering Suspected", "Face Mismatch", "Overstay History"}

	// passengerNamespace scopes simulated passenger IDs.
	passengerNamespace = uuid.MustParse("9d3c1f0e-2b7a-4c55-8e61-5f0a3d2c7b19")
)

// Extractor is a deterministic DocumentExtractor.
type Extractor struct {
	Latency time.Duration
}

func (e Extractor) ExtractDocument(ctx context.Context, image []byte) (models.ExtractedIdentity, error) {
	if err := wait(ctx, e.Latency); err != nil {
		return models.ExtractedIdentity{}, err
	}
	if len(image) == 0 {
		return models.ExtractedIdentity{}, fmt.Errorf("simulated extraction: empty image")
	}
	return identityFor(sha256.Sum256(image)), nil
}

// Assessor is a deterministic RiskAssessor.
type Assessor struct {
	Latency time.Duration
}

func (a Assessor) AssessTransaction(ctx context.Context, req ports.AssessmentRequest) (*models.Assessment, error) {
	if err := wait(ctx, a.Latency); err != nil {
		return nil, err
	}
	if len(req.DocumentScan) == 0 || len(req.LiveFace) == 0 {
		return nil, fmt.Errorf("simulated assessment: document scan and live face are required")
	}

	doc := sha256.Sum256(req.DocumentScan)
	h := sha256.New()
	h.Write(req.DocumentScan)
	h.Write(req.LiveFace)
	var combined [sha256.Size]byte
	copy(combined[:], h.Sum(nil))

	score := int(binary.BigEndian.Uint16(combined[0:2]) % 101)
	var alerts []models.Alert
	for i := range int(combined[2] % 3) {
		if score < 30 {
			break
		}
		label := alertPool[(int(combined[3])+i)%len(alertPool)]
		alerts = append(alerts, models.Alert{ID: fmt.Sprintf("sim-%d", i+1), Label: label})
	}

	visa := models.VisaNotRequired
	switch combined[4] % 10 {
	case 0:
		visa = models.VisaInvalid
	case 1, 2, 3:
		visa = models.VisaValid
	}

	out := &models.Assessment{
		Result: models.AssessmentResult{
			RiskScore:      score,
			Recommendation: recommendation(score),
			Summary:        fmt.Sprintf("simulated assessment for module %q", req.Module),
			Alerts:         alerts,
		},
		Visa:     visa,
		Identity: identityFor(doc),
		Steps: []models.WorkflowStep{
			{ID: "document_check", Name: "Document Check", Status: models.StepCompleted},
			{ID: "biometric_match", Name: "Biometric Match", Status: models.StepCompleted},
			{ID: "watchlist_screening", Name: "Watch-list Screening", Status: models.StepCompleted},
			{ID: "visa_check", Name: "Visa Check", Status: visaStep(visa)},
			{ID: models.OfficerReviewStepID, Name: "Officer Review", Status: models.StepInProgress},
		},
		Trip: &models.TripContext{
			Mode:         "air",
			Carrier:      "SIM",
			VoyageNumber: fmt.Sprintf("SIM%03d", combined[5]),
			Origin:       countries[int(doc[6])%len(countries)],
		},
	}

	// Roughly one document in four belongs to a returning passenger.
	if doc[7]%4 == 0 {
		stored := identityFor(doc)
		stored.ExpiryDate = "2024-12-31"
		out.Matched = &models.MatchedIdentity{
			PassengerID: id.PassengerID(uuid.NewSHA1(passengerNamespace, doc[:])),
			Identity:    stored,
			RiskLevel:   models.RiskLow,
		}
	}
	return out, nil
}

func identityFor(d [sha256.Size]byte) models.ExtractedIdentity {
	year := 1950 + int(d[3])%55
	month := 1 + int(d[4])%12
	day := 1 + int(d[5])%28
	country := countries[int(d[2])%len(countries)]
	gender := "F"
	if d[8]%2 == 1 {
		gender = "M"
	}
	return models.ExtractedIdentity{
		GivenName:      givenNames[int(d[0])%len(givenNames)],
		FamilyName:     familyNames[int(d[1])%len(familyNames)],
		DocumentNumber: fmt.Sprintf("S%08d", binary.BigEndian.Uint32(d[9:13])%100000000),
		Nationality:    country,
		DateOfBirth:    fmt.Sprintf("%04d-%02d-%02d", year, month, day),
		Gender:         gender,
		IssuingCountry: country,
		IssueDate:      "2021-06-01",
		ExpiryDate:     "2031-05-31",
	}
}

func recommendation(score int) string {
	switch {
	case score >= 67:
		return "refer to secondary inspection"
	case score >= 34:
		return "review alerts before admitting"
	default:
		return "admit"
	}
}

func visaStep(v models.VisaVerdict) models.StepStatus {
	switch v {
	case models.VisaInvalid:
		return models.StepFailed
	case models.VisaNotRequired:
		return models.StepSkipped
	default:
		return models.StepCompleted
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
