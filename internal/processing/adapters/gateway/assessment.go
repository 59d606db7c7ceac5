package gateway

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"checkpoint/internal/processing/models"
	"checkpoint/internal/processing/ports"
	id "checkpoint/pkg/domain"
)

const assessmentGateway = "risk-assessment"

// AssessmentClient calls the risk and identity assessment gateway.
type AssessmentClient struct {
	c *client
}

func NewAssessmentClient(baseURL string, opts ...Option) *AssessmentClient {
	return &AssessmentClient{c: newClient(assessmentGateway, baseURL, opts...)}
}

type assessRequest struct {
	Module       string `json:"module"`
	DocumentScan []byte `json:"document_scan"`
	LiveFace     []byte `json:"live_face"`
}

type assessResponse struct {
	RiskResult struct {
		RiskScore         *int        `json:"risk_score"`
		Recommendation    string      `json:"recommendation"`
		AssessmentSummary string      `json:"assessment_summary"`
		Alerts            []wireAlert `json:"alerts"`
	} `json:"risk_result"`
	ExistingPassenger *struct {
		ID        string       `json:"id"`
		RiskLevel string       `json:"risk_level"`
		ImageRefs []string     `json:"image_refs"`
		Identity  identityWire `json:"identity"`
	} `json:"existing_passenger"`
	VisaCheckResult string `json:"visa_check_result"`
	Workflow        []struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Status string `json:"status"`
	} `json:"workflow"`
	ExtractedData   identityWire        `json:"extracted_data"`
	TripInformation *models.TripContext `json:"trip_information"`
}

// AssessTransaction posts the scan and live face in one call.
func (a *AssessmentClient) AssessTransaction(ctx context.Context, req ports.AssessmentRequest) (_ *models.Assessment, err error) {
	ctx, span := startSpan(ctx, "gateway.AssessTransaction", assessmentGateway)
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("module", req.Module))

	body, err := a.c.postJSON(ctx, span, "/v1/assessments", assessRequest{
		Module:       req.Module,
		DocumentScan: req.DocumentScan,
		LiveFace:     req.LiveFace,
	})
	if err != nil {
		return nil, err
	}
	result, err := parseAssessmentResponse(body)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("risk_score", result.Result.RiskScore),
		attribute.Int("alerts", len(result.Result.Alerts)),
		attribute.String("visa", string(result.Visa)),
	)
	return result, nil
}

func parseAssessmentResponse(body []byte) (*models.Assessment, error) {
	var w assessResponse
	if err := decode(assessmentGateway, body, &w); err != nil {
		return nil, err
	}

	rr := w.RiskResult
	if rr.RiskScore == nil {
		return nil, NewError(ErrorBadData, assessmentGateway, "risk_result.risk_score is missing", nil)
	}
	if *rr.RiskScore < 0 || *rr.RiskScore > 100 {
		return nil, NewError(ErrorBadData, assessmentGateway, fmt.Sprintf("risk score %d outside 0-100", *rr.RiskScore), nil)
	}
	alerts, err := alertsFromWire(assessmentGateway, rr.Alerts)
	if err != nil {
		return nil, err
	}

	visa, ok := models.ParseVisaVerdict(strings.ToLower(strings.TrimSpace(w.VisaCheckResult)))
	if !ok {
		return nil, NewError(ErrorBadData, assessmentGateway, fmt.Sprintf("unknown visa_check_result %q", w.VisaCheckResult), nil)
	}

	identity, err := identityFromWire(assessmentGateway, w.ExtractedData)
	if err != nil {
		return nil, err
	}

	out := &models.Assessment{
		Result: models.AssessmentResult{
			RiskScore:      *rr.RiskScore,
			Recommendation: rr.Recommendation,
			Summary:        rr.AssessmentSummary,
			Alerts:         alerts,
		},
		Visa:     visa,
		Identity: identity,
		Trip:     w.TripInformation,
	}

	for i, s := range w.Workflow {
		if strings.TrimSpace(s.ID) == "" {
			return nil, NewError(ErrorBadData, assessmentGateway, fmt.Sprintf("workflow step %d has no id", i+1), nil)
		}
		status, ok := models.ParseStepStatus(strings.ToLower(s.Status))
		if !ok {
			status = models.StepPending
		}
		out.Steps = append(out.Steps, models.WorkflowStep{ID: s.ID, Name: s.Name, Status: status})
	}

	if ep := w.ExistingPassenger; ep != nil {
		pid, err := id.ParsePassengerID(ep.ID)
		if err != nil {
			return nil, NewError(ErrorBadData, assessmentGateway, "existing_passenger.id", err)
		}
		stored, err := identityFromWire(assessmentGateway, ep.Identity)
		if err != nil {
			return nil, err
		}
		risk := models.RiskLevel(strings.ToLower(ep.RiskLevel))
		if risk == "" {
			risk = models.RiskLow
		}
		out.Matched = &models.MatchedIdentity{
			PassengerID: pid,
			Identity:    stored,
			RiskLevel:   risk,
			ImageRefs:   ep.ImageRefs,
		}
	}
	return out, nil
}
