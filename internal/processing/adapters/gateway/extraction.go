package gateway

import (
	"context"
	"strings"
	"time"

	"checkpoint/internal/processing/models"
)

const extractionGateway = "document-extraction"

// ExtractionClient calls the document extraction gateway.
type ExtractionClient struct {
	c *client
}

func NewExtractionClient(baseURL string, opts ...Option) *ExtractionClient {
	return &ExtractionClient{c: newClient(extractionGateway, baseURL, opts...)}
}

type extractRequest struct {
	Image []byte `json:"image"`
}

type identityWire struct {
	GivenName      string `json:"given_name"`
	FamilyName     string `json:"family_name"`
	DocumentNumber string `json:"document_number"`
	Nationality    string `json:"nationality"`
	DateOfBirth    string `json:"date_of_birth"`
	Gender         string `json:"gender"`
	IssuingCountry string `json:"issuing_country"`
	IssueDate      string `json:"issue_date"`
	ExpiryDate     string `json:"expiry_date"`
}

// ExtractDocument posts the scan and returns the identity read from it.
func (e *ExtractionClient) ExtractDocument(ctx context.Context, image []byte) (_ models.ExtractedIdentity, err error) {
	ctx, span := startSpan(ctx, "gateway.ExtractDocument", extractionGateway)
	defer func() { endSpan(span, err) }()

	body, err := e.c.postJSON(ctx, span, "/v1/documents:extract", extractRequest{Image: image})
	if err != nil {
		return models.ExtractedIdentity{}, err
	}
	return parseExtractionResponse(body)
}

func parseExtractionResponse(body []byte) (models.ExtractedIdentity, error) {
	var w identityWire
	if err := decode(extractionGateway, body, &w); err != nil {
		return models.ExtractedIdentity{}, err
	}
	identity, err := identityFromWire(extractionGateway, w)
	if err != nil {
		return models.ExtractedIdentity{}, err
	}
	if identity.IsEmpty() {
		return models.ExtractedIdentity{}, NewError(ErrorNotFound, extractionGateway, "no identity fields could be read from the document", nil)
	}
	return identity, nil
}

func identityFromWire(gatewayName string, w identityWire) (models.ExtractedIdentity, error) {
	identity := models.ExtractedIdentity{
		GivenName:      strings.TrimSpace(w.GivenName),
		FamilyName:     strings.TrimSpace(w.FamilyName),
		DocumentNumber: strings.ToUpper(strings.TrimSpace(w.DocumentNumber)),
		Nationality:    strings.ToUpper(strings.TrimSpace(w.Nationality)),
		DateOfBirth:    strings.TrimSpace(w.DateOfBirth),
		Gender:         strings.TrimSpace(w.Gender),
		IssuingCountry: strings.ToUpper(strings.TrimSpace(w.IssuingCountry)),
		IssueDate:      strings.TrimSpace(w.IssueDate),
		ExpiryDate:     strings.TrimSpace(w.ExpiryDate),
	}
	for field, v := range map[string]string{
		"date_of_birth": identity.DateOfBirth,
		"issue_date":    identity.IssueDate,
		"expiry_date":   identity.ExpiryDate,
	} {
		if v == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, v); err != nil {
			return models.ExtractedIdentity{}, NewError(ErrorBadData, gatewayName, field+" is not a YYYY-MM-DD date", err)
		}
	}
	return identity, nil
}
