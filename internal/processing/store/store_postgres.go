package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"checkpoint/internal/processing/models"
	id "checkpoint/pkg/domain"
	"checkpoint/pkg/platform/sentinel"
	txcontext "checkpoint/pkg/platform/tx"
)

// PostgresTransactionStore persists records in PostgreSQL. Writes join the
// transaction carried in ctx so the compliance outbox row commits with them.
type PostgresTransactionStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresTransactionStore {
	return &PostgresTransactionStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresTransactionStore) executor(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const upsertPassenger = `
	INSERT INTO passengers (
		id, given_name, family_name, document_number, nationality, date_of_birth,
		gender, issuing_country, issue_date, expiry_date, risk_level, image_refs,
		created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
	ON CONFLICT (id) DO UPDATE SET
		given_name = EXCLUDED.given_name,
		family_name = EXCLUDED.family_name,
		document_number = EXCLUDED.document_number,
		nationality = EXCLUDED.nationality,
		date_of_birth = EXCLUDED.date_of_birth,
		gender = EXCLUDED.gender,
		issuing_country = EXCLUDED.issuing_country,
		issue_date = EXCLUDED.issue_date,
		expiry_date = EXCLUDED.expiry_date,
		risk_level = EXCLUDED.risk_level,
		image_refs = EXCLUDED.image_refs,
		updated_at = EXCLUDED.updated_at
`

const insertTransaction = `
	INSERT INTO transactions (
		id, attempt_id, generation, passenger_id, officer_id, decision, status,
		risk_score, update_choice, officer_notes, identity, triggered_rules,
		workflow_steps, trip, attachment_refs, attachment_kinds, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	ON CONFLICT (attempt_id, generation) DO NOTHING
	RETURNING id
`

// SaveTransaction upserts the passenger then inserts the record. A second
// save for the same attempt generation touches neither table and returns the
// stored record's ID wrapped in sentinel.ErrConflict. A concurrent save that
// loses the insert race reports the same conflict; the caller rolls back its
// passenger upsert with the transaction.
func (s *PostgresTransactionStore) SaveTransaction(ctx context.Context, sub models.Submission) (id.TransactionID, error) {
	rec, p := sub.Record, sub.Passenger
	exec := s.executor(ctx)

	if existing, found, err := s.idForAttempt(ctx, rec.AttemptID, rec.Generation); err != nil {
		return id.TransactionID{}, err
	} else if found {
		return existing, alreadyRecorded(rec)
	}

	imageRefs := p.ImageRefs
	if imageRefs == nil {
		imageRefs = []string{}
	}
	_, err := exec.ExecContext(ctx, upsertPassenger,
		uuid.UUID(p.ID),
		p.Identity.GivenName,
		p.Identity.FamilyName,
		p.Identity.DocumentNumber,
		p.Identity.Nationality,
		p.Identity.DateOfBirth,
		p.Identity.Gender,
		p.Identity.IssuingCountry,
		p.Identity.IssueDate,
		p.Identity.ExpiryDate,
		string(p.RiskLevel),
		pq.Array(imageRefs),
		rec.CreatedAt,
	)
	if err != nil {
		return id.TransactionID{}, fmt.Errorf("upsert passenger: %w", err)
	}

	cols, err := encodeRecord(rec)
	if err != nil {
		return id.TransactionID{}, err
	}
	var stored uuid.UUID
	err = exec.QueryRowContext(ctx, insertTransaction,
		uuid.UUID(rec.ID),
		uuid.UUID(rec.AttemptID),
		rec.Generation,
		uuid.UUID(rec.PassengerID),
		uuid.UUID(rec.OfficerID),
		string(rec.Decision),
		string(rec.Status),
		rec.RiskScore,
		string(rec.UpdateChoice),
		rec.OfficerNotes,
		cols.identity,
		cols.rules,
		cols.steps,
		cols.trip,
		pq.Array(cols.refs),
		pq.Array(cols.kinds),
		rec.CreatedAt,
	).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		existing, found, lookupErr := s.idForAttempt(ctx, rec.AttemptID, rec.Generation)
		if lookupErr != nil {
			return id.TransactionID{}, lookupErr
		}
		if !found {
			return id.TransactionID{}, fmt.Errorf("insert transaction: conflicting row for attempt %s vanished", rec.AttemptID)
		}
		return existing, alreadyRecorded(rec)
	}
	if err != nil {
		return id.TransactionID{}, fmt.Errorf("insert transaction: %w", err)
	}
	return id.TransactionID(stored), nil
}

func (s *PostgresTransactionStore) idForAttempt(ctx context.Context, attemptID id.AttemptID, generation int) (id.TransactionID, bool, error) {
	var existing uuid.UUID
	err := s.executor(ctx).QueryRowContext(ctx,
		`SELECT id FROM transactions WHERE attempt_id = $1 AND generation = $2`,
		uuid.UUID(attemptID), generation,
	).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return id.TransactionID{}, false, nil
	}
	if err != nil {
		return id.TransactionID{}, false, fmt.Errorf("find transaction for attempt: %w", err)
	}
	return id.TransactionID(existing), true, nil
}

func alreadyRecorded(rec models.TransactionRecord) error {
	return fmt.Errorf("attempt %s generation %d already recorded: %w", rec.AttemptID, rec.Generation, sentinel.ErrConflict)
}

type recordColumns struct {
	identity string
	rules    string
	steps    string
	trip     sql.NullString
	refs     []string
	kinds    []string
}

func encodeRecord(rec models.TransactionRecord) (recordColumns, error) {
	var cols recordColumns
	identity, err := json.Marshal(rec.Identity)
	if err != nil {
		return cols, fmt.Errorf("marshal identity: %w", err)
	}
	rules := rec.TriggeredRules
	if rules == nil {
		rules = []models.TriggeredRule{}
	}
	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return cols, fmt.Errorf("marshal triggered rules: %w", err)
	}
	steps := rec.Steps
	if steps == nil {
		steps = []models.PersistedStep{}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return cols, fmt.Errorf("marshal workflow steps: %w", err)
	}
	if rec.Trip != nil {
		trip, err := json.Marshal(rec.Trip)
		if err != nil {
			return cols, fmt.Errorf("marshal trip: %w", err)
		}
		cols.trip = sql.NullString{String: string(trip), Valid: true}
	}
	cols.identity = string(identity)
	cols.rules = string(rulesJSON)
	cols.steps = string(stepsJSON)
	cols.refs = make([]string, 0, len(rec.Attachments))
	cols.kinds = make([]string, 0, len(rec.Attachments))
	for _, a := range rec.Attachments {
		cols.refs = append(cols.refs, a.Ref)
		cols.kinds = append(cols.kinds, string(a.Kind))
	}
	return cols, nil
}

const selectTransaction = `
	SELECT id, attempt_id, generation, passenger_id, officer_id, decision, status,
		risk_score, update_choice, officer_notes, identity, triggered_rules,
		workflow_steps, trip, attachment_refs, attachment_kinds, created_at
	FROM transactions
	WHERE id = $1
`

// FindByID loads a stored record.
func (s *PostgresTransactionStore) FindByID(ctx context.Context, txID id.TransactionID) (models.TransactionRecord, error) {
	var (
		rec                                  models.TransactionRecord
		recID, attemptID, passengerID, offID uuid.UUID
		decision, status, choice             string
		identity, rules, steps               []byte
		trip                                 []byte
		refs, kinds                          []string
	)
	err := s.executor(ctx).QueryRowContext(ctx, selectTransaction, uuid.UUID(txID)).Scan(
		&recID, &attemptID, &rec.Generation, &passengerID, &offID, &decision, &status,
		&rec.RiskScore, &choice, &rec.OfficerNotes, &identity, &rules,
		&steps, &trip, pq.Array(&refs), pq.Array(&kinds), &rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TransactionRecord{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.TransactionRecord{}, fmt.Errorf("find transaction by id: %w", err)
	}

	rec.ID = id.TransactionID(recID)
	rec.AttemptID = id.AttemptID(attemptID)
	rec.PassengerID = id.PassengerID(passengerID)
	rec.OfficerID = id.OfficerID(offID)
	rec.Decision = models.Decision(decision)
	rec.Status = models.RecordStatus(status)
	rec.UpdateChoice = models.MergeChoice(choice)
	if err := json.Unmarshal(identity, &rec.Identity); err != nil {
		return models.TransactionRecord{}, fmt.Errorf("unmarshal identity: %w", err)
	}
	if err := json.Unmarshal(rules, &rec.TriggeredRules); err != nil {
		return models.TransactionRecord{}, fmt.Errorf("unmarshal triggered rules: %w", err)
	}
	if err := json.Unmarshal(steps, &rec.Steps); err != nil {
		return models.TransactionRecord{}, fmt.Errorf("unmarshal workflow steps: %w", err)
	}
	if len(trip) > 0 {
		rec.Trip = &models.TripContext{}
		if err := json.Unmarshal(trip, rec.Trip); err != nil {
			return models.TransactionRecord{}, fmt.Errorf("unmarshal trip: %w", err)
		}
	}
	for i := range refs {
		kind := ""
		if i < len(kinds) {
			kind = kinds[i]
		}
		rec.Attachments = append(rec.Attachments, models.AttachmentRef{Kind: models.CaptureKind(kind), Ref: refs[i]})
	}
	return rec, nil
}

// FindPassenger loads a stored passenger.
func (s *PostgresTransactionStore) FindPassenger(ctx context.Context, passengerID id.PassengerID) (models.Passenger, error) {
	var (
		p    models.Passenger
		pid  uuid.UUID
		risk string
		refs []string
	)
	err := s.executor(ctx).QueryRowContext(ctx, `
		SELECT id, given_name, family_name, document_number, nationality, date_of_birth,
			gender, issuing_country, issue_date, expiry_date, risk_level, image_refs
		FROM passengers WHERE id = $1`, uuid.UUID(passengerID),
	).Scan(&pid, &p.Identity.GivenName, &p.Identity.FamilyName, &p.Identity.DocumentNumber,
		&p.Identity.Nationality, &p.Identity.DateOfBirth, &p.Identity.Gender,
		&p.Identity.IssuingCountry, &p.Identity.IssueDate, &p.Identity.ExpiryDate,
		&risk, pq.Array(&refs))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Passenger{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.Passenger{}, fmt.Errorf("find passenger: %w", err)
	}
	p.ID = id.PassengerID(pid)
	p.RiskLevel = models.RiskLevel(risk)
	p.ImageRefs = refs
	return p, nil
}
