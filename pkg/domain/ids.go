// Package domain holds typed identifiers shared across modules.
//
// Each ID is a distinct named type over uuid.UUID so an attempt ID can never
// be passed where a transaction or passenger ID is expected.
package domain

import (
	"github.com/google/uuid"

	dErrors "checkpoint/pkg/domain-errors"
)

type (
	// AttemptID identifies one run of the live processing flow.
	AttemptID uuid.UUID
	// TransactionID identifies a persisted transaction record.
	TransactionID uuid.UUID
	// PassengerID identifies a stored passenger identity.
	PassengerID uuid.UUID
	// OfficerID identifies the border officer operating an attempt.
	OfficerID uuid.UUID
)

func NewAttemptID() AttemptID         { return AttemptID(uuid.New()) }
func NewTransactionID() TransactionID { return TransactionID(uuid.New()) }
func NewPassengerID() PassengerID     { return PassengerID(uuid.New()) }

func (id AttemptID) String() string     { return uuid.UUID(id).String() }
func (id TransactionID) String() string { return uuid.UUID(id).String() }
func (id PassengerID) String() string   { return uuid.UUID(id).String() }
func (id OfficerID) String() string     { return uuid.UUID(id).String() }

func (id AttemptID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id TransactionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id PassengerID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id OfficerID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }

func ParseAttemptID(s string) (AttemptID, error) {
	u, err := parseUUID(s, "attempt ID")
	return AttemptID(u), err
}

func ParseTransactionID(s string) (TransactionID, error) {
	u, err := parseUUID(s, "transaction ID")
	return TransactionID(u), err
}

func ParsePassengerID(s string) (PassengerID, error) {
	u, err := parseUUID(s, "passenger ID")
	return PassengerID(u), err
}

func ParseOfficerID(s string) (OfficerID, error) {
	u, err := parseUUID(s, "officer ID")
	return OfficerID(u), err
}

// parseUUID is the single trust-boundary check for every ID type: non-empty,
// well-formed and not the nil UUID.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return u, nil
}

// Text marshaling keeps IDs in canonical UUID form in JSON and logs.

func (id AttemptID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }
func (id TransactionID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id PassengerID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id OfficerID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }

func (id *AttemptID) UnmarshalText(b []byte) error {
	v, err := ParseAttemptID(string(b))
	if err == nil {
		*id = v
	}
	return err
}

func (id *TransactionID) UnmarshalText(b []byte) error {
	v, err := ParseTransactionID(string(b))
	if err == nil {
		*id = v
	}
	return err
}

func (id *PassengerID) UnmarshalText(b []byte) error {
	v, err := ParsePassengerID(string(b))
	if err == nil {
		*id = v
	}
	return err
}

func (id *OfficerID) UnmarshalText(b []byte) error {
	v, err := ParseOfficerID(string(b))
	if err == nil {
		*id = v
	}
	return err
}
