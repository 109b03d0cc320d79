package domain

import "github.com/google/uuid"

// Typed identifiers keep user, fence, and record IDs from being swapped at
// call sites. They are plain UUIDs underneath.
type (
	UserID   uuid.UUID
	FenceID  uuid.UUID
	RecordID uuid.UUID
)

func NewRecordID() RecordID { return RecordID(uuid.New()) }

func ParseUserID(s string) (UserID, error) {
	u, err := uuid.Parse(s)
	return UserID(u), err
}

func ParseFenceID(s string) (FenceID, error) {
	u, err := uuid.Parse(s)
	return FenceID(u), err
}

func ParseRecordID(s string) (RecordID, error) {
	u, err := uuid.Parse(s)
	return RecordID(u), err
}

func (id UserID) String() string   { return uuid.UUID(id).String() }
func (id FenceID) String() string  { return uuid.UUID(id).String() }
func (id RecordID) String() string { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id FenceID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id RecordID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// Text marshaling keeps JSON and log output in canonical UUID form; defined
// types do not inherit uuid.UUID's methods.

func (id UserID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id FenceID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id RecordID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *UserID) UnmarshalText(text []byte) error {
	u, err := uuid.Parse(string(text))
	if err != nil {
		return err
	}
	*id = UserID(u)
	return nil
}

func (id *FenceID) UnmarshalText(text []byte) error {
	u, err := uuid.Parse(string(text))
	if err != nil {
		return err
	}
	*id = FenceID(u)
	return nil
}

func (id *RecordID) UnmarshalText(text []byte) error {
	u, err := uuid.Parse(string(text))
	if err != nil {
		return err
	}
	*id = RecordID(u)
	return nil
}
