package history

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidID is returned when a textual identifier cannot be parsed.
var ErrInvalidID = errors.New("invalid history id")

// ID is an opaque record identifier issued by a Store. Callers may compare
// IDs with == and convert them to and from text, nothing else.
type ID struct {
	value string
}

// NewID issues a fresh identifier. Only Store implementations call this.
func NewID() ID {
	return ID{value: uuid.NewString()}
}

// ParseID converts the textual form produced by String back into an ID.
func ParseID(s string) (ID, error) {
	parsed, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return ID{value: parsed.String()}, nil
}

// String returns the transport form of the identifier.
func (id ID) String() string {
	return id.value
}

// IsZero reports whether the ID was never assigned.
func (id ID) IsZero() bool {
	return id.value == ""
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.value), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
