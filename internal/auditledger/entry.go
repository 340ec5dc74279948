package auditledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/stayward/stayward/internal/apperr"
)

// TimestampLayout is the fixed timestamp format bound into every entry hash.
// Timestamps are truncated to microseconds before formatting so that values
// read back from PostgreSQL (timestamptz) reproduce the same string.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Action is the kind of activity an entry records.
type Action string

const (
	ActionView   Action = "VIEW"
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	ActionLogin  Action = "LOGIN"
	ActionLogout Action = "LOGOUT"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionView, ActionCreate, ActionUpdate, ActionDelete, ActionLogin, ActionLogout:
		return true
	}
	return false
}

// ParseAction converts a case-sensitive action name into an Action.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return "", apperr.Validation("unknown audit action %q", s)
	}
	return a, nil
}

// Metadata is free-form context attached to an entry. Key order never
// matters: the hash is computed over its JCS canonical form.
//
// JCS represents numbers as IEEE 754 doubles, so integer magnitudes must not
// exceed MaxSafeInteger. Append rejects larger integers with
// apperr.ErrValidation; store them as strings instead.
type Metadata map[string]any

// MaxSafeInteger is the largest integer magnitude Metadata can carry
// without losing precision.
const MaxSafeInteger = 1<<53 - 1

// Entry is a single immutable record in the audit chain.
type Entry struct {
	ID           string    `json:"id"`
	Seq          int64     `json:"seq"`
	ActorID      *string   `json:"actor_id"`
	Action       Action    `json:"action"`
	EntityName   string    `json:"entity_name"`
	EntityID     *string   `json:"entity_id"`
	Metadata     Metadata  `json:"metadata"`
	Timestamp    time.Time `json:"timestamp"`
	Hash         string    `json:"hash"`
	PreviousHash *string   `json:"previous_hash"`
}

// hashInput is the exact document that gets canonicalized and hashed.
type hashInput struct {
	ActorID      *string  `json:"actorId"`
	Action       Action   `json:"action"`
	EntityName   string   `json:"entityName"`
	EntityID     *string  `json:"entityId"`
	Metadata     Metadata `json:"metadata"`
	Timestamp    string   `json:"timestamp"`
	PreviousHash *string  `json:"previousHash"`
}

// computeHash returns the chain hash of e's content, linked to previousHash.
// The entry's own PreviousHash field is not consulted: Verify
// recomputes against the predecessor's stored hash.
func computeHash(e *Entry, previousHash *string) (string, error) {
	doc, err := canonicalize(hashInput{
		ActorID:      e.ActorID,
		Action:       e.Action,
		EntityName:   e.EntityName,
		EntityID:     e.EntityID,
		Metadata:     e.Metadata,
		Timestamp:    formatTimestamp(e.Timestamp),
		PreviousHash: previousHash,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(doc)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalize marshals v and rewrites it into RFC 8785 canonical form.
func canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal hash input: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize hash input: %w", err)
	}
	return out, nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Microsecond).Format(TimestampLayout)
}

// now returns the current time at the precision stored by every backend.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// encodeMetadata returns the canonical JSON form used for storage.
func encodeMetadata(m Metadata) ([]byte, error) {
	if m == nil {
		m = Metadata{}
	}
	return canonicalize(m)
}

// decodeMetadata keeps numbers as json.Number so that re-hashing a stored
// entry sees the same literal that was written.
func decodeMetadata(raw []byte) (Metadata, error) {
	m := Metadata{}
	if len(raw) == 0 {
		return m, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}

// normalizeMetadata round-trips m through its canonical encoding so the
// in-memory value of a freshly appended entry matches what a store returns.
func normalizeMetadata(m Metadata) (Metadata, error) {
	if err := checkIntegers("", map[string]any(m)); err != nil {
		return nil, err
	}
	raw, err := encodeMetadata(m)
	if err != nil {
		return nil, err
	}
	return decodeMetadata(raw)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func sameHash(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// checkIntegers rejects integers that JCS would round.
func checkIntegers(path string, v any) error {
	switch x := v.(type) {
	case nil, string, bool, float32, float64:
		return nil
	case int:
		return checkInt(path, int64(x))
	case int8:
		return checkInt(path, int64(x))
	case int16:
		return checkInt(path, int64(x))
	case int32:
		return checkInt(path, int64(x))
	case int64:
		return checkInt(path, x)
	case uint, uint8, uint16, uint32, uint64:
		if u := reflect.ValueOf(x).Uint(); u > MaxSafeInteger {
			return unsafeInteger(path, strconv.FormatUint(u, 10))
		}
		return nil
	case json.Number:
		return checkLiteral(path, string(x))
	case Metadata:
		return checkIntegers(path, map[string]any(x))
	case map[string]any:
		for k, e := range x {
			if err := checkIntegers(joinPath(path, k), e); err != nil {
				return err
			}
		}
		return nil
	case []any:
		for i, e := range x {
			if err := checkIntegers(fmt.Sprintf("%s[%d]", path, i), e); err != nil {
				return err
			}
		}
		return nil
	}

	// Anything else is checked in its JSON form.
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return err
	}
	return checkIntegers(path, generic)
}

func checkInt(path string, n int64) error {
	if n > MaxSafeInteger || n < -MaxSafeInteger {
		return unsafeInteger(path, strconv.FormatInt(n, 10))
	}
	return nil
}

func checkLiteral(path, lit string) error {
	if strings.ContainsAny(lit, ".eE") {
		return nil
	}
	n, err := strconv.ParseInt(lit, 10, 64)
	if err != nil {
		return unsafeInteger(path, lit)
	}
	return checkInt(path, n)
}

func unsafeInteger(path, lit string) error {
	return fmt.Errorf("integer %s at %q exceeds 2^53-1 and would lose precision", lit, path)
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
