package migration

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/denismitr/evolve/operation"
	"github.com/denismitr/evolve/schema"
	"github.com/pkg/errors"
)

var (
	ErrInvalidTimestamp = errors.New("invalid migration timestamp")
	ErrInvalidName      = errors.New("invalid migration name")
	ErrInvalidID        = errors.New("invalid migration id")
)

// TimestampLength is the length of yyyyMMddHHmmss followed by tenths of a second.
const TimestampLength = 15

var (
	timestampRx = regexp.MustCompile(`^\d{15}$`)
	nameRx      = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
)

type (
	ClockFunc func() time.Time

	// Identity is what the history ledger knows about an applied migration.
	Identity struct {
		Name      string `db:"MigrationName"`
		Timestamp string `db:"Timestamp"`
	}

	// Metadata is one unit of schema evolution. SourceModel is nil for the
	// first migration of a context.
	Metadata struct {
		Name        string
		Timestamp   string
		SourceModel *schema.Model
		TargetModel *schema.Model
		Upgrade     []operation.Operation
		Downgrade   []operation.Operation
	}

	Migrations []*Metadata
)

// GenerateTimestamp renders the clock's time in UTC as yyyyMMddHHmmss plus one
// digit of tenths of a second, which sorts lexically in creation order.
func GenerateTimestamp(cf ClockFunc) string {
	now := cf().UTC()
	return now.Format("20060102150405") + strconv.Itoa(now.Nanosecond()/int(100*time.Millisecond))
}

func ValidateTimestamp(ts string) error {
	if !timestampRx.MatchString(ts) {
		return errors.Wrapf(ErrInvalidTimestamp, "[%s]", ts)
	}

	return nil
}

func ValidateName(name string) error {
	if !nameRx.MatchString(name) {
		return errors.Wrapf(ErrInvalidName, "[%s] must start with a letter and contain only letters, digits and underscores", name)
	}

	return nil
}

// CreateID joins a timestamp and a name into the migration id.
func CreateID(timestamp, name string) string {
	var sb strings.Builder
	sb.WriteString(timestamp)
	sb.WriteString("_")
	sb.WriteString(name)
	return sb.String()
}

// ParseID splits a migration id back into its identity.
func ParseID(id string) (Identity, error) {
	if len(id) < TimestampLength+2 || id[TimestampLength] != '_' {
		return Identity{}, errors.Wrapf(ErrInvalidID, "[%s]", id)
	}

	ident := Identity{Timestamp: id[:TimestampLength], Name: id[TimestampLength+1:]}
	if err := ValidateTimestamp(ident.Timestamp); err != nil {
		return Identity{}, errors.Wrapf(ErrInvalidID, "[%s]", id)
	}

	if err := ValidateName(ident.Name); err != nil {
		return Identity{}, errors.Wrapf(ErrInvalidID, "[%s]", id)
	}

	return ident, nil
}

func (i Identity) ID() string {
	return CreateID(i.Timestamp, i.Name)
}

func (i Identity) String() string {
	return i.ID()
}

func (m *Metadata) Identity() Identity {
	return Identity{Name: m.Name, Timestamp: m.Timestamp}
}

func (m *Metadata) ID() string {
	return CreateID(m.Timestamp, m.Name)
}

// Validate checks what discovery has to supply for a migration to be applied.
func (m *Metadata) Validate() error {
	if err := ValidateName(m.Name); err != nil {
		return err
	}

	if err := ValidateTimestamp(m.Timestamp); err != nil {
		return errors.Wrapf(err, "migration [%s]", m.Name)
	}

	if m.TargetModel == nil {
		return errors.Errorf("migration [%s] has no target model", m.ID())
	}

	if err := m.TargetModel.Validate(); err != nil {
		return errors.Wrapf(err, "target model of migration [%s]", m.ID())
	}

	return nil
}

func (m Migrations) Len() int {
	return len(m)
}

func (m Migrations) Less(i, j int) bool {
	return lessIdentity(m[i].Identity(), m[j].Identity())
}

func (m Migrations) Swap(i, j int) {
	m[i], m[j] = m[j], m[i]
}

// Sorted returns a copy ordered by timestamp then name.
func (m Migrations) Sorted() Migrations {
	result := make(Migrations, len(m))
	copy(result, m)
	sort.Stable(result)
	return result
}

func (m Migrations) Identities() []Identity {
	result := make([]Identity, 0, len(m))
	for i := range m {
		result = append(result, m[i].Identity())
	}
	return result
}

func (m Migrations) Find(name string) (*Metadata, bool) {
	for i := range m {
		if m[i].Name == name {
			return m[i], true
		}
	}

	return nil, false
}

// Last returns the latest migration by timestamp.
func (m Migrations) Last() (*Metadata, bool) {
	if len(m) == 0 {
		return nil, false
	}

	sorted := m.Sorted()
	return sorted[len(sorted)-1], true
}

// Pending returns the local migrations whose name is absent from applied,
// in ascending timestamp order. A name match counts as applied even when
// the timestamps differ.
func Pending(local Migrations, applied []Identity) Migrations {
	names := make(map[string]bool, len(applied))
	for _, a := range applied {
		names[a.Name] = true
	}

	var result Migrations
	for _, m := range local.Sorted() {
		if !names[m.Name] {
			result = append(result, m)
		}
	}

	return result
}

// Since returns the local migrations whose id sorts after the given one.
// An empty id selects every migration.
func Since(local Migrations, id string) Migrations {
	var result Migrations
	for _, m := range local.Sorted() {
		if id == "" || m.ID() > id {
			result = append(result, m)
		}
	}

	return result
}

// SortIdentities orders applied identities the way the history ledger reports them.
func SortIdentities(ids []Identity) {
	sort.SliceStable(ids, func(i, j int) bool { return lessIdentity(ids[i], ids[j]) })
}

func lessIdentity(a, b Identity) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}

	return a.Name < b.Name
}
