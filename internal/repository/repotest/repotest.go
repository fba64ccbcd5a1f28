// Package repotest provides SQLite-backed stores with a small seeded
// directory for tests.
package repotest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/stanstork/invitation-api/internal/migration"
	"github.com/stanstork/invitation-api/internal/models"
	"github.com/stanstork/invitation-api/internal/repository"
)

// Seeded identifiers.
const (
	CourseID      int64 = 7
	OtherCourseID int64 = 8

	RoleManager        int64 = 1
	RoleEditingTeacher int64 = 3
	RoleStudent        int64 = 5

	TeacherID int64 = 2
	AdaID     int64 = 10
	BobID     int64 = 11
	ManagerID int64 = 12

	DefaultValidity = 14 * 24 * time.Hour
)

// Fixture is a migrated, seeded store.
type Fixture struct {
	DB       *sql.DB
	Store    repository.Store
	Instance models.EnrolInstance
}

// NewSQLiteStore opens a fresh database in a temp dir and applies migrations.
func NewSQLiteStore(t testing.TB) (repository.Store, *sql.DB) {
	t.Helper()

	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "invitations.db")
	db, err := repository.Open(ctx, repository.DialectSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, migration.Run(db, repository.DialectSQLite, zerolog.Nop()))
	return repository.NewStore(db, repository.DialectSQLite), db
}

// Seed inserts the reference directory and an enabled invitation instance
// for CourseID. OtherCourseID has no instance.
func Seed(t testing.TB, db *sql.DB, store repository.Store) models.EnrolInstance {
	t.Helper()

	statements := []string{
		`INSERT INTO courses (id, fullname, shortname) VALUES (7, 'Algebra I', 'ALG1'), (8, 'Geometry', 'GEO')`,
		`INSERT INTO roles (id, shortname, name, archetype) VALUES
			(1, 'manager', 'Manager', 'manager'),
			(3, 'editingteacher', 'Teacher', 'editingteacher'),
			(5, 'student', 'Student', 'student')`,
		`INSERT INTO users (id, email, firstname, lastname) VALUES
			(2, 'teacher@example.com', 'Tina', 'Teacher'),
			(10, 'a@x.com', 'Ada', 'Lovelace'),
			(11, 'b@x.com', 'Bob', 'Builder'),
			(12, 'manager@example.com', 'Max', 'Manager')`,
		`INSERT INTO role_assignments (courseid, roleid, userid) VALUES (7, 3, 2), (7, 1, 12)`,
	}
	for _, stmt := range statements {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	instance, err := store.Instances().CreateInstance(context.Background(), models.EnrolInstance{
		CourseID:       CourseID,
		Status:         models.InstanceStatusEnabled,
		RoleID:         RoleStudent,
		InviteValidity: DefaultValidity,
		EmailSubject:   "Join Algebra I",
		EmailMessage:   "See you in class.",
		TimeModified:   time.Unix(1_700_000_000, 0).UTC(),
	})
	require.NoError(t, err)
	return instance
}

// New returns a migrated and seeded SQLite fixture.
func New(t testing.TB) Fixture {
	t.Helper()
	store, db := NewSQLiteStore(t)
	instance := Seed(t, db, store)
	return Fixture{DB: db, Store: store, Instance: instance}
}
