package repository

import (
	"context"

	"github.com/pkg/errors"

	"github.com/stanstork/invitation-api/internal/models"
)

type directoryRepository struct {
	conn conn
}

func (r *directoryRepository) GetCourse(ctx context.Context, courseID int64) (models.Course, error) {
	var course models.Course
	err := r.conn.queryRow(ctx, `SELECT id, fullname, shortname FROM courses WHERE id = $1`, courseID).
		Scan(&course.ID, &course.FullName, &course.ShortName)
	if err != nil {
		return models.Course{}, notFound(err, "get course")
	}
	return course, nil
}

func (r *directoryRepository) GetUser(ctx context.Context, userID int64) (models.User, error) {
	var user models.User
	err := r.conn.queryRow(ctx, `SELECT id, email, firstname, lastname FROM users WHERE id = $1`, userID).
		Scan(&user.ID, &user.Email, &user.FirstName, &user.LastName)
	if err != nil {
		return models.User{}, notFound(err, "get user")
	}
	return user, nil
}

func (r *directoryRepository) GetRole(ctx context.Context, roleID int64) (models.Role, error) {
	var (
		role      models.Role
		archetype string
	)
	err := r.conn.queryRow(ctx, `SELECT id, shortname, name, archetype FROM roles WHERE id = $1`, roleID).
		Scan(&role.ID, &role.ShortName, &role.Name, &archetype)
	if err != nil {
		return models.Role{}, notFound(err, "get role")
	}
	role.Archetype = models.Archetype(archetype)
	return role, nil
}

func (r *directoryRepository) ListRoles(ctx context.Context) ([]models.Role, error) {
	rows, err := r.conn.query(ctx, `SELECT id, shortname, name, archetype FROM roles ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "list roles")
	}
	defer rows.Close()

	var roles []models.Role
	for rows.Next() {
		var (
			role      models.Role
			archetype string
		)
		if err := rows.Scan(&role.ID, &role.ShortName, &role.Name, &archetype); err != nil {
			return nil, errors.Wrap(err, "scan role")
		}
		role.Archetype = models.Archetype(archetype)
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list roles")
	}
	return roles, nil
}

func (r *directoryRepository) AssignRole(ctx context.Context, courseID, roleID, userID int64) error {
	const query = `
		INSERT INTO role_assignments (courseid, roleid, userid)
		VALUES ($1, $2, $3)
		ON CONFLICT (courseid, roleid, userid) DO NOTHING`
	if _, err := r.conn.exec(ctx, query, courseID, roleID, userID); err != nil {
		return errors.Wrap(err, "assign role")
	}
	return nil
}

func (r *directoryRepository) UnassignRoles(ctx context.Context, courseID, userID int64) error {
	if _, err := r.conn.exec(ctx, `DELETE FROM role_assignments WHERE courseid = $1 AND userid = $2`, courseID, userID); err != nil {
		return errors.Wrap(err, "unassign roles")
	}
	return nil
}

// CourseArchetypes returns the archetypes of the roles a user holds in a course.
func (r *directoryRepository) CourseArchetypes(ctx context.Context, courseID, userID int64) ([]models.Archetype, error) {
	const query = `
		SELECT DISTINCT r.archetype
		FROM role_assignments ra
		JOIN roles r ON r.id = ra.roleid
		WHERE ra.courseid = $1 AND ra.userid = $2`

	rows, err := r.conn.query(ctx, query, courseID, userID)
	if err != nil {
		return nil, errors.Wrap(err, "course archetypes")
	}
	defer rows.Close()

	var archetypes []models.Archetype
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, errors.Wrap(err, "scan archetype")
		}
		archetypes = append(archetypes, models.Archetype(a))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "course archetypes")
	}
	return archetypes, nil
}
