package db

import (
	"context"
	"database/sql"
	"errors"

	"pairchat/internal/errs"
	"pairchat/internal/models"
)

// User methods

func (db *DB) CreateUser(ctx context.Context, email, fullName, passwordHash string) (*models.User, error) {
	user := &models.User{
		ID:        models.NewID(),
		Email:     email,
		FullName:  fullName,
		Password:  passwordHash,
		CreatedAt: db.now(),
	}

	_, err := db.ExecContext(ctx, db.rebind(
		"INSERT INTO users (id, email, full_name, password, created_at) VALUES (?, ?, ?, ?, ?)"),
		user.ID, user.Email, user.FullName, user.Password, user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errs.Wrap(errs.Conflict, err, "User already exists")
		}
		return nil, classify(err, "create user")
	}
	return user, nil
}

func (db *DB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return db.getUser(ctx, "id", id)
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return db.getUser(ctx, "email", email)
}

func (db *DB) getUser(ctx context.Context, column, value string) (*models.User, error) {
	user := &models.User{}
	err := db.QueryRowContext(ctx, db.rebind(`
		SELECT id, email, full_name, password, created_at
		FROM users
		WHERE `+column+` = ?
	`), value).Scan(&user.ID, &user.Email, &user.FullName, &user.Password, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.New(errs.NotFound, "User not found")
		}
		return nil, classify(err, "get user")
	}
	return user, nil
}

// ListUsersExcept returns every user but excludeID, ordered by name.
func (db *DB) ListUsersExcept(ctx context.Context, excludeID string) ([]*models.User, error) {
	rows, err := db.QueryContext(ctx, db.rebind(`
		SELECT id, email, full_name, password, created_at
		FROM users
		WHERE id <> ?
		ORDER BY full_name, id
	`), excludeID)
	if err != nil {
		return nil, classify(err, "list users")
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user := &models.User{}
		if err := rows.Scan(&user.ID, &user.Email, &user.FullName, &user.Password, &user.CreatedAt); err != nil {
			return nil, classify(err, "scan user")
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterate users")
	}
	return users, nil
}
