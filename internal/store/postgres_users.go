package store

import (
	"context"
	"database/sql"
	"time"
)

const userColumns = `id, username, email, full_name, role, password_hash, is_active,
	COALESCE(avatar_path, ''), last_login, created_at, updated_at`

func scanUser(row rowScanner) (User, error) {
	var user User
	var lastLogin sql.NullTime
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.FullName, &user.Role,
		&user.PasswordHash, &user.IsActive, &user.AvatarPath, &lastLogin, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	user.LastLogin = timePtr(lastLogin)
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users (id, username, email, full_name, role, password_hash, is_active, avatar_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, user.ID, user.Username, user.Email, user.FullName, user.Role, user.PasswordHash, user.IsActive, nullString(user.AvatarPath))
	return classify("insert user", err)
}

func (s *PostgresStore) getUser(ctx context.Context, where string, arg any) (User, error) {
	user, err := scanUser(s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if err != nil {
		return User{}, classify("read user", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	return s.getUser(ctx, `id = $1`, id)
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return s.getUser(ctx, `LOWER(username) = LOWER($1)`, username)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getUser(ctx, `LOWER(email) = LOWER($1)`, email)
}

func (s *PostgresStore) queryUsers(ctx context.Context, query string, args ...any) ([]User, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list users", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, classify("scan user", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) FindUsersByIDs(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) == 0 {
		return []User{}, nil
	}
	return s.queryUsers(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1) ORDER BY username`, ids)
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	return s.queryUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, username`)
}

func (s *PostgresStore) UpdateUser(ctx context.Context, user User) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE users
		SET username=$2, email=$3, full_name=$4, role=$5, is_active=$6, avatar_path=$7, updated_at=NOW()
		WHERE id=$1
	`, user.ID, user.Username, user.Email, user.FullName, user.Role, user.IsActive, nullString(user.AvatarPath))
	if err != nil {
		return classify("update user", err)
	}
	return requireAffected(res, "update user")
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.q.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return classify("update password", err)
	}
	return requireAffected(res, "update password")
}

func (s *PostgresStore) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := s.q.ExecContext(ctx, `UPDATE users SET last_login=$2 WHERE id=$1`, userID, at)
	return classify("touch last login", err)
}

func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, userID)
	if err != nil {
		return classify("delete user", err)
	}
	return requireAffected(res, "delete user")
}

// CountUsersByRole counts active and inactive accounts alike.
func (s *PostgresStore) CountUsersByRole(ctx context.Context) (map[string]int, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT role, COUNT(*) FROM users GROUP BY role`)
	if err != nil {
		return nil, classify("count users", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, classify("scan role count", err)
		}
		counts[role] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStore) SetOnlineStatus(ctx context.Context, userID string, online bool, at time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO online_status (user_id, is_online, last_seen)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET is_online=EXCLUDED.is_online, last_seen=EXCLUDED.last_seen
	`, userID, online, at)
	return classify("set online status", err)
}

func (s *PostgresStore) ListOnlineStatuses(ctx context.Context) ([]OnlineStatus, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT u.id, u.username, u.full_name, COALESCE(o.is_online, FALSE), o.last_seen
		FROM users u
		LEFT JOIN online_status o ON o.user_id = u.id
		WHERE u.is_active
		ORDER BY COALESCE(o.is_online, FALSE) DESC, u.username
	`)
	if err != nil {
		return nil, classify("list online status", err)
	}
	defer rows.Close()

	statuses := make([]OnlineStatus, 0)
	for rows.Next() {
		var status OnlineStatus
		var lastSeen sql.NullTime
		if err := rows.Scan(&status.UserID, &status.Username, &status.FullName, &status.IsOnline, &lastSeen); err != nil {
			return nil, classify("scan online status", err)
		}
		status.LastSeen = timePtr(lastSeen)
		statuses = append(statuses, status)
	}
	return statuses, rows.Err()
}
