// Package admin manages operator accounts and the audit trail behind
// the /api/admin surface. Operators are the only callers allowed to
// flip emergency mode.
package admin

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/dorkfun/backend/internal/models"
)

// TokenTTL is how long an operator session token stays valid.
const TokenTTL = 4 * time.Hour

// GetAccount retrieves an admin account by username.
func GetAccount(db *sqlx.DB, username string) (*models.AdminAccount, error) {
	var acc models.AdminAccount
	err := db.Get(&acc,
		`SELECT id, username, password_hash, created_at FROM admin_accounts WHERE username = $1`,
		username)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// CreateAccount creates or replaces an admin account. Used by the seed
// command and by tests.
func CreateAccount(db *sqlx.DB, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO admin_accounts (username, password_hash)
		VALUES ($1, $2)
		ON CONFLICT (username) DO UPDATE SET password_hash = EXCLUDED.password_hash
	`, username, string(hash))
	return err
}

// ValidateCredentials checks a username/password pair and returns the
// account on success.
func ValidateCredentials(db *sqlx.DB, username, password string) (*models.AdminAccount, error) {
	acc, err := GetAccount(db, username)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("admin account not found")
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)) != nil {
		return nil, fmt.Errorf("invalid password")
	}
	return acc, nil
}

type sessionClaims struct {
	AdminID  int    `json:"adminId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// IssueToken signs a session JWT for a verified operator.
func IssueToken(acc *models.AdminAccount, secret string) (string, error) {
	claims := sessionClaims{
		AdminID:  acc.ID,
		Username: acc.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// VerifyToken parses a session JWT and returns (adminID, username).
func VerifyToken(tokenStr, secret string) (int, string, error) {
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return 0, "", err
	}
	if !token.Valid {
		return 0, "", fmt.Errorf("invalid token")
	}
	return claims.AdminID, claims.Username, nil
}

// LogAction records an operator action in the audit log. Logging
// failures are logged and swallowed; auditing never blocks the action.
func LogAction(db *sqlx.DB, adminID int, action, detail string) {
	if db == nil {
		return
	}
	var idArg interface{}
	if adminID > 0 {
		idArg = adminID
	}
	if _, err := db.Exec(`
		INSERT INTO admin_audit_log (admin_id, action, detail) VALUES ($1, $2, $3)
	`, idArg, action, detail); err != nil {
		log.Printf("[ADMIN] Failed to record audit entry (%s): %v", action, err)
	}
}

// GetAuditLogs retrieves recent audit entries with pagination.
func GetAuditLogs(db *sqlx.DB, limit, offset int) ([]models.AdminAuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var logs []models.AdminAuditLog
	err := db.Select(&logs, `
		SELECT id, admin_id, action, detail, created_at
		FROM admin_audit_log
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	return logs, err
}
