package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// Message roles.
const (
	RoleUser = "user"
	RoleAI   = "ai"
)

// User roles.
const (
	UserRoleUser  = "user"
	UserRoleAdmin = "admin"
)

type Store struct {
	DB *sql.DB
}

// User is an account row. PasswordHash is only populated by GetUserByEmail.
type User struct {
	ID           string
	Username     string
	Email        string
	Role         string
	PasswordHash string
	CreatedAt    time.Time
}

// Message is one turn inside a conversation. Append-only.
type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	CreatedAt      time.Time
}

// Conversation groups messages for a single user. MessageCount is populated by
// list queries; Messages only by GetConversation.
type Conversation struct {
	ID           string
	UserID       string
	StartedAt    time.Time
	EndedAt      *time.Time
	Messages     []Message
	MessageCount int
}

// KnowledgeEntry is a knowledge-base document with its embedding vector.
// Embedding is empty when the provider call failed at creation time.
type KnowledgeEntry struct {
	ID             string
	Title          string
	Content        string
	Tags           []string
	Embedding      []float32
	IsPublic       bool
	IsApproved     bool
	CreatedByAdmin bool
	CreatedByUser  bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// KnowledgeProjection is the slim view the retriever ranks over.
type KnowledgeProjection struct {
	Title     string
	Content   string
	Embedding []float32
}

func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// User operations

func (s *Store) CreateUser(ctx context.Context, username, email, hash, role string) (User, error) {
	u := User{Username: username, Email: email, Role: role}
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO users (username, email, password_hash, role) VALUES ($1,$2,$3,$4) RETURNING id, created_at`,
		username, email, hash, role).Scan(&u.ID, &u.CreatedAt)
	return u, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, role, created_at FROM users WHERE email=$1`,
		email).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

func (s *Store) GetUserByID(ctx context.Context, id string) (User, error) {
	var u User
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, username, email, role, created_at FROM users WHERE id=$1`,
		id).Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

// ListUsers returns a page of users, optionally filtered by a case-insensitive
// username/email match, newest first.
func (s *Store) ListUsers(ctx context.Context, search string, limit, offset int) ([]User, int, error) {
	pattern := "%" + search + "%"
	var total int
	if err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE ($1 = '%%' OR username ILIKE $1 OR email ILIKE $1)`,
		pattern).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, username, email, role, created_at FROM users
WHERE ($1 = '%%' OR username ILIKE $1 OR email ILIKE $1)
ORDER BY created_at DESC LIMIT $2 OFFSET $3`, pattern, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}

// Conversation operations

func (s *Store) CreateConversation(ctx context.Context, userID string) (Conversation, error) {
	c := Conversation{UserID: userID}
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO conversations (user_id) VALUES ($1) RETURNING id, started_at`,
		userID).Scan(&c.ID, &c.StartedAt)
	return c, err
}

// GetConversation loads a conversation together with its messages in append order.
func (s *Store) GetConversation(ctx context.Context, id string) (Conversation, error) {
	var c Conversation
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, user_id, started_at, ended_at FROM conversations WHERE id=$1`,
		id).Scan(&c.ID, &c.UserID, &c.StartedAt, &c.EndedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, created_at FROM messages WHERE conversation_id=$1 ORDER BY created_at, id`,
		id)
	if err != nil {
		return Conversation{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return Conversation{}, err
		}
		c.Messages = append(c.Messages, m)
	}
	c.MessageCount = len(c.Messages)
	return c, rows.Err()
}

// ListConversations returns a page of conversations newest first. userID empty
// lists across all users (admin); search matches message content.
func (s *Store) ListConversations(ctx context.Context, userID, search string, limit, offset int) ([]Conversation, int, error) {
	pattern := "%" + search + "%"
	var total int
	if err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(DISTINCT c.id) FROM conversations c
LEFT JOIN messages m ON m.conversation_id = c.id
WHERE ($1 = '' OR c.user_id::text = $1)
  AND ($2 = '%%' OR m.content ILIKE $2)`, userID, pattern).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT c.id, c.user_id, c.started_at, c.ended_at, COUNT(m.id)
FROM conversations c
LEFT JOIN messages m ON m.conversation_id = c.id
WHERE ($1 = '' OR c.user_id::text = $1)
  AND ($2 = '%%' OR c.id IN (SELECT conversation_id FROM messages WHERE content ILIKE $2))
GROUP BY c.id, c.user_id, c.started_at, c.ended_at
ORDER BY c.started_at DESC LIMIT $3 OFFSET $4`, userID, pattern, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.StartedAt, &c.EndedAt, &c.MessageCount); err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM conversations WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage adds one message to a conversation. Messages are never updated
// or reordered afterwards.
func (s *Store) AppendMessage(ctx context.Context, conversationID, role, content string) (Message, error) {
	m := Message{ID: uuid.NewString(), ConversationID: conversationID, Role: role, Content: content}
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content) VALUES ($1,$2,$3,$4) RETURNING created_at`,
		m.ID, conversationID, role, content).Scan(&m.CreatedAt)
	return m, err
}

// ListIdleConversationIDs returns open conversations whose latest message (or
// start, for empty conversations) is older than before.
func (s *Store) ListIdleConversationIDs(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT c.id FROM conversations c
WHERE c.ended_at IS NULL
  AND COALESCE((SELECT MAX(m.created_at) FROM messages m WHERE m.conversation_id = c.id), c.started_at) < $1`,
		before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EndConversations stamps ended_at for the given conversations.
func (s *Store) EndConversations(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE conversations SET ended_at=$1 WHERE id = ANY($2) AND ended_at IS NULL`,
		at, pq.Array(ids))
	return err
}

// Knowledge operations

func (s *Store) InsertKnowledge(ctx context.Context, e KnowledgeEntry) (KnowledgeEntry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	vec, err := nullableVectorLiteral(e.Embedding)
	if err != nil {
		return KnowledgeEntry{}, err
	}
	err = s.DB.QueryRowContext(ctx, `
INSERT INTO knowledge_entries (id, title, content, tags, embedding, is_public, is_approved, created_by_admin, created_by_user)
VALUES ($1,$2,$3,$4,$5::vector,$6,$7,$8,$9)
RETURNING created_at, updated_at`,
		e.ID, e.Title, e.Content, pq.Array(e.Tags), vec,
		e.IsPublic, e.IsApproved, e.CreatedByAdmin, e.CreatedByUser).
		Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return KnowledgeEntry{}, err
	}
	return e, nil
}

func (s *Store) GetKnowledge(ctx context.Context, id string) (KnowledgeEntry, error) {
	var (
		e   KnowledgeEntry
		vec sql.NullString
	)
	err := s.DB.QueryRowContext(ctx, `
SELECT id, title, content, tags, embedding::text, is_public, is_approved, created_by_admin, created_by_user, created_at, updated_at
FROM knowledge_entries WHERE id=$1`, id).
		Scan(&e.ID, &e.Title, &e.Content, pq.Array(&e.Tags), &vec,
			&e.IsPublic, &e.IsApproved, &e.CreatedByAdmin, &e.CreatedByUser, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return KnowledgeEntry{}, ErrNotFound
	}
	if err != nil {
		return KnowledgeEntry{}, err
	}
	if vec.Valid {
		if e.Embedding, err = decodeVectorLiteral(vec.String); err != nil {
			return KnowledgeEntry{}, err
		}
	}
	return e, nil
}

// UpdateKnowledge persists mutable fields of an entry; the embedding column is
// only touched when e.Embedding is non-empty.
func (s *Store) UpdateKnowledge(ctx context.Context, e KnowledgeEntry) error {
	vec, err := nullableVectorLiteral(e.Embedding)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE knowledge_entries SET
  title=$2, content=$3, tags=$4,
  embedding=COALESCE($5::vector, embedding),
  is_public=$6, is_approved=$7, updated_at=NOW()
WHERE id=$1`,
		e.ID, e.Title, e.Content, pq.Array(e.Tags), vec, e.IsPublic, e.IsApproved)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ApproveKnowledge marks an entry approved and public.
func (s *Store) ApproveKnowledge(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE knowledge_entries SET is_approved=TRUE, is_public=TRUE, updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteKnowledge(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM knowledge_entries WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// KnowledgeFilter narrows ListKnowledge.
type KnowledgeFilter struct {
	// ApprovedOnly restricts to approved, public entries (user-facing view).
	ApprovedOnly bool
	// Search is an ILIKE match over title and content (admin view).
	Search string
	// IDs restricts to specific entries, e.g. full-text index hits.
	IDs []string
}

// ListKnowledge returns a page of entries (without embeddings), newest first.
func (s *Store) ListKnowledge(ctx context.Context, f KnowledgeFilter, limit, offset int) ([]KnowledgeEntry, int, error) {
	pattern := "%" + f.Search + "%"
	ids := f.IDs
	if ids == nil {
		ids = []string{}
	}
	var total int
	if err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM knowledge_entries
WHERE (NOT $1 OR (is_approved AND is_public))
  AND ($2 = '%%' OR title ILIKE $2 OR content ILIKE $2)
  AND (cardinality($3::uuid[]) = 0 OR id = ANY($3::uuid[]))`,
		f.ApprovedOnly, pattern, pq.Array(ids)).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, title, content, tags, is_public, is_approved, created_by_admin, created_by_user, created_at, updated_at
FROM knowledge_entries
WHERE (NOT $1 OR (is_approved AND is_public))
  AND ($2 = '%%' OR title ILIKE $2 OR content ILIKE $2)
  AND (cardinality($3::uuid[]) = 0 OR id = ANY($3::uuid[]))
ORDER BY created_at DESC LIMIT $4 OFFSET $5`,
		f.ApprovedOnly, pattern, pq.Array(ids), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []KnowledgeEntry
	for rows.Next() {
		var e KnowledgeEntry
		if err := rows.Scan(&e.ID, &e.Title, &e.Content, pq.Array(&e.Tags),
			&e.IsPublic, &e.IsApproved, &e.CreatedByAdmin, &e.CreatedByUser, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// ScanKnowledgeProjections loads every entry's title/content/embedding for the
// brute-force similarity scan. approvedOnly optionally excludes unapproved
// entries from ranking.
func (s *Store) ScanKnowledgeProjections(ctx context.Context, approvedOnly bool) ([]KnowledgeProjection, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT title, content, embedding::text
FROM knowledge_entries
WHERE (NOT $1 OR (is_approved AND is_public))
ORDER BY created_at`, approvedOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []KnowledgeProjection
	for rows.Next() {
		var (
			p   KnowledgeProjection
			vec sql.NullString
		)
		if err := rows.Scan(&p.Title, &p.Content, &vec); err != nil {
			return nil, err
		}
		if vec.Valid && vec.String != "" {
			if p.Embedding, err = decodeVectorLiteral(vec.String); err != nil {
				return nil, err
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Vector literal helpers (pgvector text representation).

func nullableVectorLiteral(vec []float32) (sql.NullString, error) {
	if len(vec) == 0 {
		return sql.NullString{}, nil
	}
	lit, err := encodeVectorLiteral(vec)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: lit, Valid: true}, nil
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}

func decodeVectorLiteral(lit string) ([]float32, error) {
	lit = strings.TrimSpace(lit)
	if lit == "" {
		return nil, nil
	}
	lit = strings.TrimPrefix(lit, "[")
	lit = strings.TrimSuffix(lit, "]")
	if strings.TrimSpace(lit) == "" {
		return nil, nil
	}
	parts := strings.Split(lit, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector component %q: %w", p, err)
		}
		out = append(out, float32(f))
	}
	return out, nil
}
