package prioritize

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// SessionStatus values persisted per run.
const (
	SessionRunning   = "running"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
)

// SessionRecord is what pollers see.
type SessionRecord struct {
	ID          string          `json:"session_id"`
	Status      string          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	FailReason  string          `json:"fail_reason,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Store persists prioritization sessions and loads run input. Each run
// gets its own row; a failed run never touches an earlier completed one.
type Store struct {
	DB *sql.DB
}

func NewStore(dbx *sql.DB) *Store {
	return &Store{DB: dbx}
}

func (s *Store) HasRunningSession(ctx context.Context, userID int) (bool, error) {
	var count int
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM prioritization_sessions
		WHERE user_id = $1 AND status = $2
	`, userID, SessionRunning).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) CreateSession(ctx context.Context, userID int) (string, error) {
	id := uuid.NewString()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO prioritization_sessions (id, user_id, status)
		VALUES ($1, $2, $3)
	`, id, userID, SessionRunning)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

func (s *Store) MarkCompleted(ctx context.Context, sessionID string, result Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	// ordered_task_ids is denormalized into its own column so dashboards
	// can query rankings without unpacking the result blob
	_, err = s.DB.ExecContext(ctx, `
		UPDATE prioritization_sessions
		SET status = $1, result = $2::jsonb, ordered_task_ids = $3, completed_at = now()
		WHERE id = $4
	`, SessionCompleted, string(payload), pq.Array(result.OrderedTaskIDs), sessionID)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, sessionID string, reason string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE prioritization_sessions
		SET status = $1, fail_reason = $2, completed_at = now()
		WHERE id = $3
	`, SessionFailed, reason, sessionID)
	return err
}

func (s *Store) GetSession(ctx context.Context, userID int, sessionID string) (SessionRecord, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, status, COALESCE(result::text, ''), COALESCE(fail_reason, ''), created_at, completed_at
		FROM prioritization_sessions
		WHERE id = $1 AND user_id = $2
	`, sessionID, userID)
	return scanSession(row)
}

func (s *Store) LatestCompleted(ctx context.Context, userID int) (SessionRecord, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, status, COALESCE(result::text, ''), COALESCE(fail_reason, ''), created_at, completed_at
		FROM prioritization_sessions
		WHERE user_id = $1 AND status = $2
		ORDER BY completed_at DESC
		LIMIT 1
	`, userID, SessionCompleted)
	return scanSession(row)
}

func scanSession(row *sql.Row) (SessionRecord, error) {
	var (
		rec       SessionRecord
		resultStr string
		completed sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.Status, &resultStr, &rec.FailReason, &rec.CreatedAt, &completed); err != nil {
		return SessionRecord{}, err
	}
	if resultStr != "" {
		rec.Result = json.RawMessage(resultStr)
	}
	if completed.Valid {
		t := completed.Time
		rec.CompletedAt = &t
	}
	return rec, nil
}

// maxReflections bounds how many recent notes feed a run.
const maxReflections = 5

// LoadRunInput gathers everything one run needs: the active outcome, its
// recent reflections, and the user's active tasks.
func (s *Store) LoadRunInput(ctx context.Context, userID int) (OutcomeContext, []Task, error) {
	var oc OutcomeContext

	err := s.DB.QueryRowContext(ctx, `
		SELECT goal_text FROM outcomes
		WHERE user_id = $1 AND is_active = TRUE
		ORDER BY id DESC LIMIT 1
	`, userID).Scan(&oc.GoalText)
	if err == sql.ErrNoRows {
		return OutcomeContext{}, nil, ErrNoOutcome
	}
	if err != nil {
		return OutcomeContext{}, nil, err
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT text, weight FROM reflections
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, maxReflections)
	if err != nil {
		return OutcomeContext{}, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var r Reflection
		if err := rows.Scan(&r.Text, &r.Weight); err != nil {
			return OutcomeContext{}, nil, err
		}
		oc.Reflections = append(oc.Reflections, r)
	}
	if err := rows.Err(); err != nil {
		return OutcomeContext{}, nil, err
	}

	taskRows, err := s.DB.QueryContext(ctx, `
		SELECT id, text FROM tasks
		WHERE user_id = $1 AND status = 'active'
		ORDER BY id
	`, userID)
	if err != nil {
		return OutcomeContext{}, nil, err
	}
	defer taskRows.Close()

	var tasks []Task
	for taskRows.Next() {
		var id int
		var text string
		if err := taskRows.Scan(&id, &text); err != nil {
			return OutcomeContext{}, nil, err
		}
		tasks = append(tasks, Task{ID: strconv.Itoa(id), Text: text})
	}
	if err := taskRows.Err(); err != nil {
		return OutcomeContext{}, nil, err
	}
	if len(tasks) == 0 {
		return OutcomeContext{}, nil, ErrNoTasks
	}

	return oc, tasks, nil
}

// retentionWindow after which session records are eligible for deletion.
const retentionWindow = 30 * 24 * time.Hour

// DeleteExpired removes session records older than the retention window.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		DELETE FROM prioritization_sessions
		WHERE created_at < now() - $1::interval
	`, fmt.Sprintf("%d hours", int(retentionWindow.Hours())))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// StartJanitor deletes expired sessions once a day until ctx is done.
func (s *Store) StartJanitor(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.DeleteExpired(ctx)
				if err != nil {
					log.Printf("[WARN] session janitor failed: %v", err)
					continue
				}
				if n > 0 {
					log.Printf("[INFO] session janitor removed %d expired sessions", n)
				}
			}
		}
	}()
}
