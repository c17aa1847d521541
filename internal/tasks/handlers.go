package tasks

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"focusloop-backend/internal/analytics"
	"focusloop-backend/internal/auth"
)

func GetTasksHandler(dbx *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		rows, err := dbx.Query(`
			SELECT id, text, status, created_at
			FROM tasks
			WHERE user_id = $1
			ORDER BY id DESC
		`, uid)
		if err != nil {
			http.Error(w, "db error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		defer rows.Close()

		var result []Task
		for rows.Next() {
			var t Task
			if err := rows.Scan(&t.ID, &t.Text, &t.Status, &t.CreatedAt); err != nil {
				http.Error(w, "scan error: "+err.Error(), http.StatusInternalServerError)
				return
			}
			result = append(result, t)
		}
		if err := rows.Err(); err != nil {
			http.Error(w, "db rows error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	}
}

func CreateTaskHandler(dbx *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var body struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		text := strings.TrimSpace(body.Text)
		if text == "" {
			http.Error(w, "empty task", http.StatusBadRequest)
			return
		}

		var t Task
		t.Text = text
		err := dbx.QueryRow(`
			INSERT INTO tasks (user_id, text)
			VALUES ($1, $2)
			RETURNING id, status, created_at
		`, uid, text).Scan(&t.ID, &t.Status, &t.CreatedAt)
		if err != nil {
			http.Error(w, "db error: "+err.Error(), http.StatusInternalServerError)
			return
		}

		// analytics: task_created
		{
			env := analytics.FromRequest(r)
			env.UserID = uid
			props := map[string]any{
				"task_id":  t.ID,
				"text_len": len(text),
			}
			_ = analytics.Log(r.Context(), dbx, env, "task_created", props, analytics.SourceEventKeyFromRequest(r))
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(t)
	}
}

func SetTaskStatusHandler(dbx *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var body struct {
			TaskID int    `json:"task_id"`
			Status string `json:"status"` // active|done|canceled
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if body.TaskID == 0 {
			http.Error(w, "task_id required", http.StatusBadRequest)
			return
		}

		switch body.Status {
		case "active", "done", "canceled":
		default:
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}

		var prevStatus string
		var createdAt time.Time
		_ = dbx.QueryRow(`
			SELECT status, created_at FROM tasks WHERE id=$1 AND user_id=$2
		`, body.TaskID, uid).Scan(&prevStatus, &createdAt)

		res, err := dbx.Exec(`
			UPDATE tasks SET status = $1 WHERE id = $2 AND user_id = $3
		`, body.Status, body.TaskID, uid)
		if err != nil {
			http.Error(w, "db error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			http.Error(w, "task not found", http.StatusNotFound)
			return
		}

		// analytics: task_completed
		if prevStatus != "done" && body.Status == "done" {
			env := analytics.FromRequest(r)
			env.UserID = uid
			props := map[string]any{
				"task_id":                body.TaskID,
				"time_since_created_sec": int(time.Now().UTC().Sub(createdAt).Seconds()),
			}
			_ = analytics.Log(r.Context(), dbx, env, "task_completed", props, analytics.SourceEventKeyFromRequest(r))
		}

		var t Task
		if err := dbx.QueryRow(`
			SELECT id, text, status, created_at FROM tasks WHERE id=$1 AND user_id=$2
		`, body.TaskID, uid).Scan(&t.ID, &t.Text, &t.Status, &t.CreatedAt); err != nil {
			http.Error(w, "fetch error: "+err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(t)
	}
}
