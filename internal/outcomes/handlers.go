package outcomes

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"focusloop-backend/internal/analytics"
	"focusloop-backend/internal/auth"
)

func GetOutcomeHandler(dbx *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		row := dbx.QueryRow(`
			SELECT id, goal_text, is_active, created_at
			FROM outcomes
			WHERE user_id = $1 AND is_active = TRUE
			ORDER BY id DESC LIMIT 1
		`, uid)

		var o Outcome
		if err := row.Scan(&o.ID, &o.GoalText, &o.IsActive, &o.CreatedAt); err != nil {
			http.Error(w, "no active outcome", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(o)
	}
}

func CreateOutcomeHandler(dbx *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var body struct {
			GoalText string `json:"goal_text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		goal := strings.TrimSpace(body.GoalText)
		if goal == "" {
			http.Error(w, "goal_text required", http.StatusBadRequest)
			return
		}

		tx, err := dbx.Begin()
		if err != nil {
			http.Error(w, "db begin failed", http.StatusInternalServerError)
			return
		}
		defer tx.Rollback()

		// one active outcome per user
		if _, err := tx.Exec(`
			UPDATE outcomes SET is_active = FALSE WHERE user_id = $1 AND is_active = TRUE
		`, uid); err != nil {
			http.Error(w, "db error: "+err.Error(), http.StatusInternalServerError)
			return
		}

		var o Outcome
		o.GoalText = goal
		o.IsActive = true
		err = tx.QueryRow(`
			INSERT INTO outcomes (user_id, goal_text, is_active)
			VALUES ($1, $2, TRUE)
			RETURNING id, created_at
		`, uid, goal).Scan(&o.ID, &o.CreatedAt)
		if err != nil {
			http.Error(w, "db insert error", http.StatusInternalServerError)
			return
		}

		if err := tx.Commit(); err != nil {
			http.Error(w, "db commit failed", http.StatusInternalServerError)
			return
		}

		// analytics: outcome_created
		{
			env := analytics.FromRequest(r)
			env.UserID = uid
			props := map[string]any{
				"outcome_id": o.ID,
				"text_len":   len(goal),
			}
			_ = analytics.Log(r.Context(), dbx, env, "outcome_created", props, analytics.SourceEventKeyFromRequest(r))
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(o)
	}
}

func ListReflectionsHandler(dbx *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		rows, err := dbx.Query(`
			SELECT id, text, weight, created_at
			FROM reflections
			WHERE user_id = $1
			ORDER BY created_at DESC
			LIMIT 20
		`, uid)
		if err != nil {
			http.Error(w, "db error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		defer rows.Close()

		var result []Reflection
		for rows.Next() {
			var rf Reflection
			if err := rows.Scan(&rf.ID, &rf.Text, &rf.Weight, &rf.CreatedAt); err != nil {
				http.Error(w, "scan error: "+err.Error(), http.StatusInternalServerError)
				return
			}
			result = append(result, rf)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	}
}

func AddReflectionHandler(dbx *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var body struct {
			Text   string   `json:"text"`
			Weight *float64 `json:"weight"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		text := strings.TrimSpace(body.Text)
		if text == "" {
			http.Error(w, "text required", http.StatusBadRequest)
			return
		}

		weight := 0.5
		if body.Weight != nil {
			weight = *body.Weight
		}
		if weight < 0 || weight > 1 {
			http.Error(w, "weight must be in [0,1]", http.StatusBadRequest)
			return
		}

		var rf Reflection
		rf.Text = text
		rf.Weight = weight
		rf.CreatedAt = time.Now().UTC()
		err := dbx.QueryRow(`
			INSERT INTO reflections (user_id, text, weight)
			VALUES ($1, $2, $3)
			RETURNING id, created_at
		`, uid, text, weight).Scan(&rf.ID, &rf.CreatedAt)
		if err != nil {
			http.Error(w, "db insert error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rf)
	}
}
