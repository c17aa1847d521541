package prioritize

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"focusloop-backend/internal/analytics"
	"focusloop-backend/internal/auth"
)

// StartHandler kicks off a prioritization run. The run happens in the
// background; the response carries a session ID to poll.
func StartHandler(runner *Runner, dbx *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		sessionID, err := runner.Start(r.Context(), uid)
		switch {
		case errors.Is(err, ErrRunActive):
			http.Error(w, "a prioritization run is already in progress", http.StatusConflict)
			return
		case errors.Is(err, ErrNoOutcome):
			http.Error(w, "no active outcome", http.StatusNotFound)
			return
		case errors.Is(err, ErrNoTasks):
			http.Error(w, "no active tasks", http.StatusNotFound)
			return
		case err != nil:
			http.Error(w, "start error: "+err.Error(), http.StatusInternalServerError)
			return
		}

		// analytics: prioritization_started
		{
			env := analytics.FromRequest(r)
			env.UserID = uid
			props := map[string]any{
				"session_id": sessionID,
			}
			_ = analytics.Log(r.Context(), dbx, env, "prioritization_started", props, analytics.SourceEventKeyFromRequest(r))
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"session_id": sessionID,
			"status":     SessionRunning,
		})
	}
}

// GetSessionHandler returns one session by ID, result included once the
// run has completed.
func GetSessionHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		sessionID := strings.TrimSpace(r.URL.Query().Get("id"))
		if sessionID == "" {
			http.Error(w, "id required", http.StatusBadRequest)
			return
		}

		rec, err := store.GetSession(r.Context(), uid, sessionID)
		if err == sql.ErrNoRows {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "db error: "+err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rec)
	}
}

// LatestHandler returns the most recent completed run, so clients can
// show the last good prioritization without tracking session IDs.
func LatestHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		rec, err := store.LatestCompleted(r.Context(), uid)
		if err == sql.ErrNoRows {
			http.Error(w, "no completed prioritization", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "db error: "+err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rec)
	}
}
