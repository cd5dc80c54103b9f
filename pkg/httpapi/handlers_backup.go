package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/peycheff/crewledger/pkg/auth"
	"github.com/peycheff/crewledger/pkg/backup"
)

// registerBackupRoutes wires the hot backup/restore surface:
// admin-only create/restore/status against the live SQLite file,
// outside the Session/txn machinery since these operate on the
// database file itself rather than through a transaction.
func registerBackupRoutes(mux *http.ServeMux, d *Deps) {
	adminOnly := auth.RequireRole(probs, auth.RoleAdmin)

	mux.Handle("POST /api/settings/backup/create", adminOnly(handleBackupCreate(d)))
	mux.Handle("POST /api/settings/backup/restore", adminOnly(handleBackupRestore(d)))
	mux.Handle("GET /api/settings/backup", adminOnly(handleBackupStatus(d)))
}

func handleBackupCreate(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		man, err := d.Backup.Create(time.Now())
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "internal_error", "backup failed")
			return
		}
		writeJSON(w, http.StatusCreated, man)
	}
}

type backupRestoreRequest struct {
	File string `json:"file"`
}

func handleBackupRestore(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req backupRestoreRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.File == "" {
			writeProblem(w, http.StatusUnprocessableEntity, "validation_error", "file is required")
			return
		}
		if err := d.Backup.Restore(req.File); err != nil {
			if errors.Is(err, backup.ErrIntegrityMismatch) {
				writeProblem(w, http.StatusConflict, "integrity_mismatch", err.Error())
				return
			}
			writeProblem(w, http.StatusInternalServerError, "internal_error", "restore failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"restored": req.File})
	}
}

func handleBackupStatus(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := d.Backup.Status()
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "internal_error", "status query failed")
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}
