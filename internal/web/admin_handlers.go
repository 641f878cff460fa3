package web

import (
	"net/http"
	"net/url"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/edvart/haxstats/internal/coordinator"
	"github.com/edvart/haxstats/internal/store"
)

type backupResponse struct {
	Name      string    `json:"name"`
	Reason    string    `json:"reason"`
	Size      int64     `json:"size"`
	SizeHuman string    `json:"sizeHuman"`
	CreatedAt time.Time `json:"createdAt"`
	Age       string    `json:"age"`
}

func newBackupResponse(b *store.Backup) *backupResponse {
	if b == nil {
		return nil
	}
	return &backupResponse{
		Name:      b.Name,
		Reason:    b.Reason,
		Size:      b.Size,
		SizeHuman: humanize.Bytes(uint64(b.Size)),
		CreatedAt: b.CreatedAt,
		Age:       humanize.Time(b.CreatedAt),
	}
}

// nameParam returns a decoded path parameter.
func nameParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

func (s *Server) backupCreated(b *store.Backup) {
	if b != nil {
		s.metrics.BackupCreated(b.Reason, b.Size)
	}
}

// handleAdminClear zeroes all career stats after a backup.
func (s *Server) handleAdminClear(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.ClearAllStats(r.Context())
	if err != nil {
		s.adminError(w, err, "clear stats")
		return
	}
	s.backupCreated(b)
	s.log.WithField("backup", b.Name).Warn("Admin cleared all stats")
	writeJSON(w, http.StatusOK, map[string]any{"backup": newBackupResponse(b)})
}

// handleAdminPurge removes synthetic players. No backup is taken when there
// is nothing to remove.
func (s *Server) handleAdminPurge(w http.ResponseWriter, r *http.Request) {
	n, b, err := s.store.PurgeSyntheticPlayers(r.Context())
	if err != nil {
		s.adminError(w, err, "purge synthetic players")
		return
	}
	s.backupCreated(b)
	s.log.WithField("removed", n).Warn("Admin purged synthetic players")
	writeJSON(w, http.StatusOK, map[string]any{"removed": n, "backup": newBackupResponse(b)})
}

func (s *Server) handleAdminDeletePlayer(w http.ResponseWriter, r *http.Request) {
	name := nameParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "player name required")
		return
	}

	found, b, err := s.store.DeletePlayer(r.Context(), name)
	if err != nil {
		s.adminError(w, err, "delete player")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "player not found")
		return
	}
	s.backupCreated(b)
	s.log.WithFields(logrus.Fields{"name": name, "backup": b.Name}).Warn("Admin deleted player")
	writeJSON(w, http.StatusOK, map[string]any{"deleted": name, "backup": newBackupResponse(b)})
}

func (s *Server) handleAdminBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := s.store.ListBackups()
	if err != nil {
		s.adminError(w, err, "list backups")
		return
	}
	out := make([]*backupResponse, 0, len(backups))
	for i := range backups {
		out = append(out, newBackupResponse(&backups[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleAdminRestore goes through the coordinator so a running match is
// never swapped out from under the aggregator.
func (s *Server) handleAdminRestore(w http.ResponseWriter, r *http.Request) {
	name := nameParam(r, "name")
	safety, err := s.engine.RestoreBackup(r.Context(), name)
	if err != nil {
		s.adminError(w, err, "restore backup")
		return
	}
	s.backupCreated(safety)
	s.log.WithField("backup", name).Warn("Admin restored backup")
	writeJSON(w, http.StatusOK, map[string]any{"restored": name, "safetyBackup": newBackupResponse(safety)})
}

func (s *Server) adminError(w http.ResponseWriter, err error, op string) {
	log := s.log.WithError(err).WithField("op", op)
	switch {
	case errors.Is(err, coordinator.ErrMatchInProgress), errors.Is(err, coordinator.ErrRestoreInProgress):
		log.Warn("Admin operation refused")
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrBackupNotFound):
		writeError(w, http.StatusNotFound, "backup not found")
	case errors.Is(err, store.ErrBackupFailed):
		log.Error("Backup failed, operation refused")
		writeError(w, http.StatusServiceUnavailable, "backup failed, nothing was changed")
	case errors.Is(err, store.ErrRestoreFailed):
		log.Error("Restore failed")
		writeError(w, http.StatusInternalServerError, "restore failed, previous database kept")
	default:
		log.Error("Admin operation failed")
		writeError(w, http.StatusServiceUnavailable, "operation failed")
	}
}
