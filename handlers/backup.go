package handlers

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"danmuhub/internal/backup"
	"danmuhub/internal/database"
)

// maxBackupUpload caps an import archive at 256 MB.
const maxBackupUpload = 256 << 20

// BackupHandler streams database exports and restores.
type BackupHandler struct {
	DB *database.DB
}

// Export is GET /api/control/backup/export: a gzipped JSON archive of
// every table.
func (h *BackupHandler) Export(w http.ResponseWriter, r *http.Request) {
	filename := fmt.Sprintf("danmuhub-backup-%s.json.gz", time.Now().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := backup.Export(h.DB.Conn(), w); err != nil {
		// Headers are already sent; the truncated stream is the signal.
		log.Printf("[backup] export: %v", err)
	}
}

// Import is POST /api/control/backup/import: replace the database
// contents with an uploaded archive.
func (h *BackupHandler) Import(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxBackupUpload)
	if err := backup.Import(h.DB.Conn(), body); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "imported"})
}
