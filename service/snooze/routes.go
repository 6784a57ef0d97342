package snooze

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"github.com/pushbucket/pushbucket-server/cmd/models"
	"github.com/pushbucket/pushbucket-server/cmd/utils"
)

type SnoozeHandler struct {
	db *gorm.DB
}

func NewSnoozeHandler(db *gorm.DB) *SnoozeHandler {
	return &SnoozeHandler{db: db}
}

func (h *SnoozeHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/users/{userId:[0-9]+}/buckets/{bucketId:[0-9]+}/snooze", utils.AuthMiddleware(h.PutSnooze)).Methods("PUT")
	router.HandleFunc("/users/{userId:[0-9]+}/buckets/{bucketId:[0-9]+}/snooze", utils.AuthMiddleware(h.GetSnooze)).Methods("GET")
	router.HandleFunc("/users/{userId:[0-9]+}/buckets/{bucketId:[0-9]+}/snooze", utils.AuthMiddleware(h.DeleteSnooze)).Methods("DELETE")
}

// PutSnooze replaces the user's snooze configuration for one bucket: both the
// one-shot timestamp and the full window list.
func (h *SnoozeHandler) PutSnooze(w http.ResponseWriter, r *http.Request) {
	userID, bucketID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req models.SnoozeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	for _, win := range req.Windows {
		if msg := validateWindow(win); msg != "" {
			http.Error(w, msg, http.StatusBadRequest)
			return
		}
	}

	var state models.SnoozeState
	err := h.db.Where("user_id = ? AND bucket_id = ?", userID, bucketID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		state = models.SnoozeState{UserID: userID, BucketID: bucketID}
		if err := h.db.Create(&state).Error; err != nil {
			http.Error(w, "Error creating snooze state", http.StatusInternalServerError)
			return
		}
	} else if err != nil {
		http.Error(w, "Error loading snooze state", http.StatusInternalServerError)
		return
	}

	state.SnoozeUntil = req.SnoozeUntil

	tx := h.db.Begin()
	if err := tx.Save(&state).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error saving snooze state", http.StatusInternalServerError)
		return
	}
	if err := tx.Where("snooze_state_id = ?", state.ID).Delete(&models.SnoozeWindow{}).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error replacing snooze windows", http.StatusInternalServerError)
		return
	}
	for _, win := range req.Windows {
		window := models.SnoozeWindow{
			SnoozeStateID: state.ID,
			Days:          win.Days,
			TimeFrom:      win.TimeFrom,
			TimeTill:      win.TimeTill,
			Enabled:       win.Enabled,
		}
		if err := tx.Create(&window).Error; err != nil {
			tx.Rollback()
			http.Error(w, "Error saving snooze window", http.StatusInternalServerError)
			return
		}
	}
	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Error saving snooze configuration", http.StatusInternalServerError)
		return
	}

	h.db.Preload("Windows").First(&state, state.ID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(state)
}

func (h *SnoozeHandler) GetSnooze(w http.ResponseWriter, r *http.Request) {
	userID, bucketID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var state models.SnoozeState
	err := h.db.Preload("Windows").
		Where("user_id = ? AND bucket_id = ?", userID, bucketID).
		First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		http.Error(w, "No snooze configuration", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Error loading snooze state", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(state)
}

func (h *SnoozeHandler) DeleteSnooze(w http.ResponseWriter, r *http.Request) {
	userID, bucketID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var state models.SnoozeState
	err := h.db.Where("user_id = ? AND bucket_id = ?", userID, bucketID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		http.Error(w, "Error loading snooze state", http.StatusInternalServerError)
		return
	}

	tx := h.db.Begin()
	if err := tx.Where("snooze_state_id = ?", state.ID).Delete(&models.SnoozeWindow{}).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error deleting snooze windows", http.StatusInternalServerError)
		return
	}
	if err := tx.Delete(&state).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error deleting snooze state", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Error deleting snooze configuration", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SnoozeHandler) authorize(w http.ResponseWriter, r *http.Request) (uint, uint, bool) {
	requesterID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return 0, 0, false
	}
	userID, err := strconv.ParseUint(mux.Vars(r)["userId"], 10, 32)
	if err != nil || uint(userID) != requesterID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return 0, 0, false
	}
	bucketID, err := strconv.ParseUint(mux.Vars(r)["bucketId"], 10, 32)
	if err != nil {
		http.Error(w, "Invalid bucket ID", http.StatusBadRequest)
		return 0, 0, false
	}
	return uint(userID), uint(bucketID), true
}

// validateWindow rejects configurations the evaluator would have to guess
// about. Cross-midnight windows must be split by the caller.
func validateWindow(win models.SnoozeWindowRequest) string {
	if win.Days == "" {
		return "window days must not be empty"
	}
	from, err := time.Parse("15:04", win.TimeFrom)
	if err != nil {
		return "timeFrom must be HH:MM"
	}
	till, err := time.Parse("15:04", win.TimeTill)
	if err != nil {
		return "timeTill must be HH:MM"
	}
	if !till.After(from) {
		return "timeTill must be after timeFrom; split windows that cross midnight"
	}
	return ""
}
