package dispatch

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"github.com/pushbucket/pushbucket-server/cmd/models"
	"github.com/pushbucket/pushbucket-server/cmd/utils"
	"github.com/pushbucket/pushbucket-server/service/push"
	"github.com/pushbucket/pushbucket-server/service/usage"
)

type Handler struct {
	db         *gorm.DB
	orch       *Orchestrator
	strategies map[string]push.Strategy
	usage      *usage.Store
}

func NewHandler(db *gorm.DB, orch *Orchestrator, strategies map[string]push.Strategy, usageStore *usage.Store) *Handler {
	return &Handler{db: db, orch: orch, strategies: strategies, usage: usageStore}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/messages", utils.AuthMiddleware(h.CreateMessage)).Methods("POST")
	router.HandleFunc("/messages/{id:[0-9]+}/remind", utils.AuthMiddleware(h.ScheduleReminder)).Methods("POST")
	router.HandleFunc("/notifications/{id:[0-9]+}/resend", utils.AuthMiddleware(h.ResendNotification)).Methods("POST")
	router.HandleFunc("/notifications/{id:[0-9]+}/postpone", utils.AuthMiddleware(h.PostponeNotification)).Methods("POST")
	router.HandleFunc("/notifications/{id:[0-9]+}/received", utils.AuthMiddleware(h.MarkReceived)).Methods("PATCH")
	router.HandleFunc("/notifications/{id:[0-9]+}/read", utils.AuthMiddleware(h.MarkRead)).Methods("PATCH")
	router.HandleFunc("/notifications/notify-external", utils.AuthMiddleware(h.NotifyExternal)).Methods("POST")
	router.HandleFunc("/users/{userId:[0-9]+}/history", utils.AuthMiddleware(h.GetUserHistory)).Methods("GET")
}

// CreateMessage stores a message and fans it out to every authorized device.
func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req models.MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.BucketID == 0 || req.Title == "" {
		http.Error(w, "bucketId and title are required", http.StatusBadRequest)
		return
	}

	var bucket models.Bucket
	if err := h.db.First(&bucket, req.BucketID).Error; err != nil {
		http.Error(w, "Bucket not found", http.StatusNotFound)
		return
	}

	deliveryType := req.DeliveryType
	if deliveryType == "" {
		deliveryType = models.DeliveryNormal
	}
	switch deliveryType {
	case models.DeliverySilent, models.DeliveryNormal, models.DeliveryCritical, models.DeliveryNoPush:
	default:
		http.Error(w, "Invalid delivery type", http.StatusBadRequest)
		return
	}

	message := models.Message{
		PublicID:     uuid.New().String(),
		BucketID:     req.BucketID,
		Title:        req.Title,
		Subtitle:     req.Subtitle,
		Body:         req.Body,
		DeliveryType: deliveryType,
	}
	if len(req.Attachments) > 0 {
		raw, _ := json.Marshal(req.Attachments)
		message.Attachments = string(raw)
	}
	if len(req.Actions) > 0 {
		raw, _ := json.Marshal(req.Actions)
		message.Actions = string(raw)
	}

	if err := h.db.Create(&message).Error; err != nil {
		http.Error(w, "Error creating message", http.StatusInternalServerError)
		return
	}

	notifications, stats, err := h.orch.Dispatch(r.Context(), &message, userID, req.TargetUserIDs)
	if err != nil {
		log.Printf("Error dispatching message %s: %v", message.PublicID, err)
		http.Error(w, "Error dispatching message", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":       message,
		"notifications": notifications,
		"stats":         stats,
	})
}

// ResendNotification re-attempts delivery of one notification to its device.
func (h *Handler) ResendNotification(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	notificationID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid notification ID", http.StatusBadRequest)
		return
	}

	notification, err := h.orch.Resend(r.Context(), notificationID, userID)
	if err != nil {
		log.Printf("Error resending notification %d: %v", notificationID, err)
		http.Error(w, "Error resending notification", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(notification)
}

// PostponeNotification schedules a later resend of one notification. With no
// explicit sendAt the user's default postpone duration applies.
func (h *Handler) PostponeNotification(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	notificationID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid notification ID", http.StatusBadRequest)
		return
	}

	var notification models.Notification
	if err := h.db.First(&notification, notificationID).Error; err != nil {
		http.Error(w, "Notification not found", http.StatusNotFound)
		return
	}
	if notification.UserID != userID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	// An empty body is fine; the user's default postpone duration applies.
	var req models.PostponeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sendAt := req.SendAt
	if sendAt.IsZero() {
		minutes := h.orch.settingsFor(userID, notification.DeviceID).DefaultPostponeMinutes
		if minutes <= 0 {
			minutes = 30
		}
		sendAt = time.Now().Add(time.Duration(minutes) * time.Minute)
	}
	if sendAt.Before(time.Now()) {
		http.Error(w, "sendAt must be in the future", http.StatusBadRequest)
		return
	}

	deferred := models.DeferredDelivery{
		NotificationID: notification.ID,
		MessageID:      notification.MessageID,
		UserID:         userID,
		SendAt:         sendAt,
		Kind:           models.DeferredPostpone,
	}
	if err := h.db.Create(&deferred).Error; err != nil {
		http.Error(w, "Error scheduling postpone", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(deferred)
}

// ScheduleReminder schedules a reminder resend of a message to all of the
// requesting user's devices.
func (h *Handler) ScheduleReminder(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	messageID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid message ID", http.StatusBadRequest)
		return
	}

	var message models.Message
	if err := h.db.First(&message, messageID).Error; err != nil {
		http.Error(w, "Message not found", http.StatusNotFound)
		return
	}

	var req models.ReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.SendAt.IsZero() || req.SendAt.Before(time.Now()) {
		http.Error(w, "sendAt must be in the future", http.StatusBadRequest)
		return
	}

	deferred := models.DeferredDelivery{
		MessageID: message.ID,
		UserID:    userID,
		SendAt:    req.SendAt,
		Kind:      models.DeferredReminder,
	}
	if err := h.db.Create(&deferred).Error; err != nil {
		http.Error(w, "Error scheduling reminder", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(deferred)
}

// MarkReceived stamps device-side receipt on a notification.
func (h *Handler) MarkReceived(w http.ResponseWriter, r *http.Request) {
	h.stampNotification(w, r, func(n *models.Notification, now time.Time) {
		if n.ReceivedAt == nil {
			n.ReceivedAt = &now
		}
	})
}

// MarkRead stamps a notification as read, implying receipt.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	h.stampNotification(w, r, func(n *models.Notification, now time.Time) {
		if n.ReceivedAt == nil {
			n.ReceivedAt = &now
		}
		if n.ReadAt == nil {
			n.ReadAt = &now
		}
	})
}

func (h *Handler) stampNotification(w http.ResponseWriter, r *http.Request, stamp func(*models.Notification, time.Time)) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	notificationID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid notification ID", http.StatusBadRequest)
		return
	}

	var notification models.Notification
	if err := h.db.First(&notification, notificationID).Error; err != nil {
		http.Error(w, "Notification not found", http.StatusNotFound)
		return
	}
	if notification.UserID != userID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	stamp(&notification, time.Now())
	if err := h.db.Save(&notification).Error; err != nil {
		http.Error(w, "Error updating notification", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(notification)
}

// NotifyExternal is the inbound half of passthrough mode: another instance
// forwards a prebuilt payload here and this instance pushes it using its own
// provider credentials. Nothing is persisted; only the usage counter moves.
func (h *Handler) NotifyExternal(w http.ResponseWriter, r *http.Request) {
	tokenID, err := utils.GetTokenIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req push.PassthroughRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	strategy, ok := h.strategies[req.Platform]
	if !ok {
		http.Error(w, "Unsupported platform", http.StatusBadRequest)
		return
	}

	if h.usage != nil {
		stats, err := h.usage.RecordCall(r.Context(), tokenID)
		if err != nil {
			log.Printf("Error counting passthrough call for token %s: %v", tokenID, err)
		} else {
			push.SetUsageHeaders(w.Header(), stats)
		}
	}

	out := strategy.SendPrebuilt(r.Context(), req.Payload, req.DeviceData.Device(req.Platform))

	w.Header().Set("Content-Type", "application/json")
	if out.PayloadTooLarge {
		// The status lets the sender advance its cascade without parsing
		// the body.
		w.WriteHeader(http.StatusRequestEntityTooLarge)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": out.Success,
		"error":   out.Err,
	})
}

// GetUserHistory returns the user's notifications, newest first, with the
// execution records of recent dispatch attempts.
func (h *Handler) GetUserHistory(w http.ResponseWriter, r *http.Request) {
	requesterID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	userID, err := pathID(r, "userId")
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}
	if userID != requesterID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}

	var total int64
	if err := h.db.Model(&models.Notification{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		http.Error(w, "Error counting notifications", http.StatusInternalServerError)
		return
	}

	var notifications []models.Notification
	err = h.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&notifications).Error
	if err != nil {
		http.Error(w, "Error retrieving notifications", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"notifications": notifications,
		"pagination": map[string]interface{}{
			"current_page": page,
			"page_size":    pageSize,
			"total_items":  total,
			"total_pages":  (total + int64(pageSize) - 1) / int64(pageSize),
		},
	})
}

func pathID(r *http.Request, name string) (uint, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
