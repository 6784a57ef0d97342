package devices

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"github.com/pushbucket/pushbucket-server/cmd/models"
	"github.com/pushbucket/pushbucket-server/cmd/utils"
)

type DeviceHandler struct {
	db *gorm.DB
}

func NewDeviceHandler(db *gorm.DB) *DeviceHandler {
	return &DeviceHandler{db: db}
}

func (h *DeviceHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/devices", utils.AuthMiddleware(h.RegisterDevice)).Methods("POST")
	router.HandleFunc("/devices/{id:[0-9]+}", utils.AuthMiddleware(h.UpdateDevice)).Methods("PUT")
	router.HandleFunc("/devices/{id:[0-9]+}", utils.AuthMiddleware(h.DeleteDevice)).Methods("DELETE")
	router.HandleFunc("/users/{userId:[0-9]+}/devices", utils.AuthMiddleware(h.GetUserDevices)).Methods("GET")
	router.HandleFunc("/users/{userId:[0-9]+}/settings", utils.AuthMiddleware(h.PutSetting)).Methods("PUT")
	router.HandleFunc("/users/{userId:[0-9]+}/settings", utils.AuthMiddleware(h.GetSettings)).Methods("GET")
}

// RegisterDevice creates or refreshes a device registration. A device that
// re-registers with the same transport token is updated in place, not
// duplicated.
func (h *DeviceHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req models.DeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if msg := validateCredentials(req); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	device := models.UserDevice{
		UserID:          userID,
		Platform:        req.Platform,
		DeviceName:      req.DeviceName,
		APNSToken:       req.APNSToken,
		FCMToken:        req.FCMToken,
		WebPushEndpoint: req.WebPushEndpoint,
		WebPushP256dh:   req.WebPushP256dh,
		WebPushAuth:     req.WebPushAuth,
		OnlyLocal:       req.OnlyLocal,
		LastUsed:        time.Now(),
	}

	var existing models.UserDevice
	err = h.db.Where("user_id = ? AND platform = ? AND "+tokenColumn(req.Platform)+" = ?",
		userID, req.Platform, tokenValue(req)).First(&existing).Error
	if err == nil {
		device.ID = existing.ID
		device.CreatedAt = existing.CreatedAt
		if err := h.db.Save(&device).Error; err != nil {
			http.Error(w, "Error updating device", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(device)
		return
	}

	if err := h.db.Create(&device).Error; err != nil {
		http.Error(w, "Error registering device", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(device)
}

func (h *DeviceHandler) UpdateDevice(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	deviceID, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		http.Error(w, "Invalid device ID", http.StatusBadRequest)
		return
	}

	var device models.UserDevice
	if err := h.db.First(&device, deviceID).Error; err != nil {
		http.Error(w, "Device not found", http.StatusNotFound)
		return
	}
	if device.UserID != userID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	var req models.DeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Platform != "" && req.Platform != device.Platform {
		http.Error(w, "Platform cannot change; register a new device", http.StatusBadRequest)
		return
	}

	if req.DeviceName != "" {
		device.DeviceName = req.DeviceName
	}
	if req.APNSToken != "" {
		device.APNSToken = req.APNSToken
	}
	if req.FCMToken != "" {
		device.FCMToken = req.FCMToken
	}
	if req.WebPushEndpoint != "" {
		device.WebPushEndpoint = req.WebPushEndpoint
		device.WebPushP256dh = req.WebPushP256dh
		device.WebPushAuth = req.WebPushAuth
	}
	device.OnlyLocal = req.OnlyLocal
	device.LastUsed = time.Now()

	if err := h.db.Save(&device).Error; err != nil {
		http.Error(w, "Error updating device", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(device)
}

func (h *DeviceHandler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	deviceID, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		http.Error(w, "Invalid device ID", http.StatusBadRequest)
		return
	}

	var device models.UserDevice
	if err := h.db.First(&device, deviceID).Error; err != nil {
		http.Error(w, "Device not found", http.StatusNotFound)
		return
	}
	if device.UserID != userID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	if err := h.db.Delete(&device).Error; err != nil {
		http.Error(w, "Error deleting device", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DeviceHandler) GetUserDevices(w http.ResponseWriter, r *http.Request) {
	requesterID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	userID, err := strconv.ParseUint(mux.Vars(r)["userId"], 10, 32)
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}
	if uint(userID) != requesterID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	var devices []models.UserDevice
	if err := h.db.Where("user_id = ?", userID).Order("last_used DESC").Find(&devices).Error; err != nil {
		http.Error(w, "Error retrieving devices", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"devices": devices})
}

// PutSetting upserts one user setting. deviceId zero (or absent) makes the
// setting user-wide; a device-specific row overrides it at dispatch time.
func (h *DeviceHandler) PutSetting(w http.ResponseWriter, r *http.Request) {
	requesterID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	userID, err := strconv.ParseUint(mux.Vars(r)["userId"], 10, 32)
	if err != nil || uint(userID) != requesterID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	var req struct {
		DeviceID uint   `json:"deviceId"`
		Key      string `json:"key"`
		Value    string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var setting models.UserSetting
	err = h.db.Where("user_id = ? AND device_id = ? AND key = ?",
		requesterID, req.DeviceID, req.Key).First(&setting).Error
	if err == nil {
		setting.Value = req.Value
		err = h.db.Save(&setting).Error
	} else {
		setting = models.UserSetting{
			UserID:   requesterID,
			DeviceID: req.DeviceID,
			Key:      req.Key,
			Value:    req.Value,
		}
		err = h.db.Create(&setting).Error
	}
	if err != nil {
		http.Error(w, "Error saving setting", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(setting)
}

func (h *DeviceHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	requesterID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	userID, err := strconv.ParseUint(mux.Vars(r)["userId"], 10, 32)
	if err != nil || uint(userID) != requesterID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	var settings []models.UserSetting
	if err := h.db.Where("user_id = ?", requesterID).Find(&settings).Error; err != nil {
		http.Error(w, "Error retrieving settings", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"settings": settings})
}

// validateCredentials checks that exactly the credentials of the declared
// platform are present.
func validateCredentials(req models.DeviceRequest) string {
	switch req.Platform {
	case models.PlatformIOS:
		if req.APNSToken == "" {
			return "apnsToken is required for ios devices"
		}
	case models.PlatformAndroid:
		if req.FCMToken == "" {
			return "fcmToken is required for android devices"
		}
	case models.PlatformWeb:
		if req.WebPushEndpoint == "" || req.WebPushP256dh == "" || req.WebPushAuth == "" {
			return "webPushEndpoint, webPushP256dh and webPushAuth are required for web devices"
		}
	default:
		return "platform must be one of ios, android, web"
	}
	return ""
}

func tokenColumn(platform string) string {
	switch platform {
	case models.PlatformIOS:
		return "apns_token"
	case models.PlatformAndroid:
		return "fcm_token"
	default:
		return "web_push_endpoint"
	}
}

func tokenValue(req models.DeviceRequest) string {
	switch req.Platform {
	case models.PlatformIOS:
		return req.APNSToken
	case models.PlatformAndroid:
		return req.FCMToken
	default:
		return req.WebPushEndpoint
	}
}
