// Package api serves the HTTP surface of the chat: health, the chat room REST endpoints and the websocket hub.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/roomchat/config"
	"github.com/tcriess/roomchat/globals"
	"github.com/tcriess/roomchat/persistence"
	"github.com/tcriess/roomchat/presence"
	"github.com/tcriess/roomchat/types"
)

// ConnectionCounter reports the number of open websocket connections.
type ConnectionCounter interface {
	ClientCount() int
}

type API struct {
	persister        persistence.Persister
	registry         *presence.Registry
	connections      ConnectionCounter
	recentRoomsLimit int
	historySize      int
	logger           hclog.Logger
}

// RoomDetails is a room together with the number of distinct users currently in it.
type RoomDetails struct {
	types.Room
	Online int `json:"online"`
}

type CreateRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	UserId      string `json:"userId"`
}

func New(cfg *config.Config, persister persistence.Persister, registry *presence.Registry, connections ConnectionCounter) *API {
	return &API{
		persister:        persister,
		registry:         registry,
		connections:      connections,
		recentRoomsLimit: cfg.HistoryConfig.RecentRooms,
		historySize:      cfg.HistoryConfig.HistorySize,
		logger:           globals.AppLogger.Named("api"),
	}
}

// Router returns the routes of the REST api, with the websocket handler mounted at /chatHub.
func (a *API) Router(chatHub http.Handler) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", a.health).Methods(http.MethodGet)
	router.Handle("/chatHub", chatHub).Methods(http.MethodGet)

	rooms := router.PathPrefix("/api/chatroom").Subrouter()
	rooms.HandleFunc("/recent", a.recentRooms).Methods(http.MethodGet)
	rooms.HandleFunc("", a.createRoom).Methods(http.MethodPost)
	rooms.HandleFunc("/{id}", a.getRoom).Methods(http.MethodGet)
	rooms.HandleFunc("/{id}/messages", a.roomMessages).Methods(http.MethodGet)
	return router
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"connections": a.connections.ClientCount(),
	})
}

func (a *API) recentRooms(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r, a.recentRoomsLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rooms, err := a.persister.GetRooms(limit)
	if err != nil {
		a.internalError(w, "could not get rooms", err)
		return
	}
	a.writeJSON(w, http.StatusOK, rooms)
}

func (a *API) getRoom(w http.ResponseWriter, r *http.Request) {
	room := types.Room{Id: mux.Vars(r)["id"]}
	err := a.persister.GetRoom(&room)
	if errors.Is(err, persistence.ErrNotFound) {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	if err != nil {
		a.internalError(w, "could not get room", err)
		return
	}
	a.writeJSON(w, http.StatusOK, RoomDetails{Room: room, Online: len(a.registry.UsersIn(room.Id))})
}

func (a *API) createRoom(w http.ResponseWriter, r *http.Request) {
	req := CreateRoomRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	now := time.Now().UTC()
	room := types.Room{
		Id:           uuid.NewString(),
		Name:         req.Name,
		Description:  req.Description,
		CreatedBy:    req.UserId,
		Members:      types.StringSlice{},
		CreatedAt:    now,
		LastActivity: now,
	}
	if req.UserId != "" {
		room.Members = append(room.Members, req.UserId)
	}
	if err := a.persister.StoreRoom(room); err != nil {
		a.internalError(w, "could not store room", err)
		return
	}
	a.logger.Info("created room", "room", room.Id, "name", room.Name, "user", req.UserId)
	a.writeJSON(w, http.StatusCreated, room)
}

func (a *API) roomMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r, a.historySize)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	messages, err := a.persister.GetRecentMessages(mux.Vars(r)["id"], limit)
	if err != nil {
		a.internalError(w, "could not get messages", err)
		return
	}
	a.writeJSON(w, http.StatusOK, messages)
}

// limitParam reads the optional positive "limit" query parameter.
func limitParam(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive number")
	}
	return limit, nil
}

func (a *API) internalError(w http.ResponseWriter, msg string, err error) {
	a.logger.Error(msg, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("could not write response", "error", err)
	}
}
