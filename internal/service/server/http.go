package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"rtchat/internal/model"
	"rtchat/internal/utils/log"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const tokenTTL = 24 * time.Hour

// identity extracts and verifies the bearer token from the Authorization
// header or the token query parameter.
func (s *HttpServer) identity(r *http.Request) (string, error) {
	token := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	return s.auth.Verify(token)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("write response failed", zap.Error(err))
	}
}

// CreateUser registers an identity and hands back a signed token for the
// signaling socket.
func (s *HttpServer) CreateUser() http.HandlerFunc {
	type request struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	type response struct {
		User  model.User `json:"user"`
		Token string     `json:"token"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
			http.Error(w, "name is required", http.StatusBadRequest)
			return
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}

		u := model.User{ID: req.ID, Name: req.Name, LastOnline: time.Now().UTC()}
		if err := s.userRepo.Create(r.Context(), &u); err != nil {
			log.Error("create user failed", zap.String("name", req.Name), zap.Error(err))
			http.Error(w, "create user failed", http.StatusInternalServerError)
			return
		}

		token, err := s.auth.Issue(u.ID, tokenTTL)
		if err != nil {
			log.Error("issue token failed", zap.String("userID", u.ID), zap.Error(err))
			http.Error(w, "create user failed", http.StatusInternalServerError)
			return
		}

		writeJSON(w, response{User: u, Token: token})
	}
}

// GetUser serves a user's presence by name.
func (s *HttpServer) GetUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.identity(r); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		name := mux.Vars(r)["name"]
		u, err := s.userRepo.FindByName(r.Context(), name)
		if err != nil {
			log.Error("get user failed", zap.String("name", name), zap.Error(err))
			http.Error(w, "get user failed", http.StatusInternalServerError)
			return
		}
		if u == nil {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}

		writeJSON(w, u)
	}
}

// GetChat serves one chat view, cache-first, to its members only.
func (s *HttpServer) GetChat() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.identity(r)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		chatID := mux.Vars(r)["chatID"]
		view, err := s.chats.GetChat(r.Context(), chatID)
		if err != nil {
			log.Error("get chat failed", zap.String("chatID", chatID), zap.Error(err))
			http.Error(w, "get chat failed", http.StatusInternalServerError)
			return
		}
		if view == nil {
			http.Error(w, "chat not found", http.StatusNotFound)
			return
		}

		member := false
		for _, id := range view.Chat.MemberIDs {
			if id == userID {
				member = true
				break
			}
		}
		if !member {
			http.Error(w, "not a member", http.StatusForbidden)
			return
		}

		writeJSON(w, view)
	}
}

// GetChats serves the requester's chat list.
func (s *HttpServer) GetChats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.identity(r)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		views, err := s.chats.GetChatsForUser(r.Context(), userID)
		if err != nil {
			log.Error("get chats failed", zap.String("userID", userID), zap.Error(err))
			http.Error(w, "get chats failed", http.StatusInternalServerError)
			return
		}

		writeJSON(w, views)
	}
}

// GetAttachment serves attachment metadata for a message.
func (s *HttpServer) GetAttachment() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.identity(r); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		messageID := mux.Vars(r)["messageID"]
		att, err := s.chats.GetAttachment(r.Context(), messageID)
		if err != nil {
			log.Error("get attachment failed", zap.String("messageID", messageID), zap.Error(err))
			http.Error(w, "get attachment failed", http.StatusInternalServerError)
			return
		}
		if att == nil {
			http.Error(w, "attachment not found", http.StatusNotFound)
			return
		}

		writeJSON(w, att)
	}
}
