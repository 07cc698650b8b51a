package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Berkay2002/rsa-messenger/internal/repository/social"
	"github.com/Berkay2002/rsa-messenger/internal/repository/user"
	"github.com/Berkay2002/rsa-messenger/internal/utils/log"

	"go.uber.org/zap"
)

type (
	registerRequest struct {
		Username            string `json:"username"`
		Password            string `json:"password"`
		PublicKey           string `json:"public_key"`
		EncryptedPrivateKey string `json:"encrypted_private_key"`
	}

	loginRequest struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	createGroupRequest struct {
		GroupName string   `json:"group_name"`
		Creator   string   `json:"creator"`
		Members   []string `json:"members"`
	}

	addFriendRequest struct {
		User   string `json:"user"`
		Friend string `json:"friend"`
	}

	addMemberRequest struct {
		GroupName string `json:"group_name"`
		Username  string `json:"username"`
	}
)

func (s *HttpServer) HandleRegister() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		if req.Username == "" || req.Password == "" || req.PublicKey == "" {
			respondError(w, http.StatusBadRequest, "username, password, and public_key are required")
			return
		}

		_, err := s.users.Create(r.Context(), req.Username, req.Password, req.PublicKey, req.EncryptedPrivateKey)
		if errors.Is(err, user.ErrAlreadyExists) {
			respondError(w, http.StatusBadRequest, "User already exists")
			return
		}
		if err != nil {
			log.Error("create user failed", zap.String("username", req.Username), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "registration failed")
			return
		}

		respondJSON(w, http.StatusCreated, map[string]string{"message": "User registered successfully"})
	}
}

func (s *HttpServer) HandleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		if req.Username == "" || req.Password == "" {
			respondError(w, http.StatusBadRequest, "username and password are required")
			return
		}

		u, err := s.users.Verify(r.Context(), req.Username, req.Password)
		if err != nil {
			log.Error("verify user failed", zap.String("username", req.Username), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "login failed")
			return
		}

		if u == nil {
			existing, err := s.users.GetByName(r.Context(), req.Username)
			if err != nil {
				respondError(w, http.StatusInternalServerError, "login failed")
				return
			}
			if existing != nil {
				respondError(w, http.StatusBadRequest, "Incorrect password")
			} else {
				respondError(w, http.StatusNotFound, "User does not exist")
			}
			return
		}

		respondJSON(w, http.StatusOK, map[string]string{
			"message":               "Login successful",
			"public_key":            u.PublicKey,
			"encrypted_private_key": u.EncryptedPrivateKey,
		})
	}
}

func (s *HttpServer) HandleGetPublicKey() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username := r.URL.Query().Get("username")
		if username == "" {
			respondError(w, http.StatusBadRequest, "Username is required")
			return
		}

		u, err := s.users.GetByName(r.Context(), username)
		if err != nil {
			log.Error("get public key failed", zap.String("username", username), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		if u == nil {
			respondError(w, http.StatusNotFound, fmt.Sprintf("User %s not found", username))
			return
		}
		if u.PublicKey == "" {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("User %s has no public key stored", username))
			return
		}

		respondJSON(w, http.StatusOK, map[string]string{"public_key": u.PublicKey})
	}
}

func (s *HttpServer) HandleGetFriends() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username := r.URL.Query().Get("username")
		if username == "" {
			respondError(w, http.StatusBadRequest, "Username is required")
			return
		}

		friends, err := s.social.Friends(r.Context(), username)
		if err != nil {
			log.Error("get friends failed", zap.String("username", username), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		if friends == nil {
			friends = []string{}
		}

		respondJSON(w, http.StatusOK, map[string][]string{"friends": friends})
	}
}

func (s *HttpServer) HandleGetGroups() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username := r.URL.Query().Get("username")
		if username == "" {
			respondError(w, http.StatusBadRequest, "Username is required")
			return
		}

		groups, err := s.social.Groups(r.Context(), username)
		if err != nil {
			log.Error("get groups failed", zap.String("username", username), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		if groups == nil {
			groups = []string{}
		}

		respondJSON(w, http.StatusOK, map[string][]string{"groups": groups})
	}
}

func (s *HttpServer) HandleGetGroupMembers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("group_name")
		if name == "" {
			respondError(w, http.StatusBadRequest, "group_name is required")
			return
		}

		members, err := s.social.GroupMembers(r.Context(), name)
		if errors.Is(err, social.ErrGroupNotFound) {
			respondError(w, http.StatusNotFound, "Group does not exist")
			return
		}
		if err != nil {
			log.Error("get group members failed", zap.String("group", name), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "lookup failed")
			return
		}

		respondJSON(w, http.StatusOK, map[string][]string{"members": members})
	}
}

func (s *HttpServer) HandleCreateGroup() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createGroupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		if req.GroupName == "" || req.Creator == "" || len(req.Members) == 0 {
			respondError(w, http.StatusBadRequest, "group_name, creator and members are required")
			return
		}

		// Every member must be a registered user.
		for _, member := range req.Members {
			u, err := s.users.GetByName(r.Context(), member)
			if err != nil {
				respondError(w, http.StatusInternalServerError, "create group failed")
				return
			}
			if u == nil {
				respondError(w, http.StatusBadRequest, fmt.Sprintf("User %s does not exist", member))
				return
			}
		}

		err := s.social.CreateGroup(r.Context(), req.GroupName, req.Creator, req.Members)
		if errors.Is(err, social.ErrGroupExists) {
			respondError(w, http.StatusBadRequest, "Group name already exists")
			return
		}
		if err != nil {
			log.Error("create group failed", zap.String("group", req.GroupName), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "create group failed")
			return
		}

		respondJSON(w, http.StatusCreated, map[string]string{"message": "Group created successfully"})
	}
}

func (s *HttpServer) HandleAddFriend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addFriendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		if req.User == "" || req.Friend == "" {
			respondError(w, http.StatusBadRequest, "user and friend are required")
			return
		}

		for _, name := range []string{req.User, req.Friend} {
			u, err := s.users.GetByName(r.Context(), name)
			if err != nil {
				respondError(w, http.StatusInternalServerError, "add friend failed")
				return
			}
			if u == nil {
				respondError(w, http.StatusBadRequest, fmt.Sprintf("User %s does not exist", name))
				return
			}
		}

		if err := s.social.AddFriend(r.Context(), req.User, req.Friend); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		respondJSON(w, http.StatusCreated, map[string]string{"message": "Friendship established"})
	}
}

func (s *HttpServer) HandleAddMember() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addMemberRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		if req.GroupName == "" || req.Username == "" {
			respondError(w, http.StatusBadRequest, "group_name and username are required")
			return
		}

		u, err := s.users.GetByName(r.Context(), req.Username)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "add member failed")
			return
		}
		if u == nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("User %s does not exist", req.Username))
			return
		}

		err = s.social.AddMember(r.Context(), req.GroupName, req.Username)
		if errors.Is(err, social.ErrGroupNotFound) {
			respondError(w, http.StatusNotFound, "Group does not exist")
			return
		}
		if err != nil {
			log.Error("add member failed", zap.String("group", req.GroupName), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "add member failed")
			return
		}

		respondJSON(w, http.StatusOK, map[string]string{"message": "Member added successfully"})
	}
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("write response failed", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}
