package main

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

func (a *api) routes(mux *http.ServeMux) {
	// Auth endpoints
	mux.HandleFunc("POST /api/auth/register", a.withRateLimit("auth", 20, time.Minute, a.handleRegister))
	mux.HandleFunc("POST /api/auth/login", a.withRateLimit("auth", 30, time.Minute, a.handleLogin))
	mux.HandleFunc("POST /api/auth/logout", a.handleLogout)
	mux.HandleFunc("GET /api/auth/me", a.handleMe)

	mux.HandleFunc("GET /api/health", a.handleHealth)

	mux.HandleFunc("GET /api/boards", a.handleListBoards)
	mux.HandleFunc("POST /api/boards", a.handleCreateBoard)
	mux.HandleFunc("GET /api/boards/{id}", a.handleGetBoard)
	mux.HandleFunc("GET /api/boards/{id}/full", a.handleGetBoardFull)
	mux.HandleFunc("GET /api/boards/{id}/events", a.handleBoardEvents)
	mux.HandleFunc("PUT /api/boards/{id}", a.handleUpdateBoard)
	mux.HandleFunc("DELETE /api/boards/{id}", a.handleDeleteBoard)

	mux.HandleFunc("GET /api/lists/board/{boardId}", a.handleListsByBoard)
	mux.HandleFunc("GET /api/lists/{id}", a.handleGetList)
	mux.HandleFunc("POST /api/lists", a.handleCreateList)
	mux.HandleFunc("PUT /api/lists/{id}", a.handleUpdateList)
	mux.HandleFunc("DELETE /api/lists/{id}", a.handleDeleteList)

	mux.HandleFunc("GET /api/cards/list/{listId}", a.handleCardsByList)
	mux.HandleFunc("GET /api/cards/{id}", a.handleGetCard)
	mux.HandleFunc("POST /api/cards", a.handleCreateCard)
	mux.HandleFunc("PUT /api/cards/{id}", a.handleUpdateCard)
	mux.HandleFunc("DELETE /api/cards/{id}", a.handleDeleteCard)

	mux.HandleFunc("GET /api/comments/card/{cardId}", a.handleCommentsByCard)
	mux.HandleFunc("GET /api/comments/{id}", a.handleGetComment)
	mux.HandleFunc("POST /api/comments", a.handleAddComment)
	mux.HandleFunc("PUT /api/comments/{id}", a.handleUpdateComment)
	mux.HandleFunc("DELETE /api/comments/{id}", a.handleDeleteComment)

	mux.HandleFunc("GET /api/activity/card/{cardId}", a.handleActivityByCard)
	mux.HandleFunc("GET /api/activity/board/{boardId}", a.handleActivityByBoard)
	mux.HandleFunc("GET /api/activity/{id}", a.handleGetActivity)
	mux.HandleFunc("POST /api/activity", a.handleAddActivity)

	mux.HandleFunc("GET /api/templates", a.handleListTemplates)
	mux.HandleFunc("GET /api/templates/{id}", a.handleGetTemplate)
	mux.HandleFunc("POST /api/templates", a.handleCreateTemplate)
	mux.HandleFunc("PUT /api/templates/{id}", a.handleUpdateTemplate)
	mux.HandleFunc("DELETE /api/templates/{id}", a.handleDeleteTemplate)
	mux.HandleFunc("POST /api/templates/{id}/create-board", a.handleCreateBoardFromTemplate)

	mux.HandleFunc("GET /api/search", a.handleSearchCards)
	mux.HandleFunc("GET /api/search/boards", a.handleSearchBoards)
	mux.HandleFunc("GET /api/search/overdue", a.handleOverdue)
	mux.HandleFunc("GET /api/search/due-soon", a.handleDueSoon)

	mux.HandleFunc("POST /api/uploads/upload", a.handleUpload)
	mux.HandleFunc("GET /api/uploads/download/{fileName}", a.handleDownload)
	mux.HandleFunc("DELETE /api/uploads/{fileName}", a.handleDeleteUpload)
	mux.HandleFunc("GET /api/attachments/card/{cardId}", a.handleAttachmentsByCard)

	up := &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     a.checkOrigin,
	}
	mux.HandleFunc("GET /ws", a.hub.ServeWS(up, a.cfg.Relay.MaxMessageBytes))
	mux.Handle("GET /metrics", a.m.handler())
}

// checkOrigin admits browser sockets from the configured CORS origins.
func (a *api) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range a.cfg.CORS.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
