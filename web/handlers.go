package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/luca-patrignani/feedchain/ledger"
	"github.com/luca-patrignani/feedchain/reconcile"
)

// maxPostBody leaves room for base64 encoded media of MaxMediaSize.
const maxPostBody = 2 * ledger.MaxMediaSize

// PostRequest is the body of POST /api/posts. Media, when present, is the raw
// file content (base64 in JSON) and Content is ignored.
type PostRequest struct {
	Author  string `json:"author"`
	Content string `json:"content"`
	Media   *struct {
		Name string `json:"name"`
		Data []byte `json:"data"`
	} `json:"media,omitempty"`
}

type syncResponse struct {
	Action string `json:"action"`
	Length int    `json:"length"`
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.feed())
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	var req PostRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPostBody)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ledger.ErrMediaTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	post := ledger.NewTextPost(req.Author, req.Content)
	if req.Media != nil {
		var err error
		post, err = ledger.NewMediaPost(req.Author, req.Media.Name, req.Media.Data)
		if err != nil {
			writeError(w, postErrorStatus(err), err)
			return
		}
	}

	block, err := s.ledger.Append(post)
	if err != nil {
		writeError(w, postErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, block)
}

func postErrorStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrMediaTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ledger.ErrInvalidPost):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrPrecondition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleLike(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	if !s.ledger.Like(hash) {
		writeError(w, http.StatusNotFound, fmt.Errorf("no block with hash %q", hash))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if !s.online() {
		writeError(w, http.StatusConflict, errors.New("peer is offline"))
		return
	}
	// The sync outlives a client that disconnects early.
	res, err := s.syncer.Sync(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, reconcile.ErrSyncInProgress):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, ledger.ErrFetch):
		writeError(w, http.StatusBadGateway, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, syncResponse{Action: res.Action.String(), Length: res.Length})
	}
}

// handleFeedWS sends the feed on connect and again after every change.
func (s *Server) handleFeedWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	id := uuid.New().String()
	updates := s.broker.register(id)
	defer s.broker.unregister(id)
	s.logger.Debug("feed client connected", "client", id, "remote", r.RemoteAddr)

	if err := conn.WriteJSON(s.feed()); err != nil {
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-s.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case <-closed:
			s.logger.Debug("feed client disconnected", "client", id)
			return
		case data, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
