/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Concentration
//
// Every player sees the same board of face-down cards and flips two at a
// time. A matching pair is removed for good; a mismatch stays face up for
// --flip-delay and is then turned back over. Nobody waits for a turn.
//
// Features:
// - Plain text routes: /look/:player, /flip/:player/:row,col,
//   /replace/:player/:from/:to and /watch/:player (long-poll)
// - Browser client at /memory with a WebSocket at /memory/ws that pushes
//   the board after every change
// - Players identified by cookie (playerID) in the browser client
// - Flipping a card someone else holds is refused, never queued
// - In-browser QR button to share the board, backed by go-qrcode

package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Type string `json:"type"`           // "look", "flip", "replace"
	Row  int    `json:"row"`            // flip
	Col  int    `json:"col"`            // flip
	From string `json:"from,omitempty"` // replace
	To   string `json:"to,omitempty"`   // replace
}

// SessionInfoMessage is sent immediately on connect so the client knows who
// it is and how to lay out the grid.
type SessionInfoMessage struct {
	Type     string `json:"type"` // "session_info"
	PlayerID string `json:"player_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// BoardMessage carries the board as seen by the receiving player.
type BoardMessage struct {
	Type  string `json:"type"` // "board"
	Board string `json:"board"`
}

// OutcomeMessage answers a flip or replace from this client only.
type OutcomeMessage struct {
	Type    string   `json:"type"` // "outcome"
	Outcome *Outcome `json:"outcome,omitempty"`
	Result  string   `json:"result"`
}

// SimpleMessage is for generic notifications ("error").
type SimpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string

	ctx    context.Context
	cancel context.CancelFunc
}

// push queues msg for the write pump unless the connection is gone.
func (c *Client) push(msg any) bool {
	select {
	case c.send <- msg:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// Game wires one Board to its HTTP and WebSocket clients.
type Game struct {
	cfg   *Config
	board *Board

	mu      sync.Mutex
	clients map[*Client]bool
}

func newGame(cfg *Config, board *Board) *Game {
	return &Game{
		cfg:     cfg,
		board:   board,
		clients: make(map[*Client]bool),
	}
}

func (g *Game) connected() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.clients)
}

var playerIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func validPlayerID(id string) bool {
	return playerIDPattern.MatchString(id)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "concentration_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && validPlayerID(c.Value) {
		return c.Value
	}

	id := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

func writeText(cfg *Config, w http.ResponseWriter, r *http.Request, status int, body string, errs chan<- error) {
	startTime := time.Now()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	securityHeaders(cfg, w)
	w.WriteHeader(status)

	written, err := w.Write([]byte(body))
	if err != nil {
		errs <- err

		return
	}

	logf(cfg, "SERVE: %s (%s) to %s in %s",
		r.URL.Path,
		humanReadableSize(int64(written)),
		realIP(r),
		time.Since(startTime).Round(time.Microsecond),
	)
}

func playerParam(cfg *Config, w http.ResponseWriter, r *http.Request, ps httprouter.Params, errs chan<- error) (string, bool) {
	playerID := ps.ByName("player")
	if !validPlayerID(playerID) {
		writeText(cfg, w, r, http.StatusBadRequest, "player id must be non-empty letters, digits, '_' or '-'\n", errs)
		return "", false
	}
	return playerID, true
}

func serveLook(g *Game, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		playerID, ok := playerParam(g.cfg, w, r, ps, errs)
		if !ok {
			return
		}

		snapshot, err := g.board.Inspect(playerID)
		if err != nil {
			writeText(g.cfg, w, r, http.StatusBadRequest, err.Error()+"\n", errs)
			return
		}

		writeText(g.cfg, w, r, http.StatusOK, snapshot, errs)
	}
}

func serveFlip(g *Game, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		playerID, ok := playerParam(g.cfg, w, r, ps, errs)
		if !ok {
			return
		}

		pos, err := parsePosition(ps.ByName("location"))
		if err != nil {
			writeText(g.cfg, w, r, http.StatusBadRequest, err.Error()+"\n", errs)
			return
		}

		out, err := g.board.Flip(playerID, pos.Row, pos.Col)
		if err != nil {
			writeText(g.cfg, w, r, http.StatusBadRequest, err.Error()+"\n", errs)
			return
		}

		snapshot, _ := g.board.Inspect(playerID)

		logf(g.cfg, "GAMES: %q flipped %s: %s", playerID, pos, out)

		writeText(g.cfg, w, r, http.StatusOK, out.String()+"\n\n"+snapshot, errs)
	}
}

func serveReplace(g *Game, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		playerID, ok := playerParam(g.cfg, w, r, ps, errs)
		if !ok {
			return
		}

		result, err := g.board.Replace(playerID, ps.ByName("from"), ps.ByName("to"))
		if err != nil {
			writeText(g.cfg, w, r, http.StatusBadRequest, err.Error()+"\n", errs)
			return
		}

		writeText(g.cfg, w, r, http.StatusOK, result+"\n", errs)
	}
}

// serveWatch holds the request open until the board changes. The server-wide
// write timeout is lifted for these requests and replaced by --watch-timeout.
func serveWatch(g *Game, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		playerID, ok := playerParam(g.cfg, w, r, ps, errs)
		if !ok {
			return
		}

		rc := http.NewResponseController(w)
		_ = rc.SetWriteDeadline(time.Now().Add(g.cfg.watchTimeout + timeout))

		ctx, cancel := context.WithTimeout(r.Context(), g.cfg.watchTimeout)
		defer cancel()

		snapshot, err := g.board.Watch(ctx, playerID)
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			writeText(g.cfg, w, r, http.StatusNoContent, "", errs)
			return
		case errors.Is(err, context.Canceled):
			return
		case err != nil:
			writeText(g.cfg, w, r, http.StatusBadRequest, err.Error()+"\n", errs)
			return
		}

		writeText(g.cfg, w, r, http.StatusOK, snapshot, errs)
	}
}

func serveStats(g *Game, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/json")
		securityHeaders(g.cfg, w)

		stats := struct {
			Stats
			Connected int `json:"connected"`
		}{
			Stats:     g.board.Stats(),
			Connected: g.connected(),
		}

		if err := json.NewEncoder(w).Encode(stats); err != nil {
			errs <- err

			return
		}
	}
}

// serveWS upgrades to a WebSocket for the cookie's player.
func serveWS(g *Game) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		playerID := getOrSetPlayerID(w, r)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		ctx, cancel := context.WithCancel(context.Background())

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			playerID: playerID,
			ctx:      ctx,
			cancel:   cancel,
		}

		g.register(client)

		go client.writePump()
		go g.watchLoop(client)
		client.readPump(g)
	}
}

func (g *Game) register(c *Client) {
	g.mu.Lock()
	g.clients[c] = true
	g.mu.Unlock()

	logf(g.cfg, "GAMES: Player %q connected", c.playerID)

	c.push(SessionInfoMessage{
		Type:     "session_info",
		PlayerID: c.playerID,
		Width:    g.board.Width(),
		Height:   g.board.Height(),
	})
}

func (g *Game) unregister(c *Client) {
	g.mu.Lock()
	delete(g.clients, c)
	g.mu.Unlock()

	c.cancel()

	logf(g.cfg, "GAMES: Player %q disconnected", c.playerID)
}

func (g *Game) sendBoard(c *Client) {
	snapshot, err := g.board.Inspect(c.playerID)
	if err != nil {
		return
	}

	c.push(BoardMessage{
		Type:  "board",
		Board: snapshot,
	})
}

// watchLoop pushes the board to c, then again after every change until c
// disconnects. Tracking the generation means a change between two pushes is
// never missed.
func (g *Game) watchLoop(c *Client) {
	snapshot, gen, err := g.board.InspectAt(c.playerID)
	if err != nil {
		return
	}

	for {
		if !c.push(BoardMessage{
			Type:  "board",
			Board: snapshot,
		}) {
			return
		}

		snapshot, gen, err = g.board.WatchAfter(c.ctx, c.playerID, gen)
		if err != nil {
			return
		}
	}
}

// handle applies one client message and replies to that client only.
func (g *Game) handle(c *Client, msg ClientMessage) {
	switch msg.Type {
	case "look":
		g.sendBoard(c)

	case "flip":
		out, err := g.board.Flip(c.playerID, msg.Row, msg.Col)
		if err != nil {
			c.push(SimpleMessage{Type: "error", Message: err.Error()})
			return
		}

		logf(g.cfg, "GAMES: %q flipped %d,%d: %s", c.playerID, msg.Row, msg.Col, out)

		c.push(OutcomeMessage{
			Type:    "outcome",
			Outcome: &out,
			Result:  out.String(),
		})

		// Rejections leave the board untouched, so no watcher will refresh it.
		if !out.Changed() {
			g.sendBoard(c)
		}

	case "replace":
		result, err := g.board.Replace(c.playerID, msg.From, msg.To)
		if err != nil {
			c.push(SimpleMessage{Type: "error", Message: err.Error()})
			return
		}

		c.push(OutcomeMessage{
			Type:   "outcome",
			Result: result,
		})

	default:
		// ignore unknown types
	}
}

func (c *Client) readPump(g *Game) {
	defer func() {
		g.unregister(c)
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		g.handle(c, msg)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteJSON(msg); err != nil {
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// closeAll disconnects every client, used on shutdown.
func (g *Game) closeAll() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for c := range g.clients {
		c.cancel()
		_ = c.conn.Close()
		delete(g.clients, c)
	}
}

// QR handler: generates a PNG QR code for the board URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../memory/qr; strip trailing "/qr" to get the board URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// ---- Static file paths ----

//go:embed assets/memory/index.html
var indexHTML []byte

func getIndexHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		_, _ = w.Write(indexHTML)
	}
}

// registerMemoryGame sets up routes so that:
//   - $path                  → HTML client
//   - $path/ws               → WebSocket for the board
//   - $path/qr               → PNG QR code for the board URL
//   - /look, /flip, /replace, /watch, /stats → plain text API
func registerMemoryGame(cfg *Config, path string, g *Game, mux *httprouter.Router, errs chan<- error) {
	mux.GET(cfg.prefix+path, getIndexHandler(cfg))
	mux.GET(cfg.prefix+path+"/ws", serveWS(g))
	mux.GET(cfg.prefix+path+"/qr", qrHandler)

	mux.GET(cfg.prefix+"/look/:player", serveLook(g, errs))
	mux.GET(cfg.prefix+"/flip/:player/:location", serveFlip(g, errs))
	mux.GET(cfg.prefix+"/replace/:player/:from/:to", serveReplace(g, errs))
	mux.GET(cfg.prefix+"/watch/:player", serveWatch(g, errs))
	mux.GET(cfg.prefix+"/stats", serveStats(g, errs))
}
