// Package stubs is an in-process PRISMA backend for local runs and
// integration tests.
package stubs

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/leosmartdev/prisma-ui-master-sub003/internal/config"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/fielderrors"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/multicast"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/notice"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/observ"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/session"
)

// APIPrefix is where the REST and socket routes are mounted.
const APIPrefix = "/api/v2"

type Server struct {
	secret   []byte
	pageSize int

	// DeliveryDelay is how long a multicast stays pending before every
	// transmission is reported delivered.
	DeliveryDelay time.Duration

	mu         sync.RWMutex
	users      map[string]*user
	revoked    map[string]struct{}
	incidents  map[string]json.RawMessage
	sites      map[string]Site
	notices    []notice.Notice
	multicasts map[string]multicast.Multicast

	hub    *Hub
	router *mux.Router
}

func New(cfg config.Stub, fx Fixtures) (*Server, error) {
	s := &Server{
		secret:        []byte(cfg.JWTSecret),
		pageSize:      cfg.PageSize,
		DeliveryDelay: 500 * time.Millisecond,
		users:         make(map[string]*user),
		revoked:       make(map[string]struct{}),
		incidents:     make(map[string]json.RawMessage),
		sites:         make(map[string]Site),
		notices:       append([]notice.Notice(nil), fx.Notices...),
		multicasts:    make(map[string]multicast.Multicast),
		hub:           NewHub(),
	}
	if s.pageSize <= 0 {
		s.pageSize = 50
	}
	for _, u := range cfg.Users {
		nu, err := newUser(u)
		if err != nil {
			return nil, err
		}
		s.users[nu.name] = nu
	}
	for _, doc := range fx.Incidents {
		var head struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(doc, &head); err != nil || head.ID == "" {
			return nil, fmt.Errorf("fixture incident without id: %s", doc)
		}
		s.incidents[head.ID] = doc
	}
	for _, site := range fx.Sites {
		s.sites[site.ID] = site
	}

	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")

	api := r.PathPrefix(APIPrefix).Subrouter()
	api.HandleFunc("/auth/session", s.getSession).Methods("GET")
	api.HandleFunc("/auth/session", s.createSession).Methods("POST")
	api.HandleFunc("/auth/session", s.deleteSession).Methods("DELETE")
	api.HandleFunc("/auth/password", s.requireSession(s.updatePassword)).Methods("PUT")
	api.HandleFunc("/ws", s.socket).Methods("GET")
	api.HandleFunc("/incident/{id}", s.requireSession(s.getIncident)).Methods("GET")
	api.HandleFunc("/incident/{id}/forward", s.requireSession(s.forwardIncident)).Methods("POST")
	api.HandleFunc("/sit915", s.requireSession(s.sendSit915)).Methods("POST")
	api.HandleFunc("/site/{id}", s.requireSession(s.getSite)).Methods("GET")
	api.HandleFunc("/notice", s.requireSession(s.listNotices)).Methods("GET")
	api.HandleFunc("/notice", s.requireSession(s.createNotice)).Methods("POST")

	admin := r.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/users/{user}/{action}", s.adminUser).Methods("POST")
	admin.HandleFunc("/incident", s.adminIncident).Methods("PUT")
	admin.HandleFunc("/notice", s.adminNotice).Methods("POST")
	return r
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Hub() *Hub { return s.hub }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeViolations(w http.ResponseWriter, violations ...fielderrors.Violation) {
	writeJSON(w, http.StatusBadRequest, violations)
}

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func (u *user) payload() session.Payload {
	return session.Payload{
		Permissions: u.sessionPermissions(),
		User:        &session.User{UserID: u.name, Name: u.name},
	}
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	u, err := s.authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}
	s.mu.RLock()
	p := u.payload()
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var creds session.Credentials
	if err := decode(r, &creds); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var missing []fielderrors.Violation
	if creds.UserName == "" {
		missing = append(missing, fielderrors.Violation{Property: "userName", Rule: fielderrors.RuleRequired})
	}
	if creds.Token == "" {
		missing = append(missing, fielderrors.Violation{Property: "token", Rule: fielderrors.RuleRequired})
	}
	if len(missing) > 0 {
		writeViolations(w, missing...)
		return
	}

	s.mu.RLock()
	u, ok := s.users[creds.UserName]
	var err error = ErrInvalidCredentials
	if ok {
		err = u.checkPassword(creds.Token)
	}
	var p session.Payload
	if err == nil {
		p = u.payload()
	}
	s.mu.RUnlock()
	if err != nil {
		observ.Log("stub_login_rejected", map[string]any{"user": creds.UserName})
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}

	if err := s.issue(w, u.name); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	observ.Log("stub_login", map[string]any{"user": u.name})
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		s.mu.Lock()
		s.revoked[cookie.Value] = struct{}{}
		s.mu.Unlock()
	}
	clearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Terminate ends every session of userName from the server side.
func (s *Server) Terminate(userName string) error {
	return s.hub.SendTo(userName, map[string]string{"type": session.KindTerminate})
}

// Idle tells the clients of userName that their session went idle. An idled
// session grants nothing until the user logs in again.
func (s *Server) Idle(userName string) error {
	s.mu.RLock()
	u, ok := s.users[userName]
	var p session.Payload
	if ok {
		p = session.Payload{
			Permissions: []session.Permission{},
			User:        &session.User{UserID: u.name, Name: u.name},
			State:       string(session.StatusIdled),
		}
	}
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown user %s", userName)
	}
	return s.hub.SendTo(userName, map[string]any{"type": session.KindIdle, "session": p})
}

func (s *Server) updatePassword(w http.ResponseWriter, r *http.Request) {
	var change session.PasswordChange
	if err := decode(r, &change); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if change.NewPassword == "" {
		writeViolations(w, fielderrors.Violation{Property: "newPassword", Rule: fielderrors.RuleRequired})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[change.UserName]
	if !ok || u.checkPassword(change.Password) != nil {
		writeViolations(w, fielderrors.Violation{Property: "password", Rule: "Invalid", Message: "Current password is incorrect."})
		return
	}
	nu, err := newUser(config.StubUser{UserName: u.name, Password: change.NewPassword})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	u.hash = nu.hash
	u.mustChange = false
	writeJSON(w, http.StatusOK, map[string]string{})
}

func (s *Server) socket(w http.ResponseWriter, r *http.Request) {
	u, err := s.authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
		return
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		observ.Log("stub_socket_accept_failed", map[string]any{"error": err})
		return
	}
	s.hub.serve(r.Context(), u.name, ws)
}

func (s *Server) getIncident(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.RLock()
	doc, ok := s.incidents[id]
	s.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "incident not found"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(doc)
}

// UpdateIncident replaces an incident and announces it on the push channel.
func (s *Server) UpdateIncident(doc json.RawMessage) error {
	var head struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(doc, &head); err != nil || head.ID == "" {
		return fmt.Errorf("incident without id")
	}
	s.mu.Lock()
	s.incidents[head.ID] = doc
	s.mu.Unlock()
	return s.hub.Broadcast(map[string]any{"type": "Incident/UPDATE", "incident": map[string]string{"id": head.ID}})
}

func (s *Server) getSite(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.RLock()
	site, ok := s.sites[id]
	s.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "site not found"})
		return
	}
	writeJSON(w, http.StatusOK, site)
}

type forwardRequest struct {
	Destinations []multicast.Destination `json:"destinations"`
}

func (s *Server) forwardIncident(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.RLock()
	_, ok := s.incidents[id]
	s.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "incident not found"})
		return
	}
	var req forwardRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if len(req.Destinations) == 0 {
		writeViolations(w, fielderrors.Violation{Property: "destinations", Rule: fielderrors.RuleRequired})
		return
	}
	payload, _ := json.Marshal(map[string]string{"incidentId": id})
	writeJSON(w, http.StatusOK, s.startMulticast(payload, req.Destinations, false))
}

type sit915Request struct {
	Message      json.RawMessage         `json:"message"`
	Destinations []multicast.Destination `json:"destinations"`
}

func (s *Server) sendSit915(w http.ResponseWriter, r *http.Request) {
	var req sit915Request
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var missing []fielderrors.Violation
	if len(req.Message) == 0 || string(req.Message) == "null" {
		missing = append(missing, fielderrors.Violation{Property: "message", Rule: fielderrors.RuleRequired})
	}
	if len(req.Destinations) == 0 {
		missing = append(missing, fielderrors.Violation{Property: "destinations", Rule: fielderrors.RuleRequired})
	}
	if len(missing) > 0 {
		writeViolations(w, missing...)
		return
	}
	writeJSON(w, http.StatusOK, s.startMulticast(req.Message, req.Destinations, true))
}

// startMulticast records a pending multicast and schedules its delivery.
// Site names are left for the client to resolve.
func (s *Server) startMulticast(payload json.RawMessage, dests []multicast.Destination, sit915 bool) multicast.Multicast {
	m := multicast.Multicast{ID: uuid.NewString(), Payload: payload}
	for _, d := range dests {
		if d.Type == multicast.DestinationSite {
			d.Name = ""
		}
		m.Destinations = append(m.Destinations, d)
		m.Transmissions = append(m.Transmissions, multicast.Transmission{
			ID:            uuid.NewString(),
			ParentID:      m.ID,
			DestinationID: d.ID,
			State:         multicast.TransmissionPending,
			Packets:       []multicast.Packet{{Name: d.ID + "-1", State: multicast.PacketPending}},
		})
	}

	s.mu.Lock()
	s.multicasts[m.ID] = m
	s.mu.Unlock()
	observ.IncCounter("stub_multicasts_total", nil)

	time.AfterFunc(s.DeliveryDelay, func() { s.deliver(m.ID, sit915) })
	return m
}

func (s *Server) deliver(id string, sit915 bool) {
	s.mu.Lock()
	m := s.multicasts[id]
	for i := range m.Transmissions {
		t := &m.Transmissions[i]
		t.State = multicast.TransmissionSuccess
		for j := range t.Packets {
			t.Packets[j].State = multicast.PacketSuccess
		}
	}
	s.multicasts[id] = m
	s.mu.Unlock()

	for _, t := range m.Transmissions {
		_ = s.hub.Broadcast(map[string]any{"type": multicast.KindTransmissionUpdate, "transmission": t})
	}
	if sit915 {
		_ = s.hub.Broadcast(map[string]any{"type": "Sit915/UPDATE", "sit915": map[string]string{"id": id, "status": "SENT", "commLinkType": "STUB"}})
	}
}

func (s *Server) listNotices(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	s.mu.RLock()
	total := len(s.notices)
	start := (page - 1) * s.pageSize
	end := min(start+s.pageSize, total)
	var out []notice.Notice
	if start < total {
		out = append(out, s.notices[start:end]...)
	}
	s.mu.RUnlock()

	var links []string
	if end < total {
		links = append(links, fmt.Sprintf(`<%s>; rel="next"`, pageURL(r, page+1)))
	}
	if page > 1 {
		links = append(links, fmt.Sprintf(`<%s>; rel="previous"`, pageURL(r, page-1)))
	}
	if len(links) > 0 {
		w.Header().Set("Link", strings.Join(links, ", "))
	}
	if out == nil {
		out = []notice.Notice{}
	}
	writeJSON(w, http.StatusOK, out)
}

func pageURL(r *http.Request, page int) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	return (&url.URL{Scheme: scheme, Host: r.Host, Path: r.URL.Path, RawQuery: q.Encode()}).String()
}

func (s *Server) createNotice(w http.ResponseWriter, r *http.Request) {
	var n notice.Notice
	if err := decode(r, &n); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	n, err := s.PushNotice(n)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// PushNotice stores n and announces it as Notice/NEW.
func (s *Server) PushNotice(n notice.Notice) (notice.Notice, error) {
	if n.DatabaseID == "" {
		n.DatabaseID = uuid.NewString()
	}
	s.mu.Lock()
	s.notices = append(s.notices, n)
	s.mu.Unlock()
	return n, s.hub.Broadcast(map[string]any{"type": "Notice/NEW", "notice": n})
}

// adminUser drives server-initiated session events for local runs:
// terminate, idle, or disconnect (drop the push channel without notice).
func (s *Server) adminUser(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	user := vars["user"]
	var err error
	switch vars["action"] {
	case "terminate":
		err = s.Terminate(user)
	case "idle":
		err = s.Idle(user)
	case "disconnect":
		s.hub.Disconnect(user)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown action"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	observ.Log("stub_admin", map[string]any{"user": user, "action": vars["action"]})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) adminIncident(w http.ResponseWriter, r *http.Request) {
	var doc json.RawMessage
	if err := decode(r, &doc); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.UpdateIncident(doc); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) adminNotice(w http.ResponseWriter, r *http.Request) {
	var n notice.Notice
	if err := decode(r, &n); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	n, err := s.PushNotice(n)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, n)
}
