// Package dashboard serves the operator status API on the same mux as the MCP
// endpoint: controller states, inbox depths, and the raw channel tail.
package dashboard

import (
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/jharju/weft/internal/contextstore"
	"github.com/jharju/weft/internal/domain"
)

const defaultChannelLimit = 50

// StatesFunc reports controller lifecycle states by agent name.
type StatesFunc func() map[string]string

// Mux is where handlers are mounted; satisfied by mcpserver.Server.
type Mux interface {
	Handle(pattern string, handler http.Handler)
}

// StatusSnapshot is the JSON response from /api/status.
type StatusSnapshot struct {
	Timestamp     string          `json:"timestamp"`
	Workflow      string          `json:"workflow"`
	Uptime        string          `json:"uptime"`
	ChannelLength int             `json:"channel_length"`
	ParseErrors   int             `json:"parse_errors,omitempty"`
	Agents        []AgentSnapshot `json:"agents"`
}

// AgentSnapshot is a per-agent summary.
type AgentSnapshot struct {
	Name        string `json:"name"`
	State       string `json:"state"`
	InboxDepth  int    `json:"inbox_depth"`
	InboxUnseen int    `json:"inbox_unseen,omitempty"`
	Task        string `json:"task,omitempty"`
	Reported    string `json:"reported_state,omitempty"`
	StatusAge   string `json:"status_age,omitempty"`
}

// Handler holds dependencies for the status API.
type Handler struct {
	store    *contextstore.Store
	states   StatesFunc
	workflow string
	started  time.Time
	logger   *log.Logger
}

// NewHandler creates a status API handler.
func NewHandler(store *contextstore.Store, states StatesFunc, workflow string, logger *log.Logger) *Handler {
	return &Handler{
		store:    store,
		states:   states,
		workflow: workflow,
		started:  time.Now(),
		logger:   logger,
	}
}

// Register mounts the API routes.
func (h *Handler) Register(mux Mux) {
	mux.Handle("/health", http.HandlerFunc(h.handleHealth))
	mux.Handle("/api/status", http.HandlerFunc(h.handleStatus))
	mux.Handle("/api/channel", http.HandlerFunc(h.handleChannel))
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok", "workflow": h.workflow})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	snap := StatusSnapshot{
		Timestamp: now.Format(time.RFC3339),
		Workflow:  h.workflow,
		Uptime:    now.Sub(h.started).Round(time.Second).String(),
	}
	if n, err := h.store.ChannelLength(); err == nil {
		snap.ChannelLength = n
	} else {
		h.logger.Printf("Status API: channel length: %v", err)
	}
	snap.ParseErrors = h.store.ParseErrors()

	states := h.states()
	reported := h.store.AgentStatuses()

	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		a := AgentSnapshot{Name: name, State: states[name]}
		if inbox, err := h.store.GetInbox(name); err == nil {
			a.InboxDepth = len(inbox)
			for _, m := range inbox {
				if !m.Seen {
					a.InboxUnseen++
				}
			}
		} else {
			h.logger.Printf("Status API: inbox %s: %v", name, err)
		}
		if st, ok := reported[name]; ok {
			a.Task = st.Task
			a.Reported = st.State
			if t := domain.ParseTime(st.UpdatedAt); !t.IsZero() {
				a.StatusAge = now.Sub(t).Round(time.Second).String()
			}
		}
		snap.Agents = append(snap.Agents, a)
	}
	writeJSON(w, snap)
}

// handleChannel returns the unfiltered channel tail. Operator-facing: debug,
// output, and tool_call entries are included, unlike agent reads.
func (h *Handler) handleChannel(w http.ResponseWriter, r *http.Request) {
	limit := defaultChannelLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	entries, err := h.store.ReadChannel(contextstore.ReadOptions{Limit: limit})
	if err != nil {
		writeJSONStatus(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []domain.Message{}
	}
	writeJSON(w, map[string]any{"count": len(entries), "messages": entries})
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
