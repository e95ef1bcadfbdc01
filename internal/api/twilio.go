package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/authz"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/pipeline"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/twilio/twilio-go/client"
	"github.com/twilio/twilio-go/twiml"
	"golang.org/x/sync/singleflight"
)

const (
	// SignatureHeader carries the Twilio request signature.
	SignatureHeader = "X-Twilio-Signature"

	whatsappPrefix   = "whatsapp:"
	replayTTL        = 10 * time.Minute
	replayMaxEntries = 1024
	emptyBodyReply   = "Please send a message, for example: vehicle MH12AB1234"
)

// TwilioOptions configures the SMS/WhatsApp webhook.
type TwilioOptions struct {
	AuthToken string
	// Validate enables signature checks; it requires AuthToken.
	Validate bool
	// PublicBaseURL is the externally visible origin used to rebuild the signed URL
	// behind proxies and tunnels. Empty uses the request's own scheme and host.
	PublicBaseURL string
	MaxBody       int64
	Logger        *slog.Logger
}

// TwilioHandler serves POST /webhook/twilio.
type TwilioHandler struct {
	turns     Turns
	opts      TwilioOptions
	validator client.RequestValidator
	logger    *slog.Logger

	inflight singleflight.Group
	replays  *replayCache
}

// NewTwilioHandler creates the webhook handler.
func NewTwilioHandler(turns Turns, opts TwilioOptions) *TwilioHandler {
	if opts.MaxBody <= 0 {
		opts.MaxBody = defaultMaxBody
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TwilioHandler{
		turns:     turns,
		opts:      opts,
		validator: client.NewRequestValidator(opts.AuthToken),
		logger:    logger,
		replays:   newReplayCache(replayTTL, replayMaxEntries),
	}
}

// RegisterRoutes mounts the webhook.
func (h *TwilioHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhook/twilio", h.HandleWebhook)
}

// HandleWebhook runs one turn for the sending phone number and answers with TwiML.
func (h *TwilioHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBody)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	if h.opts.Validate {
		signed := SignedURL(h.opts.PublicBaseURL, r)
		if !h.validSignature(signed, r.PostForm, r.Header.Get(SignatureHeader)) {
			h.logger.Warn("Rejected Twilio webhook with bad signature", "url", signed, "ip", r.RemoteAddr)
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
	}

	from := strings.TrimSpace(r.PostForm.Get("From"))
	if from == "" {
		http.Error(w, "missing From", http.StatusBadRequest)
		return
	}
	phone, channel := parseSender(from)
	body := strings.TrimSpace(r.PostForm.Get("Body"))
	sid := r.PostForm.Get("MessageSid")

	if body == "" {
		writeTwiML(w, emptyBodyReply)
		return
	}

	if sid != "" {
		if reply, ok := h.replays.get(sid); ok {
			h.logger.Info("Replayed duplicate Twilio delivery", "message_sid", sid, "phone", phone)
			writeTwiML(w, reply)
			return
		}
	}

	turn := session.Turn{
		Subject: phone,
		Message: body,
		Role:    authz.RoleWhatsApp,
		Channel: channel,
		Ambient: map[string]any{"sender_phone": phone},
		Meta: map[string]any{
			"message_sid":  sid,
			"profile_name": r.PostForm.Get("ProfileName"),
		},
	}

	run := func() (interface{}, error) {
		if sid != "" {
			if reply, ok := h.replays.get(sid); ok {
				return reply, nil
			}
		}
		out, err := h.turns.Handle(r.Context(), turn)
		if err != nil {
			h.logger.Warn("Twilio turn not persisted", "phone", phone, "error", err)
		}
		if sid != "" {
			h.replays.put(sid, out.Response.Reply)
		}
		return out.Response.Reply, nil
	}

	var reply interface{}
	if sid == "" {
		reply, _ = run()
	} else {
		// Concurrent deliveries of one message share a single turn.
		reply, _, _ = h.inflight.Do(sid, run)
	}
	writeTwiML(w, reply.(string))
}

// parseSender strips the WhatsApp prefix and reports the channel the message came from.
func parseSender(from string) (string, pipeline.Channel) {
	if rest, ok := strings.CutPrefix(from, whatsappPrefix); ok {
		return strings.TrimSpace(rest), pipeline.ChannelWhatsApp
	}
	return from, pipeline.ChannelSMS
}

// SignedURL rebuilds the URL Twilio signed for r.
func SignedURL(publicBase string, r *http.Request) string {
	if publicBase != "" {
		return strings.TrimRight(publicBase, "/") + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

// validSignature checks the X-Twilio-Signature of a form post against the signed URL.
func (h *TwilioHandler) validSignature(signedURL string, form url.Values, signature string) bool {
	if h.opts.AuthToken == "" || signature == "" {
		return false
	}
	params := make(map[string]string, len(form))
	for k := range form {
		params[k] = form.Get(k)
	}
	return h.validator.Validate(signedURL, params, signature)
}

func writeTwiML(w http.ResponseWriter, message string) {
	doc, err := twiml.Messages([]twiml.Element{&twiml.MessagingMessage{Body: message}})
	if err != nil {
		http.Error(w, "failed to encode reply", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

type replayEntry struct {
	reply   string
	expires time.Time
}

// replayCache remembers recent replies by MessageSid.
type replayCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]replayEntry
	now     func() time.Time
}

func newReplayCache(ttl time.Duration, maxEntries int) *replayCache {
	return &replayCache{
		ttl:     ttl,
		max:     maxEntries,
		entries: make(map[string]replayEntry),
		now:     time.Now,
	}
}

func (c *replayCache) get(sid string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[sid]
	if !ok {
		return "", false
	}
	if c.now().After(e.expires) {
		delete(c.entries, sid)
		return "", false
	}
	return e.reply, true
}

func (c *replayCache) put(sid, reply string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if len(c.entries) >= c.max {
		c.pruneLocked(now)
	}
	c.entries[sid] = replayEntry{reply: reply, expires: now.Add(c.ttl)}
}

// pruneLocked drops expired entries, then the oldest ones until there is room.
func (c *replayCache) pruneLocked(now time.Time) {
	for sid, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, sid)
		}
	}
	for len(c.entries) >= c.max {
		var oldest string
		var oldestAt time.Time
		for sid, e := range c.entries {
			if oldest == "" || e.expires.Before(oldestAt) {
				oldest, oldestAt = sid, e.expires
			}
		}
		delete(c.entries, oldest)
	}
}
