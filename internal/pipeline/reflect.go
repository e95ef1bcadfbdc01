package pipeline

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/domain"
)

var reWantsJSON = regexp.MustCompile(`(?i)\bjson\b`)

// reflect renders the last result into the reply and ends the turn.
func (e *Engine) reflect(_ context.Context, st *TurnState) {
	st.reflections++
	reply := e.render(st)
	if st.Channel == ChannelSMS || st.Channel == ChannelWhatsApp {
		reply = truncate(reply, MaxSMSReply)
	}
	st.Messages = append(st.Messages, domain.Message{Role: domain.RoleAssistant, Content: reply})
	st.NextAction = ActionEnd
}

func (e *Engine) render(st *TurnState) string {
	r := st.LastResult
	if r == nil {
		return "Something went wrong while handling that. Please try again."
	}

	switch r.Status {
	case StatusOK:
		if r.Data == nil {
			return r.Message
		}
		if e.cfg.StructuredJSON || reWantsJSON.MatchString(st.RawInput) {
			return renderJSON(r)
		}
		return renderRecord(r)
	case StatusIncomplete:
		return renderMissing(r)
	default:
		if strings.TrimSpace(r.Message) == "" {
			return "Something went wrong while handling that. Please try again."
		}
		return r.Message
	}
}

// renderRecord writes a header line followed by "key: value" for each scalar field.
// Nested collections are left out.
func renderRecord(r *Result) string {
	var b strings.Builder
	if r.Message != "" {
		b.WriteString(r.Message)
	}
	for _, k := range r.Data.Keys(r.Entity) {
		v := r.Data[k]
		if v == nil || !domain.IsScalar(v) {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(domain.FormatValue(v))
	}
	return b.String()
}

func renderJSON(r *Result) string {
	data := make(map[string]any, len(r.Data))
	for k, v := range r.Data {
		if v != nil && domain.IsScalar(v) {
			data[k] = v
		}
	}
	payload := map[string]any{
		"status": r.Status,
		"intent": r.Intent,
		"data":   data,
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return renderRecord(r)
	}
	return string(out)
}

func renderMissing(r *Result) string {
	var b strings.Builder
	if r.Message != "" {
		b.WriteString(r.Message)
		b.WriteByte('\n')
	}
	b.WriteString("Missing information:")
	for _, m := range r.Missing {
		b.WriteString("\n- ")
		b.WriteString(m.Prompt)
		for _, c := range m.Candidates {
			b.WriteString("\n  ")
			b.WriteString(c.Label)
		}
	}
	return b.String()
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - len("...")
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
