package provider

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/LeventeLantos/patient-messaging/internal/apperr"
	"github.com/LeventeLantos/patient-messaging/internal/phone"
)

// Adapter parses one provider's webhook. Normalize never panics on provider input:
// unparseable bodies yield an apperr.InvalidPayload error, everything else an Event.
type Adapter interface {
	Name() Name
	Authenticate(h http.Header, body []byte, now time.Time) error
	Normalize(body []byte, h http.Header) (Event, error)
}

type Registry struct {
	adapters map[Name]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[Name]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *Registry) Lookup(name string) (Adapter, bool) {
	a, ok := r.adapters[Name(name)]
	return a, ok
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		out = append(out, string(n))
	}
	sort.Strings(out)
	return out
}

// finishMessage applies the checks every adapter shares before a message may reach the classifier.
func finishMessage(m *Message) Event {
	if !phone.Valid(m.Sender) {
		return ignore(m.Provider, ReasonInvalidSender, m.Sender)
	}
	m.Sender = phone.Normalize(m.Sender)
	m.Text = strings.TrimSpace(m.Text)
	if m.Text == "" {
		return ignore(m.Provider, ReasonEmptyMessage, "")
	}
	return m
}

func isGroupJID(addr string) bool {
	return strings.HasSuffix(addr, "@g.us")
}

func isBroadcastJID(addr string) bool {
	return strings.HasSuffix(addr, "@broadcast") || strings.HasSuffix(addr, "@newsletter")
}

func invalid(p Name, err error) error {
	return apperr.Wrap(apperr.InvalidPayload, fmt.Sprintf("%s payload", p), err)
}
