package provider

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/patient-messaging/internal/apperr"
	"github.com/LeventeLantos/patient-messaging/internal/model"
)

func jsonHeader() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return h
}

func TestAdapters_SelfSentNeverBecomesMessage(t *testing.T) {
	cases := []struct {
		name    string
		adapter Adapter
		body    string
	}{
		{"gateway fromMe", NewGatewayAdapter(Authenticator{}), `{"device":"6281100000000","sender":"6281333852187","message":"YA","fromMe":true}`},
		{"gateway sender is device", NewGatewayAdapter(Authenticator{}), `{"device":"6281100000000","sender":"081100000000","message":"YA"}`},
		{"bridge-b fromMe", NewBridgeBAdapter(Authenticator{}), `{"event":"message.any","session":"default","payload":{"id":"x","from":"6281333852187@c.us","fromMe":true,"body":"YA"}}`},
		{"bridge-c from_me", NewBridgeCAdapter(Authenticator{}), `{"event":"message","payload":{"id":"x","from":"6281333852187:3@s.whatsapp.net","from_me":"true","body":"YA"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := tc.adapter.Normalize([]byte(tc.body), jsonHeader())
			require.NoError(t, err)
			ign, ok := ev.(*Ignored)
			require.True(t, ok, "expected *Ignored, got %T", ev)
			assert.Equal(t, ReasonSelfSent, ign.Reason)
		})
	}
}

func TestGateway_MessageJSON(t *testing.T) {
	a := NewGatewayAdapter(Authenticator{})
	body := `{"device":"6281100000000","sender":"081333852187","message":"  YA ","name":"Budi","id":12345,"timestamp":1700000000}`

	ev, err := a.Normalize([]byte(body), jsonHeader())
	require.NoError(t, err)

	m, ok := ev.(*Message)
	require.True(t, ok, "expected *Message, got %T", ev)
	assert.Equal(t, Gateway, m.Provider)
	assert.Equal(t, "6281333852187", m.Sender)
	assert.Equal(t, "YA", m.Text)
	assert.Equal(t, "12345", m.ID)
	assert.Equal(t, "1700000000", m.Timestamp)
	assert.Equal(t, "Budi", m.Name)
}

func TestGateway_FormEncoded(t *testing.T) {
	a := NewGatewayAdapter(Authenticator{})
	h := http.Header{}
	h.Set("Content-Type", "application/x-www-form-urlencoded")

	ev, err := a.Normalize([]byte("device=6281100000000&sender=6281333852187&message=sudah&name=Ani"), h)
	require.NoError(t, err)
	m, ok := ev.(*Message)
	require.True(t, ok, "expected *Message, got %T", ev)
	assert.Equal(t, "sudah", m.Text)
	assert.Equal(t, "Ani", m.Name)
}

func TestGateway_StatusCallbacks(t *testing.T) {
	a := NewGatewayAdapter(Authenticator{})
	cases := map[string]model.DeliveryStatus{
		"sent":      model.DeliverySent,
		"pending":   model.DeliverySent,
		"delivered": model.DeliveryDelivered,
		"read":      model.DeliveryDelivered,
		"failed":    model.DeliveryFailed,
		"expired":   model.DeliveryFailed,
	}
	for raw, want := range cases {
		ev, err := a.Normalize([]byte(`{"device":"628110","id":"987","status":"`+raw+`"}`), jsonHeader())
		require.NoError(t, err)
		ack, ok := ev.(*Ack)
		require.True(t, ok, "status %s: expected *Ack, got %T", raw, ev)
		assert.Equal(t, want, ack.Status, raw)
		assert.Equal(t, []string{"987"}, ack.MessageIDs)
	}

	ev, err := a.Normalize([]byte(`{"id":"987","status":"teleported"}`), jsonHeader())
	require.NoError(t, err)
	assert.Equal(t, ReasonStatusUnmapped, ev.(*Ignored).Reason)
}

func TestGateway_GroupAndInvalid(t *testing.T) {
	a := NewGatewayAdapter(Authenticator{})

	ev, err := a.Normalize([]byte(`{"sender":"120363@g.us","member":"6281333852187","message":"ya"}`), jsonHeader())
	require.NoError(t, err)
	assert.Equal(t, ReasonGroupMessage, ev.(*Ignored).Reason)

	ev, err = a.Normalize([]byte(`{"sender":"123","message":"ya"}`), jsonHeader())
	require.NoError(t, err)
	assert.Equal(t, ReasonInvalidSender, ev.(*Ignored).Reason)

	_, err = a.Normalize([]byte(`{"sender":`), jsonHeader())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.InvalidPayload))

	_, err = a.Normalize(nil, jsonHeader())
	assert.True(t, apperr.Is(err, apperr.InvalidPayload))
}

func TestBridgeB_Message(t *testing.T) {
	a := NewBridgeBAdapter(Authenticator{})
	body := `{"event":"message","session":"default","payload":{"id":"false_6281333852187@c.us_ABC","timestamp":1700000000,"from":"6281333852187@c.us","fromMe":false,"body":"Sudah","_data":{"notifyName":"Budi"}}}`

	ev, err := a.Normalize([]byte(body), nil)
	require.NoError(t, err)
	m, ok := ev.(*Message)
	require.True(t, ok, "expected *Message, got %T", ev)
	assert.Equal(t, "6281333852187", m.Sender)
	assert.Equal(t, "Sudah", m.Text)
	assert.Equal(t, "Budi", m.Name)
	assert.Equal(t, "default", m.Device)
}

func TestBridgeB_AckAndOtherEvents(t *testing.T) {
	a := NewBridgeBAdapter(Authenticator{})

	ev, err := a.Normalize([]byte(`{"event":"message.ack","payload":{"id":"true_628@c.us_XYZ","ack":3,"ackName":"READ"}}`), nil)
	require.NoError(t, err)
	ack := ev.(*Ack)
	assert.Equal(t, model.DeliveryDelivered, ack.Status)

	ev, err = a.Normalize([]byte(`{"event":"message.ack","payload":{"id":"true_628@c.us_XYZ","ack":-1}}`), nil)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryFailed, ev.(*Ack).Status)

	ev, err = a.Normalize([]byte(`{"event":"session.status","payload":{"status":"WORKING"}}`), nil)
	require.NoError(t, err)
	assert.Equal(t, ReasonUnsupportedEvent, ev.(*Ignored).Reason)

	ev, err = a.Normalize([]byte(`{"event":"message","payload":{"from":"status@broadcast","body":"hi"}}`), nil)
	require.NoError(t, err)
	assert.Equal(t, ReasonBroadcast, ev.(*Ignored).Reason)

	_, err = a.Normalize([]byte(`{"event":"message"}`), nil)
	assert.True(t, apperr.Is(err, apperr.InvalidPayload))
}

func TestBridgeC_MediaCaptionAndReceipt(t *testing.T) {
	a := NewBridgeCAdapter(Authenticator{})

	body := `{"event":"message","device_id":"dev-1","payload":{"id":"3EB0","from":"6281333852187:12@s.whatsapp.net","chat_id":"6281333852187@s.whatsapp.net","from_name":"Budi","body":"","timestamp":"2026-10-17T08:00:00Z","media":{"type":"image","url":"https://x/y.jpg","mime_type":"image/jpeg","caption":"sudah minum"}}}`
	ev, err := a.Normalize([]byte(body), nil)
	require.NoError(t, err)
	m, ok := ev.(*Message)
	require.True(t, ok, "expected *Message, got %T", ev)
	assert.Equal(t, "sudah minum", m.Text)
	assert.Equal(t, "6281333852187", m.Sender)
	require.NotNil(t, m.Media)
	assert.Equal(t, "image/jpeg", m.Media.MimeType)

	ev, err = a.Normalize([]byte(`{"event":"message","payload":{"from":"6281333852187@s.whatsapp.net","media":{"type":"image","url":"u"}}}`), nil)
	require.NoError(t, err)
	assert.Equal(t, ReasonEmptyMessage, ev.(*Ignored).Reason)

	ev, err = a.Normalize([]byte(`{"event":"receipt","payload":{"ids":["a","b"],"receipt_type":"delivered"}}`), nil)
	require.NoError(t, err)
	ack := ev.(*Ack)
	assert.Equal(t, []string{"a", "b"}, ack.MessageIDs)
	assert.Equal(t, model.DeliveryDelivered, ack.Status)
}

func TestAuthenticator(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	body := []byte(`{"x":1}`)
	ts := strconv.FormatInt(now.Unix(), 10)

	plain := Authenticator{Token: "tok"}
	h := http.Header{}
	assert.True(t, apperr.Is(plain.Authenticate(h, body, now), apperr.Unauthorized))
	h.Set(HeaderToken, "tok")
	assert.NoError(t, plain.Authenticate(h, body, now))

	bearer := http.Header{}
	bearer.Set("Authorization", "Bearer tok")
	assert.NoError(t, plain.Authenticate(bearer, body, now))

	signed := Authenticator{Token: "tok", HMACSecret: "s3cret", MaxSkew: 5 * time.Minute}
	h.Set(HeaderTimestamp, ts)
	h.Set(HeaderSignature, "sha256="+Sign("s3cret", ts, body))
	assert.NoError(t, signed.Authenticate(h, body, now))

	assert.True(t, apperr.Is(signed.Authenticate(h, []byte(`{"x":2}`), now), apperr.Unauthorized), "tampered body")
	assert.True(t, apperr.Is(signed.Authenticate(h, body, now.Add(10*time.Minute)), apperr.Unauthorized), "replayed outside skew")

	h.Del(HeaderTimestamp)
	assert.True(t, apperr.Is(signed.Authenticate(h, body, now), apperr.Unauthorized))

	assert.True(t, apperr.Is(Authenticator{}.Authenticate(h, body, now), apperr.Unauthorized), "unconfigured provider")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewGatewayAdapter(Authenticator{}), NewBridgeCAdapter(Authenticator{}))

	a, ok := r.Lookup("gateway")
	require.True(t, ok)
	assert.Equal(t, Gateway, a.Name())

	_, ok = r.Lookup("bridge-b")
	assert.False(t, ok)
	assert.Equal(t, []string{"bridge-c", "gateway"}, r.Names())
}
