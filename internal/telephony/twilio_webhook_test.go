package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestParseTwilioInboundCall(t *testing.T) {
	body := strings.NewReader("CallSid=CA123&From=%2B15551234567&To=%28555%29+765-4321")
	r := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/voice", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	form, err := ParseTwilioInboundCall(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if form.CallSid != "CA123" {
		t.Fatalf("expected CallSid")
	}
	if form.From != "+15551234567" || form.To != "+15557654321" {
		t.Fatalf("unexpected from/to: %q %q", form.From, form.To)
	}

	req := form.ToInboundCallRequest(time.Unix(1700000000, 0).UTC())
	if req.ProviderCallID != "CA123" || req.RawPayload == "" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

type stubRouter struct {
	res InboundCallResult
	err error
	got InboundCallRequest
}

func (s *stubRouter) RouteInboundCall(ctx context.Context, req InboundCallRequest) (InboundCallResult, error) {
	s.got = req
	return s.res, s.err
}

func postVoice(t *testing.T, h TwilioWebhookHandler, form url.Values, sig string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/twilio/voice", h.HandleInboundCall)

	req := httptest.NewRequest(http.MethodPost, "http://api.example.com/webhooks/twilio/voice", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sig != "" {
		req.Header.Set("X-Twilio-Signature", sig)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTwilioHandler_VerifiesSignatureAndConnects(t *testing.T) {
	form := url.Values{"CallSid": {"CA1"}, "From": {"+15551234567"}, "To": {"+15557654321"}}
	router := &stubRouter{res: InboundCallResult{Action: InboundCallActionConnect, ConnectTo: "sip:+15557654321@sip.example"}}
	h := TwilioWebhookHandler{Router: router, AuthToken: "secret"}

	if w := postVoice(t, h, form, "bogus"); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for bad signature, got %d", w.Code)
	}

	sig := twilioSignature("secret", "http://api.example.com/webhooks/twilio/voice", form)
	w := postVoice(t, h, form, sig)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "<Sip>") {
		t.Fatalf("expected sip dial, got %s", w.Body.String())
	}
	if router.got.To != "+15557654321" {
		t.Fatalf("router did not receive dialed number")
	}
}

func TestTwilioHandler_RoutingErrorRejects(t *testing.T) {
	h := TwilioWebhookHandler{Router: &stubRouter{err: errors.New("db down")}}
	w := postVoice(t, h, url.Values{"CallSid": {"CA2"}, "To": {"+15557654321"}}, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<Reject") {
		t.Fatalf("expected reject twiml, got %d %s", w.Code, w.Body.String())
	}
}
