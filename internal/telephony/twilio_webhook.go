package telephony

import (
	"encoding/json"
	"net/http"
	"time"

	"voice-platform/pkg/utils"
)

// TwilioInboundForm captures the subset of voice webhook fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/twiml
//
// Routing decisions are not made here.
type TwilioInboundForm struct {
	CallSid       string
	AccountSid    string
	From          string
	To            string
	Direction     string
	CallStatus    string
	CallerName    string
	FromCountry   string
	ToCountry     string
	ForwardedFrom string
}

func ParseTwilioInboundCall(r *http.Request) (TwilioInboundForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioInboundForm{}, err
	}
	return TwilioInboundForm{
		CallSid:       r.PostFormValue("CallSid"),
		AccountSid:    r.PostFormValue("AccountSid"),
		From:          normalizeCaller(r.PostFormValue("From")),
		To:            normalizeCaller(r.PostFormValue("To")),
		Direction:     r.PostFormValue("Direction"),
		CallStatus:    r.PostFormValue("CallStatus"),
		CallerName:    r.PostFormValue("CallerName"),
		FromCountry:   r.PostFormValue("FromCountry"),
		ToCountry:     r.PostFormValue("ToCountry"),
		ForwardedFrom: normalizeCaller(r.PostFormValue("ForwardedFrom")),
	}, nil
}

// normalizeCaller keeps non-numeric values such as "anonymous" untouched.
func normalizeCaller(s string) string {
	if n := utils.NormalizePhone(s); n != "" {
		return n
	}
	return s
}

func (f TwilioInboundForm) ToInboundCallRequest(occurredAt time.Time) InboundCallRequest {
	raw, _ := json.Marshal(f)
	return InboundCallRequest{
		ProviderCallID: f.CallSid,
		From:           f.From,
		To:             f.To,
		OccurredAt:     occurredAt,
		RawPayload:     string(raw),
	}
}
