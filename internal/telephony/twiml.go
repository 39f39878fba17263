package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// Only the verbs the inbound LiveKit bridge needs are modelled.

// dialTimeoutSeconds bounds how long Twilio rings the SIP side before giving up.
const dialTimeoutSeconds = 30

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlDial struct {
	XMLName        xml.Name  `xml:"Dial"`
	AnswerOnBridge bool      `xml:"answerOnBridge,attr"`
	CallerID       string    `xml:"callerId,attr,omitempty"`
	Timeout        int       `xml:"timeout,attr,omitempty"`
	Number         string    `xml:"Number,omitempty"`
	Sip            *twimlSip `xml:"Sip,omitempty"`
}

type twimlSip struct {
	URI string `xml:",chardata"`
}

// RenderTwiML maps an InboundCallResult to TwiML.
func RenderTwiML(res InboundCallResult) (string, error) {
	var r twimlResponse

	switch res.Action {
	case InboundCallActionReject:
		reason := "rejected"
		if res.RejectReason == "busy" {
			reason = "busy"
		}
		r.Verbs = append(r.Verbs, twimlReject{Reason: reason})
	case InboundCallActionHangup:
		r.Verbs = append(r.Verbs, twimlHangup{})
	case InboundCallActionConnect:
		if strings.TrimSpace(res.ConnectTo) == "" {
			return "", errors.New("telephony: connect_to required for connect action")
		}
		// answerOnBridge keeps the caller in ringback until the agent leg picks up.
		d := twimlDial{AnswerOnBridge: true, CallerID: res.CallerID, Timeout: dialTimeoutSeconds}
		if strings.HasPrefix(strings.ToLower(res.ConnectTo), "sip:") {
			d.Sip = &twimlSip{URI: res.ConnectTo}
		} else {
			d.Number = res.ConnectTo
		}
		r.Verbs = append(r.Verbs, d)
	default:
		return "", errors.New("telephony: unknown inbound action")
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// rejectTwiML is served when routing itself fails; Twilio needs a valid document either way.
func rejectTwiML() string {
	out, _ := RenderTwiML(InboundCallResult{Action: InboundCallActionReject})
	return out
}
