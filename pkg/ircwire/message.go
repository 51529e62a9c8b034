package ircwire

import (
	"strings"

	"gopkg.in/sorcix/irc.v2"
)

type Kind int

const (
	Unclassified Kind = iota
	Ping
	WelcomeEnd
	JoinConfirmed
	DccSend
	DccAccept
	AlreadyRequestedNotice
	QueueFullNotice
	NicknameInUse
)

func (k Kind) String() string {
	switch k {
	case Ping:
		return "ping"
	case WelcomeEnd:
		return "welcome-end"
	case JoinConfirmed:
		return "join-confirmed"
	case DccSend:
		return "dcc-send"
	case DccAccept:
		return "dcc-accept"
	case AlreadyRequestedNotice:
		return "already-requested"
	case QueueFullNotice:
		return "queue-full"
	case NicknameInUse:
		return "nickname-in-use"
	default:
		return "unclassified"
	}
}

const ctcpDelim = "\x01"

// Message is a classified inbound line. Payload carries the PING token for
// Ping and the CTCP body for the DCC kinds.
type Message struct {
	Kind    Kind
	Sender  string
	Target  string
	Payload string
	Raw     string
}

// Classifier recognises the handful of lines the XDCC session reacts to.
// Nick and Channel are compared case-insensitively.
type Classifier struct {
	Nick    string
	Channel string
}

func (c Classifier) Classify(line string) Message {
	out := Message{Kind: Unclassified, Raw: line}
	m := irc.ParseMessage(line)
	if m == nil {
		return out
	}
	if m.Prefix != nil {
		out.Sender = m.Prefix.Name
	}
	if len(m.Params) > 0 {
		out.Target = m.Params[0]
	}

	switch m.Command {
	case irc.PING:
		out.Kind = Ping
		out.Payload = lastParam(m)
	case irc.RPL_ENDOFMOTD, irc.ERR_NOMOTD:
		out.Kind = WelcomeEnd
	case irc.ERR_NICKNAMEINUSE:
		out.Kind = NicknameInUse
	case irc.JOIN:
		if c.isOwnJoin(m) {
			out.Kind = JoinConfirmed
		}
	case irc.PRIVMSG, irc.NOTICE:
		text := lastParam(m)
		out.Kind, out.Payload = classifyText(text)
	}
	return out
}

func (c Classifier) isOwnJoin(m *irc.Message) bool {
	if len(m.Params) == 0 {
		return false
	}
	channel := strings.TrimPrefix(m.Params[0], "#")
	if c.Channel != "" && !strings.EqualFold(channel, strings.TrimPrefix(c.Channel, "#")) {
		return false
	}
	if c.Nick == "" || m.Prefix == nil || m.Prefix.Name == "" {
		return true
	}
	return strings.EqualFold(m.Prefix.Name, c.Nick)
}

func classifyText(text string) (Kind, string) {
	if strings.Contains(text, ctcpDelim) {
		body := strings.Trim(text, ctcpDelim)
		switch {
		case strings.HasPrefix(body, "DCC SEND "):
			return DccSend, body
		case strings.HasPrefix(body, "DCC ACCEPT "):
			return DccAccept, body
		}
	}
	// Some bots send the DCC offer without CTCP framing.
	if idx := strings.Index(text, "DCC SEND "); idx >= 0 {
		return DccSend, text[idx:]
	}
	if idx := strings.Index(text, "DCC ACCEPT "); idx >= 0 {
		return DccAccept, text[idx:]
	}

	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "already requested"):
		return AlreadyRequestedNotice, text
	case strings.Contains(lower, "queued too many"):
		return QueueFullNotice, text
	}
	return Unclassified, ""
}

func lastParam(m *irc.Message) string {
	if len(m.Params) == 0 {
		return ""
	}
	return m.Params[len(m.Params)-1]
}
