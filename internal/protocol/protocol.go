// Package protocol defines the rollcall wire messages.
//
// The protocol is newline-delimited UTF-8 text.  Clients send
// `login <name>`, `ping` and `ask_clients`; the server answers with
// `login ok`, `ping ok` / `ping client_list_changed` and
// `clients <name> <name> ... `.  Commands are case-sensitive and
// matched by prefix.
package protocol

import (
	"strings"
)

// Command and reply keywords.
const (
	CmdLogin      = "login"
	CmdPing       = "ping"
	CmdAskClients = "ask_clients"

	ReplyClients       = "clients"
	AnswerOK           = "ok"
	AnswerListChanged  = "client_list_changed"
	loginPrefix        = CmdLogin + " "
	clientsReplyPrefix = ReplyClients + " "
)

// CommandKind identifies a client request.
type CommandKind int

const (
	CommandUnknown CommandKind = iota
	CommandLogin
	CommandPing
	CommandAskClients
)

func (k CommandKind) String() string {
	switch k {
	case CommandLogin:
		return CmdLogin
	case CommandPing:
		return CmdPing
	case CommandAskClients:
		return CmdAskClients
	default:
		return "unknown"
	}
}

// Command is a parsed client request.  Arg holds the username for
// CommandLogin and is empty otherwise.
type Command struct {
	Kind CommandKind
	Arg  string
}

// ParseCommand interprets one framed line from a client.  A trailing
// carriage return is tolerated so line-mode telnet clients work.
func ParseCommand(line string) Command {
	line = strings.TrimSuffix(line, "\r")
	switch {
	case strings.HasPrefix(line, loginPrefix):
		// Only the first word counts as the name.
		fields := strings.Fields(line[len(loginPrefix):])
		if len(fields) == 0 {
			return Command{Kind: CommandLogin}
		}
		return Command{Kind: CommandLogin, Arg: fields[0]}
	case strings.HasPrefix(line, CmdPing):
		return Command{Kind: CommandPing}
	case strings.HasPrefix(line, CmdAskClients):
		return Command{Kind: CommandAskClients}
	default:
		return Command{Kind: CommandUnknown, Arg: line}
	}
}

// ReplyKind identifies a server reply.
type ReplyKind int

const (
	ReplyUnknown ReplyKind = iota
	ReplyLoginOK
	ReplyPing
	ReplyClientList
)

// Reply is a parsed server reply.
type Reply struct {
	Kind ReplyKind
	// Changed is set for a ping reply announcing a roster change.
	Changed bool
	// Answer is the word following "ping" (or "login").
	Answer string
	// Names holds the roster carried by a clients reply.
	Names []string
	Raw   string
}

// ParseReply interprets one framed line from the server.  The trailing
// space the server leaves after the last name is ignored.
func ParseReply(line string) Reply {
	line = strings.TrimSuffix(line, "\r")
	r := Reply{Raw: line}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return r
	}
	switch fields[0] {
	case CmdLogin:
		if len(fields) > 1 {
			r.Answer = fields[1]
		}
		if r.Answer == AnswerOK {
			r.Kind = ReplyLoginOK
		}
	case CmdPing:
		r.Kind = ReplyPing
		if len(fields) > 1 {
			r.Answer = fields[1]
		}
		r.Changed = r.Answer == AnswerListChanged
	case ReplyClients:
		r.Kind = ReplyClientList
		r.Names = fields[1:]
	}
	return r
}

// ── Formatting ───────────────────────────────────────────────────────

// LoginRequest is the first line a client sends.
func LoginRequest(name string) string { return loginPrefix + name + "\n" }

// Client requests.
const (
	PingRequest       = CmdPing + "\n"
	AskClientsRequest = CmdAskClients + "\n"
)

// Server replies.
const (
	LoginOK     = CmdLogin + " " + AnswerOK + "\n"
	PingOK      = CmdPing + " " + AnswerOK + "\n"
	PingChanged = CmdPing + " " + AnswerListChanged + "\n"
)

// PingReply picks the ping answer for the given dirty flag.
func PingReply(changed bool) string {
	if changed {
		return PingChanged
	}
	return PingOK
}

// ClientsReply formats a roster snapshot.  Every name is followed by a
// space, so the line keeps a trailing space before the newline.
func ClientsReply(names []string) string {
	var b strings.Builder
	b.Grow(len(clientsReplyPrefix) + 16*len(names) + 1)
	b.WriteString(clientsReplyPrefix)
	for _, n := range names {
		b.WriteString(n)
		b.WriteByte(' ')
	}
	b.WriteByte('\n')
	return b.String()
}

// ValidUsername reports whether name can be carried by a login line
// and listed in a clients reply.
func ValidUsername(name string) bool {
	return name != "" && !strings.ContainsAny(name, " \t\r\n")
}
