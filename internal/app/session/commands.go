package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/rendezvous/internal/core"
	"github.com/dkeye/rendezvous/internal/domain"
)

const (
	msgSyntax         = "syntax error"
	msgRoomInt        = "room id must be integer"
	msgUserInt        = "user id must be integer"
	msgKeyInt         = "room key must be integer"
	msgRoomAndKey     = "room id and key are required"
	msgRoomAndUser    = "room id and user id are required"
	msgTextRequired   = "message text required"
	msgCantGetKey     = "cant get key"
	msgUnknownCommand = "unknown command: %s"
)

// HandleText processes one inbound text frame. Protocol and domain errors are
// answered on the connection; the returned error is fatal for the session.
func (s *Session) HandleText(ctx context.Context, text string) error {
	if s.State() != Active {
		return ErrNotActive
	}
	line := strings.TrimSpace(text)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		s.count("message")
		return s.fatal(s.reg.ClientMessage(ctx, s.ID(), s.Room(), line))
	}

	name, args, hasArgs := strings.Cut(line, " ")
	switch name {
	case "/list":
		s.count("list")
		return s.list(ctx)
	case "/id":
		s.count("id")
		if hasArgs {
			s.replyErr(msgSyntax)
			return nil
		}
		s.reply(core.Line("/id", s.ID().String()))
		return nil
	case "/room":
		s.count("room")
		if hasArgs {
			s.replyErr(msgSyntax)
			return nil
		}
		return s.roomKey(ctx)
	case "/members":
		s.count("members")
		if hasArgs {
			s.replyErr(msgSyntax)
			return nil
		}
		return s.members(ctx)
	case "/invite":
		s.count("invite")
		return s.invite(ctx, args, hasArgs)
	case "/send":
		s.count("send")
		return s.sendKey(ctx, args, hasArgs)
	case "/join":
		s.count("join")
		return s.join(ctx, args, hasArgs)
	case "/direct_message":
		s.count("direct_message")
		return s.direct(ctx, args, hasArgs)
	case "/ice":
		s.count("ice")
		s.ice()
		return nil
	default:
		s.count("unknown")
		s.replyErr(fmt.Sprintf(msgUnknownCommand, name))
		return nil
	}
}

// fatal passes through errors that are not domain outcomes.
func (s *Session) fatal(err error) error {
	if err == nil {
		return nil
	}
	log.Error().Err(err).Str("module", "session").Stringer("sid", s.ID()).Msg("registry request failed")
	return fmt.Errorf("registry: %w", err)
}

// outcome answers a domain rejection on the wire and reports anything else
// as fatal.
func (s *Session) outcome(err error) error {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound),
		errors.Is(err, domain.ErrBadKey),
		errors.Is(err, domain.ErrRoomFull),
		errors.Is(err, domain.ErrSessionNotFound):
		s.replyErr(err.Error())
		return nil
	}
	return s.fatal(err)
}

func (s *Session) list(ctx context.Context) error {
	ids, err := s.reg.ListRooms(ctx)
	if err != nil {
		return s.fatal(err)
	}
	s.reply(core.Line("/list", core.Strings(ids)...))
	return nil
}

func (s *Session) roomKey(ctx context.Context) error {
	room := s.Room()
	key, ok, err := s.reg.Room(ctx, room)
	if err != nil {
		return s.fatal(err)
	}
	if !ok {
		s.replyErr(msgCantGetKey)
		return nil
	}
	s.reply(core.Line("/room", room.String(), key.String()))
	return nil
}

func (s *Session) members(ctx context.Context) error {
	ids, err := s.reg.Members(ctx, s.Room())
	if err != nil {
		return s.fatal(err)
	}
	s.reply(core.Line("/members", core.Strings(ids)...))
	return nil
}

func (s *Session) invite(ctx context.Context, args string, hasArgs bool) error {
	if !hasArgs {
		s.replyErr(msgSyntax)
		return nil
	}
	target, err := domain.ParseRoomID(args)
	if err != nil {
		s.replyErr(msgRoomInt)
		return nil
	}
	if err := s.reg.Invite(ctx, s.ID(), s.Room(), target); err != nil {
		return s.outcome(err)
	}
	s.reply(core.Line("/asked"))
	return nil
}

func (s *Session) sendKey(ctx context.Context, args string, hasArgs bool) error {
	if !hasArgs {
		s.replyErr(msgRoomAndUser)
		return nil
	}
	roomArg, sidArg, _ := strings.Cut(args, " ")
	target, err := domain.ParseRoomID(roomArg)
	if err != nil {
		s.replyErr(msgRoomInt)
		return nil
	}
	to, err := domain.ParseSessionID(sidArg)
	if err != nil {
		s.replyErr(msgUserInt)
		return nil
	}
	if err := s.reg.SendRoomKey(ctx, s.Room(), target, to); err != nil {
		return s.outcome(err)
	}
	s.reply(core.Line("/send"))
	return nil
}

// join moves the session only once the registry confirms the move.
func (s *Session) join(ctx context.Context, args string, hasArgs bool) error {
	if !hasArgs {
		s.replyErr(msgRoomAndKey)
		return nil
	}
	roomArg, keyArg, _ := strings.Cut(args, " ")
	target, err := domain.ParseRoomID(roomArg)
	if err != nil {
		s.replyErr(msgRoomInt)
		return nil
	}
	key, err := domain.ParseRoomKey(keyArg)
	if err != nil {
		s.replyErr(msgKeyInt)
		return nil
	}

	joined, err := s.reg.Join(ctx, s.ID(), s.Room(), target, key)
	if err != nil {
		return s.outcome(err)
	}
	s.mu.Lock()
	s.room = joined
	s.mu.Unlock()
	s.reply(core.Line("/joined", joined.String()))
	return nil
}

func (s *Session) direct(ctx context.Context, args string, hasArgs bool) error {
	if !hasArgs {
		s.replyErr(msgSyntax)
		return nil
	}
	sidArg, text, _ := strings.Cut(args, " ")
	to, err := domain.ParseSessionID(sidArg)
	if err != nil {
		s.replyErr(msgUserInt)
		return nil
	}
	if strings.TrimSpace(text) == "" {
		s.replyErr(msgTextRequired)
		return nil
	}
	if err := s.reg.Direct(ctx, s.Room(), s.ID(), to, text); err != nil {
		return s.outcome(err)
	}
	s.reply(core.Line("/send"))
	return nil
}

func (s *Session) ice() {
	payload := s.opts.ICE
	if len(payload) == 0 {
		payload = []byte("[]")
	}
	s.reply(core.Line("/ice", string(payload)))
}
