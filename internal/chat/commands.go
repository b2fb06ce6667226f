package chat

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hangar-project/hangar/internal/db"
	"github.com/hangar-project/hangar/internal/events"
)

// Command is one slash command. Level is re-checked on every call.
type Command struct {
	Name    string
	Usage   string
	MinArgs int
	Level   Level
	Run     func(m *Manager, s *Session, args []string) error
}

func defaultCommands() map[string]*Command {
	list := []*Command{
		{Name: "help", Usage: "/help", Level: LevelPlayer, Run: cmdHelp},
		{Name: "users", Usage: "/users", Level: LevelPlayer, Run: cmdUsers},
		{Name: "announce", Usage: "/announce <text>", MinArgs: 1, Level: LevelPlayer, Run: cmdAnnounce},
		{Name: "ban", Usage: "/ban <user> <duration> [reason]", MinArgs: 2, Level: LevelModerator, Run: cmdBan},
		{Name: "unban", Usage: "/unban <user>", MinArgs: 1, Level: LevelAdmin, Run: cmdUnban},
		{Name: "kick", Usage: "/kick <user>", MinArgs: 1, Level: LevelModerator, Run: cmdKick},
		{Name: "removeroom", Usage: "/removeroom <room id>", MinArgs: 1, Level: LevelAdmin, Run: cmdRemoveRoom},
		{Name: "teleport", Usage: "/teleport <x> <y> [map]", MinArgs: 2, Level: LevelAdmin, Run: cmdTeleport},
		{Name: "save", Usage: "/save", Level: LevelDeveloper, Run: cmdSave},
	}
	table := make(map[string]*Command, len(list))
	for _, c := range list {
		table[c.Name] = c
	}
	return table
}

// execCommand parses "/verb arg arg..." and runs the matching command.
// The verb is matched case-sensitively; there is no quoting.
func (m *Manager) execCommand(s *Session, text string) error {
	fields := strings.Fields(strings.TrimPrefix(text, m.opts.CommandPrefix))
	if len(fields) == 0 {
		return reply("Command not found")
	}
	verb := fields[0]
	args := fields[1:]

	cmd, ok := m.commands[verb]
	if !ok {
		return reply("Command not found")
	}
	if s.Level < cmd.Level {
		return denied()
	}
	if len(args) < cmd.MinArgs {
		return reply("Usage: " + cmd.Usage)
	}

	s.logger.Info().Str("command", verb).Strs("args", args).Msg("command issued")
	return cmd.Run(m, s, args)
}

func cmdHelp(m *Manager, s *Session, _ []string) error {
	var names []string
	for name, cmd := range m.commands {
		if s.Level >= cmd.Level {
			names = append(names, m.opts.CommandPrefix+name)
		}
	}
	slices.Sort(names)
	s.SystemMessage("Commands: " + strings.Join(names, ", "))
	return nil
}

func cmdUsers(m *Manager, s *Session, _ []string) error {
	names := make([]string, 0, len(m.sessions))
	for _, peer := range m.sessions {
		if peer.Alive() {
			names = append(names, peer.Name)
		}
	}
	slices.Sort(names)
	const shown = 50
	list := names
	if len(list) > shown {
		list = list[:shown]
	}
	s.SystemMessage(fmt.Sprintf("%d users online: %s", len(names), strings.Join(list, ", ")))
	return nil
}

func cmdAnnounce(m *Manager, s *Session, args []string) error {
	var b strings.Builder
	for _, a := range args {
		b.WriteString(a)
		b.WriteByte(' ')
	}
	text := b.String()
	n := m.Announce(text)

	s.logger.Info().Int("recipients", n).Msg("announcement sent")
	m.emit(events.EventAnnouncement, events.ModerationPayload{
		IssuerID: s.ID, IssuerName: s.Name, Text: text,
	})
	return nil
}

func cmdBan(m *Manager, s *Session, args []string) error {
	ctx, cancel := m.storeContext()
	defer cancel()

	target, err := m.store.FindAccountByName(ctx, args[0])
	if errors.Is(err, db.ErrNotFound) {
		return reply("cannot find player")
	}
	if err != nil {
		return &ReplyError{Text: "Ban failed", Err: err}
	}
	if LevelFromInt(target.Level) >= s.Level && s.Level < LevelDeveloper {
		return denied()
	}

	now := m.now()
	if _, err := m.store.ActiveBan(ctx, target.ID, now); err == nil {
		return reply("already banned")
	} else if !errors.Is(err, db.ErrNotFound) {
		return &ReplyError{Text: "Ban failed", Err: err}
	}

	dur, err := ParseBanDuration(args[1])
	if err != nil {
		return &ReplyError{Text: "Invalid duration, use e.g. 30m, 12h, 3d, 1w", Err: err}
	}
	ban := db.Ban{
		UserID:    target.ID,
		IssuerID:  s.ID,
		Reason:    strings.Join(args[2:], " "),
		ExpiresAt: now.Add(dur),
		CreatedAt: now,
	}
	if _, err := m.store.InsertBan(ctx, ban); err != nil {
		return &ReplyError{Text: "Ban failed", Err: err}
	}

	if online := m.sessions[target.ID]; online != nil {
		m.Kick(online, "You have been banned")
	}
	s.SystemMessage(fmt.Sprintf("%s banned until %s", target.Name, ban.ExpiresAt.Format(time.RFC1123)))
	m.emit(events.EventUserBanned, events.ModerationPayload{
		IssuerID: s.ID, IssuerName: s.Name, TargetID: target.ID, TargetName: target.Name,
		Text: ban.Reason, ExpiresAt: &ban.ExpiresAt,
	})
	return nil
}

func cmdUnban(m *Manager, s *Session, args []string) error {
	ctx, cancel := m.storeContext()
	defer cancel()

	target, err := m.store.FindAccountByName(ctx, args[0])
	if errors.Is(err, db.ErrNotFound) {
		return reply("cannot find player")
	}
	if err != nil {
		return &ReplyError{Text: "Unban failed", Err: err}
	}
	n, err := m.store.DeleteBans(ctx, target.ID)
	if err != nil {
		return &ReplyError{Text: "Unban failed", Err: err}
	}
	if n == 0 {
		return reply(target.Name + " is not banned")
	}

	s.SystemMessage(target.Name + " unbanned")
	m.emit(events.EventUserUnbanned, events.ModerationPayload{
		IssuerID: s.ID, IssuerName: s.Name, TargetID: target.ID, TargetName: target.Name,
	})
	return nil
}

func cmdKick(m *Manager, s *Session, args []string) error {
	target := m.FindSessionByName(args[0])
	if target == nil || !target.Alive() {
		return reply("User is not online")
	}
	if target.Level >= s.Level && s.Level < LevelDeveloper {
		return denied()
	}
	m.Kick(target, "You have been kicked")
	s.SystemMessage(target.Name + " kicked")
	m.emit(events.EventUserKicked, events.ModerationPayload{
		IssuerID: s.ID, IssuerName: s.Name, TargetID: target.ID, TargetName: target.Name,
	})
	return nil
}

func cmdRemoveRoom(m *Manager, s *Session, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return reply("Usage: /removeroom <room id>")
	}
	if err := m.RemoveRoom(id); err != nil {
		return &ReplyError{Text: "Room not found", Err: err}
	}
	s.SystemMessage(fmt.Sprintf("Room %d removed", id))
	return nil
}

func cmdTeleport(m *Manager, s *Session, args []string) error {
	var p db.TeleportPayload
	var err error
	if p.X, err = strconv.Atoi(args[0]); err != nil {
		return reply("Usage: /teleport <x> <y> [map]")
	}
	if p.Y, err = strconv.Atoi(args[1]); err != nil {
		return reply("Usage: /teleport <x> <y> [map]")
	}
	if len(args) > 2 {
		if p.MapID, err = strconv.Atoi(args[2]); err != nil {
			return reply("Usage: /teleport <x> <y> [map]")
		}
	}
	return m.queueCommand(s, db.VerbTeleport, p)
}

func cmdSave(m *Manager, s *Session, _ []string) error {
	return m.queueCommand(s, db.VerbSave, nil)
}

// queueCommand records a command for the game world to apply.
func (m *Manager) queueCommand(s *Session, verb string, payload any) error {
	ctx, cancel := m.storeContext()
	defer cancel()

	id, err := m.store.InsertPendingCommand(ctx, verb, s.ID, s.ID, payload)
	if err != nil {
		return &ReplyError{Text: "Command failed", Err: err}
	}
	s.logger.Debug().Str("command_id", id).Str("verb", verb).Msg("pending command queued")
	s.SystemMessage(fmt.Sprintf("%s queued", verb))
	return nil
}

// ParseBanDuration parses "<n><unit>" with unit one of s, m, h, d, w.
func ParseBanDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	n, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}

	var unit time.Duration
	switch s[len(s)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid duration unit in %q", s)
	}
	if n > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("duration %q out of range", s)
	}
	return time.Duration(n) * unit, nil
}
