// Package cli implements the operator console: status tables read from the
// published snapshots and moderation commands routed through the ticks.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/hangar-project/hangar/internal/chat"
	"github.com/hangar-project/hangar/internal/game"
	intnet "github.com/hangar-project/hangar/internal/network"
)

const callTimeout = 5 * time.Second

// CLI reads commands line by line from in and writes tables to out.
type CLI struct {
	chat     *chat.Manager
	world    *game.World
	conns    *intnet.ConnectionRegistry
	shutdown func()

	in  io.Reader
	out io.Writer
}

// NewCLI creates a console. shutdown is called by the quit command.
func NewCLI(m *chat.Manager, w *game.World, conns *intnet.ConnectionRegistry, shutdown func(), in io.Reader, out io.Writer) *CLI {
	return &CLI{
		chat:     m,
		world:    w,
		conns:    conns,
		shutdown: shutdown,
		in:       in,
		out:      out,
	}
}

// Start reads commands until EOF or ctx is cancelled.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nhangar console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "hangar> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := c.Execute(ctx, line); err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

// Execute runs one command line.
func (c *CLI) Execute(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(parts[0]), parts[1:]

	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "sessions":
		c.printSessions()
	case "rooms":
		c.printRooms()
	case "players":
		c.printPlayers()
	case "announce":
		return c.cmdAnnounce(ctx, args)
	case "kick":
		return c.cmdKick(ctx, args)
	case "removeroom":
		return c.cmdRemoveRoom(ctx, args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down hangar...")
		log.Info().Msg("shutdown requested from console")
		if c.shutdown != nil {
			c.shutdown()
		}
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	tw := c.table([]string{"Command", "Description"})
	tw.AppendBulk([][]string{
		{"status", "tick counters, sessions, rooms, players, connections"},
		{"sessions", "connected chat sessions"},
		{"rooms", "live chat rooms"},
		{"players", "players in the game world"},
		{"announce <text>", "system message to every chat session and player"},
		{"kick <name> [reason]", "disconnect a chat session and player"},
		{"removeroom <id>", "close a chat room"},
		{"quit", "shut the server down"},
	})
	tw.Render()
}

func (c *CLI) table(header []string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func (c *CLI) printStatus() {
	cs := c.chat.Snapshot()
	ws := c.world.Snapshot()

	tw := c.table([]string{"Component", "Tick", "Sessions", "Rooms", "Players", "Connections"})
	tw.Append([]string{"chat", itoa(cs.Tick), strconv.Itoa(len(cs.Sessions)), strconv.Itoa(len(cs.Rooms)), "-",
		strconv.Itoa(c.count(intnet.RoleChat))})
	tw.Append([]string{"game", itoa(ws.Tick), "-", "-", strconv.Itoa(len(ws.Players)),
		strconv.Itoa(c.count(intnet.RoleGame))})
	tw.Append([]string{"policy", "-", "-", "-", "-", strconv.Itoa(c.count(intnet.RolePolicy))})
	tw.Render()
}

func (c *CLI) count(role intnet.Role) int {
	if c.conns == nil {
		return 0
	}
	return c.conns.Count(role)
}

func (c *CLI) printSessions() {
	cs := c.chat.Snapshot()
	tw := c.table([]string{"ID", "Name", "Level", "Faction", "Current Room", "Rooms", "Remote", "Connected"})
	for _, s := range cs.Sessions {
		tw.Append([]string{
			strconv.FormatInt(s.ID, 10),
			s.Name,
			s.Level,
			strconv.Itoa(s.Faction),
			strconv.FormatInt(s.CurrentRoom, 10),
			joinIDs(s.Rooms),
			s.Remote,
			time.Since(s.ConnectedAt).Round(time.Second).String(),
		})
	}
	tw.Render()
}

func (c *CLI) printRooms() {
	cs := c.chat.Snapshot()
	tw := c.table([]string{"ID", "Name", "Type", "Tab", "Owner", "Standing", "Members"})
	for _, r := range cs.Rooms {
		owner := "-"
		if r.OwnerID != 0 {
			owner = strconv.FormatInt(r.OwnerID, 10)
		}
		tw.Append([]string{
			strconv.FormatInt(r.ID, 10),
			r.Name,
			r.Type,
			strconv.Itoa(r.Tab),
			owner,
			strconv.FormatBool(r.Standing),
			strconv.Itoa(r.Members),
		})
	}
	tw.Render()
}

func (c *CLI) printPlayers() {
	ws := c.world.Snapshot()
	tw := c.table([]string{"ID", "Name", "Map", "X", "Y", "Remote"})
	for _, p := range ws.Players {
		tw.Append([]string{
			strconv.FormatInt(p.ID, 10),
			p.Name,
			strconv.Itoa(p.Position.MapID),
			strconv.Itoa(p.Position.X),
			strconv.Itoa(p.Position.Y),
			p.Remote,
		})
	}
	tw.Render()
}

func (c *CLI) cmdAnnounce(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: announce <text>")
	}
	text := strings.Join(args, " ")

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var sessions, players int
	if err := c.chat.Call(ctx, func(m *chat.Manager) error {
		sessions = m.Announce(text)
		return nil
	}); err != nil {
		return err
	}
	if err := c.world.Call(ctx, func(w *game.World) error {
		players = w.Broadcast(text)
		return nil
	}); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Announced to %d sessions and %d players\n", sessions, players)
	return nil
}

func (c *CLI) cmdKick(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: kick <name> [reason]")
	}
	name := args[0]
	reason := "You have been kicked"
	if len(args) > 1 {
		reason = strings.Join(args[1:], " ")
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var id int64
	if err := c.chat.Call(ctx, func(m *chat.Manager) error {
		if s := m.FindSessionByName(name); s != nil {
			id = s.ID
			m.Kick(s, reason)
		}
		return nil
	}); err != nil {
		return err
	}
	if id == 0 {
		for _, p := range c.world.Snapshot().Players {
			if strings.EqualFold(p.Name, name) {
				id = p.ID
			}
		}
	}
	if id == 0 {
		return fmt.Errorf("%s is not online", name)
	}

	err := c.world.Call(ctx, func(w *game.World) error { return w.Kick(id, reason) })
	if err != nil && !errors.Is(err, game.ErrPlayerOffline) {
		return err
	}

	fmt.Fprintf(c.out, "Kicked %s\n", name)
	return nil
}

func (c *CLI) cmdRemoveRoom(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: removeroom <id>")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid room id: %s", args[0])
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	if err := c.chat.Call(ctx, func(m *chat.Manager) error { return m.RemoveRoom(id) }); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Room %d removed\n", id)
	return nil
}

func itoa(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
