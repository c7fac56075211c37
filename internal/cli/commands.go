// Package cli implements the interactive command-line interface for
// SourceWatch: live queries against individual servers, master-server
// browsing, and GoldSrc remote console access.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/sourcewatch-project/sourcewatch/internal/config"
	"github.com/sourcewatch-project/sourcewatch/internal/events"
	"github.com/sourcewatch-project/sourcewatch/internal/master"
	"github.com/sourcewatch-project/sourcewatch/internal/query"
	"github.com/sourcewatch-project/sourcewatch/internal/rcon"
	"github.com/sourcewatch-project/sourcewatch/internal/store"
)

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	store    *store.Store
}

// NewCLI creates a new CLI handler.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, st *store.Store) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		store:    st,
	}
}

// Start begins the interactive CLI loop.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\nSourceWatch CLI ready. Type 'help' for available commands.")
	fmt.Println("─────────────────────────────────────────────────────")

	reader := bufio.NewScanner(os.Stdin)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fmt.Print("sourcewatch> ")
		if !reader.Scan() {
			if err := reader.Err(); err != nil && err != io.EOF {
				continue
			}
			return
		}

		line := strings.TrimSpace(reader.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		if err := c.execute(ctx, cmd, args); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		return c.cmdStatus()
	case "info", "i":
		return c.cmdInfo(args)
	case "players", "p":
		return c.cmdPlayers(args)
	case "rules", "r":
		return c.cmdRules(args)
	case "browse", "b":
		return c.cmdBrowse(ctx, args)
	case "rcon":
		return c.cmdRcon(args)
	case "quit", "exit", "q":
		fmt.Println("Shutting down SourceWatch...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Println("\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                   SourceWatch CLI Commands                   ║")
	fmt.Println("╠══════════════════════════════════════════════════════════════╣")
	fmt.Println("║  status             Show all tracked servers                ║")
	fmt.Println("║  info <addr>        Query a server's info live              ║")
	fmt.Println("║  players <addr>     Query a server's player list live       ║")
	fmt.Println("║  rules <addr>       Query a server's rules live             ║")
	fmt.Println("║  browse [filter]    Walk the master server list             ║")
	fmt.Println("║  rcon <addr> <cmd>  Run a GoldSrc remote console command    ║")
	fmt.Println("║  quit               Shutdown SourceWatch                    ║")
	fmt.Println("║  help               Show this help message                  ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()
}

// cmdStatus displays the tracked server registry in a formatted table.
func (c *CLI) cmdStatus() error {
	servers, err := c.store.Servers()
	if err != nil {
		return err
	}
	if len(servers) == 0 {
		fmt.Println("No servers tracked yet.")
		return nil
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Address", "Name", "Map", "Players", "Ping", "State", "Source"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, srv := range servers {
		players, ping := "-", "-"
		if snap, err := c.store.LatestSnapshot(srv.Address); err == nil && snap != nil {
			players = fmt.Sprintf("%d/%d", snap.PlayerCount, snap.MaxPlayers)
			ping = fmt.Sprintf("%dms", snap.PingMs)
		}

		tw.Append([]string{
			srv.Address,
			srv.Name,
			srv.Map,
			players,
			ping,
			strings.ToUpper(srv.State.String()),
			srv.Source,
		})
	}

	tw.Render()
	fmt.Println()
	return nil
}

// dial opens a query session against one server.
func (c *CLI) dial(addr string) (*query.UDPTransport, *query.Session, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, nil, fmt.Errorf("invalid address %q: expected host:port", addr)
	}
	transport, err := query.DialUDP(addr)
	if err != nil {
		return nil, nil, err
	}
	timeout := time.Duration(c.cfg.GetQuery().TimeoutSec) * time.Second
	return transport, query.NewSession(transport, timeout), nil
}

func (c *CLI) cmdInfo(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: info <host:port>")
	}

	transport, session, err := c.dial(args[0])
	if err != nil {
		return err
	}
	defer transport.Close()

	start := time.Now()
	info, err := session.Info()
	if err != nil {
		return err
	}
	ping := time.Since(start).Milliseconds()

	fmt.Printf("\n  Name:        %s\n", info.Name)
	fmt.Printf("  Map:         %s\n", info.Map)
	fmt.Printf("  Game:        %s (%s)\n", info.Game, info.Folder)
	fmt.Printf("  Players:     %d/%d (%d bots)\n", info.Players, info.MaxPlayers, info.Bots)
	fmt.Printf("  Engine:      %s\n", info.Engine)
	fmt.Printf("  Version:     %s\n", info.Version)
	fmt.Printf("  VAC:         %v\n", info.VAC)
	fmt.Printf("  Passworded:  %v\n", info.Passworded)
	fmt.Printf("  Ping:        %dms\n", ping)
	if info.Keywords != "" {
		fmt.Printf("  Keywords:    %s\n", info.Keywords)
	}
	fmt.Println()
	return nil
}

func (c *CLI) cmdPlayers(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: players <host:port>")
	}

	transport, session, err := c.dial(args[0])
	if err != nil {
		return err
	}
	defer transport.Close()

	players, err := session.Players()
	if err != nil {
		return err
	}
	if len(players) == 0 {
		fmt.Println("Server is empty.")
		return nil
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Name", "Score", "Connected"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, p := range players {
		connected := time.Duration(p.Duration * float32(time.Second)).Round(time.Second)
		tw.Append([]string{p.Name, fmt.Sprintf("%d", p.Score), connected.String()})
	}

	tw.Render()
	fmt.Println()
	return nil
}

func (c *CLI) cmdRules(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: rules <host:port>")
	}

	transport, session, err := c.dial(args[0])
	if err != nil {
		return err
	}
	defer transport.Close()

	rules, err := session.Rules()
	if err != nil {
		return err
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Rule", "Value"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, r := range rules {
		tw.Append([]string{r.Name, r.Value})
	}

	tw.Render()
	fmt.Printf("%d rules\n\n", len(rules))
	return nil
}

func (c *CLI) cmdBrowse(ctx context.Context, args []string) error {
	mCfg := c.cfg.GetMaster()

	filter := mCfg.Filter
	if len(args) > 0 {
		filter = strings.Join(args, " ")
	}

	transport, err := query.DialUDP(mCfg.Address)
	if err != nil {
		return err
	}
	defer transport.Close()

	timeout := time.Duration(c.cfg.GetQuery().TimeoutSec) * time.Second
	browser := master.NewBrowser(transport, timeout,
		master.WithRegion(mCfg.Region),
		master.WithFilter(filter),
		master.WithPageLimit(mCfg.PageLimit))

	fmt.Printf("Sweeping %s (filter %q)...\n", mCfg.Address, filter)
	endpoints, err := browser.Servers(ctx)
	if err != nil && len(endpoints) == 0 {
		return err
	}

	for _, ep := range endpoints {
		fmt.Printf("  %s\n", ep.String())
	}
	if err != nil {
		fmt.Printf("%d servers (partial: %v)\n", len(endpoints), err)
	} else {
		fmt.Printf("%d servers\n", len(endpoints))
	}
	return nil
}

func (c *CLI) cmdRcon(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: rcon <host:port> <command...>")
	}

	password := c.cfg.GetQuery().RconPassword
	if password == "" {
		return fmt.Errorf("no rcon_password configured")
	}

	addr := args[0]
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid address %q: expected host:port", addr)
	}

	transport, err := query.DialUDP(addr)
	if err != nil {
		return err
	}

	timeout := time.Duration(c.cfg.GetQuery().TimeoutSec) * time.Second
	client := rcon.NewClient(transport, password, timeout)
	defer client.Close()

	out, err := client.Exec(strings.Join(args[1:], " "))
	if err != nil {
		return err
	}

	fmt.Println(out)
	return nil
}
