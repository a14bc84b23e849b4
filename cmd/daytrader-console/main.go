package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"daytrader/internal/dashboard"
	"daytrader/internal/domain"
	"daytrader/internal/live"
	"daytrader/internal/util"
)

// Styles.
var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4"))
	sectionStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6"))
	colHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	symbolStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	buyStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	sellStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	openStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	doneStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gainStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	footerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

const (
	maxOrderRows = 200
	feedWindow   = 5000
)

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Model.
type model struct {
	feed       *live.Feed
	board      dashboard.Board
	relayAddr  string
	sortMode   int
	viewport   viewport.Model
	ready      bool
	width      int
	height     int
	syncCancel context.CancelFunc
}

func initialModel(feed *live.Feed, addr string, cancel context.CancelFunc) model {
	return model{feed: feed, relayAddr: addr, syncCancel: cancel}
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func (m *model) refresh() {
	m.board = dashboard.ComputeBoard(m.feed.Snapshot(""), m.sortMode)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.syncCancel()
			return m, tea.Quit
		case "s":
			m.sortMode = (m.sortMode + 1) % dashboard.SortModeCount
			dashboard.SortQuotes(m.board.Quotes, m.sortMode)
			if m.ready {
				m.viewport.SetContent(m.renderContent())
			}
			return m, nil
		case "home":
			m.viewport.GotoTop()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := m.height - 2
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.viewport.MouseWheelEnabled = true
			m.ready = true
			m.refresh()
			m.viewport.SetContent(m.renderContent())
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
		}
		return m, nil

	case tickMsg:
		m.refresh()
		if m.ready {
			m.viewport.SetContent(m.renderContent())
		}
		return m, tickCmd()
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m model) renderContent() string {
	var b strings.Builder

	b.WriteString(sectionStyle.Render(padOrTrunc(fmt.Sprintf(" QUOTES (%d)  sort: %s ",
		len(m.board.Quotes), dashboard.SortModeLabel(m.sortMode)), m.width)))
	b.WriteByte('\n')
	b.WriteString(colHeaderStyle.Render(fmt.Sprintf("%-8s %10s %10s %9s %10s %6s  %s",
		"SYMBOL", "PRICE", "CHANGE", "CHG%", "VOLUME", "UPD", "TIME")))
	b.WriteByte('\n')
	for _, q := range m.board.Quotes {
		chg := dashboard.FormatChange(q.ChangePercent())
		style := dimStyle
		switch q.PriceChange.Sign() {
		case 1:
			style = gainStyle
		case -1:
			style = lossStyle
		}
		fmt.Fprintf(&b, "%s %10s %s %s %10s %6d  %s\n",
			symbolStyle.Render(fmt.Sprintf("%-8s", q.Symbol)),
			dashboard.FormatPrice(q.Price),
			style.Render(fmt.Sprintf("%10s", q.PriceChange.StringFixed(2))),
			style.Render(fmt.Sprintf("%9s", chg)),
			dashboard.FormatVolume(q.Volume),
			q.Updates,
			dimStyle.Render(q.Updated.Local().Format(time.TimeOnly)),
		)
	}

	b.WriteByte('\n')
	b.WriteString(sectionStyle.Render(padOrTrunc(fmt.Sprintf(" ORDERS (%d)  created: %s  completed: %s ",
		len(m.board.Orders), dashboard.FormatInt(m.board.Created), dashboard.FormatInt(m.board.Completed)), m.width)))
	b.WriteByte('\n')
	b.WriteString(colHeaderStyle.Render(fmt.Sprintf("%8s %-4s %-10s %8s %-8s %10s %10s %12s  %s",
		"ID", "TYPE", "STATUS", "ACCOUNT", "SYMBOL", "QTY", "PRICE", "TOTAL", "TIME")))
	b.WriteByte('\n')
	for i, o := range m.board.Orders {
		if i == maxOrderRows {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  ... %d more", len(m.board.Orders)-maxOrderRows)))
			b.WriteByte('\n')
			break
		}
		typeStyle := buyStyle
		if o.Type == domain.OrderTypeSell {
			typeStyle = sellStyle
		}
		statusStyle := openStyle
		if o.Status == domain.OrderStatusCompleted {
			statusStyle = doneStyle
		}
		fmt.Fprintf(&b, "%8d %s %s %8d %s %10s %10s %12s  %s\n",
			o.OrderID,
			typeStyle.Render(fmt.Sprintf("%-4s", o.Type)),
			statusStyle.Render(fmt.Sprintf("%-10s", o.Status)),
			o.AccountID,
			symbolStyle.Render(fmt.Sprintf("%-8s", o.Symbol)),
			o.Quantity.String(),
			dashboard.FormatPrice(o.Price),
			dashboard.FormatPrice(o.Total()),
			dimStyle.Render(o.Updated.Local().Format(time.TimeOnly)),
		)
	}
	return b.String()
}

func (m model) View() string {
	if !m.ready {
		return "Loading..."
	}

	latest := "-"
	if !m.board.LatestAt.IsZero() {
		latest = m.board.LatestAt.Local().Format(time.TimeOnly)
	}
	headerText := fmt.Sprintf(" daytrader  relay: %s    events: %s    last: %s ",
		m.relayAddr, dashboard.FormatInt(m.feed.Len()), latest)
	headerBar := headerStyle.Render(padOrTrunc(headerText, m.width))

	pct := m.viewport.ScrollPercent() * 100
	footerLeft := " q quit  s sort quotes  home top  pgup/dn scroll"
	footerRight := fmt.Sprintf("%.0f%% ", pct)
	gap := m.width - len(footerLeft) - len(footerRight)
	if gap < 0 {
		gap = 0
	}
	footer := footerStyle.Render(footerLeft + strings.Repeat(" ", gap) + footerRight)

	return headerBar + "\n" + m.viewport.View() + "\n" + footer
}

// padOrTrunc pads s with spaces to width w, or truncates it.
func padOrTrunc(s string, w int) string {
	if w <= 0 {
		return s
	}
	if len(s) > w {
		return s[:w]
	}
	return s + strings.Repeat(" ", w-len(s))
}

func main() {
	addr := "localhost:9090"
	if a := os.Getenv("DAYTRADER_RELAY"); a != "" {
		addr = a
	}
	// The TUI owns stdout, so logs go to a file.
	logPath := fmt.Sprintf("%s/daytrader-console-%s.log", os.TempDir(), time.Now().Format("2006-01-02"))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	logger := slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: slog.LevelInfo}))
	util.SetDefault(logger)

	feed := live.NewFeed(feedWindow)
	client := live.NewRelayClient(addr, feed, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := client.Sync(ctx, ""); err != nil && ctx.Err() == nil {
			logger.Error("sync error", "error", err)
		}
	}()

	p := tea.NewProgram(
		initialModel(feed, addr, cancel),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
