package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jwulff/voicememo/internal/daemon"
	"github.com/jwulff/voicememo/internal/transcribe"
	"github.com/jwulff/voicememo/internal/ui"

	tea "github.com/charmbracelet/bubbletea"
)

// Model is the root bubbletea model for the voicememo TUI.
type Model struct {
	// Connection state
	socketPath string
	client     *daemon.Client // command connection
	evClient   *daemon.Client // event subscription connection
	connected  bool
	connError  string

	// Run state
	memoID        string
	status        string
	progress      transcribe.Progress
	concatenating bool
	concatFrac    float64

	// UI state
	width            int
	height           int
	transcriptScroll int
	transcriptLive   bool

	// Errors
	errorMessage   string
	errorTransient bool

	// Status
	statusText string

	// Reconnect
	reconnecting     bool
	reconnectAttempt int
}

// New creates a Model that talks to the daemon at socketPath. memoID is the
// memo the t key transcribes; it may be empty to only watch.
func New(socketPath, memoID string) Model {
	return Model{
		socketPath:     socketPath,
		memoID:         memoID,
		status:         transcribe.StatusIdle.String(),
		statusText:     "Connecting to voicememo daemon...",
		transcriptLive: true,
	}
}

// Init connects to the daemon.
func (m Model) Init() tea.Cmd {
	return connectCmd(m.socketPath)
}

// connectCmd attempts to connect to the daemon with two connections:
// one for commands, one for event subscription.
func connectCmd(sockPath string) tea.Cmd {
	return func() tea.Msg {
		client, err := daemon.Connect(sockPath)
		if err != nil {
			return DaemonConnectErrorMsg{Err: err}
		}
		evClient, err := daemon.Connect(sockPath)
		if err != nil {
			client.Close()
			return DaemonConnectErrorMsg{Err: err}
		}
		return DaemonConnectedMsg{Client: client, EvClient: evClient}
	}
}

// subscribeCmd sends a subscribe command on the event client and starts reading events.
func subscribeCmd(evClient *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		if err := evClient.Subscribe(); err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		return readEventCmd(evClient)()
	}
}

// readEventCmd blocks on the next event from the daemon.
func readEventCmd(evClient *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		ev, err := evClient.ReadEvent()
		if err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		return DaemonEventMsg{Event: ev}
	}
}

// statusCmd fetches the current run state.
func statusCmd(client *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		resp, err := client.SendCommand(daemon.Command{Cmd: daemon.CmdStatus})
		if err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		return StatusResponseMsg{Response: resp}
	}
}

// controlCmd sends a control command and reports its response.
func controlCmd(client *daemon.Client, cmd daemon.Command) tea.Cmd {
	return func() tea.Msg {
		resp, err := client.SendCommand(cmd)
		if err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		return CommandResponseMsg{Cmd: cmd.Cmd, Response: resp}
	}
}

// clearTransientErrorCmd fires after a delay to clear transient errors.
func clearTransientErrorCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return ClearTransientErrorMsg{}
	})
}

// reconnectCmd schedules a reconnection attempt with exponential backoff.
func reconnectCmd(attempt int) tea.Cmd {
	delay := time.Duration(1<<min(attempt, 4)) * time.Second // 1s, 2s, 4s, 8s, 16s cap
	return tea.Tick(delay, func(time.Time) tea.Msg {
		return ReconnectTickMsg{}
	})
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case DaemonConnectedMsg:
		m.client = msg.Client
		m.evClient = msg.EvClient
		m.connected = true
		m.connError = ""
		m.reconnecting = false
		m.reconnectAttempt = 0
		m.statusText = "Connected"
		return m, tea.Batch(
			subscribeCmd(m.evClient),
			statusCmd(m.client),
		)

	case DaemonConnectErrorMsg:
		m.connected = false
		m.connError = msg.Err.Error()
		m.reconnecting = true
		m.statusText = "Daemon not running. Reconnecting..."
		return m, reconnectCmd(m.reconnectAttempt)

	case StatusResponseMsg:
		m.applyResponse(msg.Response)
		return m, nil

	case CommandResponseMsg:
		r := msg.Response
		if !r.OK {
			m.errorMessage = r.Error
			m.errorTransient = true
			return m, clearTransientErrorCmd()
		}
		m.applyResponse(r)
		return m, nil

	case DaemonEventMsg:
		cmd := m.handleEvent(msg.Event)
		// Continue reading events on event client
		return m, tea.Batch(cmd, readEventCmd(m.evClient))

	case DaemonEventErrorMsg:
		m.connected = false
		m.connError = msg.Err.Error()
		m.statusText = "Disconnected. Reconnecting..."
		m.reconnecting = true
		if m.client != nil {
			m.client.Close()
			m.client = nil
		}
		if m.evClient != nil {
			m.evClient.Close()
			m.evClient = nil
		}
		return m, reconnectCmd(m.reconnectAttempt)

	case ReconnectTickMsg:
		m.reconnectAttempt++
		return m, connectCmd(m.socketPath)

	case ClearTransientErrorMsg:
		if m.errorTransient {
			m.errorMessage = ""
			m.errorTransient = false
		}
		return m, nil
	}

	return m, nil
}

func (m *Model) applyResponse(r daemon.Response) {
	if r.Status != "" {
		m.status = r.Status
		m.statusText = r.Status
	}
	if r.Progress != nil {
		m.setProgress(*r.Progress)
	}
	if r.Concatenating != nil {
		m.concatenating = *r.Concatenating
	}
	if r.ConcatProgress != nil {
		m.concatFrac = *r.ConcatProgress
	}
}

func (m *Model) setProgress(p transcribe.Progress) {
	// a watch-only client follows whichever memo the daemon is working on
	if m.memoID != "" && p.MemoID != "" && p.MemoID != m.memoID {
		return
	}
	m.progress = p
	if m.transcriptLive {
		m.scrollToBottom()
	}
}

// handleEvent processes a daemon event and returns any resulting command.
func (m *Model) handleEvent(ev daemon.Event) tea.Cmd {
	switch ev.Event {
	case daemon.EventProgress:
		if ev.Progress == nil {
			return nil
		}
		m.status = ev.Progress.Status.String()
		m.statusText = m.status
		m.setProgress(*ev.Progress)
		if ev.Progress.Status == transcribe.StatusPreparing || ev.Progress.Status == transcribe.StatusIdle {
			m.concatenating = false
		}

	case daemon.EventConcat:
		if ev.Fraction != nil {
			m.concatFrac = *ev.Fraction
			m.concatenating = *ev.Fraction < 1
			if m.status == transcribe.StatusIdle.String() {
				m.status = transcribe.StatusPreparing.String()
			}
		}

	case daemon.EventError:
		m.errorMessage = ev.Message
		m.concatenating = false
		if m.status == transcribe.StatusPreparing.String() {
			m.status = transcribe.StatusIdle.String()
		}
	}

	return nil
}

// handleKey processes key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		if m.client != nil {
			m.client.Close()
		}
		if m.evClient != nil {
			m.evClient.Close()
		}
		return m, tea.Quit

	case KeySpace:
		if !m.connected {
			return m, nil
		}
		switch m.status {
		case transcribe.StatusTranscribing.String():
			return m, controlCmd(m.client, daemon.Command{Cmd: daemon.CmdPause})
		case transcribe.StatusPaused.String():
			return m, controlCmd(m.client, daemon.Command{Cmd: daemon.CmdResume})
		}
		return m, nil

	case KeyTranscribe:
		if !m.connected || m.memoID == "" || m.runActive() {
			return m, nil
		}
		m.errorMessage = ""
		return m, controlCmd(m.client, daemon.Command{Cmd: daemon.CmdTranscribe, MemoID: m.memoID})

	case KeyCancel:
		if !m.connected || !m.runActive() {
			return m, nil
		}
		return m, controlCmd(m.client, daemon.Command{Cmd: daemon.CmdCancel})

	case KeyReset:
		if !m.connected || m.runActive() {
			return m, nil
		}
		m.errorMessage = ""
		return m, controlCmd(m.client, daemon.Command{Cmd: daemon.CmdReset})

	case KeyUp, KeyK:
		m.transcriptLive = false
		if m.transcriptScroll > 0 {
			m.transcriptScroll--
		}
		return m, nil

	case KeyDown, KeyJ:
		maxScroll := m.maxTranscriptScroll()
		m.transcriptScroll++
		if m.transcriptScroll >= maxScroll {
			m.transcriptScroll = maxScroll
			m.transcriptLive = true
		}
		return m, nil
	}

	return m, nil
}

func (m Model) runActive() bool {
	st, err := transcribe.ParseStatus(m.status)
	return err == nil && st.Active()
}

func (m *Model) scrollToBottom() {
	m.transcriptScroll = m.maxTranscriptScroll()
}

func (m Model) transcriptLines() []string {
	if m.progress.Text == "" {
		return nil
	}
	return wrapText(m.progress.Text, max(10, m.transcriptWidth()))
}

func (m Model) maxTranscriptScroll() int {
	total := len(m.transcriptLines())
	visible := m.transcriptVisibleLines()
	if total <= visible {
		return 0
	}
	return total - visible
}

func (m Model) transcriptVisibleLines() int {
	if m.height == 0 {
		return 20
	}
	// Reserve: header(1) + status(1) + bars(2) + dividers(2) + panel title(1) + error(1) + footer(1)
	reserved := 9
	return max(3, m.height-reserved)
}

func (m Model) transcriptWidth() int {
	if m.width == 0 {
		return 76
	}
	return max(20, m.width-4)
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sections []string

	// Header
	sections = append(sections, m.renderHeader())

	// Status and progress
	sections = append(sections, m.renderStatusBar())
	sections = append(sections, m.renderBars()...)

	// Divider
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))

	// Transcript
	sections = append(sections, m.renderTranscriptPanel(m.transcriptVisibleLines()+1))

	// Divider
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))

	// Error bar
	if m.errorMessage != "" {
		sections = append(sections, m.renderErrorBar())
	}

	// Footer
	sections = append(sections, m.renderFooter())

	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := ui.TitleStyle.Render("VOICEMEMO")

	memo := m.memoID
	if memo == "" {
		memo = m.progress.MemoID
	}
	var memoInfo string
	if memo != "" {
		memoInfo = ui.DimStyle.Render(" — memo " + memo)
	}
	return title + memoInfo
}

func (m Model) renderStatusBar() string {
	if !m.connected {
		return ui.DimStyle.Render(m.statusText)
	}

	parts := []string{ui.StatusBadge(m.status)}
	p := m.progress
	if p.TotalChunks > 0 {
		parts = append(parts, fmt.Sprintf("chunk %d/%d", p.CurrentChunk, p.TotalChunks))
		parts = append(parts, fmt.Sprintf("%s / %s", formatDuration(p.ProcessedDuration), formatDuration(p.TotalDuration)))
	}
	if p.SkippedChunks > 0 {
		parts = append(parts, ui.ErrorTextStyle.Render(fmt.Sprintf("%d skipped", p.SkippedChunks)))
	}
	if p.Reason != "" && p.Status == transcribe.StatusFailed {
		parts = append(parts, ui.ErrorTextStyle.Render(p.Reason))
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderBars() []string {
	width := max(10, m.width-16)
	var bars []string
	if m.concatenating || (m.concatFrac > 0 && m.concatFrac < 1) {
		bars = append(bars, padRight(ui.DimStyle.Render("merging"), 9)+renderBar(m.concatFrac, width, ui.BarConcatStyle))
	}
	if m.progress.TotalChunks > 0 {
		bars = append(bars, padRight(ui.DimStyle.Render("progress"), 9)+renderBar(m.progress.Fraction(), width, ui.BarFilledStyle))
	}
	return bars
}

func renderBar(frac float64, width int, filledStyle lipgloss.Style) string {
	frac = min(max(frac, 0), 1)
	filled := int(frac * float64(width))
	bar := filledStyle.Render(strings.Repeat("█", filled)) +
		ui.BarEmptyStyle.Render(strings.Repeat("░", width-filled))
	return bar + fmt.Sprintf(" %3d%%", int(frac*100))
}

func (m Model) renderTranscriptPanel(height int) string {
	var badge string
	if m.transcriptLive {
		badge = ui.LiveBadgeStyle.Render(" LIVE")
	} else {
		badge = ui.ScrollBadgeStyle.Render(" SCROLL")
	}

	lines := []string{ui.PanelTitleStyle.Render("TRANSCRIPT") + badge}
	contentHeight := height - 1 // subtract header line

	switch {
	case !m.connected && m.reconnecting:
		lines = append(lines, "")
		lines = append(lines, ui.ErrorTextStyle.Render("  Daemon disconnected. Reconnecting..."))
		lines = append(lines, ui.DimStyle.Render("  Start with: voicememo serve"))
	case !m.connected:
		lines = append(lines, ui.DimStyle.Render("  Connecting to voicememo daemon..."))
	case m.progress.Text == "":
		lines = append(lines, "")
		if m.memoID != "" && !m.runActive() {
			lines = append(lines, ui.DimStyle.Render("  Press t to transcribe"))
		} else if m.runActive() {
			lines = append(lines, ui.SpinnerStyle.Render("  Waiting for the first chunk..."))
		} else {
			lines = append(lines, ui.DimStyle.Render("  Nothing transcribed yet"))
		}
	default:
		display := m.transcriptLines()
		start := 0
		if m.transcriptLive {
			if len(display) > contentHeight {
				start = len(display) - contentHeight
			}
		} else {
			start = m.transcriptScroll
		}
		start = max(0, min(start, len(display)))
		end := min(start+contentHeight, len(display))
		for _, l := range display[start:end] {
			lines = append(lines, "  "+l)
		}
	}

	// Pad to height
	for len(lines) < height {
		lines = append(lines, "")
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderErrorBar() string {
	return ui.ErrorStyle.Render("Error: ") + ui.ErrorTextStyle.Render(m.errorMessage)
}

func (m Model) renderFooter() string {
	var parts []string

	if m.connected {
		switch m.status {
		case transcribe.StatusTranscribing.String():
			parts = append(parts, ui.FooterKeyStyle.Render("Space")+ui.FooterDescStyle.Render(" Pause"))
		case transcribe.StatusPaused.String():
			parts = append(parts, ui.FooterKeyStyle.Render("Space")+ui.FooterDescStyle.Render(" Resume"))
		}
		if m.runActive() {
			parts = append(parts, ui.FooterKeyStyle.Render("x")+ui.FooterDescStyle.Render(" Cancel"))
		} else {
			if m.memoID != "" {
				parts = append(parts, ui.FooterKeyStyle.Render("t")+ui.FooterDescStyle.Render(" Transcribe"))
			}
			parts = append(parts, ui.FooterKeyStyle.Render("r")+ui.FooterDescStyle.Render(" Reset"))
		}
		parts = append(parts, ui.FooterKeyStyle.Render("↑↓")+ui.FooterDescStyle.Render(" Scroll"))
	}

	parts = append(parts, ui.FooterKeyStyle.Render("q")+ui.FooterDescStyle.Render(" Quit"))

	return strings.Join(parts, "  ")
}

// Helpers

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	mm := int(d%time.Hour) / int(time.Minute)
	ss := int(d%time.Minute) / int(time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, mm, ss)
	}
	return fmt.Sprintf("%d:%02d", mm, ss)
}

func padRight(s string, width int) string {
	// Get visible length (ignoring ANSI codes)
	visible := lipgloss.Width(s)
	if visible >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visible)
}

func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}

	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		var current string
		for _, word := range strings.Fields(paragraph) {
			if current == "" {
				current = word
			} else if len(current)+1+len(word) <= width {
				current += " " + word
			} else {
				lines = append(lines, current)
				current = word
			}
		}
		if current != "" {
			lines = append(lines, current)
		} else {
			lines = append(lines, "")
		}
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}
