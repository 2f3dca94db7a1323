package app

import (
	"fmt"
	"os"
	"testing"

	"github.com/jwulff/voicememo/internal/daemon"

	tea "github.com/charmbracelet/bubbletea"
)

// TestLiveTUIFlow renders the model against a running daemon's state.
// Skipped if the daemon isn't running.
func TestLiveTUIFlow(t *testing.T) {
	sockPath := daemon.SocketPath()
	if _, err := os.Stat(sockPath); os.IsNotExist(err) {
		t.Skip("daemon not running")
	}

	m := New(sockPath, "")

	// Simulate terminal size
	m, _ = applyUpdate(m, tea.WindowSizeMsg{Width: 120, Height: 40})
	view := m.View()
	if view == "Initializing..." {
		t.Error("view should render after WindowSizeMsg")
	}
	fmt.Println("=== Initial View ===")
	fmt.Println(view)

	client, err := daemon.Connect(sockPath)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()
	m, _ = applyUpdate(m, DaemonConnectedMsg{Client: client})
	if !m.connected {
		t.Fatal("expected connected")
	}

	resp, err := client.SendCommand(daemon.Command{Cmd: daemon.CmdStatus})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	m, _ = applyUpdate(m, StatusResponseMsg{Response: resp})
	fmt.Printf("Status: %q chunk %d/%d\n", m.status, m.progress.CurrentChunk, m.progress.TotalChunks)

	fmt.Println("\n=== Connected View ===")
	fmt.Println(m.View())
}

func applyUpdate(m Model, msg tea.Msg) (Model, tea.Cmd) {
	newModel, cmd := m.Update(msg)
	return newModel.(Model), cmd
}
