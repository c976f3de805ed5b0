package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dkeye/Beam/internal/host"
)

// ViewerTable renders the host's viewer sessions.
func ViewerTable(sessions []host.SessionInfo, now time.Time) string {
	if len(sessions) == 0 {
		return MutedStyle.Render("No viewers")
	}
	rows := make([][]string, 0, len(sessions))
	for i, s := range sessions {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			string(s.ID),
			s.State.String(),
			now.Sub(s.Since).Truncate(time.Second).String(),
			fmt.Sprintf("%d", s.Keyframes),
		})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("#", "Viewer", "State", "For", "Keyframes").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		}).
		Render()
}

// RoomBox shows the room code a host shares with its viewers.
func RoomBox(code, relay string) string {
	box := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(Success).
		Padding(1, 2)
	content := fmt.Sprintf("%s Broadcasting\n\n%s Room:   %s\n%s Relay:  %s\n\nViewers join with: beam join %s",
		IconScreen,
		IconRoom, BoldStyle.Foreground(Primary).Render(code),
		IconWeb, MutedStyle.Render(relay),
		code,
	)
	return box.Render(content)
}
