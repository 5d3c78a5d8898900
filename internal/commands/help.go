package commands

import (
	"html"
	"sort"
	"strings"
)

// helpText renders help in Telegram HTML parse mode.
func (m *Manager) helpText(args []string) string {
	m.mu.RLock()
	byName := m.cmds
	list := append([]Command(nil), m.list...)
	m.mu.RUnlock()

	if len(args) > 0 {
		name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(args[0]), "/"))
		c, ok := byName[name]
		if !ok {
			return "❓ <b>Unknown command</b>\nType <code>/help</code> to see the command list."
		}
		return helpCommandHTML(*c)
	}

	sort.SliceStable(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	lines := []string{
		"📚 <b>Commands</b>",
		"Type <code>/help &lt;cmd&gt;</code> for details.",
		"",
	}
	for _, c := range list {
		line := "• <code>/" + html.EscapeString(c.Name) + "</code>"
		if d := strings.TrimSpace(c.Description); d != "" {
			line += " - " + html.EscapeString(d)
		}
		lines = append(lines, line)
	}
	lines = append(lines,
		"",
		"In a private chat you can also just write <code>call mom | tomorrow 5pm</code>.",
	)
	return strings.Join(lines, "\n")
}

func helpCommandHTML(c Command) string {
	lines := []string{"📚 <b>Help</b> <code>/" + html.EscapeString(c.Name) + "</code>"}
	if d := strings.TrimSpace(c.Description); d != "" {
		lines = append(lines, html.EscapeString(d))
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		lines = append(lines, "", "<b>Usage</b>", "<code>"+html.EscapeString(u)+"</code>")
	}
	if len(c.Aliases) > 0 {
		al := append([]string(nil), c.Aliases...)
		sort.Strings(al)
		lines = append(lines, "", "<b>Shortcut</b>")
		for _, a := range al {
			lines = append(lines, "• <code>/"+html.EscapeString(a)+"</code>")
		}
	}
	return strings.Join(lines, "\n")
}
