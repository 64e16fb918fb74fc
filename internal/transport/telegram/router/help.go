package router

import (
	"sort"
	"strings"

	"lulubot/pkg/tgui"
)

// helpText renders help in HTML parse mode, for one command when args names it.
func (m *Router) helpText(args []string) string {
	if len(args) > 0 {
		c, ok := m.lookup(sanitizeCommand(args[0]))
		if !ok {
			var l tgui.Lines
			l.Add(tgui.Raw("❓ "), tgui.B("Unknown command"))
			l.Add(tgui.Raw("Type "), tgui.Code("/help"), tgui.Raw(" to list commands."))
			return l.String()
		}
		return commandHelpHTML(c)
	}

	cmds := m.commands()
	// Owner-only commands go last.
	sort.SliceStable(cmds, func(i, j int) bool {
		li, lj := cmds[i].Access == AccessOwnerOnly, cmds[j].Access == AccessOwnerOnly
		if li != lj {
			return !li
		}
		return cmds[i].Name < cmds[j].Name
	})

	var l tgui.Lines
	l.Add(tgui.Raw("📚 "), tgui.B("Commands"))
	l.Add(tgui.Raw("Type "), tgui.Code("/help <cmd>"), tgui.Raw(" for details.")).Blank()
	for _, c := range cmds {
		prefix := tgui.Raw("• ")
		if c.Access == AccessOwnerOnly {
			prefix = tgui.Raw("• 🔒 ")
		}
		line := tgui.Concat(prefix, tgui.Code("/"+c.Name))
		if d := strings.TrimSpace(c.Description); d != "" {
			line = tgui.Concat(line, tgui.Raw(" - "), tgui.Esc(d))
		}
		l.Add(line)
	}
	return l.String()
}

func commandHelpHTML(c *Command) string {
	var l tgui.Lines
	l.Add(tgui.Raw("📚 "), tgui.B("Help"), tgui.Raw(" "), tgui.Code("/"+c.Name))
	if d := strings.TrimSpace(c.Description); d != "" {
		l.Add(tgui.Esc(d))
	}
	if c.Access == AccessOwnerOnly {
		l.Add(tgui.Raw("🔒 "), tgui.I("Owner only"))
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		l.Blank().Add(tgui.B("Usage")).Add(tgui.Code(u))
	}
	if len(c.Aliases) > 0 {
		al := make([]tgui.H, 0, 2*len(c.Aliases))
		for _, a := range c.Aliases {
			al = append(al, tgui.Raw(" "), tgui.Code("/"+a))
		}
		l.Blank().Add(append([]tgui.H{tgui.B("Aliases")}, al...)...)
	}
	return l.String()
}
