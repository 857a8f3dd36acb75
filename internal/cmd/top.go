package cmd

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/bahusvel/faastr-go/internal/kcontext"
	"github.com/bahusvel/faastr-go/internal/tui"
)

// kernelSnapshot adapts a Kernel's context list to tui.Snapshotter, keeping
// internal/tui free of any dependency on the kernel packages it displays.
type kernelSnapshot struct {
	list *kcontext.List
}

func (s kernelSnapshot) Snapshot() []tui.ContextRow {
	var rows []tui.ContextRow
	s.list.Each(func(c *kcontext.Context) {
		moduleName := "?"
		if c.Module != nil {
			moduleName = c.Module.Name()
		}
		rows = append(rows, tui.ContextRow{
			ID:       uint64(c.ID()),
			Status:   c.Status().String(),
			Module:   moduleName,
			Function: c.Function,
			CPU:      c.CPUID,
		})
	})
	return rows
}

// addTopCommand registers `faastr top`, a bubbletea dashboard over a fresh
// Kernel's context table, grounded on the teacher's root.go RunE (which
// launches tea.NewProgram with tea.WithAltScreen for its own main menu) and
// screens/mainmenu.go's model shape.
func addTopCommand(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "top",
		Short: "live dashboard of a kernel's context table",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k := NewKernel(log)
			for _, path := range args {
				if _, err := k.LoadModule(path, nil); err != nil {
					return err
				}
			}
			model := tui.NewModel(kernelSnapshot{list: k.List})
			p := tea.NewProgram(model, tea.WithAltScreen())
			_, err := p.Run()
			return err
		},
	}
	parent.AddCommand(cmd)
}
