package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"caseflow/internal/livesync"
	"caseflow/internal/notify"
	"caseflow/internal/store"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

func newWatchCommand(root *rootOptions) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow live case changes as a signed-in actor",
		Long:  `Open a sync session against the backend and print every case change
as it lands in the local store. Connectivity of each sync group is printed
whenever it changes; new notifications are raised as alerts when the actor
has them enabled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, root, interval)
		},
	}

	cmd.Flags().DurationVar(&interval, "status-interval", 2*time.Second, "how often to check group states")

	return cmd
}

func runWatch(cmd *cobra.Command, root *rootOptions, interval time.Duration) error {
	ctx := cmd.Context()
	env, err := newClientEnv(ctx, root)
	if err != nil {
		return err
	}

	sub := env.store.Subscribe(64)
	defer sub.Close()

	engine := livesync.NewEngine(root.cfg.Sync, env.store, env.client, env.client, root.log)
	engine.SetReference(env.refs)

	relay := notify.NewRelay(env.client, env.session, notify.NewLogAlerter(root.log), root.log)

	session, err := engine.Start(ctx, env.session.Actor(), relay.GroupConfig(root.cfg.Sync))
	if err != nil {
		return err
	}
	defer session.Close()

	out := cmd.OutOrStdout()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last string
	for {
		select {
		case <-ctx.Done():
			return nil
		case ch, ok := <-sub.C:
			if !ok {
				return nil
			}
			printChange(out, env.store, ch)
		case <-ticker.C:
			states := session.States()
			if s := formatStates(states); s != last {
				fmt.Fprintf(out, "%s %s (unread %d)\n", syncStyle(states).Render("sync:"), s, relay.Unread())
				last = s
			}
		}
	}
}

func printChange(w io.Writer, st *store.Store, ch store.Change) {
	switch ch.Kind {
	case store.ChangeRemove:
		fmt.Fprintf(w, "%s %s\n", ch.Kind, ch.CaseID)
	case store.ChangeRekey:
		fmt.Fprintf(w, "%s %s -> %s\n", ch.Kind, ch.OldID, ch.CaseID)
	default:
		c, ok := st.Get(ch.CaseID)
		if !ok {
			return
		}
		dept := "-"
		if d, ok := c.CurrentDepartment(); ok {
			dept = d.String()
		}
		fmt.Fprintf(w, "%s %s %q status=%s dept=%s progress=%d%%\n",
			ch.Kind, c.ID, c.Title, c.Status, dept, c.Progress)
	}
}

func formatStates(states map[string]livesync.State) string {
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + "=" + string(states[name])
	}
	return strings.Join(parts, " ")
}

var (
	styleConnected = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#27AE60"))
	styleDegraded  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F2994A"))
	styleOffline   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#AAAAAA"))
)

// syncStyle colors the status prefix by the worst group state
func syncStyle(states map[string]livesync.State) lipgloss.Style {
	style := styleConnected
	for _, st := range states {
		switch st {
		case livesync.StateDegraded:
			return styleDegraded
		case livesync.StateConnecting, livesync.StateDisabled:
			style = styleOffline
		}
	}
	return style
}
