package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/bit2swaz/chatrelay/internal/relay"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var (
	sendTimeout  time.Duration
	historyLimit int
)

var sendCmd = &cobra.Command{
	Use:   "send <host[:port]> <chatroom> <text...>",
	Short: "Send one message and wait for its completion",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		dest, room := args[0], args[1]
		text := strings.Join(args[2:], " ")

		st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, st.Close()) }()

		id, err := openSettings()
		if err != nil {
			return err
		}

		// Bind an ephemeral port so a running instance keeps its own.
		rl := relay.New(st, id, relay.Options{DefaultPort: cfg.Port})
		if err := rl.Start(); err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, rl.Stop()) }()

		done, err := rl.Send(dest, room, text, time.Now(), cfg.Latitude, cfg.Longitude)
		if err != nil {
			return err
		}
		select {
		case res := <-done:
			if res.Status != relay.Delivered {
				return fmt.Errorf("message not delivered: %w", res.Err)
			}
			fmt.Printf("delivered to %s #%s as %s\n", dest, room, res.Message.Sender)
			return nil
		case <-time.After(sendTimeout):
			return fmt.Errorf("timed out after %s waiting for completion", sendTimeout)
		}
	},
}

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List known peers, most recently seen first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, st.Close()) }()

		peers, err := st.Peers()
		if err != nil {
			return err
		}
		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("NAME", "LAT", "LON", "LAST SEEN")
		for _, p := range peers {
			t.Row(p.Name,
				fmt.Sprintf("%.4f", p.Latitude),
				fmt.Sprintf("%.4f", p.Longitude),
				p.LastSeen.Local().Format(time.DateTime))
		}
		fmt.Fprintln(cmd.OutOrStdout(), t.Render())
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <chatroom>",
	Short: "Print the most recent messages of a chatroom",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, st.Close()) }()

		msgs, err := st.MessagesInRoom(args[0], historyLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, m := range msgs {
			fmt.Fprintf(out, "[%s] %s: %s\n", m.Timestamp.Local().Format(time.DateTime), m.Sender, m.Text)
		}
		if len(msgs) == 0 {
			fmt.Fprintf(out, "No messages in #%s.\n", args[0])
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVarP(&cfg.Nick, "nick", "n", cfg.Nick, "Sender name (persisted)")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 10*time.Second, "How long to wait for completion")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 50, "Number of messages to show")
}
