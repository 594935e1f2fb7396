// Command bot is a scripted peer for exercising a running relay by hand: it
// sends a few messages, echoes whatever it receives, then exits.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bit2swaz/chatrelay/internal/relay"
	"github.com/bit2swaz/chatrelay/internal/settings"
	"github.com/bit2swaz/chatrelay/internal/store"
	"go.uber.org/multierr"
)

func main() {
	port := flag.Int("port", 9002, "UDP port for the bot")
	target := flag.String("target", "127.0.0.1:9000", "Relay to talk to")
	room := flag.String("room", "general", "Chatroom")
	nick := flag.String("nick", "TestBot", "Sender name")
	stay := flag.Duration("stay", 10*time.Second, "How long to stay online echoing replies")
	flag.Parse()

	if err := run(*port, *target, *room, *nick, *stay); err != nil {
		log.Fatal(err)
	}
}

func run(port int, target, room, nick string, stay time.Duration) (err error) {
	dir, err := os.MkdirTemp("", "chatrelay-bot")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	st, err := store.Init(filepath.Join(dir, "bot.db"))
	if err != nil {
		return fmt.Errorf("failed to init DB: %w", err)
	}
	defer func() { err = multierr.Append(err, st.Close()) }()

	id, err := settings.LoadOrCreate(filepath.Join(dir, "settings.json"))
	if err != nil {
		return err
	}
	if err := id.SetSenderName(nick); err != nil {
		return err
	}

	rl := relay.New(st, id, relay.Options{Port: port})
	if err := rl.Start(); err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}
	defer func() { err = multierr.Append(err, rl.Stop()) }()
	incoming := rl.Subscribe(16)

	fmt.Printf("Bot %q listening on %s\n", nick, rl.Addr())
	script := []string{
		"Hello! I am a bot.",
		"Reply to me and I will echo you.",
		"/uplink bot check-in",
	}
	for _, text := range script {
		done, err := rl.Send(target, room, text, time.Now(), 0, 0)
		if err != nil {
			return err
		}
		res := <-done
		fmt.Printf("-> %q: %s\n", text, res.Status)
		if res.Err != nil {
			fmt.Printf("   %v\n", res.Err)
		}
	}

	fmt.Printf("Staying online for %s...\n", stay)
	deadline := time.After(stay)
	for {
		select {
		case <-deadline:
			fmt.Println("Bot shutting down.")
			return nil
		case msg, ok := <-incoming:
			if !ok {
				return nil
			}
			if msg.Sender == nick || strings.HasPrefix(msg.Text, "echo: ") {
				continue
			}
			fmt.Printf("<- %s #%s: %s\n", msg.Sender, msg.Chatroom, msg.Text)
			if _, err := rl.Send(target, msg.Chatroom, "echo: "+msg.Text, time.Now(), 0, 0); err != nil {
				return err
			}
		}
	}
}
