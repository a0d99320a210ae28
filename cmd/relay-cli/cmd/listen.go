package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aranyaone/relay/internal/client"
	"github.com/aranyaone/relay/internal/protocol"
)

var (
	listenURL   string
	listenToken string
	listenRoom  string
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Connect to a hub and stream messages",
	Long: `Connect to a hub with the resilient client transport, join a room, and
print every envelope received. Lines typed on stdin are published to the room
as chat messages. The transport reconnects automatically if the hub drops the
connection.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		transport := client.New(client.Options{
			URL:        listenURL,
			Credential: listenToken,
		})

		printer := func(env protocol.Envelope) {
			fmt.Printf("<- %s %s\n", env.Type, string(env.Data))
		}
		for _, msgType := range []protocol.MessageType{
			protocol.TypeConnected,
			protocol.TypeJoinedRoom,
			protocol.TypeLeftRoom,
			protocol.TypeChatMessage,
			protocol.TypeDashboardData,
			protocol.TypeDashboardUpdate,
			protocol.TypeAnalyticsAlert,
			protocol.TypePong,
			protocol.TypeError,
			client.EventDisconnected,
			client.EventMaxReconnectAttempts,
		} {
			transport.Subscribe(msgType, printer)
		}

		if err := transport.Connect(context.Background()); err != nil {
			return err
		}
		defer transport.Close()

		if listenRoom != "" {
			if err := transport.Publish(protocol.TypeJoinRoom, protocol.RoomRequest{Room: listenRoom}); err != nil {
				return err
			}
		}

		// Publish stdin lines as chat until EOF or interrupt.
		lines := make(chan string)
		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
			close(lines)
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

		for {
			select {
			case <-quit:
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if listenRoom == "" || line == "" {
					continue
				}
				if err := transport.Publish(protocol.TypeChatMessage, protocol.ChatRequest{
					Room: listenRoom,
					Text: line,
				}); err != nil {
					fmt.Fprintln(os.Stderr, "publish:", err)
				}
			}
		}
	},
}

func init() {
	listenCmd.Flags().StringVar(&listenURL, "url", "ws://localhost:8080/ws", "hub WebSocket URL")
	listenCmd.Flags().StringVar(&listenToken, "token", "", "bearer token (required)")
	listenCmd.Flags().StringVar(&listenRoom, "room", "", "room to join and chat in")
	listenCmd.MarkFlagRequired("token")
	rootCmd.AddCommand(listenCmd)
}
