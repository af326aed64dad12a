package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"remansim/internal/protocol"
	"remansim/internal/sim/catalogs"
	"remansim/internal/sim/runner"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		url   string
		every int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a served run over websocket",
		Long: `Connects to "remansim serve", prints one line per received day and the
final report, then exits. With --json every message is printed as received.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			if err != nil {
				return fmt.Errorf("dial %s: %w", url, err)
			}
			defer conn.Close()
			go func() {
				<-ctx.Done()
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
				_ = conn.Close()
			}()

			if err := conn.WriteJSON(protocol.SubscribeMsg{
				Type:            protocol.TypeSubscribe,
				ProtocolVersion: protocol.Version,
				EveryDays:       every,
			}); err != nil {
				return err
			}
			return a.follow(cmd.OutOrStdout(), conn)
		},
	}
	cmd.Flags().StringVar(&url, "url", "ws://127.0.0.1:8080/v1/ws", "observer websocket URL")
	cmd.Flags().IntVar(&every, "every", 1, "receive one day in N")
	return cmd
}

// follow prints stream messages until REPORT arrives or the server closes.
func (a *app) follow(out io.Writer, conn *websocket.Conn) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if a.jsonOut {
			fmt.Fprintln(out, string(msg))
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			return fmt.Errorf("bad message: %w", err)
		}

		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				return err
			}
			if !a.jsonOut {
				fmt.Fprintf(out, "session %s run %s scenario=%s horizon=%d population=%d reman=%t\n",
					w.SessionID, w.Run.RunID, w.Run.Scenario, w.Run.Horizon, w.Run.Population, w.Run.Reman)
			}
		case protocol.TypeTick:
			if a.jsonOut {
				continue
			}
			var t protocol.TickMsg
			if err := json.Unmarshal(msg, &t); err != nil {
				return err
			}
			c := t.Snapshot.Customers
			fmt.Fprintf(out, "day %5d  potential=%d wants_any=%d", t.Day, c.PotentialUsers, c.WantsAny)
			for _, p := range catalogs.All {
				fmt.Fprintf(out, " uses_%s=%d stock_%s=%.1f", p, c.Uses[p], p, t.Snapshot.FactoryStock[p])
			}
			fmt.Fprintf(out, " cores=%.1f\n", t.Snapshot.CoreStock)
		case protocol.TypeReport:
			if a.jsonOut {
				return nil
			}
			var r protocol.ReportMsg
			if err := json.Unmarshal(msg, &r); err != nil {
				return err
			}
			fmt.Fprintln(out)
			printReport(out, []runner.Result{{Days: r.Days, Digest: r.Digest, Final: r.Final, Report: r.Report}})
			return nil
		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err != nil {
				return err
			}
			return fmt.Errorf("observer error %s: %s", e.Code, e.Message)
		}
	}
}
