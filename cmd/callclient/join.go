package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mossy-p/roomcall/config"
	"github.com/mossy-p/roomcall/internal/coordinator"
	"github.com/mossy-p/roomcall/internal/media"
	"github.com/mossy-p/roomcall/internal/signalclient"
)

var (
	flagJoin          Options
	flagICEFromServer bool
	flagNoMedia       bool
	flagCameraOff     bool
	flagMute          bool
)

var joinCmd = &cobra.Command{
	Use:   "join [room]",
	Short: "Join a room and negotiate with its members",
	Long: `Join a room on the signaling server and negotiate a WebRTC session with
every other member. While in the call, type "camera on|off" or "mic on|off"
to toggle local media and "quit" (or Ctrl+C) to leave.

Examples:
  callclient join standup --name alice
  callclient join --room standup --server wss://signal.example.com/ws --ice-from-server`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := flagJoin
		if len(args) == 1 {
			opts.Room = args[0]
		}
		cfg, err := loadConfig(opts, os.Getenv)
		if err != nil {
			return err
		}
		return runJoin(cmd.Context(), cfg)
	},
}

func init() {
	f := joinCmd.Flags()
	f.StringVarP(&flagJoin.Server, "server", "s", "", "signaling WebSocket URL (env ROOMCALL_SERVER)")
	f.StringVarP(&flagJoin.Room, "room", "r", "", "room name or reservation code (env ROOMCALL_ROOM)")
	f.StringVarP(&flagJoin.Name, "name", "n", "", "display name (env ROOMCALL_NAME)")
	f.StringVar(&flagJoin.Token, "token", "", "JWT for servers that require auth (env ROOMCALL_TOKEN)")
	f.StringVar(&flagJoin.STUN, "stun", "", "comma-separated STUN URLs (env STUN_SERVER)")
	f.StringVar(&flagJoin.TURN, "turn", "", "comma-separated TURN URLs (env TURN_SERVER)")
	f.StringVar(&flagJoin.TURNUser, "turn-user", "", "TURN username (env TURN_USERNAME)")
	f.StringVar(&flagJoin.TURNPass, "turn-pass", "", "TURN password (env TURN_PASSWORD)")
	f.StringVar(&flagJoin.LogLevel, "log-level", "", "trace, debug, info, warn or error (env LOG_LEVEL)")
	f.BoolVar(&flagICEFromServer, "ice-from-server", false, "use the ICE servers advertised by the signaling server")
	f.BoolVar(&flagNoMedia, "no-media", false, "receive only; do not attach local tracks")
	f.BoolVar(&flagCameraOff, "camera-off", false, "join with the camera disabled")
	f.BoolVar(&flagMute, "mute", false, "join with the microphone muted")

	rootCmd.AddCommand(joinCmd)
}

func runJoin(parent context.Context, cfg *clientConfig) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	loggerFactory, err := config.NewLoggerFactory(cfg.LogLevel)
	if err != nil {
		return err
	}

	ice := cfg.ICE
	if flagICEFromServer {
		if ice, err = fetchICE(ctx, cfg.Server); err != nil {
			return err
		}
	}

	client, err := signalclient.Dial(ctx, cfg.Server, signalclient.Options{
		Token:         cfg.Token,
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	engine, err := media.NewEngine(media.Options{
		ICEServers:    ice.Servers,
		LoggerFactory: loggerFactory,
		StreamID:      cfg.Name,
	})
	if err != nil {
		return err
	}

	status := newStatusPrinter(os.Stdout)
	coord := coordinator.New(coordinator.Options{
		Engine:        engine,
		Signaler:      client,
		LoggerFactory: loggerFactory,
		OnChange:      status.update,
	})

	runCtx, cancelRun := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = coord.Run(runCtx)
	}()
	defer func() {
		cancelRun()
		<-runDone
	}()

	if !flagNoMedia {
		coord.SetCameraEnabled(!flagCameraOff)
		coord.SetMicEnabled(!flagMute)
		coord.StartLocalMedia()
	}
	coord.Join(cfg.Room, cfg.Name)
	fmt.Printf("Joining %s as %s via %s\n", cfg.Room, cfg.Name, cfg.Server)

	quit := make(chan struct{})
	if !flagNoMedia {
		fmt.Println(commandHelp)
	}
	go readCommands(os.Stdin, os.Stdout, coord, quit)

	for {
		select {
		case env, ok := <-client.Incoming():
			if !ok {
				coord.TransportClosed()
				status.waitLeft(2 * time.Second)
				return fmt.Errorf("signaling connection closed")
			}
			coord.HandleMessage(env)

		case <-ctx.Done():
			fmt.Println("\nLeaving...")
			coord.Leave()
			status.waitLeft(2 * time.Second)
			return nil

		case <-quit:
			fmt.Println("Leaving...")
			coord.Leave()
			status.waitLeft(2 * time.Second)
			return nil
		}
	}
}
