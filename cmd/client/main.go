package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/JokerTrickster/unity-dice-sub000/internal/config"
	"github.com/JokerTrickster/unity-dice-sub000/internal/domain"
	"github.com/JokerTrickster/unity-dice-sub000/internal/logger"
	"github.com/JokerTrickster/unity-dice-sub000/internal/protocol"
	"github.com/JokerTrickster/unity-dice-sub000/internal/repository/kvstore"
	"github.com/JokerTrickster/unity-dice-sub000/internal/repository/postgres"
	"github.com/JokerTrickster/unity-dice-sub000/internal/repository/redis"
	"github.com/JokerTrickster/unity-dice-sub000/internal/service/matching"
	"github.com/JokerTrickster/unity-dice-sub000/internal/transport/websocket"
)

func main() {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../.env"); err != nil {
			log.Println("No .env file found")
		}
	}

	// 1. Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// 2. Logging
	if err := logger.Init(cfg.Log); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()
	zl := logger.L()

	// 3. Durable store
	store, closeStore, err := buildStore(cfg)
	if err != nil {
		zl.Fatal("failed to initialize store", zap.Error(err))
	}
	defer closeStore()

	// 4. State machine + transport facade + matching client
	states := matching.NewStateManager(matching.StateConfig{
		StateTimeouts: map[domain.MatchingState]time.Duration{
			domain.MatchingSearching: cfg.SearchTimeout,
		},
		WarningWindow: cfg.WarningWindow,
	}, matching.StateCallbacks{
		OnStateChanged: func(from, to domain.MatchingState, reason string) {
			fmt.Printf(">> state %s -> %s (%s)\n", from, to, reason)
		},
		OnTransitionFailed: func(from, to domain.MatchingState, reason string) {
			fmt.Printf(">> illegal transition %s -> %s (%s)\n", from, to, reason)
		},
		OnStateTimeout: func(state domain.MatchingState) {
			fmt.Printf(">> search timed out in state %s\n", state)
		},
	}, store, zl)
	defer states.Close()

	var matchClient *matching.Client

	wsClient := websocket.NewClient(&websocket.Config{
		ServerURL:            cfg.ServerURL,
		HandshakeTimeout:     cfg.HandshakeTimeout,
		WriteTimeout:         cfg.WriteTimeout,
		PongWait:             cfg.PongWait,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectSchedule:    cfg.ReconnectSchedule,
		SendRetryLimit:       cfg.SendRetryLimit,
	}, websocket.Events{
		OnConnectionChanged: func(connected bool) {
			fmt.Printf(">> connected=%v\n", connected)
		},
		OnMessageReceived: func(text string) {
			if matchClient != nil {
				matchClient.HandleInbound(text)
			}
		},
		OnError: func(text string) {
			fmt.Printf(">> transport error: %s\n", text)
		},
		OnReconnectProgress: func(attempt, max int) {
			fmt.Printf(">> reconnecting %d/%d\n", attempt, max)
		},
		OnMaxAttemptsReached: func(attempts int) {
			fmt.Printf(">> gave up after %d reconnect attempts\n", attempts)
		},
	}, zl)
	defer wsClient.Dispose()

	if token := os.Getenv("AUTH_TOKEN"); token != "" {
		wsClient.SetAuthToken(token)
	}

	snapshots := matching.NewSnapshots(store, 10*time.Minute, zl)

	matchClient = matching.NewClient(matching.Config{
		RequestTimeout: cfg.RequestTimeout,
		WarningWindow:  cfg.WarningWindow,
	}, wsClient, states, matching.Callbacks{
		OnMatchingResponse: func(resp *domain.MatchingResponse) {
			fmt.Printf(">> match response: success=%v room=%s players=%d\n",
				resp.Success, resp.RoomID, len(resp.Players))
		},
		OnMatchingCancelled: func(playerID string) {
			fmt.Printf(">> matching cancelled for %s\n", playerID)
		},
		OnQueueStatus: func(status matching.QueueStatus) {
			fmt.Printf(">> queue position %d of %d (eta %ds)\n",
				status.Position, status.PlayersInQueue, status.EstimatedWait)
		},
		OnNetworkError: func(code, message string) {
			fmt.Printf(">> network error %s: %s\n", code, message)
		},
		OnProtocolError: func(reply *protocol.Envelope) {
			// Send the synthesized protocol_error back to the server.
			if text, err := protocol.SerializeMessage(reply); err == nil {
				wsClient.SendMessage(text, domain.PriorityHigh)
			}
		},
		OnRequestTimeout: func(requestID, playerID string) {
			fmt.Printf(">> request %s timed out\n", requestID)
		},
		OnRequestWarning: func(requestID, playerID string, remaining time.Duration) {
			fmt.Printf(">> request %s expires in %s\n", requestID, remaining.Round(time.Second))
		},
	}, zl)
	defer matchClient.Close()

	playerID := config.GetEnv("PLAYER_ID", "player-local")
	if id := wsClient.TokenPlayerID(); id != "" {
		playerID = id
	}

	go runPrompt(matchClient, wsClient, snapshots, playerID)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	fmt.Println("shutting down...")
}

func buildStore(cfg *config.Config) (kvstore.Store, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch cfg.StoreBackend {
	case "redis":
		s, err := redis.NewStore(ctx, cfg.RedisURL, cfg.RedisPassword)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "postgres":
		s, err := postgres.NewStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return kvstore.NewMemoryStore(), func() {}, nil
	}
}

// runPrompt is a minimal interactive loop for exercising the client by hand.
func runPrompt(mc *matching.Client, ws *websocket.Client, snaps *matching.Snapshots, playerID string) {
	fmt.Println("commands: connect | join <mode> <players> | room <code> | create <mode> <players> | cancel | status | snapshot | quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "connect":
			go ws.ConnectAsync(context.Background())
		case "join":
			mode, count := "classic", 2
			if len(fields) > 1 {
				mode = fields[1]
			}
			if len(fields) > 2 {
				count, _ = strconv.Atoi(fields[2])
			}
			mc.SubmitJoinQueue(playerID, count, mode, 0)
		case "create":
			mode, count := "classic", 2
			if len(fields) > 1 {
				mode = fields[1]
			}
			if len(fields) > 2 {
				count, _ = strconv.Atoi(fields[2])
			}
			mc.SubmitRoomCreate(playerID, count, mode, 0)
		case "room":
			if len(fields) > 1 {
				mc.SubmitRoomJoin(playerID, fields[1])
			}
		case "cancel":
			mc.SubmitCancel(playerID)
		case "status":
			fmt.Printf("conn=%s matching=%s queued=%d\n",
				ws.CurrentState(), mc.States().CurrentState(), ws.QueuedCount())
		case "snapshot":
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := snaps.Save(ctx, playerID, mc.States()); err != nil {
				fmt.Printf("snapshot failed: %v\n", err)
			}
			cancel()
		case "quit":
			syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
			return
		}
	}
}
