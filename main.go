package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pharmadeal/internal/api"
	"pharmadeal/internal/commands"
	"pharmadeal/internal/config"
	"pharmadeal/internal/models"
	"pharmadeal/internal/session"
	"pharmadeal/internal/socket"
	"pharmadeal/internal/storage"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, setIdentity string) error {
	cfg, err := config.Load(setIdentity != "")
	if err != nil {
		return err
	}

	if setIdentity != "" {
		return commands.SetIdentity(setIdentity, cfg)
	}

	store, err := storage.NewStore(cfg.StateFile)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	apiClient := api.NewClient(ctx, cfg.APIBaseURL, cfg.HTTPTimeout)

	manager := socket.NewManager(cfg.SocketURL, store)
	conn, err := manager.Get(ctx, cfg.UserID)
	if err != nil {
		return err
	}

	sess := session.NewStore(conn, store, conn.UserID())
	if err := sess.Bind(); err != nil {
		return err
	}

	// Drug alerts arrive on the same connection as chat traffic;
	// record and log them.
	conn.On(models.EventDrugAlert, func(data json.RawMessage) {
		var alert models.DrugAlert
		if err := json.Unmarshal(data, &alert); err != nil {
			log.Printf("bad drug-alert payload: %v", err)
			return
		}
		alert.ReceivedAt = time.Now().UnixMilli()
		if err := store.AppendDrugAlert(alert); err != nil {
			log.Printf("failed to record drug alert: %v", err)
		}
		log.Printf("Drug alert: %s - %s", alert.DrugName, alert.Message)
	})

	if remaining, err := apiClient.RemainingDeals(ctx); err != nil {
		log.Printf("Could not fetch remaining deals: %v", err)
	} else {
		log.Printf("Remaining deals: %d", remaining)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-conn.Done():
			if gCtx.Err() != nil {
				return nil
			}
			return errors.New("connection to chat server lost")
		case <-gCtx.Done():
			return nil
		}
	})

	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down...")

		if err := sess.LeaveActive(); err != nil && !errors.Is(err, models.ErrNotConnected) {
			log.Printf("Failed to leave active room: %v", err)
		}
		sess.Unbind()
		manager.Disconnect()
		return nil
	})

	return g.Wait()
}

func main() {
	setIdentity := flag.String("set-identity", "", "Persist the local user ID used to authenticate the socket connection, then exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *setIdentity); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
