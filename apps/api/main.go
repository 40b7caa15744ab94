package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	echoapi "github.com/trezcool/chessclub/apps/api/echo"
	"github.com/trezcool/chessclub/core"
	"github.com/trezcool/chessclub/core/club"
	"github.com/trezcool/chessclub/core/user"
	emailsvc "github.com/trezcool/chessclub/services/email"
	"github.com/trezcool/chessclub/services/faceid"
	logsvc "github.com/trezcool/chessclub/services/logger"
	"github.com/trezcool/chessclub/services/telegram"
	"github.com/trezcool/chessclub/storage/kvstore"
	"github.com/trezcool/chessclub/storage/replica"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	var logger core.Logger
	std := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	if conf.RollbarToken != "" {
		logger = logsvc.NewRollbarLogger(std, conf)
	} else {
		logger = core.NewStdLogger(std)
	}

	// set up the local store
	if err := os.MkdirAll(conf.DataDir, 0o755); err != nil {
		logger.Fatal(fmt.Sprintf("creating data dir: %v", err), err)
	}
	store, err := kvstore.Open(filepath.Join(conf.DataDir, "crm.json"), logger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening store: %v", err), err)
	}

	// seed the initial accounts before replication attaches so the seed write
	// stays local; a remote snapshot then overwrites it instead of the seeds
	// clobbering the shared accounts partition
	usrSvc := user.NewService(store)
	if err = usrSvc.EnsureSeed(); err != nil {
		logger.Fatal(fmt.Sprintf("seeding accounts: %v", err), err)
	}

	// set up cloud replication when a remote database is configured
	var replicator *replica.Replicator
	if conf.Database.Enabled() {
		remote, err := replica.OpenPG(conf, logger)
		if err != nil {
			logger.Fatal(fmt.Sprintf("connecting to sync database: %v", err), err)
		}
		defer func() {
			if err = remote.Close(); err != nil {
				logger.Error("closing sync database", err)
			}
		}()

		replicator = replica.NewReplicator(store, remote, logger)
		replicator.Start()
		defer replicator.Stop()
	} else {
		logger.Info("no sync database configured; running local-only")
	}

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	repo := club.NewRepository(store)
	clubSvc := club.NewService(repo, mailSvc, conf)
	billing := club.NewBillingEngine(repo)
	ratings := club.NewAggregator(repo)

	var tgSvc *telegram.Service
	var notifier club.Notifier
	if conf.Telegram.BotToken != "" {
		tgSvc = telegram.NewService(conf, repo, logger)
		notifier = tgSvc
	}
	attendance := club.NewAttendanceEngine(repo, notifier)

	faceSvc := faceid.NewService(conf, logger)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	// bot long-polling
	botCtx, stopBot := context.WithCancel(context.Background())
	defer stopBot()
	if tgSvc != nil {
		go tgSvc.StartPolling(botCtx)
	}

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:       conf,
			Logger:     logger,
			UserSvc:    usrSvc,
			ClubSvc:    clubSvc,
			Repo:       repo,
			Attendance: attendance,
			Billing:    billing,
			Ratings:    ratings,
			Telegram:   tgSvc,
			FaceID:     faceSvc,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))
		stopBot()

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}
