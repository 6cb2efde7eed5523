package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	echoapi "github.com/trezcool/presence/apps/api/echo"
	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/attendance"
	"github.com/trezcool/presence/core/qrproof"
	"github.com/trezcool/presence/core/verification"
	logsvc "github.com/trezcool/presence/services/logger"
	"github.com/trezcool/presence/storage"
	"github.com/trezcool/presence/storage/database"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)

	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)

	// set up storage
	stores, err := storage.Open(conf, dbLogger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up %s storage: %v", conf.Storage.Engine, err), err)
	}
	defer func() {
		if err = stores.Close(); err != nil {
			dbLogger.Error("Failed to close", err)
		}
	}()
	if stores.DB != nil {
		if err = database.Migrate(stores.DB); err != nil {
			logger.Fatal(fmt.Sprintf("migrating database: %v", err), err)
		}
	}

	// set up services
	translator := core.NewTranslator()
	validate := core.NewValidator(translator)
	verification.RegisterValidators(validate, translator)

	signer, err := qrproof.NewSigner(conf.SecretKey, conf.QR.TTL)
	if err != nil {
		logger.Fatal(fmt.Sprintf("creating QR signer: %v", err), err)
	}
	qrSvc, err := qrproof.NewService(signer, stores.Tokens, stores.Ledger, stores.Broker, logger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("creating QR service: %v", err), err)
	}
	rotator := qrproof.NewRotator(qrSvc, logger)

	attendanceSvc, err := attendance.NewService(attendance.ServiceDeps{
		Sessions: stores.Sessions,
		Recorder: stores.Recorder,
		QR:       qrSvc,
		Rotator:  rotator,
		Pub:      stores.Broker,
		Validate: validate,
		Conf:     conf,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal(fmt.Sprintf("creating attendance service: %v", err), err)
	}

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q : %s", conf.Build, conf))
	defer logger.Info("Application stopped")

	server := echoapi.NewServer(echoapi.ServerDeps{
		Conf:          conf,
		Logger:        logger,
		AttendanceSvc: attendanceSvc,
		Broker:        stores.Broker,
		Validate:      validate,
		Translator:    translator,
	})

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.NewString("storage").Set(conf.Storage.Engine)

	debugSrv := &http.Server{Addr: conf.Server.DebugAddress, Handler: http.DefaultServeMux}

	var g errgroup.Group
	g.Go(func() error {
		if err := debugSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
		return nil
	})

	// =========================================================================
	// Start API Service

	g.Go(func() error {
		go server.Start()

		// =========================================================================
		// Shutdown

		select {
		case err := <-server.Errors():
			_ = debugSrv.Close()
			return errors.Wrap(err, "server error")

		case sig := <-server.ShutdownSignal():
			logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))
		}

		// stop rotating QR codes before the rooms go away
		rotator.StopAll()

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shut down and shed load
		if err := server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				return errors.Wrap(err, "could not force stop server")
			}
		}
		return debugSrv.Shutdown(ctx)
	})

	if err = g.Wait(); err != nil {
		logger.Fatal(err.Error(), err)
	}
}
