package main

import (
	"log"
	"os"

	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/attendance"
	"github.com/trezcool/presence/core/qrproof"
	"github.com/trezcool/presence/core/verification"
	logsvc "github.com/trezcool/presence/services/logger"
	"github.com/trezcool/presence/storage"
)

var logger *log.Logger

func main() {
	defer os.Exit(0)

	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	conf := core.NewConfig()
	svcLogger := logsvc.NewRollbarLogger(logger, conf)

	// set up storage
	stores, err := storage.Open(conf, svcLogger)
	errAndDie(err)
	defer stores.Close()

	// set up services
	translator := core.NewTranslator()
	validate := core.NewValidator(translator)
	verification.RegisterValidators(validate, translator)

	signer, err := qrproof.NewSigner(conf.SecretKey, conf.QR.TTL)
	errAndDie(err)
	qrSvc, err := qrproof.NewService(signer, stores.Tokens, stores.Ledger, stores.Broker, svcLogger)
	errAndDie(err)
	// rotation only lives as long as this process; the API re-mints on refresh
	rotator := qrproof.NewRotator(qrSvc, svcLogger)
	defer rotator.StopAll()

	svc, err := attendance.NewService(attendance.ServiceDeps{
		Sessions: stores.Sessions,
		Recorder: stores.Recorder,
		QR:       qrSvc,
		Rotator:  rotator,
		Pub:      stores.Broker,
		Validate: validate,
		Conf:     conf,
		Logger:   svcLogger,
	})
	errAndDie(err)

	// start CLI
	cli := commandLine{
		conf:   conf,
		db:     stores.DB,
		svc:    svc,
		ledger: stores.Ledger,
		out:    os.Stdout,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
