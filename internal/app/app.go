package app

import (
	"errors"
	"fmt"
	"log/slog"

	"threathunt/internal/config"
	"threathunt/internal/hunt"
	"threathunt/internal/notify"
	"threathunt/internal/record"
	"threathunt/internal/siem"
	"threathunt/internal/store"
	"threathunt/internal/threat"
)

// App is a fully wired hunt pipeline plus the resources it owns.
type App struct {
	Pipeline *hunt.Pipeline
	Recorder *record.Recorder
	Ledger   *store.Ledger
	closers  []func() error
}

// Build wires every component named by cfg.
func Build(cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	recorder, err := record.NewRecorder(cfg.OutputDir, logger)
	if err != nil {
		return nil, err
	}
	a.Recorder = recorder

	reports, err := record.NewReportWriter(cfg.ReportDir, logger)
	if err != nil {
		return nil, err
	}

	ledger, err := store.Open(cfg.LedgerPath)
	if err != nil {
		return nil, err
	}
	a.Ledger = ledger
	a.closers = append(a.closers, ledger.Close)

	conn, err := siem.New(cfg.SIEMKind, siem.Options{Target: cfg.Target(), Insecure: cfg.SIEMInsecure}, logger)
	if err != nil {
		return nil, err
	}
	if c, isCloser := conn.(interface{ Close() error }); isCloser {
		a.closers = append(a.closers, c.Close)
	}

	deps := hunt.Deps{
		Source: threat.NewMISPClient(threat.MISPConfig{
			URL:       cfg.MISPURL,
			Key:       cfg.MISPKey,
			VerifyTLS: cfg.MISPVerifyTLS,
		}, logger),
		Connector: conn,
		Recorder:  recorder,
		Reports:   reports,
		Ledger:    ledger,
		Logger:    logger,
	}

	if cfg.NATSURL != "" {
		nc, err := notify.Connect(cfg.NATSURL, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { return nc.Drain() })
		deps.Notifier = notify.NewHitNotifier(nc, cfg.NATSSubject, logger)
	}

	opts := hunt.DefaultOptions()
	opts.Workers = cfg.Workers
	opts.Timeout = cfg.QueryTimeout
	opts.Retries = cfg.QueryRetries

	a.Pipeline = hunt.NewPipeline(hunt.Settings{
		Kinds:        cfg.Kinds(),
		LookbackDays: cfg.EventDaysBack,
		SearchDays:   cfg.SearchDays,
		Credentials: siem.Credentials{
			Host:     cfg.SIEMHost,
			Username: cfg.SIEMUser,
			Secret:   cfg.SIEMPass,
		},
	}, opts, deps)

	ok = true
	return a, nil
}

// Close releases resources in reverse acquisition order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("close: %w", errors.Join(errs...))
	}
	return nil
}
