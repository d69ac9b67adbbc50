// Package main запускает контроллер вендингового автомата.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/vending-controller/internal/backend"
	"github.com/mmeshcher/vending-controller/internal/bus"
	"github.com/mmeshcher/vending-controller/internal/config"
	"github.com/mmeshcher/vending-controller/internal/handler"
	"github.com/mmeshcher/vending-controller/internal/netstate"
	"github.com/mmeshcher/vending-controller/internal/nfc"
	"github.com/mmeshcher/vending-controller/internal/orchestrator"
	"github.com/mmeshcher/vending-controller/internal/order"
	"github.com/mmeshcher/vending-controller/internal/qr"
	"github.com/mmeshcher/vending-controller/internal/supervision"
	"github.com/mmeshcher/vending-controller/internal/uartlink"
)

func openSerial(device string, baud int) (io.ReadWriteCloser, error) {
	port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	return port, nil
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	if cfg.MechanismDevice == "" {
		sugar.Fatalw("mechanism serial device is required (-s or MECHANISM_DEVICE)")
	}

	machineID := supervision.DeriveMachineID(cfg.MachineID)
	sugar.Infow("starting vending controller", "machine_id", machineID)

	monitor := netstate.NewMonitor(cfg.APIBaseURL, logger)
	reporter := supervision.NewReporter(cfg.SupervisionURL(), machineID, monitor.Ready, logger)

	eventBus := bus.New(bus.DefaultCapacity)
	store := order.NewStore()
	backendClient := backend.NewClient(cfg.HTTPTimeout, monitor.Ready, logger)

	mechPort, err := openSerial(cfg.MechanismDevice, cfg.MechanismBaud)
	if err != nil {
		sugar.Fatalw("mechanism serial error", "error", err.Error())
	}
	defer mechPort.Close()

	link := uartlink.New(mechPort, eventBus, monitor.Ready, logger)

	var nfcService *nfc.Service
	var nfcReader *nfc.LineReader
	var nfcPort io.ReadWriteCloser
	if cfg.NFCDevice != "" {
		nfcPort, err = openSerial(cfg.NFCDevice, cfg.NFCBaud)
		if err != nil {
			sugar.Fatalw("card reader serial error", "error", err.Error())
		}
		defer nfcPort.Close()
		nfcReader = nfc.NewLineReader(nfcPort, logger)
		nfcService = nfc.NewService(nfcReader, eventBus, cfg.ScanWindow, logger)
	} else {
		sugar.Warnw("card reader device not configured, scan triggers disabled")
	}

	var qrService *qr.Service
	var qrPort io.ReadWriteCloser
	if cfg.ScannerDevice != "" {
		qrPort, err = openSerial(cfg.ScannerDevice, cfg.ScannerBaud)
		if err != nil {
			sugar.Fatalw("qr scanner serial error", "error", err.Error())
		}
		defer qrPort.Close()
		qrService = qr.NewService(qrPort, eventBus, logger)
	} else {
		sugar.Warnw("qr scanner device not configured")
	}

	orchCfg := orchestrator.Config{
		Bus:          eventBus,
		Backend:      backendClient,
		Store:        store,
		Mechanism:    link,
		NetworkReady: monitor.Ready,
		Supervisor:   reporter,
		Endpoints: orchestrator.Endpoints{
			ValidateToken:    cfg.ValidateTokenURL(),
			UpdateQuantities: cfg.UpdateQuantitiesURL(),
			ConfirmDelivery:  cfg.ConfirmDeliveryURL(),
		},
		StateTimeout: cfg.StateTimeout,
		Logger:       logger,
	}
	if nfcService != nil {
		orchCfg.Scanner = nfcService
	}
	orch := orchestrator.New(orchCfg)

	var scanTrigger handler.ScanTrigger
	if nfcService != nil {
		scanTrigger = nfcService
	}
	h := handler.NewHandler(orch, store, scanTrigger, monitor.Ready, machineID, logger)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: h.SetupRouter(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Ожидание сети и её дальнейший мониторинг
	g.Go(func() error {
		if err := monitor.WaitReady(ctx); err != nil && ctx.Err() == nil {
			sugar.Warnw("network not ready at startup", "error", err.Error())
		}
		monitor.Run(ctx)
		return nil
	})

	// Рабочая задача HTTP-обмена с бэкендом
	g.Go(func() error {
		backendClient.Run(ctx)
		return nil
	})

	// Линия связи с механизмом выдачи
	g.Go(func() error {
		if err := link.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("mechanism link: %w", err)
		}
		return nil
	})

	if qrService != nil {
		g.Go(func() error {
			if err := qrService.Run(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("qr scanner: %w", err)
			}
			return nil
		})
	}

	if nfcService != nil {
		g.Go(func() error {
			if err := nfcReader.Run(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("card reader: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			nfcService.Run(ctx)
			return nil
		})
	}

	// Оркестратор рабочего процесса заказа
	g.Go(func() error {
		orch.Run(ctx)
		return nil
	})

	// Диагностический HTTP-сервер
	g.Go(func() error {
		sugar.Infow("starting diagnostics server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown: закрытие портов разблокирует чтение строк
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down controller...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		mechPort.Close()
		if qrPort != nil {
			qrPort.Close()
		}
		if nfcPort != nil {
			nfcPort.Close()
		}

		sugar.Info("controller stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("controller terminated with error", "error", err)
	}
}
