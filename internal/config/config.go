// Package config содержит логику чтения конфигурации контроллера.
package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Значения по умолчанию для вызовов бэкенда.
const (
	DefaultAPIBaseURL               = "https://iot-vending-machine.osc-fr1.scalingo.io"
	DefaultValidateEndpoint         = "/api/order-validation/validate-token"
	DefaultUpdateQuantitiesEndpoint = "/api/stock/update-quantities"
	DefaultConfirmDeliveryEndpoint  = "/api/order/confirm-delivery"
	DefaultSupervisionEndpoint      = "/api/supervision/report"
)

// Config содержит параметры конфигурации контроллера.
type Config struct {
	RunAddress               string        `env:"RUN_ADDRESS"`
	APIBaseURL               string        `env:"API_BASE_URL"`
	ValidateEndpoint         string        `env:"API_VALIDATE_ENDPOINT"`
	UpdateQuantitiesEndpoint string        `env:"API_UPDATE_QUANTITIES_ENDPOINT"`
	ConfirmDeliveryEndpoint  string        `env:"API_DELIVERY_CONFIRM_ENDPOINT"`
	SupervisionEndpoint      string        `env:"API_SUPERVISION_ENDPOINT"`
	MachineID                string        `env:"MACHINE_ID"`
	MechanismDevice          string        `env:"MECHANISM_DEVICE"`
	MechanismBaud            int           `env:"MECHANISM_BAUD" envDefault:"115200"`
	ScannerDevice            string        `env:"SCANNER_DEVICE"`
	ScannerBaud              int           `env:"SCANNER_BAUD" envDefault:"115200"`
	NFCDevice                string        `env:"NFC_DEVICE"`
	NFCBaud                  int           `env:"NFC_BAUD" envDefault:"115200"`
	HTTPTimeout              time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s"`
	ScanWindow               time.Duration `env:"SCAN_WINDOW" envDefault:"15s"`
	StateTimeout             time.Duration `env:"STATE_TIMEOUT" envDefault:"120s"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных
// окружения. Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envAPIBaseURL := cfg.APIBaseURL
	envMachineID := cfg.MachineID
	envMechanismDevice := cfg.MechanismDevice
	envScannerDevice := cfg.ScannerDevice
	envNFCDevice := cfg.NFCDevice

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8090", "address and port for diagnostics HTTP server")
	flag.StringVar(&cfg.APIBaseURL, "b", DefaultAPIBaseURL, "backend API base URL")
	flag.StringVar(&cfg.MachineID, "m", "", "machine identifier (derived from hardware if empty)")
	flag.StringVar(&cfg.MechanismDevice, "s", "", "serial device of the delivery mechanism")
	flag.StringVar(&cfg.ScannerDevice, "q", "", "serial device of the QR scanner")
	flag.StringVar(&cfg.NFCDevice, "n", "", "serial device of the card reader module")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envAPIBaseURL != "" {
		cfg.APIBaseURL = envAPIBaseURL
	}
	if envMachineID != "" {
		cfg.MachineID = envMachineID
	}
	if envMechanismDevice != "" {
		cfg.MechanismDevice = envMechanismDevice
	}
	if envScannerDevice != "" {
		cfg.ScannerDevice = envScannerDevice
	}
	if envNFCDevice != "" {
		cfg.NFCDevice = envNFCDevice
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8090"
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.ValidateEndpoint == "" {
		cfg.ValidateEndpoint = DefaultValidateEndpoint
	}
	if cfg.UpdateQuantitiesEndpoint == "" {
		cfg.UpdateQuantitiesEndpoint = DefaultUpdateQuantitiesEndpoint
	}
	if cfg.ConfirmDeliveryEndpoint == "" {
		cfg.ConfirmDeliveryEndpoint = DefaultConfirmDeliveryEndpoint
	}
	if cfg.SupervisionEndpoint == "" {
		cfg.SupervisionEndpoint = DefaultSupervisionEndpoint
	}

	return cfg, nil
}

func (c *Config) joinURL(endpoint string) string {
	return strings.TrimRight(c.APIBaseURL, "/") + endpoint
}

// ValidateTokenURL возвращает полный адрес проверки токена.
func (c *Config) ValidateTokenURL() string {
	return c.joinURL(c.ValidateEndpoint)
}

// UpdateQuantitiesURL возвращает полный адрес обновления остатков.
func (c *Config) UpdateQuantitiesURL() string {
	return c.joinURL(c.UpdateQuantitiesEndpoint)
}

// ConfirmDeliveryURL возвращает полный адрес подтверждения выдачи.
func (c *Config) ConfirmDeliveryURL() string {
	return c.joinURL(c.ConfirmDeliveryEndpoint)
}

// SupervisionURL возвращает полный адрес сервиса мониторинга.
func (c *Config) SupervisionURL() string {
	return c.joinURL(c.SupervisionEndpoint)
}
