package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stripe/stripe-go/v74"

	"qrpay/config"
	"qrpay/handlers"
	"qrpay/payment"
	"qrpay/services"
	"qrpay/utils"
)

func main() {
	utils.Setup()

	if err := config.Load(); err != nil {
		log.Fatal(err)
	}

	for _, dir := range []string{config.Config.DataDir, config.Config.TransactionsDir, config.Config.ReceiptsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("Failed to create directory %s: %v", dir, err)
		}
	}

	stripe.Key = config.GetStripeKey()
	if stripe.Key == "" {
		log.Fatal(
			"Missing Stripe Secret Key in config or environment. Please set STRIPE_SECRET_KEY environment variable or configure it in the config file.",
		)
	}

	gateway := services.NewStripeGateway(config.Config.StripeProductID, config.PaymentWindow())

	var notifier payment.Notifier = services.ConsoleNotifier{}
	if config.Config.RabbitURL != "" {
		amqpNotifier, err := services.NewAMQPNotifier(config.Config.RabbitURL, config.Config.ExchangeName)
		if err != nil {
			utils.Warn("main", "RabbitMQ unavailable, falling back to console alerts", "error", err)
		} else {
			defer amqpNotifier.Close()
			notifier = amqpNotifier
		}
	}

	handlers.Setup(handlers.Deps{
		Gateway:          gateway,
		Deactivator:      gateway,
		Notifier:         notifier,
		EventLog:         services.NewEventLogger(config.Config.TransactionsDir),
		Receipts:         services.NewReceiptService(gateway, config.Config.ReceiptsDir),
		InitialPollDelay: config.InitialPollDelay(),
		PollInterval:     config.PollInterval(),
		CountdownTick:    config.CountdownTick(),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/payments/open", handlers.OpenPaymentHandler)
	mux.HandleFunc("/payments/generate", handlers.GeneratePaymentHandler)
	mux.HandleFunc("/payments/check", handlers.CheckPaymentHandler)
	mux.HandleFunc("/payments/status", handlers.PaymentStatusHandler)
	mux.HandleFunc("/payments/close", handlers.ClosePaymentHandler)
	mux.HandleFunc("/payments/receipt", handlers.ReceiptUploadHandler)
	mux.HandleFunc("/payment-events", handlers.PaymentSSEHandler)

	server := &http.Server{
		Addr:    ":" + config.Config.Port,
		Handler: mux,
	}

	go func() {
		utils.Info("main", "Server listening", "port", config.Config.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	utils.Info("main", "Shutting down")
	handlers.GlobalSessionManager.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		utils.Error("main", "Error during shutdown", "error", err)
	}
}
