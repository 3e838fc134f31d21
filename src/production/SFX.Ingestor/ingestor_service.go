package sfxingestor

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	config "gitlab.com/safex/safex.telemetry/src/production/SFX.Config"
	logger "gitlab.com/safex/safex.telemetry/src/production/SFX.Logger"
	metrics "gitlab.com/safex/safex.telemetry/src/production/SFX.Metrics"
	normalizer "gitlab.com/safex/safex.telemetry/src/production/SFX.Normalizer"
	interfaces "gitlab.com/safex/safex.telemetry/src/production/SFX.Repository/Interfaces"
)

// State of the broker subscription.
type State int32

const (
	Disconnected State = iota
	Connecting
	Subscribed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Subscribe retry backoff while the connection stays up.
const (
	subscribeRetryMin = time.Second
	subscribeRetryMax = 30 * time.Second
)

// subackFailure is the SUBACK return code for a refused subscription.
const subackFailure = 0x80

type inbound struct {
	topic   string
	payload []byte
}

type errorReport struct {
	ErrorType string    `json:"error_type"`
	Message   string    `json:"message"`
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
}

// Ingestor subscribes to the device topic and appends every valid reading
// to the store, one message at a time in arrival order.
type Ingestor struct {
	cfg        config.MQTTConfig
	ingest     config.IngestConfig
	store      interfaces.ReadingStore
	normalizer *normalizer.Normalizer
	logger     *logger.Logger
	client     mqtt.Client

	msgCh   chan inbound
	reports chan errorReport
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
	state   atomic.Int32
	wg      sync.WaitGroup
	pubWg   sync.WaitGroup

	retryMin time.Duration
	retryMax time.Duration
}

func New(cfg config.MQTTConfig, ingest config.IngestConfig, store interfaces.ReadingStore, log *logger.Logger) *Ingestor {
	size := ingest.BufferSize
	if size < 1 {
		size = 1
	}
	return &Ingestor{
		cfg:        cfg,
		ingest:     ingest,
		store:      store,
		normalizer: normalizer.New(ingest.KeepUnknown),
		logger:     log.WithComponent("ingestor"),
		msgCh:      make(chan inbound, size),
		reports:    make(chan errorReport, 64),
		done:       make(chan struct{}),
		retryMin:   subscribeRetryMin,
		retryMax:   subscribeRetryMax,
	}
}

// Start connects to the broker and starts the ingest worker. It returns once
// the first connection is up or ctx is done; later reconnects are handled by
// the client and re-subscribe in OnConnect.
func (i *Ingestor) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(i.cfg.GetMQTTBrokerURL()).
		SetClientID(i.clientID()).
		SetOrderMatters(true).
		SetKeepAlive(i.cfg.KeepAlive).
		SetPingTimeout(i.cfg.PingTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetCleanSession(i.cfg.ClientID == "")

	if i.cfg.BrokerUser != "" {
		opts.SetUsername(i.cfg.BrokerUser)
		opts.SetPassword(i.cfg.BrokerPass)
	}

	if i.cfg.UseTLS {
		tlsCfg, err := i.tlsConfig(i.cfg.CACertPath)
		if err != nil {
			return err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		i.setState(Disconnected)
		i.logger.Logger.Warn().Err(err).Msg("MQTT connection lost")
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		i.setState(Connecting)
		i.logger.Info("Reconnecting to MQTT broker")
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		i.logger.Logger.Info().Str("topic", i.cfg.Topic).Msg("MQTT connected, subscribing")
		i.subscribe(c)
	})

	i.setState(Connecting)
	i.client = mqtt.NewClient(opts)
	token := i.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			i.setState(Disconnected)
			return fmt.Errorf("failed to connect to MQTT broker %s: %w", i.cfg.GetMQTTBrokerURL(), err)
		}
	case <-ctx.Done():
		i.client.Disconnect(0)
		i.setState(Disconnected)
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", i.cfg.GetMQTTBrokerURL(), ctx.Err())
	}

	i.startWorker()
	return nil
}

// subscribe retries with backoff for as long as the connection is up. The
// client runs OnConnect on its own goroutine, so blocking here is fine; after
// a drop, the next OnConnect starts over.
func (i *Ingestor) subscribe(c mqtt.Client) {
	delay := i.retryMin
	for attempt := 1; ; attempt++ {
		err := i.subscribeOnce(c)
		if err == nil {
			i.setState(Subscribed)
			i.logger.Logger.Info().Str("topic", i.cfg.Topic).Int("attempt", attempt).Msg("Subscribed")
			return
		}

		i.logger.Logger.Error().Err(err).Str("topic", i.cfg.Topic).Int("attempt", attempt).Dur("retry_in", delay).Msg("Subscribe failed")

		select {
		case <-i.done:
			return
		case <-time.After(delay):
		}
		if !c.IsConnected() {
			return
		}

		delay *= 2
		if delay > i.retryMax {
			delay = i.retryMax
		}
	}
}

func (i *Ingestor) subscribeOnce(c mqtt.Client) error {
	token := c.Subscribe(i.cfg.Topic, i.cfg.QoS, i.onMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}
	if st, ok := token.(*mqtt.SubscribeToken); ok {
		if code, found := st.Result()[i.cfg.Topic]; found && code == subackFailure {
			return fmt.Errorf("broker refused subscription to %s", i.cfg.Topic)
		}
	}
	return nil
}

// Stop disconnects from the broker, then gives every buffered message its
// append attempt before returning.
func (i *Ingestor) Stop() {
	if i.client != nil {
		i.client.Disconnect(250)
	}
	i.setState(Disconnected)

	i.mu.Lock()
	if !i.closed {
		i.closed = true
		close(i.done)
		close(i.msgCh)
	}
	i.mu.Unlock()

	i.wg.Wait()

	// The worker is gone, so nothing else queues reports.
	i.mu.Lock()
	if i.reports != nil {
		close(i.reports)
		i.reports = nil
	}
	i.mu.Unlock()
	i.pubWg.Wait()
}

func (i *Ingestor) State() State {
	return State(i.state.Load())
}

func (i *Ingestor) IsConnected() bool {
	return i.client != nil && i.client.IsConnected()
}

func (i *Ingestor) setState(s State) {
	i.state.Store(int32(s))
	metrics.SubscriberState.Set(float64(s))
}

func (i *Ingestor) startWorker() {
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		for msg := range i.msgCh {
			metrics.IngestQueueDepth.Set(float64(len(i.msgCh)))
			i.handle(msg)
		}
	}()

	reports := i.reports
	i.pubWg.Add(1)
	go func() {
		defer i.pubWg.Done()
		for report := range reports {
			i.publishReport(report)
		}
	}()
}

// onMessage only queues. A full buffer blocks the client's delivery, which
// keeps order and pushes back on the broker instead of dropping.
func (i *Ingestor) onMessage(_ mqtt.Client, m mqtt.Message) {
	metrics.ReadingsReceived.Inc()

	payload := make([]byte, len(m.Payload()))
	copy(payload, m.Payload())

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		i.logger.Logger.Warn().Str("topic", m.Topic()).Msg("Message arrived after shutdown, not queued")
		return
	}
	i.msgCh <- inbound{topic: m.Topic(), payload: payload}
	metrics.IngestQueueDepth.Set(float64(len(i.msgCh)))
}

func (i *Ingestor) handle(msg inbound) {
	reading, dropped, err := i.normalizer.NormalizeFields(msg.payload)
	if err != nil {
		metrics.ReadingsRejected.WithLabelValues(metrics.RejectMalformed).Inc()
		i.logger.Logger.Warn().Err(err).Str("topic", msg.topic).Int("bytes", len(msg.payload)).Msg("Dropping malformed payload")
		i.publishError("malformed_payload", err.Error())
		return
	}
	if len(dropped) > 0 {
		for _, field := range dropped {
			metrics.FieldsDropped.WithLabelValues(field).Inc()
		}
		i.logger.Logger.Warn().Strs("fields", dropped).Str("topic", msg.topic).Msg("Dropped fields with the wrong type")
	}

	// Each append gets its own deadline so shutdown still drains the buffer.
	ctx, cancel := context.WithTimeout(context.Background(), i.ingest.WriteTimeout)
	defer cancel()

	start := time.Now()
	stored, err := i.store.Append(ctx, reading)
	metrics.StoreAppendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StoreAppendFailures.Inc()
		metrics.ReadingsRejected.WithLabelValues(metrics.RejectStore).Inc()
		i.logger.Logger.Error().Err(err).Str("topic", msg.topic).Msg("Failed to store reading")
		reason := "insert_failed"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "insert_timeout"
		}
		i.publishError(reason, fmt.Sprintf("Failed to store reading: %v", err))
		return
	}

	metrics.ReadingsStored.Inc()
	metrics.ObserveReading(stored)
	i.logger.Logger.Debug().Str("receipt_id", stored.ID).Time("received_at", stored.ReceivedAt).Msg("Reading stored")
}

func (i *Ingestor) clientID() string {
	if i.cfg.ClientID != "" {
		return i.cfg.ClientID
	}
	return "sfx-ingestor-" + uuid.NewString()[:8]
}

func (i *Ingestor) tlsConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	ca, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	cp := x509.NewCertPool()
	if !cp.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("bad CA file %s", caFile)
	}
	cfg.RootCAs = cp
	return cfg, nil
}

// publishError queues a report for the error topic. It never blocks the
// ingest worker; when the queue is full the report is only logged.
func (i *Ingestor) publishError(errorType, message string) {
	if i.cfg.ErrorTopic == "" {
		return
	}

	report := errorReport{
		ErrorType: errorType,
		Message:   message,
		Topic:     i.cfg.Topic,
		Timestamp: time.Now().UTC(),
	}

	select {
	case i.reports <- report:
	default:
		i.logger.Logger.Warn().Str("error_type", errorType).Msg("Error report queue full, report not published")
	}
}

// publishReport sends one report to the error topic for whoever operates
// the device.
func (i *Ingestor) publishReport(report errorReport) {
	if i.client == nil || !i.client.IsConnected() {
		return
	}

	payloadJSON, err := json.Marshal(report)
	if err != nil {
		i.logger.ErrorWithError(err, "Failed to marshal error payload")
		return
	}

	token := i.client.Publish(i.cfg.ErrorTopic, i.cfg.QoS, false, payloadJSON)
	if !token.WaitTimeout(2 * time.Second) {
		i.logger.Logger.Warn().Str("topic", i.cfg.ErrorTopic).Msg("Timed out publishing error report")
		return
	}
	if token.Error() != nil {
		i.logger.Logger.Error().Err(token.Error()).Str("topic", i.cfg.ErrorTopic).Msg("Failed to publish error report")
	}
}
