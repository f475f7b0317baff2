package pushcfg

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/pulsar-metering/pulsar-go/pkg/settings"
)

const (
	// ConnectAttempts bounds broker connection retries per cycle.
	ConnectAttempts = 5

	// ConnectDelay separates connection attempts.
	ConnectDelay = 100 * time.Millisecond

	// tlsPort is the conventional MQTT-over-TLS port. Brokers on this
	// port are dialed with TLS; the device trusts no CA store, so
	// verification is skipped.
	tlsPort = 8883

	publishTimeout = 5 * time.Second
)

var (
	// ErrNotConfigured means the settings carry no usable broker address
	// or topic.
	ErrNotConfigured = errors.New("mqtt not configured")

	// ErrConnect means the broker could not be reached within the
	// attempt budget.
	ErrConnect = errors.New("mqtt connect failed")
)

// Session is one cycle's connection to the MQTT broker. It publishes the
// cycle's data document and, while the device stays awake, receives push
// updates on the command subtree.
type Session struct {
	client  mqtt.Client
	topic   string
	updater *Updater
	logger  *slog.Logger
}

// Connect dials the broker from the persisted settings. The client ID is
// unique per session so a crashed previous session cannot shadow this
// one.
func Connect(sett *settings.Settings, updater *Updater, logger *slog.Logger) (*Session, error) {
	if !sett.MQTTOn || sett.MQTTHost == "" || sett.MQTTTopic == "" {
		return nil, ErrNotConfigured
	}

	scheme := "tcp"
	if sett.MQTTPort == tlsPort {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, sett.MQTTHost, sett.MQTTPort))
	opts.SetClientID("pulsar-" + uuid.NewString())
	opts.SetUsername(sett.MQTTLogin)
	opts.SetPassword(sett.MQTTPassword)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(5 * time.Second)
	if scheme == "ssl" {
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
	}

	client := mqtt.NewClient(opts)
	err := backoff.Retry(func() error {
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			return token.Error()
		}
		return nil
	}, backoff.WithMaxRetries(backoff.NewConstantBackOff(ConnectDelay), ConnectAttempts-1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	s := &Session{
		client:  client,
		topic:   sett.MQTTTopic,
		updater: updater,
		logger:  logger,
	}
	return s, nil
}

// await resolves a broker operation within the publish timeout. An
// expired token usually carries no error of its own, so the timeout is
// reported explicitly.
func await(token mqtt.Token, op string) error {
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%s: timed out after %s", op, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// PublishData sends the data document to the base topic, retained, one
// field per subtopic plus the whole document as JSON.
func (s *Session) PublishData(data map[string]any) error {
	doc, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding data document: %w", err)
	}
	if err := await(s.client.Publish(s.topic, 1, true, doc), "publishing data document"); err != nil {
		return err
	}
	for field, value := range data {
		payload := fmt.Sprint(value)
		if err := await(s.client.Publish(s.topic+"/"+field, 1, true, payload), "publishing "+field); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe starts listening for push updates on the command subtree.
// Each accepted update is echoed by republishing the data document and
// the retained command is cleared with an empty payload.
func (s *Session) Subscribe(data map[string]any) error {
	handler := func(_ mqtt.Client, m mqtt.Message) {
		field, ok := ParseSetTopic(m.Topic())
		if !ok {
			return
		}
		if s.updater.Update(field, string(m.Payload())) {
			if err := s.PublishData(data); err != nil && s.logger != nil {
				s.logger.Warn("push echo failed", "error", err)
			}
		}
		// Clear the retained command so it is not redelivered next
		// cycle, applied or not.
		s.client.Publish(m.Topic(), 1, true, []byte{})
	}
	return await(s.client.Subscribe(s.topic+"/#", 1, handler), "subscribing to "+s.topic+"/#")
}

// Close unsubscribes and drops the broker connection, letting in-flight
// work finish briefly.
func (s *Session) Close() {
	if err := await(s.client.Unsubscribe(s.topic+"/#"), "unsubscribing"); err != nil && s.logger != nil {
		s.logger.Warn("unsubscribe failed", "error", err)
	}
	s.client.Disconnect(250)
}
