// Package inverter talks MQTT to the hybrid inverter: it consumes the
// telemetry stream and sends battery control requests. The planning core
// never touches this package; only the dispatcher and the www layer do.
package inverter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	topicTelemetry       = "inverter/telemetry"
	topicControlRequest  = "inverter/control/request"
	topicControlResponse = "inverter/control/response"

	transIdPrefix = "powerplan-"
)

type pendingRequest struct {
	TransId string
	Payload string
	SentAt  time.Time
	DoneCh  chan struct{}
}

type OnTelemetry func(msg *TelemetryMessage)

type ControlResponse struct {
	TransId string `json:"transId"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Client wraps the MQTT session. Telemetry is pushed to OnTelemetry; control
// requests are acked asynchronously on the response topic and tracked as
// pending until then.
type Client struct {
	mqttClient   mqtt.Client
	logger       *slog.Logger
	pending      map[string]pendingRequest
	pendingMutex sync.RWMutex
	lastMessage  concurrentTimer
	stopCh       chan struct{}
	OnTelemetry  OnTelemetry
}

func New(broker string, port int16, username, password string) *Client {
	logger := slog.Default().With("module", "inverter")
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", broker, port))
	opts.SetClientID("powerplan")
	opts.SetUsername(username)
	opts.SetPassword(password)
	opts.SetAutoReconnect(true)
	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("inverter MQTT connected")
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Warn("inverter MQTT connection lost", slog.Any("error", err))
	}

	mqttLog := slog.Default().With("module", "mqtt")
	mqtt.CRITICAL = newMqttLogger(mqttLog, slog.LevelError)
	mqtt.ERROR = newMqttLogger(mqttLog, slog.LevelError)
	mqtt.WARN = newMqttLogger(mqttLog, slog.LevelWarn)

	return &Client{
		mqttClient: mqtt.NewClient(opts),
		logger:     logger,
		pending:    make(map[string]pendingRequest),
	}
}

func (c *Client) Connect() error {
	c.logger.Debug("connecting inverter MQTT client")

	if token := c.mqttClient.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	c.stopCh = make(chan struct{})
	c.inactivityWatchdog()
	c.startPurgeRoutine()

	topics := map[string]byte{
		topicTelemetry:       0,
		topicControlResponse: 0,
	}
	token := c.mqttClient.SubscribeMultiple(topics, func(client mqtt.Client, msg mqtt.Message) {
		c.lastMessage.Reset()

		switch msg.Topic() {
		case topicTelemetry:
			var tm TelemetryMessage
			if err := json.Unmarshal(msg.Payload(), &tm); err != nil {
				c.logger.Error("error when reading telemetry message", slog.Any("error", err))
			} else if c.OnTelemetry != nil {
				c.OnTelemetry(&tm)
			}

		case topicControlResponse:
			var cr ControlResponse
			if err := json.Unmarshal(msg.Payload(), &cr); err != nil {
				c.logger.Error("error when reading control response", slog.Any("error", err))
				return
			}
			c.resolvePending(&cr)

		default:
			c.logger.Warn("unknown topic", "topic", msg.Topic())
		}
	})

	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (c *Client) Disconnect() {
	c.logger.Info("disconnecting inverter mqtt client")
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}

	token := c.mqttClient.Unsubscribe(topicTelemetry, topicControlResponse)
	token.WaitTimeout(1 * time.Second)
	if token.Error() != nil {
		c.logger.Error("error unsubscribing from topics", slog.Any("error", token.Error()))
	}

	c.mqttClient.Disconnect(250)
}

// SetBatteryAuto hands battery control back to the inverter's own logic,
// which is what the self-use plan mode maps to.
func (c *Client) SetBatteryAuto() error {
	transId := newTransId()
	payload := fmt.Sprintf(`{"transId":"%s","cmd":{"name":"auto"}}`, transId)
	c.logger.Info("setting battery in auto mode", "payload", payload)
	return c.sendControlRequest(transId, payload)
}

// SetBatteryLoad forces a battery power setpoint. Positive values (kW) mean
// discharge, negative charge.
func (c *Client) SetBatteryLoad(powerKw float64) error {
	watts := int(math.Abs(powerKw * 1e3))
	transId := newTransId()
	name := "discharge"
	if powerKw <= 0 {
		name = "charge"
	}
	payload := fmt.Sprintf(`{"transId":"%s","cmd":{"name":"%s","arg":"%d"}}`, transId, name, watts)
	c.logger.Info("sending new battery load", "power", powerKw, "payload", payload)
	return c.sendControlRequest(transId, payload)
}

// SetExportPriority toggles grid-first routing of solar, which raises the
// inverter's export cap.
func (c *Client) SetExportPriority(on bool) error {
	transId := newTransId()
	arg := "off"
	if on {
		arg = "on"
	}
	payload := fmt.Sprintf(`{"transId":"%s","cmd":{"name":"export_priority","arg":"%s"}}`, transId, arg)
	c.logger.Info("setting export priority", "on", on)
	return c.sendControlRequest(transId, payload)
}

func newTransId() string {
	return fmt.Sprintf("%s%d", transIdPrefix, time.Now().UnixNano())
}

func (c *Client) sendControlRequest(transId string, payload string) error {
	token := c.mqttClient.Publish(topicControlRequest, 0, false, payload)
	if ok := token.WaitTimeout(5 * time.Second); !ok {
		return fmt.Errorf("timeout when sending control request to inverter")
	}
	if token.Error() != nil {
		return fmt.Errorf("error when sending control request to inverter: %w", token.Error())
	}

	req := pendingRequest{
		TransId: transId,
		Payload: payload,
		SentAt:  time.Now(),
		DoneCh:  make(chan struct{}),
	}
	c.pendingMutex.Lock()
	c.pending[transId] = req
	c.pendingMutex.Unlock()

	c.logger.Debug("control request sent, waiting for ack/nak...", slog.String("transId", transId))
	select {
	case <-req.DoneCh:
	case <-time.After(30 * time.Second):
		c.logger.Warn("pending request timed out", slog.String("transId", transId))
	}

	return nil
}

func (c *Client) resolvePending(cr *ControlResponse) {
	c.pendingMutex.Lock()
	defer c.pendingMutex.Unlock()

	if req, exists := c.pending[cr.TransId]; exists {
		if cr.Status == "ack" {
			c.logger.Debug("control request acked",
				slog.String("transId", cr.TransId),
				slog.Duration("duration", time.Since(req.SentAt)))
		} else {
			c.logger.Warn("control request rejected (nak)",
				slog.String("transId", cr.TransId),
				slog.String("message", cr.Message))
		}
		close(req.DoneCh)
		delete(c.pending, cr.TransId)
		return
	}
	c.logger.Info("received response for another client",
		slog.String("transId", cr.TransId), slog.String("message", cr.Message))
}

func (c *Client) startPurgeRoutine() {
	stop := c.stopCh
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.pendingMutex.Lock()
				for transId, req := range c.pending {
					if age := time.Since(req.SentAt); age > time.Minute {
						c.logger.Debug("purging unanswered request", slog.String("transId", transId), slog.Duration("age", age))
						close(req.DoneCh)
						delete(c.pending, transId)
					}
				}
				c.pendingMutex.Unlock()

			case <-stop:
				return
			}
		}
	}()
}

func (c *Client) inactivityWatchdog() {
	trafficOk := true
	maxElapsed := 10 * time.Second
	panicTimeout := 60 * time.Second
	c.lastMessage.Reset()
	stop := c.stopCh

	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				elapsed := c.lastMessage.Elapsed()
				if elapsed >= panicTimeout {
					c.logger.Error(fmt.Sprintf("no incoming mqtt traffic for the last %.0f seconds, terminating...", panicTimeout.Seconds()))
					c.Disconnect()
					time.Sleep(1 * time.Second)
					os.Exit(1)
				}
				if elapsed >= maxElapsed {
					if trafficOk {
						c.logger.Warn(fmt.Sprintf("no incoming mqtt traffic for the last %.0f seconds", maxElapsed.Seconds()))
						trafficOk = false
					}
				} else if !trafficOk {
					c.logger.Info("mqtt traffic is restored")
					trafficOk = true
				}

			case <-stop:
				return
			}
		}
	}()
}
