package layout

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// EstimateMessage is the payload published by a layout model for one frame.
type EstimateMessage struct {
	ID        string      `json:"id"`
	PhiCoords [][]float64 `json:"phi_coords"` // [ceiling, floor]
}

// EstimateHandler is called for every decoded estimate. err is set when the
// payload could not be decoded; id is then taken from the topic.
type EstimateHandler func(id string, est PhiCoords, err error)

// MQTTClient subscribes to model estimates on an MQTT broker.
type MQTTClient struct {
	client      mqtt.Client
	config      *Config
	handler     EstimateHandler
	isConnected bool
	mu          sync.RWMutex
}

// InitMQTT creates a client from the config, with MQTT_BROKER,
// MQTT_CLIENT_ID, MQTT_USERNAME and MQTT_PASSWORD taking precedence. With no
// broker configured MQTT is disabled and both return values are nil.
func InitMQTT(config *Config, handler EstimateHandler) (*MQTTClient, error) {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil {
		broker = config.MQTT.Broker
	}
	if broker == "" {
		log.Println("[MQTT] disabled: no broker configured")
		return nil, nil
	}
	if config == nil {
		return nil, fmt.Errorf("MQTT enabled but no configuration provided")
	}

	client := &MQTTClient{config: config, handler: handler}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "panolayout"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)

	client.client = mqtt.NewClient(opts)
	go client.connectWithRetry()

	return client, nil
}

// EstimateTopic is the subscription filter for model estimates.
func (c *MQTTClient) EstimateTopic() string {
	if c.config.MQTT.EstimateTopic != "" {
		return c.config.MQTT.EstimateTopic
	}
	return publishPrefix(c.config) + "/estimates/+"
}

// connectWithRetry connects with exponential backoff capped at a minute.
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("[MQTT] connecting to broker...")
		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] connected")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] connection timeout")
		}

		log.Printf("[MQTT] retrying in %v", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)
	topic := c.EstimateTopic()
	token := client.Subscribe(topic, 1, c.messageHandler)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("[MQTT] error subscribing to %s: %v", topic, token.Error())
		return
	}
	log.Printf("[MQTT] subscribed to %s", topic)
}

func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) messageHandler(client mqtt.Client, msg mqtt.Message) {
	id, est, err := DecodeEstimate(msg.Topic(), msg.Payload())
	if err != nil {
		log.Printf("[MQTT] bad estimate on %s: %v", msg.Topic(), err)
	}
	if c.handler != nil {
		c.handler(id, est, err)
	}
}

// DecodeEstimate parses an estimate payload. The frame id comes from the
// payload, or from the last topic level when the payload has none.
func DecodeEstimate(topic string, payload []byte) (string, PhiCoords, error) {
	id := topic[strings.LastIndexByte(topic, '/')+1:]

	var msg EstimateMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return id, PhiCoords{}, fmt.Errorf("decoding estimate: %w", err)
	}
	if msg.ID != "" {
		id = msg.ID
	}
	if len(msg.PhiCoords) != 2 {
		return id, PhiCoords{}, fmt.Errorf("%w: %d rows, want 2", ErrInvalidPhiCoords, len(msg.PhiCoords))
	}
	pc := PhiCoords{Ceiling: msg.PhiCoords[0], Floor: msg.PhiCoords[1]}
	if err := checkShape(pc); err != nil {
		return id, PhiCoords{}, err
	}
	return id, pc, nil
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] disconnecting")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock wraps an existing mqtt.Client, for tests.
func newMQTTClientWithMock(client mqtt.Client, config *Config, handler EstimateHandler) *MQTTClient {
	return &MQTTClient{client: client, config: config, handler: handler}
}

// publishPrefix resolves the topic prefix: MQTT_PUBLISH_PREFIX, then config,
// then "panolayout".
func publishPrefix(config *Config) string {
	if p := os.Getenv("MQTT_PUBLISH_PREFIX"); p != "" {
		return p
	}
	if config != nil && config.MQTT.PublishPrefix != "" {
		return config.MQTT.PublishPrefix
	}
	return "panolayout"
}
