package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/qns-project/qns-core/pkg"
	"github.com/qns-project/qns-core/pkg/logx"
	"golang.org/x/time/rate"
)

// Client provides MQTT publishing for qnsd's per-(slot,apn) decision output,
// with message batching and rate limiting. connectionPool is allocated but
// never read or written; every publish goes through the single client.
type Client struct {
	client      MQTT.Client
	logger      *logx.Logger
	config      *Config
	connected   bool
	lastPublish time.Time

	// Network optimization: Connection pooling and reuse
	connectionPool map[string]*ConnectionInfo

	// Network optimization: Message batching
	messageQueue   []*QueuedMessage
	queueMutex     sync.Mutex
	queueSize      int
	maxQueueSize   int
	batchInterval  time.Duration
	lastBatchFlush time.Time

	// Network optimization: Rate limiting
	publishRateLimiter *rate.Limiter
}

// Config holds MQTT configuration
type Config struct {
	Broker      string `json:"broker"`
	Port        int    `json:"port"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         int    `json:"qos"`
	Retain      bool   `json:"retain"`
	Enabled     bool   `json:"enabled"`
}

// DefaultConfig returns default MQTT configuration
func DefaultConfig() *Config {
	return &Config{
		Broker:      "localhost",
		Port:        1883,
		ClientID:    "qnsd",
		TopicPrefix: "qns",
		QoS:         1,
		Retain:      false,
		Enabled:     false,
	}
}

// NewClient creates a new MQTT client with network optimization
func NewClient(config *Config, logger *logx.Logger) *Client {
	return &Client{
		logger: logger,
		config: config,

		// Network optimization: Initialize connection pool
		connectionPool: make(map[string]*ConnectionInfo),

		// Network optimization: Initialize message batching
		messageQueue:  make([]*QueuedMessage, 0, 100),
		maxQueueSize:  100,
		batchInterval: 5 * time.Second, // Batch messages for 5 seconds

		// Network optimization: Initialize rate limiting (10 msg/s, burst 10)
		publishRateLimiter: rate.NewLimiter(rate.Limit(10), 10),
	}
}

// Connect establishes connection to MQTT broker
func (c *Client) Connect() error {
	if !c.config.Enabled {
		c.logger.Debug("MQTT client disabled")
		return nil
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port))
	opts.SetClientID(c.config.ClientID)

	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetDefaultPublishHandler(c.onMessageReceived)

	c.client = MQTT.NewClient(opts)

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	c.logger.Info("MQTT client connected", map[string]interface{}{
		"broker": c.config.Broker,
		"port":   c.config.Port,
	})

	return nil
}

// Disconnect disconnects from MQTT broker
func (c *Client) Disconnect() error {
	if c.client != nil && c.connected {
		c.client.Disconnect(250)
		c.connected = false
		c.logger.Info("MQTT client disconnected")
	}
	return nil
}

// onConnect handles MQTT connection events
func (c *Client) onConnect(client MQTT.Client) {
	c.connected = true
	c.logger.Info("MQTT connection established")
}

// onConnectionLost handles MQTT disconnection events
func (c *Client) onConnectionLost(client MQTT.Client, err error) {
	c.connected = false
	c.logger.Error("MQTT connection lost", map[string]interface{}{
		"error": err.Error(),
	})
}

// onMessageReceived handles incoming MQTT messages
func (c *Client) onMessageReceived(client MQTT.Client, msg MQTT.Message) {
	c.logger.Debug("MQTT message received", map[string]interface{}{
		"topic":   msg.Topic(),
		"payload": string(msg.Payload()),
	})
}

// PublishQualifiedNetworksChanged publishes a per-(slot,apn) qualified network
// list change to its own topic. The message is retained only when
// Config.Retain is set (it is off in DefaultConfig).
func (c *Client) PublishQualifiedNetworksChanged(evt pkg.QualifiedNetworksChanged) error {
	if !c.config.Enabled || !c.connected {
		return nil
	}

	topic := fmt.Sprintf("%s/slot%d/%s/qualified_networks", c.config.TopicPrefix, evt.Slot, evt.Apn.String())

	payload := map[string]interface{}{
		"timestamp": time.Now(),
		"slot":      evt.Slot,
		"apn":       evt.Apn.String(),
		"networks":  evt.AccessNetworks,
	}

	return c.Publish(topic, payload)
}

// PublishRestrictInfoChanged publishes a restriction-set transition for a
// (slot, apn, transport) tuple.
func (c *Client) PublishRestrictInfoChanged(evt pkg.RestrictInfoChanged) error {
	if !c.config.Enabled || !c.connected {
		return nil
	}

	topic := fmt.Sprintf("%s/slot%d/%s/restriction", c.config.TopicPrefix, evt.Slot, evt.Apn.String())

	var active []string
	if evt.Info != nil {
		active = make([]string, 0, len(evt.Info.Restrictions))
		for t := range evt.Info.Restrictions {
			active = append(active, t.String())
		}
	}

	payload := map[string]interface{}{
		"timestamp":   time.Now(),
		"slot":        evt.Slot,
		"apn":         evt.Apn.String(),
		"transport":   evt.Transport.String(),
		"restricted":  len(active) > 0,
		"restrictions": active,
	}

	return c.Publish(topic, payload)
}

// PublishHealth publishes health information to MQTT
func (c *Client) PublishHealth(health map[string]interface{}) error {
	if !c.config.Enabled || !c.connected {
		return nil
	}

	topic := fmt.Sprintf("%s/health", c.config.TopicPrefix)

	payload := map[string]interface{}{
		"timestamp": time.Now(),
		"health":    health,
	}

	return c.publishJSON(topic, payload)
}

// publishJSON publishes JSON payload to MQTT topic
func (c *Client) publishJSON(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	token := c.client.Publish(topic, byte(c.config.QoS), c.config.Retain, data)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	c.lastPublish = time.Now()
	c.logger.Debug("MQTT message published", map[string]interface{}{
		"topic": topic,
		"size":  len(data),
	})

	return nil
}

// IsConnected returns whether the MQTT client is connected
func (c *Client) IsConnected() bool {
	return c.connected && c.client != nil && c.client.IsConnected()
}

// GetLastPublish returns the timestamp of the last publish
func (c *Client) GetLastPublish() time.Time {
	return c.lastPublish
}

// Subscribe subscribes to an MQTT topic
func (c *Client) Subscribe(topic string, handler MQTT.MessageHandler) error {
	if !c.config.Enabled || !c.connected {
		return nil
	}

	token := c.client.Subscribe(topic, byte(c.config.QoS), handler)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}

	c.logger.Info("MQTT subscription created", map[string]interface{}{
		"topic": topic,
	})

	return nil
}

// Unsubscribe unsubscribes from an MQTT topic
func (c *Client) Unsubscribe(topic string) error {
	if !c.config.Enabled || !c.connected {
		return nil
	}

	token := c.client.Unsubscribe(topic)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to unsubscribe from topic %s: %w", topic, token.Error())
	}

	c.logger.Info("MQTT subscription removed", map[string]interface{}{
		"topic": topic,
	})

	return nil
}

// PublishWithRetry publishes with retry logic
func (c *Client) PublishWithRetry(topic string, payload interface{}, maxRetries int) error {
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		if err := c.publishJSON(topic, payload); err != nil {
			lastErr = err
			c.logger.Warn("MQTT publish failed, retrying", map[string]interface{}{
				"topic":       topic,
				"attempt":     i + 1,
				"max_retries": maxRetries,
				"error":       err.Error(),
			})

			// Wait before retry
			time.Sleep(time.Duration(i+1) * time.Second)
			continue
		}

		// Success
		return nil
	}

	return fmt.Errorf("failed to publish after %d retries: %w", maxRetries, lastErr)
}

// Publish publishes a message with network optimization
func (c *Client) Publish(topic string, payload interface{}) error {
	if !c.config.Enabled {
		return nil
	}

	// Network optimization: Check rate limiting
	if !c.publishRateLimiter.Allow() {
		c.logger.Debug("Rate limit exceeded, queuing message", "topic", topic)
		return c.queueMessage(topic, payload)
	}

	// Convert payload to JSON
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	// Network optimization: Use batched publishing
	return c.publishBatched(topic, data)
}

// publishBatched publishes messages with batching for network efficiency
func (c *Client) publishBatched(topic string, payload []byte) error {
	c.queueMutex.Lock()
	defer c.queueMutex.Unlock()

	// Add to queue
	queuedMsg := &QueuedMessage{
		Topic:   topic,
		Payload: payload,
		QoS:     c.config.QoS,
		Retain:  c.config.Retain,
		Time:    time.Now(),
	}

	c.messageQueue = append(c.messageQueue, queuedMsg)
	c.queueSize++

	// Flush if queue is full or batch interval has passed
	if c.queueSize >= c.maxQueueSize || time.Since(c.lastBatchFlush) >= c.batchInterval {
		return c.flushMessageQueue()
	}

	return nil
}

// queueMessage adds a message to the queue when rate limited
func (c *Client) queueMessage(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	c.queueMutex.Lock()
	defer c.queueMutex.Unlock()

	if c.queueSize < c.maxQueueSize {
		queuedMsg := &QueuedMessage{
			Topic:   topic,
			Payload: data,
			QoS:     c.config.QoS,
			Retain:  c.config.Retain,
			Time:    time.Now(),
		}
		c.messageQueue = append(c.messageQueue, queuedMsg)
		c.queueSize++
	} else {
		c.logger.Warn("Message queue full, dropping message", "topic", topic)
	}

	return nil
}

// flushMessageQueue publishes all queued messages in a batch
func (c *Client) flushMessageQueue() error {
	if len(c.messageQueue) == 0 {
		return nil
	}

	// Network optimization: Publish all messages in batch
	for _, msg := range c.messageQueue {
		if err := c.publishDirect(msg.Topic, msg.Payload); err != nil {
			c.logger.Error("Failed to publish queued message", "topic", msg.Topic, "error", err)
			// Continue with other messages
		}
	}

	// Clear queue
	c.messageQueue = c.messageQueue[:0]
	c.queueSize = 0
	c.lastBatchFlush = time.Now()

	return nil
}

// publishDirect publishes a single message directly
func (c *Client) publishDirect(topic string, payload []byte) error {
	if !c.connected {
		return fmt.Errorf("not connected to MQTT broker")
	}

	token := c.client.Publish(topic, byte(c.config.QoS), c.config.Retain, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish message: %w", token.Error())
	}

	return nil
}

// ConnectionInfo represents a pooled connection
type ConnectionInfo struct {
	Client     MQTT.Client
	LastUsed   time.Time
	Healthy    bool
	ErrorCount int
}

// QueuedMessage represents a message waiting to be published
type QueuedMessage struct {
	Topic   string
	Payload []byte
	QoS     int
	Retain  bool
	Time    time.Time
}
