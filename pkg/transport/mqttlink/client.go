package mqttlink

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"launchctl/pkg/transport"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

const disconnectQuiesce = 250 // ms

// Options configures the connection to the MQTT-bridged control server.
type Options struct {
	Broker     string
	Username   string
	Password   string
	TopicRoot  string
	ClientName string
	ServerName string
	MaxPing    time.Duration
}

func clientOptions(o Options, suffix string) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.SetClientID(fmt.Sprintf("%s-%s", o.ClientName, suffix))
	opts.AddBroker(o.Broker)
	opts.SetUsername(o.Username)
	opts.SetPassword(o.Password)
	opts.SetAutoReconnect(false)
	if o.MaxPing > 0 {
		opts.SetKeepAlive(o.MaxPing)
	}
	return opts
}

// Dial connects a plain MQTT client and waits for the outcome.
func Dial(o Options, suffix string) (mqtt.Client, error) {
	client := mqtt.NewClient(clientOptions(o, suffix))
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %v", token.Error())
	}
	return client, nil
}

// conn is one connection attempt. Events are handed from the paho callback
// goroutine to a dispatcher goroutine so sinks never run inside paho.
type conn struct {
	client mqtt.Client
	sink   transport.EventSink
	events chan eventMsg
	done   chan struct{}
	once   sync.Once
}

func (c *conn) close() {
	c.once.Do(func() { close(c.done) })
}

// Client is a transport.Transport talking to a control server through MQTT
// topics under Options.TopicRoot.
type Client struct {
	opts   Options
	logger log.FieldLogger

	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu      sync.Mutex
	current *conn
	seq     int
}

func NewClient(opts Options, logger log.FieldLogger) *Client {
	return &Client{
		opts:      opts,
		logger:    logger,
		newClient: mqtt.NewClient,
	}
}

func (c *Client) Connect(sink transport.EventSink) {
	c.mu.Lock()
	old := c.current
	c.seq++
	cn := &conn{
		sink:   sink,
		events: make(chan eventMsg, 32),
		done:   make(chan struct{}),
	}

	opts := clientOptions(c.opts, fmt.Sprintf("%d-%d", time.Now().Unix(), c.seq))
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Errorf("Connection to MQTT broker lost: %v", err)
		cn.close()
		sink.OnConnectionError(fmt.Sprintf("connection lost: %v", err))
	})
	cn.client = c.newClient(opts)
	c.current = cn
	c.mu.Unlock()

	if old != nil {
		c.teardown(old)
	}

	go c.dispatch(cn)
	go c.open(cn)
}

func (c *Client) open(cn *conn) {
	if token := cn.client.Connect(); token.Wait() && token.Error() != nil {
		cn.close()
		cn.sink.OnConnectionError(fmt.Sprintf("failed to connect to MQTT broker: %v", token.Error()))
		return
	}

	topic := c.opts.TopicRoot + eventsTopic
	if token := cn.client.Subscribe(topic, 1, c.eventHandler(cn)); token.Wait() && token.Error() != nil {
		c.teardown(cn)
		cn.sink.OnConnectionError(fmt.Sprintf("failed to subscribe to %s: %v", topic, token.Error()))
		return
	}

	hello := commandMsg{
		Cmd:       cmdHello,
		Client:    c.opts.ClientName,
		Server:    c.opts.ServerName,
		MaxPingMs: c.opts.MaxPing.Milliseconds(),
	}
	if err := c.publish(cn.client, hello); err != nil {
		c.teardown(cn)
		cn.sink.OnConnectionError(err.Error())
		return
	}

	c.logger.Infof("Connected to control server %q via %s", c.opts.ServerName, c.opts.Broker)
	cn.sink.OnConnectionSuccess()
}

func (c *Client) eventHandler(cn *conn) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		ev, err := parseEvent(msg.Payload())
		if err != nil {
			c.logger.Errorf("Failed to parse event: %v", err)
			return
		}

		c.logger.Debugf("Event: %s", msg.Payload())
		select {
		case cn.events <- ev:
		case <-cn.done:
		}
	}
}

func (c *Client) dispatch(cn *conn) {
	for {
		// A closed connection wins over events still buffered.
		select {
		case <-cn.done:
			return
		default:
		}

		select {
		case ev := <-cn.events:
			switch ev.Type {
			case evDeviceAdded:
				cn.sink.OnDeviceAdded(*ev.ID, ev.Name)
			case evDeviceRemoved:
				cn.sink.OnDeviceRemoved(*ev.ID)
			case evScanningFinished:
				c.logger.Debug("Scanning finished")
			case evError:
				cn.close()
				cn.sink.OnConnectionError(ev.Message)
				return
			}
		case <-cn.done:
			return
		}
	}
}

func (c *Client) teardown(cn *conn) {
	cn.close()
	if cn.client.IsConnected() {
		cn.client.Unsubscribe(c.opts.TopicRoot + eventsTopic)
		cn.client.Disconnect(disconnectQuiesce)
	}
}

func (c *Client) Disconnect() error {
	c.mu.Lock()
	cn := c.current
	c.current = nil
	c.mu.Unlock()

	if cn != nil {
		c.teardown(cn)
		c.logger.Info("Disconnected from MQTT broker")
	}
	return nil
}

func (c *Client) connected() (mqtt.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil || !c.current.client.IsConnected() {
		return nil, transport.ErrNotConnected
	}
	return c.current.client, nil
}

func (c *Client) send(msg commandMsg) error {
	client, err := c.connected()
	if err != nil {
		return err
	}
	return c.publish(client, msg)
}

func (c *Client) publish(client mqtt.Client, msg commandMsg) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.logger.Debugf("Sending command: %s", payload)
	topic := c.opts.TopicRoot + commandsTopic
	if token := client.Publish(topic, 0, false, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish command: %v", token.Error())
	}
	return nil
}

func (c *Client) StartScanning() error {
	return c.send(commandMsg{Cmd: cmdStartScanning})
}

func (c *Client) StopScanning() error {
	return c.send(commandMsg{Cmd: cmdStopScanning})
}

func (c *Client) SendLinearCmd(id transport.DeviceID, durationMs int64, position float64, amplitude int64) error {
	return c.send(linearMsg(id, durationMs, position, amplitude))
}

func (c *Client) SendFleshlightCmd(id transport.DeviceID, speed, position int, amplitude int64) error {
	return c.send(fleshlightMsg(id, speed, position, amplitude))
}
