package mqttclient

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const publishTimeout = 5 * time.Second

// NoteGenerated is published after a generation completes.
type NoteGenerated struct {
	NoteID           int64  `json:"note_id,omitempty"`
	UserID           string `json:"user_id"`
	VideoID          string `json:"video_id"`
	Title            string `json:"title"`
	TranscriptSource string `json:"transcript_source"`
}

// Client publishes notifications to an MQTT broker.
type Client struct {
	conn      mqtt.Client
	prefix    string
	connected atomic.Bool
	log       zerolog.Logger
}

type Options struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
	Log         zerolog.Logger
}

func Connect(opts Options) (*Client, error) {
	c := &Client{
		prefix: strings.Trim(opts.TopicPrefix, "/"),
		log:    opts.Log,
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(clientOpts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) onConnect(_ mqtt.Client) {
	c.connected.Store(true)
	c.log.Info().Str("prefix", c.prefix).Msg("mqtt connected")
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

// Topic returns the full topic for suffix under the configured prefix.
func (c *Client) Topic(suffix string) string {
	if c.prefix == "" {
		return suffix
	}
	return c.prefix + "/" + suffix
}

// PublishNoteGenerated sends evt at QoS 0 to <prefix>/notes/generated.
// Failures are logged, never returned; notifications are best effort.
func (c *Client) PublishNoteGenerated(evt NoteGenerated) {
	if c == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		c.log.Error().Err(err).Msg("encode notification")
		return
	}

	topic := c.Topic("notes/generated")
	token := c.conn.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		c.log.Warn().Str("topic", topic).Msg("mqtt publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		c.log.Warn().Err(err).Str("topic", topic).Msg("mqtt publish failed")
		return
	}
	c.log.Debug().Str("topic", topic).Int64("note_id", evt.NoteID).Msg("note notification published")
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}
