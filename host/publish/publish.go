// Package publish forwards scanner data to an MQTT broker as JSON.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/denisbrodbeck/machineid"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"

	"matrixscan/host/config"
	"matrixscan/protocol"
)

const appID = "matrixscan"

// connectTimeout bounds the initial broker connection
const connectTimeout = 10 * time.Second

// Row is the payload published for every scanline
type Row struct {
	Device    string   `json:"device"`
	PackageID uint32   `json:"package_id"`
	Timestamp uint32   `json:"timestamp_ms"`
	UnixTime  uint32   `json:"unix_time"`
	Row       uint8    `json:"row"`
	Samples   []uint16 `json:"samples"`
}

// ClientOptionsFromURL creates ClientOptions from URL. The URL path is the
// topic prefix.
func ClientOptionsFromURL(serverURL string) (*paho.ClientOptions, string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, "", err
	}
	var server string
	if u.Scheme == "" || u.Scheme == "mqtt" {
		server = "tcp"
	} else {
		server = u.Scheme
	}
	server += "://" + u.Host

	topicPrefix := strings.TrimPrefix(u.Path, "/")
	if topicPrefix != "" && !strings.HasSuffix(topicPrefix, "/") {
		topicPrefix += "/"
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(server).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if u.User != nil {
		opts.SetUsername(u.User.Username())
		if pwd, ok := u.User.Password(); ok {
			opts.SetPassword(pwd)
		}
	}

	if clientID := u.Query().Get("client-id"); clientID != "" {
		opts.SetClientID(clientID)
	}

	return opts, topicPrefix, nil
}

// DeviceID identifies this host. It is derived from the machine id without
// exposing it.
func DeviceID() string {
	id, err := machineid.ProtectedID(appID)
	if err != nil {
		glog.Warningf("machine id unavailable: %v", err)
		return appID + "-host"
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

// Publisher publishes scanlines or assembled frames
type Publisher struct {
	Client paho.Client

	device string
	topic  string
	qos    byte
	frames bool
	asm    Assembler
}

// New creates a publisher from the MQTT section of the host configuration
func New(cfg config.MQTTConfig) (*Publisher, error) {
	opts, prefix, err := ClientOptionsFromURL(cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("invalid broker url: %w", err)
	}
	device := DeviceID()
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = appID + "-" + device
	}
	if opts.ClientID == "" {
		opts.SetClientID(clientID)
	}
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		glog.Warningf("mqtt connection lost: %v", err)
	})

	p := NewWithClient(paho.NewClient(opts), prefix+cfg.Topic, device, cfg.QoS)
	p.frames = cfg.Frames
	return p, nil
}

// NewWithClient creates a publisher on an existing client
func NewWithClient(client paho.Client, topic, device string, qos byte) *Publisher {
	return &Publisher{
		Client: client,
		device: device,
		topic:  strings.TrimSuffix(topic, "/"),
		qos:    qos,
	}
}

// SetFrames switches between per-row and per-frame publishing. rows is the
// frame height, zero to detect it from row wrap-around.
func (p *Publisher) SetFrames(on bool, rows int) {
	p.frames = on
	p.asm.Rows = rows
	p.asm.Reset()
}

// Connect connects to the broker
func (p *Publisher) Connect() error {
	token := p.Client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect: timeout after %s", connectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	glog.Infof("mqtt connected, publishing to %s", p.topic)
	return nil
}

// Close disconnects from the broker
func (p *Publisher) Close() error {
	p.Client.Disconnect(250)
	return nil
}

// Publish sends one scanline, or the frame it completes
func (p *Publisher) Publish(line protocol.Scanline) error {
	if p.frames {
		frame, ok := p.asm.Add(line)
		if !ok {
			return nil
		}
		frame.Device = p.device
		return p.pub(p.topic+"/"+p.device+"/frame", frame)
	}
	return p.pub(p.topic+"/"+p.device+"/row", Row{
		Device:    p.device,
		PackageID: line.PackageID,
		Timestamp: line.Timestamp,
		UnixTime:  line.UnixTime,
		Row:       line.Row,
		Samples:   line.Samples,
	})
}

func (p *Publisher) pub(topic string, v interface{}) error {
	msg, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if glog.V(2) {
		glog.Infof("PUB %q %d bytes", topic, len(msg))
	}
	p.Client.Publish(topic, p.qos, false, msg)
	return nil
}

// Run publishes every scanline received until lines is closed or ctx ends
func (p *Publisher) Run(ctx context.Context, lines <-chan protocol.Scanline) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := p.Publish(line); err != nil {
				glog.Warningf("publish: %v", err)
			}
		}
	}
}
