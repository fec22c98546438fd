package mqtt

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ibs-source/tile-consumer/internal/config"
	"github.com/ibs-source/tile-consumer/internal/log"
	"github.com/ibs-source/tile-consumer/internal/message"
	"github.com/ibs-source/tile-consumer/internal/tile"
)

// fakeToken completes when done is closed
type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }

func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeBroker struct {
	token        mqtt.Token
	sent         []published
	connected    bool
	disconnected bool
}

func (b *fakeBroker) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	b.sent = append(b.sent, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return b.token
}

func (b *fakeBroker) IsConnected() bool { return b.connected }

func (b *fakeBroker) Disconnect(uint) { b.disconnected = true }

func testClient(b broker) *Client {
	cfg := &config.MQTTConfig{Topic: "edge/tiles/updated", QoS: 1, WriteTimeout: time.Second}
	return newWithBroker(b, cfg, log.NewWithOutput(&bytes.Buffer{}, "error", "text"))
}

func TestPublishBatch(t *testing.T) {
	b := &fakeBroker{token: completedToken(nil)}
	c := testClient(b)

	batch := tile.NewBatch("/var/cache/renderd/dirty.txt")
	co, _ := tile.Parse("14/8234/5425")
	batch.Insert(co)
	ev := message.NewTileEvent(batch.Summary(), batch.Coordinates(), 0, time.Now())

	if err := c.PublishBatch(context.Background(), ev); err != nil {
		t.Fatalf("PublishBatch failed: %v", err)
	}
	if len(b.sent) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(b.sent))
	}
	if b.sent[0].topic != "edge/tiles/updated" || b.sent[0].qos != 1 {
		t.Errorf("unexpected publish: %+v", b.sent[0])
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(b.sent[0].payload, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded["batch_id"] != ev.BatchID {
		t.Errorf("batch_id = %v; want %s", decoded["batch_id"], ev.BatchID)
	}
}

func TestPublish_BrokerError(t *testing.T) {
	c := testClient(&fakeBroker{token: completedToken(errors.New("not authorized"))})
	if err := c.Publish(context.Background(), []byte("x")); err == nil {
		t.Error("expected error from rejected publish")
	}
}

func TestPublish_Timeout(t *testing.T) {
	c := testClient(&fakeBroker{token: &fakeToken{done: make(chan struct{})}})
	c.writeTimeout = 10 * time.Millisecond
	if err := c.Publish(context.Background(), []byte("x")); err == nil {
		t.Error("expected timeout error")
	}
}

func TestPublish_ContextCancelled(t *testing.T) {
	c := testClient(&fakeBroker{token: &fakeToken{done: make(chan struct{})}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Publish(ctx, []byte("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v; want context.Canceled", err)
	}
}

func TestClose(t *testing.T) {
	b := &fakeBroker{connected: true}
	if err := testClient(b).Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !b.disconnected {
		t.Error("connected broker was not disconnected")
	}

	idle := &fakeBroker{}
	_ = testClient(idle).Close()
	if idle.disconnected {
		t.Error("disconnected broker should not be disconnected again")
	}
}

// writeCertPair writes a self-signed certificate and its key
func writeCertPair(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "tile-consumer"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}

	certPath = filepath.Join(dir, "certificate.pem")
	keyPath = filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	return certPath, keyPath
}

func TestNewTLSConfig(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeCertPair(t, dir)
	garbage := filepath.Join(dir, "garbage.pem")
	if err := os.WriteFile(garbage, []byte("not a cert"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Run("CAAndClientCert", func(t *testing.T) {
		cfg := &config.MQTTConfig{TLSEnabled: true, CACert: certPath, ClientCert: certPath, ClientKey: keyPath}
		tlsConfig, err := newTLSConfig(cfg)
		if err != nil {
			t.Fatalf("Failed to create TLS config: %v", err)
		}
		if tlsConfig.RootCAs == nil {
			t.Error("RootCAs not set")
		}
		if len(tlsConfig.Certificates) != 1 {
			t.Error("Client certificate not loaded")
		}
		if tlsConfig.InsecureSkipVerify {
			t.Error("InsecureSkipVerify should be false by default")
		}
	})

	t.Run("InsecureSkipVerify", func(t *testing.T) {
		tlsConfig, err := newTLSConfig(&config.MQTTConfig{TLSEnabled: true, InsecureSkip: true})
		if err != nil {
			t.Fatal(err)
		}
		if !tlsConfig.InsecureSkipVerify {
			t.Error("InsecureSkipVerify should be true")
		}
	})

	errorCases := map[string]*config.MQTTConfig{
		"MissingCA":       {TLSEnabled: true, CACert: filepath.Join(dir, "missing.pem")},
		"CorruptedCA":     {TLSEnabled: true, CACert: garbage},
		"MissingKey":      {TLSEnabled: true, ClientCert: certPath, ClientKey: filepath.Join(dir, "missing.key")},
		"MismatchedFiles": {TLSEnabled: true, ClientCert: keyPath, ClientKey: certPath},
	}
	for name, cfg := range errorCases {
		t.Run(name, func(t *testing.T) {
			if _, err := newTLSConfig(cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}
