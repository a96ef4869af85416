package presenter

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"obdrelay/internal/models"
)

type counting struct {
	states, samples, uploads int
	lastSample               models.VehicleSample
}

func (c *counting) ConnectionChanged(models.ConnectionState) { c.states++ }
func (c *counting) UploadFinished(models.UploadResult)       { c.uploads++ }

func (c *counting) SampleUpdated(s models.VehicleSample) {
	c.samples++
	c.lastSample = s
}

func TestFanout(t *testing.T) {
	a, b := &counting{}, &counting{}
	f := NewFanout(a, nil, b)

	f.ConnectionChanged(models.Disconnected(""))
	s := models.VehicleSample{DTCs: []models.DTCEntry{{Code: "P0133"}}}
	f.SampleUpdated(s)
	f.UploadFinished(models.UploadResult{OK: true})

	for _, c := range []*counting{a, b} {
		if c.states != 1 || c.samples != 1 || c.uploads != 1 {
			t.Errorf("got %+v", c)
		}
	}
	a.lastSample.DTCs[0].Code = "X"
	if b.lastSample.DTCs[0].Code != "P0133" || s.DTCs[0].Code != "P0133" {
		t.Error("presenters share sample memory")
	}
}

func TestLogPresenter(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := NewLog(zap.New(core))

	l.ConnectionChanged(models.Failed("no adapter"))
	l.SampleUpdated(models.VehicleSample{DataValid: true, RPM: 900, Cycle: 3})
	l.UploadFinished(models.UploadResult{Attempts: 3, Err: "refused"})

	if n := logs.FilterMessage("sample").Len(); n != 1 {
		t.Errorf("sample entries = %d", n)
	}
	up := logs.FilterMessage("upload").All()
	if len(up) != 1 || up[0].Level != zapcore.WarnLevel {
		t.Errorf("upload entries = %+v", up)
	}
	st := logs.FilterMessage("connection").All()
	if len(st) != 1 || !strings.Contains(st[0].ContextMap()["state"].(string), "no adapter") {
		t.Errorf("connection entries = %+v", st)
	}
}

type fakePublisher struct {
	topics   []string
	retained []bool
	payloads [][]byte
	err      error
	closed   bool
}

func (f *fakePublisher) Publish(topic string, retained bool, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.topics = append(f.topics, topic)
	f.retained = append(f.retained, retained)
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

func TestMQTTTopics(t *testing.T) {
	pub := &fakePublisher{}
	m := NewMQTT(pub, "obdrelay/unit7", zap.NewNop())

	m.ConnectionChanged(models.ConnectionState{Status: models.StatusConnectedWiFi})
	m.SampleUpdated(models.VehicleSample{RPM: 1500, DataValid: true})
	m.UploadFinished(models.UploadResult{OK: true, Attempts: 1})

	want := []string{"obdrelay/unit7/state", "obdrelay/unit7/sample", "obdrelay/unit7/upload"}
	if strings.Join(pub.topics, " ") != strings.Join(want, " ") {
		t.Fatalf("topics = %v", pub.topics)
	}
	if !pub.retained[0] || pub.retained[1] || pub.retained[2] {
		t.Errorf("retained = %v, want only state retained", pub.retained)
	}

	var state map[string]string
	if err := json.Unmarshal(pub.payloads[0], &state); err != nil {
		t.Fatal(err)
	}
	if state["status"] != "connected (wifi)" {
		t.Errorf("state payload = %s", pub.payloads[0])
	}
	var sample models.VehicleSample
	if err := json.Unmarshal(pub.payloads[1], &sample); err != nil || sample.RPM != 1500 {
		t.Errorf("sample payload = %s (%v)", pub.payloads[1], err)
	}

	if err := m.Close(); err != nil || !pub.closed {
		t.Error("close not forwarded")
	}
}

func TestMQTTPublishErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	m := NewMQTT(&fakePublisher{err: errors.New("not connected")}, "obd", zap.New(core))
	m.UploadFinished(models.UploadResult{})
	if logs.FilterMessage("mqtt publish failed").Len() != 1 {
		t.Error("publish failure not logged")
	}
}

func TestHubBroadcasts(t *testing.T) {
	hub := NewHub(zap.NewNop())
	hub.ConnectionChanged(models.ConnectionState{Status: models.StatusConnecting})

	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var greeting Frame
	if err := conn.ReadJSON(&greeting); err != nil {
		t.Fatal(err)
	}
	if greeting.State == nil || greeting.State.Status != models.StatusConnecting {
		t.Fatalf("greeting = %+v", greeting)
	}

	deadline := time.Now().Add(time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	hub.SampleUpdated(models.VehicleSample{RPM: 2200, Cycle: 4})

	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatal(err)
	}
	if f.Sample == nil || f.Sample.RPM != 2200 || f.Sample.Cycle != 4 {
		t.Errorf("frame = %+v", f)
	}
}
