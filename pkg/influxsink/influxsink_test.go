package influxsink_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-mqtt-bridge/pkg/influxsink"
	"github.com/illmade-knight/go-mqtt-bridge/pkg/mapping"
)

// fakeInflux captures the requests the 1.x HTTP client issues.
type fakeInflux struct {
	queries     []string
	writeBodies []string
	writeParams []string
}

func (f *fakeInflux) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.queries = append(f.queries, r.Form.Get("q"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{}]}`))
	})
	mux.HandleFunc("/write", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.writeBodies = append(f.writeBodies, string(body))
		f.writeParams = append(f.writeParams, r.URL.RawQuery)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func newTestSink(t *testing.T) (*influxsink.InfluxSink, *fakeInflux) {
	t.Helper()
	fake := &fakeInflux{}
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	sink, err := influxsink.New(&influxsink.Config{
		Addr:     server.URL,
		Database: "telemetry",
		Timeout:  2 * time.Second,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	return sink, fake
}

func TestNewValidation(t *testing.T) {
	_, err := influxsink.New(nil, zerolog.Nop())
	require.Error(t, err)

	_, err = influxsink.New(&influxsink.Config{Database: "d"}, zerolog.Nop())
	require.Error(t, err)

	_, err = influxsink.New(&influxsink.Config{Addr: "http://localhost:8086"}, zerolog.Nop())
	require.Error(t, err)
}

func TestEnsureDatabases(t *testing.T) {
	sink, fake := newTestSink(t)

	err := sink.EnsureDatabases([]string{"telemetry", "archive"})
	require.NoError(t, err)

	require.Len(t, fake.queries, 2)
	assert.Equal(t, `CREATE DATABASE "telemetry"`, fake.queries[0])
	assert.Equal(t, `CREATE DATABASE "archive"`, fake.queries[1])
}

func TestWrite(t *testing.T) {
	sink, fake := newTestSink(t)

	rec := mapping.Record{
		Measurement: "temperature",
		Time:        time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
		Tags:        map[string]string{"sensor": "kitchen"},
		Fields:      map[string]any{"value": 21.5},
	}

	require.NoError(t, sink.Write(context.Background(), rec))
	require.Len(t, fake.writeBodies, 1)

	assert.Contains(t, fake.writeBodies[0], "temperature")
	assert.Contains(t, fake.writeBodies[0], "sensor=kitchen")
	assert.Contains(t, fake.writeBodies[0], "value=21.5")
	assert.Contains(t, fake.writeParams[0], "db=telemetry")
	assert.Contains(t, fake.writeParams[0], "precision=s")
}

func TestWriteRoutesToRecordDatabase(t *testing.T) {
	sink, fake := newTestSink(t)

	rec := mapping.Record{
		Measurement: "temperature",
		Time:        time.Now().UTC().Truncate(time.Second),
		Fields:      map[string]any{"value": int64(3)},
		Database:    "archive",
	}

	require.NoError(t, sink.Write(context.Background(), rec))
	require.Len(t, fake.writeParams, 1)
	assert.Contains(t, fake.writeParams[0], "db=archive")
}

func TestWriteErrorIsReturned(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"database is down"}`))
	}))
	t.Cleanup(server.Close)

	sink, err := influxsink.New(&influxsink.Config{Addr: server.URL, Database: "telemetry"}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	writeErr := sink.Write(context.Background(), mapping.Record{
		Measurement: "temperature",
		Time:        time.Now(),
		Fields:      map[string]any{"value": 1.0},
	})
	require.Error(t, writeErr)
}
