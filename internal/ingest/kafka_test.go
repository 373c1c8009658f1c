package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	fetchErr  error
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if f.fetchErr != nil {
		err := f.fetchErr
		f.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(f.queue) > 0 {
		msg := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error { return nil }

func pointMsg(t *testing.T, offset int64, m PointMessage) kafka.Message {
	t.Helper()
	b, err := json.Marshal(m)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: b}
}

func TestKafkaSourceCollects(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{queue: []kafka.Message{
		pointMsg(t, 0, PointMessage{Subject: "a", TrackID: "t1", Lat: 39.9, Lon: 116.31, Time: t0.Add(time.Second)}),
		{Offset: 1, Value: []byte("{broken")},
		pointMsg(t, 2, PointMessage{Subject: "a", TrackID: "t1", Lat: 39.9, Lon: 116.30, Time: t0}),
		pointMsg(t, 3, PointMessage{Subject: "a", TrackID: "t1", Lat: 99, Lon: 116.30, Time: t0}),
		pointMsg(t, 4, PointMessage{Subject: "b", TrackID: "t9", Lat: 40, Lon: 116, Time: t0, Attributes: map[string]float64{"speed": 3}}),
		pointMsg(t, 5, PointMessage{Subject: "c", TrackID: "t0", Lat: 40, Lon: 116, Time: t0}),
	}}

	collector := NewCollector()
	src := newKafkaSource(reader, KafkaConfig{Topic: "points", MaxMessages: 3}, collector, nil)
	require.NoError(t, src.Run(context.Background()))

	assert.Equal(t, []int64{0, 1, 2, 3, 4}, reader.committed)
	assert.Equal(t, 3, collector.Len())

	raws := collector.Raw()
	require.Len(t, raws, 2)
	assert.Equal(t, "a", raws[0].Subject)
	require.Len(t, raws[0].Points, 2)
	assert.True(t, raws[0].Points[0].Time.Equal(t0))
	assert.Equal(t, 3.0, raws[1].Points[0].Attributes["speed"])

	tc, _, err := collector.Build(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tc.Subjects())
}

func TestKafkaSourceIdleTimeout(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{}
	src := newKafkaSource(reader, KafkaConfig{IdleTimeout: 150 * time.Millisecond}, NewCollector(), nil)

	done := make(chan error, 1)
	go func() { done <- src.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("source did not stop when idle")
	}
}

func TestKafkaSourceStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	src := newKafkaSource(&fakeReader{}, KafkaConfig{}, NewCollector(), nil)
	assert.NoError(t, src.Run(ctx))
}

func TestKafkaSourceFetchError(t *testing.T) {
	t.Parallel()

	boom := errors.New("broker down")
	src := newKafkaSource(&fakeReader{fetchErr: boom}, KafkaConfig{}, NewCollector(), nil)
	assert.ErrorIs(t, src.Run(context.Background()), boom)
}

func TestPointMessageValid(t *testing.T) {
	t.Parallel()

	ok := PointMessage{Subject: "a", TrackID: "b", Lat: 1, Lon: 2, Time: t0}
	assert.True(t, ok.Valid())

	noTime := ok
	noTime.Time = time.Time{}
	assert.False(t, noTime.Valid())

	noSubject := ok
	noSubject.Subject = ""
	assert.False(t, noSubject.Valid())
}
