package elevenlabs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matryer/is"

	aitts "github.com/auricle-ai/auricle-go/pkg/ai/tts"
)

func TestSampleRateFromFormat(t *testing.T) {
	is := is.New(t)

	rate, err := sampleRateFromFormat("pcm_16000")
	is.NoErr(err)
	is.Equal(rate, 16000)

	rate, err = sampleRateFromFormat("pcm_44100")
	is.NoErr(err)
	is.Equal(rate, 44100)

	_, err = sampleRateFromFormat("mp3_22050_32")
	is.True(err != nil)
}

func TestStreamURLCarriesLanguage(t *testing.T) {
	is := is.New(t)

	tts, err := NewTTS(Config{APIKey: "key", Language: "es"})
	is.NoErr(err)

	u := tts.streamURL()
	is.True(strings.HasPrefix(u, "wss://"))
	is.True(strings.Contains(u, "/stream-input?"))
	is.True(strings.Contains(u, "language_code=es"))
}

func TestPunctuationTokens(t *testing.T) {
	is := is.New(t)

	is.True(isPunctuation("."))
	is.True(!isPunctuation("hello"))
	is.True(endsWithPunctuation("hello."))
	is.True(!endsWithPunctuation("hello"))
	is.True(!endsWithPunctuation(""))
}

func TestStreamPushDoesNotBlockAfterClose(t *testing.T) {
	is := is.New(t)

	synth, err := NewTTS(Config{APIKey: "key"})
	is.NoErr(err)

	stream, err := synth.Stream(context.Background(), aitts.SynthesizeOptions{})
	is.NoErr(err)

	stream.Close()
	for range stream.Events() {
	}

	// More pushes than the input buffer holds must error out, not hang.
	finished := make(chan error, 1)
	go func() {
		for i := 0; i < 100; i++ {
			if err := stream.PushText("word"); err != nil {
				finished <- err
				return
			}
		}
		finished <- nil
	}()

	select {
	case err := <-finished:
		is.True(err != nil)
	case <-time.After(2 * time.Second):
		t.Fatal("PushText blocked after the stream was closed")
	}
}

func TestPoolReusesFreshConnections(t *testing.T) {
	is := is.New(t)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	dials := 0
	dial := func(ctx context.Context) (*websocket.Conn, error) {
		dials++
		url := "ws" + strings.TrimPrefix(srv.URL, "http")
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		return conn, err
	}

	pool := newWSPool(dial, time.Minute, 2)
	defer pool.Close()

	pool.Prewarm(context.Background())
	is.Equal(dials, 1)

	pc, err := pool.Get(context.Background())
	is.NoErr(err)
	is.Equal(dials, 1) // prewarmed socket served the checkout
	pool.Discard(pc)

	pc, err = pool.Get(context.Background())
	is.NoErr(err)
	is.Equal(dials, 2)
	pool.Discard(pc)
}

func TestPoolDropsExpiredConnections(t *testing.T) {
	is := is.New(t)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	dials := 0
	dial := func(ctx context.Context) (*websocket.Conn, error) {
		dials++
		url := "ws" + strings.TrimPrefix(srv.URL, "http")
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		return conn, err
	}

	pool := newWSPool(dial, time.Nanosecond, 2)
	defer pool.Close()

	pool.Prewarm(context.Background())
	time.Sleep(time.Millisecond)

	pc, err := pool.Get(context.Background())
	is.NoErr(err)
	is.Equal(dials, 2) // prewarmed socket aged out, checkout dialed fresh
	pool.Discard(pc)
}
