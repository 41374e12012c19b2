package main

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"ai-speech-intelligence-service/internal/models"
)

const (
	wavHeaderSize = 44
	chunkInterval = 100 * time.Millisecond
)

type wavFormat struct {
	channels      int
	sampleRate    int
	bitsPerSample int
}

// bytesPer returns how many bytes of audio cover d.
func (f wavFormat) bytesPer(d time.Duration) int {
	return int(int64(f.sampleRate*f.channels*f.bitsPerSample/8) * d.Milliseconds() / 1000)
}

// readWAVHeader consumes a canonical 44-byte PCM header.
func readWAVHeader(r io.Reader) (wavFormat, error) {
	h := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(r, h); err != nil {
		return wavFormat{}, fmt.Errorf("read header: %w", err)
	}
	if string(h[0:4]) != "RIFF" || string(h[8:12]) != "WAVE" {
		return wavFormat{}, errors.New("not a WAV file")
	}
	if binary.LittleEndian.Uint16(h[20:22]) != 1 {
		return wavFormat{}, errors.New("only PCM WAV is supported")
	}
	f := wavFormat{
		channels:      int(binary.LittleEndian.Uint16(h[22:24])),
		sampleRate:    int(binary.LittleEndian.Uint32(h[24:28])),
		bitsPerSample: int(binary.LittleEndian.Uint16(h[34:36])),
	}
	if f.bytesPer(chunkInterval) <= 0 {
		return wavFormat{}, errors.New("invalid format fields")
	}
	return f, nil
}

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16-bit PCM)")
	serverAddr := flag.String("server", "localhost:8080", "HTTP server address")
	tenantId := flag.String("tenant", "", "Tenant ID (server default when empty)")
	userId := flag.String("user", "", "User ID (server default when empty)")
	flag.Parse()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("open %s: %v", *audioFile, err)
	}
	defer f.Close()

	format, err := readWAVHeader(f)
	if err != nil {
		log.Fatalf("%s: %v", *audioFile, err)
	}
	log.Printf("WAV %s: %d Hz, %d channel(s), %d bit", *audioFile, format.sampleRate, format.channels, format.bitsPerSample)
	chunkSize := format.bytesPer(chunkInterval)

	// Connect to the live session endpoint
	q := url.Values{}
	if *tenantId != "" {
		q.Set("tenant_id", *tenantId)
	}
	if *userId != "" {
		q.Set("user_id", *userId)
	}
	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/v1/listen", RawQuery: q.Encode()}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("Connected to %s", u.String())

	// Print live transcripts until the session result arrives
	result := make(chan models.SessionResult, 1)
	go func() {
		defer close(result)
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Printf("Read failed: %v", err)
				}
				return
			}
			if mt != websocket.TextMessage {
				continue
			}
			var res models.SessionResult
			if json.Unmarshal(data, &res) == nil && res.Type == models.EventSessionCompleted {
				result <- res
				return
			}
			log.Printf("Live: %s", data)
		}
	}()

	// Pace frames at real time.
	buf := make([]byte, chunkSize)
	ticker := time.NewTicker(chunkInterval)
	defer ticker.Stop()
	var sent, frames int
	began := time.Now()
	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				log.Fatalf("send frame: %v", werr)
			}
			sent += n
			frames++
			<-ticker.C
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			log.Fatalf("read audio: %v", err)
		}
	}
	log.Printf("Streamed %d frames (%d bytes) in %v", frames, sent, time.Since(began).Truncate(time.Millisecond))

	log.Println("Sending stop, waiting for session result...")
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop"}`)); err != nil {
		log.Fatalf("Failed to send stop: %v", err)
	}

	select {
	case res, ok := <-result:
		if !ok {
			log.Fatal("Connection closed before the session result arrived")
		}
		log.Printf("Session completed: sessionId=%s interactionId=%s", res.SessionID, res.InteractionID)
		log.Printf("Raw transcript: %s", res.RawTranscript)
		if res.CleanedTranscript != "" {
			log.Printf("Cleaned transcript: %s", res.CleanedTranscript)
		}
		if res.Summary != "" {
			log.Printf("Summary: %s", res.Summary)
		}
		for _, item := range res.ActionItems {
			log.Printf("Action item: %s", item)
		}
	case <-time.After(2 * time.Minute):
		log.Fatal("Timed out waiting for session result")
	}
}
