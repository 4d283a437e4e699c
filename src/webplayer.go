package main

import (
	// stdlib
	"context"
	"fmt"
	"html"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	// internal
	"github.com/Robogera/handflow/pkg/config"
	"github.com/Robogera/handflow/pkg/indexed"

	// external
	"github.com/hybridgroup/mjpeg"
	"gocv.io/x/gocv"
)

// One mjpeg stream per session and view, created on the first frame
type streams struct {
	mu     sync.Mutex
	byname map[string]*mjpeg.Stream
}

func streamKey(session, view string) string {
	if view == "" {
		return session
	}
	return session + "/" + view
}

func (s *streams) get(key string) (*mjpeg.Stream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream, ok := s.byname[key]
	return stream, ok
}

func (s *streams) getOrCreate(key string) *mjpeg.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream, ok := s.byname[key]
	if !ok {
		stream = mjpeg.NewStream()
		s.byname[key] = stream
	}
	return stream
}

func (s *streams) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.byname))
}

func webplayer(
	ctx context.Context,
	parent_logger *slog.Logger,
	cfg *config.ConfigFile,
	in_chan <-chan indexed.Indexed[ProcessedFrame],
) error {

	logger := parent_logger.With("coroutine", "webplayer")

	outputs := &streams{byname: make(map[string]*mjpeg.Stream)}

	mux := http.NewServeMux()
	serve := func(w http.ResponseWriter, r *http.Request) {
		stream, ok := outputs.get(streamKey(r.PathValue("session"), r.PathValue("view")))
		if !ok {
			http.NotFound(w, r)
			return
		}
		stream.ServeHTTP(w, r)
	}
	mux.HandleFunc("GET /stream/{session}", serve)
	mux.HandleFunc("GET /stream/{session}/{view}", serve)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintln(w, "<html><body>")
		for _, key := range outputs.keys() {
			href := (&url.URL{Path: "/stream/" + key}).EscapedPath()
			fmt.Fprintf(w, "<p><a href=\"%s\">%s</a></p>\n", href, html.EscapeString(key))
		}
		fmt.Fprintln(w, "</body></html>")
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("0.0.0.0:%d", cfg.Webserver.Port),
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.Webserver.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Webserver.WriteTimeoutSec) * time.Second,
	}

	err_chan := make(chan error, 1)

	go func() {
		err_chan <- server.ListenAndServe()
	}()
	defer func() {
		shutdown_context, cancel := context.WithTimeout(
			context.Background(),
			time.Second*time.Duration(cfg.Webserver.ShutdownTimeoutSec))
		defer cancel()
		shutdown_initiated_timestamp := time.Now()
		err := server.Shutdown(shutdown_context)
		logger.Info(
			"Shut down",
			"shutdown time (sec)", time.Since(shutdown_initiated_timestamp).Seconds(),
			"error", err)
	}()

	logger.Info("Started", "port", cfg.Webserver.Port)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Cancelled by context", "timeout (sec)", cfg.Webserver.ShutdownTimeoutSec)
			return context.Canceled
		case err := <-err_chan:
			logger.Error("Error", "port", cfg.Webserver.Port, "error", err)
			return err
		case frame := <-in_chan:
			value := frame.Value()
			data, err := toJpeg(*value.Mat)
			value.Mat.Close()
			if err != nil {
				logger.Error("Can't encode frame", "session", value.Session, "error", err)
				return err
			}
			key := streamKey(fmt.Sprint(value.Session), value.View)
			outputs.getOrCreate(key).UpdateJPEG(data)
		}
	}
}

func toJpeg(mat gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	return data, nil
}
